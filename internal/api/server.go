package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/soulmatch/realtime-service/internal/auth"
	"github.com/soulmatch/realtime-service/internal/chat"
	"github.com/soulmatch/realtime-service/internal/errs"
	"github.com/soulmatch/realtime-service/internal/ws"
)

type Server struct {
	router    *chat.Router
	validator *auth.Validator
}

func NewServer(wsHandler *ws.Handler, router *chat.Router, validator *auth.Validator) *fiber.App {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	s := &Server{router: router, validator: validator}

	v1 := app.Group("/v1")

	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	v1.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	v1.Get("/ws", websocket.New(wsHandler.Serve))

	v1.Get("/conversations/:id/messages", s.getMessages)

	return app
}

func (s *Server) getMessages(c *fiber.Ctx) error {
	token, err := auth.ParseBearerToken(c.Get("Authorization"))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	userID, err := s.validator.Validate(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}

	msgs, err := s.router.History(c.Context(), userID, c.Params("id"), parseLimit(c.Query("limit")))
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrConversationNotFound):
			return fiber.NewError(fiber.StatusNotFound, "conversation not found")
		case errors.Is(err, errs.ErrNotAMember):
			return fiber.NewError(fiber.StatusForbidden, "not a participant")
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(fiber.Map{"status": "success", "data": msgs})
}

const defaultHistoryLimit = 50

// parseLimit falls back to the default on anything that is not a positive
// integer.
func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	return n
}
