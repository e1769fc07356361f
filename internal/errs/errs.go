// Package errs carries the coded errors that flow back to clients as ack
// payloads. The code is the machine-usable part; the message is for humans.
package errs

import (
	"errors"
	"fmt"
)

const (
	CodeAuthRequired          = "AUTH_REQUIRED"
	CodeAlreadyQueued         = "ALREADY_QUEUED"
	CodeConversationNotFound  = "CONVERSATION_NOT_FOUND"
	CodeAmbiguousConversation = "AMBIGUOUS_CONVERSATION"
	CodeContentTooLong        = "CONTENT_TOO_LONG"
	CodeNotAMember            = "NOT_A_MEMBER"
	CodeAnonymityViolation    = "ANONYMITY_VIOLATION"
	CodeMatchPersistFailed    = "MATCH_PERSIST_FAILED"
	CodeStoreUnavailable      = "STORE_UNAVAILABLE"
)

type Error struct {
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so sentinel comparisons survive wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

var (
	ErrAuthRequired          = New(CodeAuthRequired, "authentication required")
	ErrAlreadyQueued         = New(CodeAlreadyQueued, "user is already in the matching queue")
	ErrConversationNotFound  = New(CodeConversationNotFound, "conversation not found")
	ErrAmbiguousConversation = New(CodeAmbiguousConversation, "an existing conversation must be addressed by id")
	ErrContentTooLong        = New(CodeContentTooLong, "message content exceeds the allowed length")
	ErrNotAMember            = New(CodeNotAMember, "caller is not a participant of the conversation")
	ErrAnonymityViolation    = New(CodeAnonymityViolation, "anonymous conversation peer is no longer paired")
	ErrMatchPersistFailed    = New(CodeMatchPersistFailed, "match found but conversation could not be persisted")
	ErrStoreUnavailable      = New(CodeStoreUnavailable, "persistent store unavailable")
)

// Code extracts the machine code from any error, defaulting to
// STORE_UNAVAILABLE-adjacent internal classification for unknown errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}
