// Package match owns the matchmaking state: the ordered waiting list and the
// symmetric map of active pairings. All mutation goes through one mutex so a
// scan-remove-pair sequence is atomic with respect to every other matching
// operation.
package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/errs"
	"github.com/soulmatch/realtime-service/internal/store"
)

// Condition is the per-request matching condition. A flag applies when either
// side of a candidate pair set it.
type Condition struct {
	DifferentGender bool `json:"differentGender"`
	NoPriorMatch    bool `json:"noPriorMatch"`
}

type entry struct {
	user *domain.User
	cond Condition
}

// pending marks a pair whose anonymous conversation write is in flight. The
// queue lock is not held across that write; disconnects landing in the window
// flip aborted so the post-write step knows what is still safe to restore.
type pending struct {
	aborted map[string]bool
}

// Result is the outcome of a Request call. Matched=false means the caller was
// appended to the queue.
type Result struct {
	Matched        bool
	ConversationID string
	Caller         *domain.User
	Peer           *domain.User
}

// ConnCounter reports how many live connections a user currently has. The
// engine consults it under its own lock so disconnect cleanup cannot race a
// reconnect into removing fresh state.
type ConnCounter func(userID string) int

type Engine struct {
	mu      sync.Mutex
	queue   []entry
	pairs   map[string]string
	pending map[string]*pending

	convs     store.ConversationStore
	connCount ConnCounter
	log       *zap.SugaredLogger
}

func NewEngine(convs store.ConversationStore, connCount ConnCounter, log *zap.SugaredLogger) *Engine {
	if connCount == nil {
		connCount = func(string) int { return 0 }
	}
	return &Engine{
		pairs:     make(map[string]string),
		pending:   make(map[string]*pending),
		convs:     convs,
		connCount: connCount,
		log:       log,
	}
}

// Request scans the waiting list in arrival order and pairs the caller with
// the first candidate satisfying the merged conditions. The caller is appended
// to the queue when nobody qualifies. The anonymous conversation insert runs
// outside the lock; on failure the candidate is restored to the front of the
// queue and the caller's request fails with MatchPersistFailed.
func (e *Engine) Request(ctx context.Context, user *domain.User, cond Condition) (*Result, error) {
	e.mu.Lock()
	if e.isQueuedLocked(user.ID) || e.pending[user.ID] != nil {
		e.mu.Unlock()
		return nil, errs.ErrAlreadyQueued
	}

	idx := -1
	for i, cand := range e.queue {
		if e.acceptable(ctx, user, cond, cand) {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.queue = append(e.queue, entry{user: user, cond: cond})
		e.mu.Unlock()
		return &Result{Matched: false, Caller: user}, nil
	}

	cand := e.queue[idx]
	e.queue = append(e.queue[:idx], e.queue[idx+1:]...)
	pend := &pending{aborted: make(map[string]bool)}
	e.pending[user.ID] = pend
	e.pending[cand.user.ID] = pend
	e.mu.Unlock()

	conv := &domain.Conversation{
		ID:          uuid.NewString(),
		InitiatorID: user.ID,
		RecipientID: cand.user.ID,
		Anonymous:   true,
		Messages:    []domain.Message{},
		LastUpdated: time.Now().UTC(),
	}
	createErr := e.convs.Create(ctx, conv)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, user.ID)
	delete(e.pending, cand.user.ID)

	if createErr != nil {
		// undo the match: the candidate goes back to the head of the
		// queue unless it disconnected while the write was in flight
		if !pend.aborted[cand.user.ID] {
			e.queue = append([]entry{cand}, e.queue...)
		}
		e.log.Errorw("match persist failed", "user", user.ID, "candidate", cand.user.ID, "err", createErr)
		return nil, errs.Wrap(errs.CodeMatchPersistFailed, "match found but conversation could not be persisted", createErr)
	}

	if pend.aborted[cand.user.ID] {
		// candidate vanished mid-write: abandon the match, re-queue the
		// caller at the front; the orphaned record stays unreachable
		// behind the live-peer gate
		if !pend.aborted[user.ID] {
			e.queue = append([]entry{{user: user, cond: cond}}, e.queue...)
			return &Result{Matched: false, Caller: user}, nil
		}
		return nil, errs.ErrMatchPersistFailed
	}
	if pend.aborted[user.ID] {
		e.queue = append([]entry{cand}, e.queue...)
		return nil, errs.ErrMatchPersistFailed
	}

	e.pairs[user.ID] = cand.user.ID
	e.pairs[cand.user.ID] = user.ID
	e.log.Infow("match created", "conversation", conv.ID, "initiator", user.ID, "peer", cand.user.ID)
	return &Result{
		Matched:        true,
		ConversationID: conv.ID,
		Caller:         user,
		Peer:           cand.user,
	}, nil
}

// Cancel removes the caller's queue entry if there is one.
func (e *Engine) Cancel(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeFromQueueLocked(userID)
}

// Leave tears down the caller's active pairing and returns the peer id so the
// caller can notify it. Empty string when no pairing exists.
func (e *Engine) Leave(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaveLocked(userID)
}

// OnDisconnect runs the cancel+leave cleanup after a user's last connection
// closed. The connection count is re-checked under the lock: a user who has
// already reconnected and re-queued is left alone.
func (e *Engine) OnDisconnect(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connCount(userID) > 0 {
		return ""
	}
	if pend, ok := e.pending[userID]; ok {
		pend.aborted[userID] = true
	}
	e.removeFromQueueLocked(userID)
	return e.leaveLocked(userID)
}

// Waiting returns the queued user ids in arrival order.
func (e *Engine) Waiting() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.queue))
	for i, en := range e.queue {
		out[i] = en.user.ID
	}
	return out
}

// IsLivePeer reports whether the two users are each other's current pairing.
func (e *Engine) IsLivePeer(userID, peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pairs[userID] == peerID && e.pairs[peerID] == userID
}

func (e *Engine) isQueuedLocked(userID string) bool {
	for _, en := range e.queue {
		if en.user.ID == userID {
			return true
		}
	}
	return false
}

func (e *Engine) removeFromQueueLocked(userID string) {
	for i, en := range e.queue {
		if en.user.ID == userID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

func (e *Engine) leaveLocked(userID string) string {
	peer, ok := e.pairs[userID]
	if !ok {
		return ""
	}
	delete(e.pairs, userID)
	delete(e.pairs, peer)
	return peer
}

// acceptable evaluates the merged conditions of the caller and a waiting
// candidate. The prior-match lookup fails closed: a store error rejects the
// candidate rather than surfacing.
func (e *Engine) acceptable(ctx context.Context, user *domain.User, cond Condition, cand entry) bool {
	if cond.DifferentGender || cand.cond.DifferentGender {
		if user.Gender == "" || cand.user.Gender == "" || user.Gender == cand.user.Gender {
			return false
		}
	}
	if cond.NoPriorMatch || cand.cond.NoPriorMatch {
		matched, err := e.convs.HasAnonymousBetween(ctx, user.ID, cand.user.ID)
		if err != nil {
			e.log.Warnw("prior-match lookup failed, rejecting candidate", "user", user.ID, "candidate", cand.user.ID, "err", err)
			return false
		}
		if matched {
			return false
		}
	}
	return true
}
