package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/domain"
	"github.com/soulmatch/realtime-service/internal/errs"
	"github.com/soulmatch/realtime-service/internal/store"
)

type flakyConvStore struct {
	*store.MemoryConversationStore

	mu         sync.Mutex
	failCreate bool
	failLookup bool

	// when set, Create signals createEntered and parks until createRelease
	// closes, letting a test act inside the write window
	createEntered chan struct{}
	createRelease chan struct{}
}

func (s *flakyConvStore) Create(ctx context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	fail := s.failCreate
	entered, release := s.createEntered, s.createRelease
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	if fail {
		return errors.New("write refused")
	}
	return s.MemoryConversationStore.Create(ctx, conv)
}

func (s *flakyConvStore) gateCreate() (entered chan struct{}, release chan struct{}) {
	entered, release = make(chan struct{}, 1), make(chan struct{})
	s.mu.Lock()
	s.createEntered, s.createRelease = entered, release
	s.mu.Unlock()
	return entered, release
}

func (s *flakyConvStore) HasAnonymousBetween(ctx context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	fail := s.failLookup
	s.mu.Unlock()
	if fail {
		return false, errors.New("lookup refused")
	}
	return s.MemoryConversationStore.HasAnonymousBetween(ctx, a, b)
}

func (s *flakyConvStore) setFailCreate(v bool) {
	s.mu.Lock()
	s.failCreate = v
	s.mu.Unlock()
}

func newTestEngine(connCount ConnCounter) (*Engine, *flakyConvStore) {
	cs := &flakyConvStore{MemoryConversationStore: store.NewMemoryConversationStore()}
	return NewEngine(cs, connCount, zap.NewNop().Sugar()), cs
}

func user(id string, gender domain.Gender) *domain.User {
	return &domain.User{ID: id, Username: id, Gender: gender}
}

func TestRequestPairsOldestWaiterFirst(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		res, err := e.Request(ctx, user(id, ""), Condition{})
		require.NoError(t, err)
		if id == "a" {
			assert.False(t, res.Matched)
			continue
		}
		if id == "b" {
			// b pairs with a, the oldest waiter
			require.True(t, res.Matched)
			assert.Equal(t, "a", res.Peer.ID)
			assert.NotEmpty(t, res.ConversationID)
		}
	}
	assert.Equal(t, []string{"c"}, e.Waiting())
	assert.True(t, e.IsLivePeer("a", "b"))
}

func TestRequestAlreadyQueued(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx := context.Background()

	res, err := e.Request(ctx, user("a", ""), Condition{})
	require.NoError(t, err)
	require.False(t, res.Matched)

	_, err = e.Request(ctx, user("a", ""), Condition{})
	assert.ErrorIs(t, err, errs.ErrAlreadyQueued)
	// no self-match: still exactly one entry
	assert.Equal(t, []string{"a"}, e.Waiting())
}

func TestRequestDifferentGenderCondition(t *testing.T) {
	t.Run("same gender skipped", func(t *testing.T) {
		e, _ := newTestEngine(nil)
		ctx := context.Background()

		_, err := e.Request(ctx, user("a", domain.GenderMale), Condition{DifferentGender: true})
		require.NoError(t, err)
		res, err := e.Request(ctx, user("b", domain.GenderMale), Condition{})
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.Equal(t, []string{"a", "b"}, e.Waiting())
	})

	t.Run("undisclosed gender skipped", func(t *testing.T) {
		e, _ := newTestEngine(nil)
		ctx := context.Background()

		_, err := e.Request(ctx, user("a", domain.GenderFemale), Condition{DifferentGender: true})
		require.NoError(t, err)
		res, err := e.Request(ctx, user("b", ""), Condition{})
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})

	t.Run("either side's flag applies and opposite genders pair", func(t *testing.T) {
		e, _ := newTestEngine(nil)
		ctx := context.Background()

		_, err := e.Request(ctx, user("a", domain.GenderMale), Condition{DifferentGender: true, NoPriorMatch: false})
		require.NoError(t, err)
		res, err := e.Request(ctx, user("b", domain.GenderFemale), Condition{})
		require.NoError(t, err)
		require.True(t, res.Matched)
		assert.Equal(t, "a", res.Peer.ID)
		assert.NotEmpty(t, res.ConversationID)
	})
}

func TestRequestNoPriorMatchCondition(t *testing.T) {
	t.Run("prior anonymous pairing rejects candidate", func(t *testing.T) {
		e, cs := newTestEngine(nil)
		ctx := context.Background()

		require.NoError(t, cs.MemoryConversationStore.Create(ctx, &domain.Conversation{
			ID: "old", InitiatorID: "a", RecipientID: "b", Anonymous: true,
		}))
		_, err := e.Request(ctx, user("a", ""), Condition{NoPriorMatch: true})
		require.NoError(t, err)
		res, err := e.Request(ctx, user("b", ""), Condition{})
		require.NoError(t, err)
		assert.False(t, res.Matched)
	})

	t.Run("prior non-anonymous conversation does not block", func(t *testing.T) {
		e, cs := newTestEngine(nil)
		ctx := context.Background()

		require.NoError(t, cs.MemoryConversationStore.Create(ctx, &domain.Conversation{
			ID: "direct", InitiatorID: "a", RecipientID: "b", Anonymous: false,
		}))
		_, err := e.Request(ctx, user("a", ""), Condition{NoPriorMatch: true})
		require.NoError(t, err)
		res, err := e.Request(ctx, user("b", ""), Condition{})
		require.NoError(t, err)
		assert.True(t, res.Matched)
	})

	t.Run("lookup failure rejects, fail closed", func(t *testing.T) {
		e, cs := newTestEngine(nil)
		ctx := context.Background()

		cs.failLookup = true
		_, err := e.Request(ctx, user("a", ""), Condition{NoPriorMatch: true})
		require.NoError(t, err)
		res, err := e.Request(ctx, user("b", ""), Condition{})
		require.NoError(t, err)
		assert.False(t, res.Matched)
		assert.Equal(t, []string{"a", "b"}, e.Waiting())
	})
}

func TestRequestPersistFailureRollsBack(t *testing.T) {
	e, cs := newTestEngine(nil)
	ctx := context.Background()

	res, err := e.Request(ctx, user("b", ""), Condition{})
	require.NoError(t, err)
	require.False(t, res.Matched)

	cs.setFailCreate(true)
	_, err = e.Request(ctx, user("a", ""), Condition{})
	assert.ErrorIs(t, err, errs.ErrMatchPersistFailed)

	// queue state exactly as before the attempt: b waiting, a absent
	assert.Equal(t, []string{"b"}, e.Waiting())
	assert.False(t, e.IsLivePeer("a", "b"))

	// retry succeeds once the store recovers
	cs.setFailCreate(false)
	res, err = e.Request(ctx, user("a", ""), Condition{})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "b", res.Peer.ID)
}

func TestRequestCandidateDisconnectsMidPersist(t *testing.T) {
	e, cs := newTestEngine(nil)
	ctx := context.Background()

	_, err := e.Request(ctx, user("b", ""), Condition{})
	require.NoError(t, err)
	_, err = e.Request(ctx, user("c", domain.GenderMale), Condition{DifferentGender: true})
	require.NoError(t, err)

	entered, release := cs.gateCreate()
	done := make(chan struct{})
	var res *Result
	var reqErr error
	go func() {
		defer close(done)
		res, reqErr = e.Request(ctx, user("a", ""), Condition{})
	}()

	// the candidate's last connection closes while the conversation write
	// is parked in the store
	<-entered
	assert.Empty(t, e.OnDisconnect("b"))
	close(release)
	<-done

	require.NoError(t, reqErr)
	require.False(t, res.Matched)
	// the vanished candidate is not restored, no pairing was installed, and
	// the caller went back to the head of the queue
	assert.Equal(t, []string{"a", "c"}, e.Waiting())
	assert.False(t, e.IsLivePeer("a", "b"))
}

func TestRequestCallerDisconnectsMidPersist(t *testing.T) {
	e, cs := newTestEngine(nil)
	ctx := context.Background()

	_, err := e.Request(ctx, user("b", ""), Condition{})
	require.NoError(t, err)
	_, err = e.Request(ctx, user("c", domain.GenderMale), Condition{DifferentGender: true})
	require.NoError(t, err)

	entered, release := cs.gateCreate()
	done := make(chan struct{})
	var reqErr error
	go func() {
		defer close(done)
		_, reqErr = e.Request(ctx, user("a", ""), Condition{})
	}()

	<-entered
	assert.Empty(t, e.OnDisconnect("a"))
	close(release)
	<-done

	assert.ErrorIs(t, reqErr, errs.ErrMatchPersistFailed)
	// the candidate is still live and returns to the head of the queue
	assert.Equal(t, []string{"b", "c"}, e.Waiting())
	assert.False(t, e.IsLivePeer("a", "b"))
}

func TestConcurrentRequestsPairEveryone(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx := context.Background()
	const n = 40

	var wg sync.WaitGroup
	results := make([]*Result, n)
	errors := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errors[i] = e.Request(ctx, user(fmt.Sprintf("u%02d", i), ""), Condition{})
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		require.NoError(t, errors[i])
	}

	matched := 0
	peers := make(map[string]string)
	for i, res := range results {
		if !res.Matched {
			continue
		}
		matched++
		id := fmt.Sprintf("u%02d", i)
		peers[id] = res.Peer.ID
		assert.True(t, e.IsLivePeer(id, res.Peer.ID))
	}
	assert.Equal(t, n/2, matched, "every request should find a partner")
	assert.Empty(t, e.Waiting())

	// each user appears in at most one pairing
	seen := make(map[string]bool)
	for a, b := range peers {
		assert.False(t, seen[a], "user %s matched twice", a)
		assert.False(t, seen[b], "user %s matched twice", b)
		seen[a], seen[b] = true, true
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := e.Request(ctx, user("a", ""), Condition{})
	require.NoError(t, err)

	e.Cancel("a")
	e.Cancel("a")
	e.Cancel("never-queued")
	assert.Empty(t, e.Waiting())
}

func TestLeaveTearsDownBothSides(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := e.Request(ctx, user("a", ""), Condition{})
	require.NoError(t, err)
	res, err := e.Request(ctx, user("b", ""), Condition{})
	require.NoError(t, err)
	require.True(t, res.Matched)

	assert.Equal(t, "b", e.Leave("a"))
	assert.False(t, e.IsLivePeer("a", "b"))
	assert.Empty(t, e.Leave("b"))
	assert.Empty(t, e.Leave("a"))
}

func TestOnDisconnectCleansQueueAndPairing(t *testing.T) {
	e, _ := newTestEngine(nil)
	ctx := context.Background()

	_, err := e.Request(ctx, user("a", ""), Condition{})
	require.NoError(t, err)
	res, err := e.Request(ctx, user("b", ""), Condition{})
	require.NoError(t, err)
	require.True(t, res.Matched)
	_, err = e.Request(ctx, user("c", ""), Condition{})
	require.NoError(t, err)

	assert.Equal(t, "b", e.OnDisconnect("a"))
	assert.False(t, e.IsLivePeer("a", "b"))

	assert.Empty(t, e.OnDisconnect("c"))
	assert.Empty(t, e.Waiting())
}

func TestOnDisconnectSkipsReconnectedUser(t *testing.T) {
	live := map[string]int{}
	e, _ := newTestEngine(func(id string) int { return live[id] })
	ctx := context.Background()

	_, err := e.Request(ctx, user("a", ""), Condition{})
	require.NoError(t, err)

	// the user reconnected and still has a connection by the time the
	// stale disconnect cleanup runs
	live["a"] = 1
	assert.Empty(t, e.OnDisconnect("a"))
	assert.Equal(t, []string{"a"}, e.Waiting())
}
