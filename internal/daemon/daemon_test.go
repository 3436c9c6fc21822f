package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/lockmeout/internal/domain"
	"github.com/eliteGoblin/lockmeout/internal/usecase"
)

type stubSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
}

func newStubSessionStore() *stubSessionStore {
	return &stubSessionStore{sessions: make(map[string]domain.Session)}
}

func (s *stubSessionStore) Put(session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *stubSessionStore) Get(id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (s *stubSessionStore) List() ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out, nil
}

func (s *stubSessionStore) ListLive() ([]domain.Session, error) {
	all, _ := s.List()
	live := all[:0:0]
	for _, session := range all {
		if !session.State.Terminal() {
			live = append(live, session)
		}
	}
	return live, nil
}

func (s *stubSessionStore) UpdateState(id string, from, to domain.SessionState, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.State != from {
		return false, nil
	}
	session.State = to
	session.UpdatedAt = updatedAt
	s.sessions[id] = session
	return true, nil
}

func (s *stubSessionStore) FindByOccurrence(scheduleID, occurrenceDate string) (*domain.Session, error) {
	return nil, nil
}

func (s *stubSessionStore) CountBySchedule(scheduleID string) (int, error) { return 0, nil }

type stubScheduleStore struct{}

func (stubScheduleStore) Put(domain.Schedule) error { return nil }
func (stubScheduleStore) Get(string) (*domain.Schedule, error) {
	return nil, domain.ErrScheduleNotFound
}
func (stubScheduleStore) List() ([]domain.Schedule, error) { return nil, nil }
func (stubScheduleStore) Delete(string) error              { return nil }

type stubRequestStore struct {
	mu       sync.Mutex
	requests []domain.InstantRequest
}

func (s *stubRequestStore) Add(req domain.InstantRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func (s *stubRequestStore) List() ([]domain.InstantRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InstantRequest(nil), s.requests...), nil
}

func (s *stubRequestStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := s.requests[:0]
	for _, req := range s.requests {
		if req.ID != id {
			remaining = append(remaining, req)
		}
	}
	s.requests = remaining
	return nil
}

type stubConfigStore struct{}

func (stubConfigStore) Load() (domain.Config, error) { return domain.DefaultConfig(), nil }
func (stubConfigStore) Save(domain.Config) error     { return nil }

type stubStateStore struct {
	mu      sync.Mutex
	last    *domain.RuntimeState
	cleared bool
}

func (s *stubStateStore) Write(state domain.RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &state
	return nil
}

func (s *stubStateStore) Read() (*domain.RuntimeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *stubStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	s.cleared = true
	return nil
}

func (s *stubStateStore) snapshot() (*domain.RuntimeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.cleared
}

type stubProcessManager struct{}

func (stubProcessManager) FindByName(string) ([]int, error) { return nil, nil }
func (stubProcessManager) Kill(context.Context, int) error  { return nil }
func (stubProcessManager) IsRunning(int) bool               { return false }

func newTestDaemon(t *testing.T) (*Daemon, *stubSessionStore, *stubRequestStore, *stubStateStore) {
	t.Helper()
	sessions := newStubSessionStore()
	requests := &stubRequestStore{}
	state := &stubStateStore{}
	logger := zap.NewNop()

	enforcer := usecase.NewEnforcer(usecase.EnforcerConfig{
		Interval:    10 * time.Millisecond,
		KillTimeout: 100 * time.Millisecond,
	}, sessions, stubProcessManager{}, nil, nil, logger)

	scheduler := usecase.NewScheduler(stubScheduleStore{}, sessions, requests,
		stubConfigStore{}, nil, enforcer, logger)

	d := New(Config{
		TickInterval:  10 * time.Millisecond,
		StateInterval: 10 * time.Millisecond,
	}, scheduler, enforcer, sessions, state, logger)
	return d, sessions, requests, state
}

func TestDaemon_RunStopsOnCancelAndClearsState(t *testing.T) {
	d, _, _, state := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	// Let the first tick and state publish happen.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}

	_, cleared := state.snapshot()
	assert.True(t, cleared)
}

func TestDaemon_PublishesActiveSession(t *testing.T) {
	d, sessions, requests, state := newTestDaemon(t)

	// A queued zero-delay request becomes ACTIVE on the first tick.
	require.NoError(t, requests.Add(domain.InstantRequest{
		ID:          "req-1",
		Duration:    time.Hour,
		Mode:        domain.ModeFullLockout,
		RequestedAt: time.Now(),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	var published *domain.RuntimeState
	for time.Now().Before(deadline) {
		if s, _ := state.snapshot(); s != nil && s.ActiveSession != "" {
			published = s
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, published, "active session never published")

	live, err := sessions.ListLive()
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, live[0].ID, published.ActiveSession)
	assert.True(t, published.ActiveUntil.Equal(live[0].ScheduledEnd))

	cancel()
	<-errCh
}
