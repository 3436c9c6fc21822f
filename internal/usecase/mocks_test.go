package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

// In-memory store implementations shared by the scheduler and enforcer
// tests.

type memScheduleStore struct {
	mu        sync.Mutex
	schedules map[string]domain.Schedule
	putErr    error
}

func newMemScheduleStore() *memScheduleStore {
	return &memScheduleStore{schedules: make(map[string]domain.Schedule)}
}

func (m *memScheduleStore) Put(schedule domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.schedules[schedule.ID] = schedule
	return nil
}

func (m *memScheduleStore) Get(id string) (*domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	schedule, ok := m.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return &schedule, nil
}

func (m *memScheduleStore) List() ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memScheduleStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	putErr   error

	// onListLive, when set, fires after a ListLive read completes. Lets a
	// test interleave a concurrent write between a tick's read and its
	// guarded update, the way a CLI process would.
	onListLive func()
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]domain.Session)}
}

func (m *memSessionStore) Put(session domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.sessions[session.ID] = session
	return nil
}

func (m *memSessionStore) Get(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}

func (m *memSessionStore) List() ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out, nil
}

func (m *memSessionStore) ListLive() ([]domain.Session, error) {
	all, _ := m.List()
	live := all[:0:0]
	for _, s := range all {
		if !s.State.Terminal() {
			live = append(live, s)
		}
	}
	if m.onListLive != nil {
		m.onListLive()
	}
	return live, nil
}

func (m *memSessionStore) UpdateState(id string, from, to domain.SessionState, updatedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return false, m.putErr
	}
	session, ok := m.sessions[id]
	if !ok || session.State != from {
		return false, nil
	}
	session.State = to
	session.UpdatedAt = updatedAt
	m.sessions[id] = session
	return true, nil
}

func (m *memSessionStore) FindByOccurrence(scheduleID, occurrenceDate string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ScheduleID == scheduleID && s.OccurrenceDate == occurrenceDate {
			found := s
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memSessionStore) CountBySchedule(scheduleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.ScheduleID == scheduleID {
			count++
		}
	}
	return count, nil
}

type memRequestStore struct {
	mu       sync.Mutex
	requests map[string]domain.InstantRequest
}

func newMemRequestStore() *memRequestStore {
	return &memRequestStore{requests: make(map[string]domain.InstantRequest)}
}

func (m *memRequestStore) Add(req domain.InstantRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req
	return nil
}

func (m *memRequestStore) List() ([]domain.InstantRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.InstantRequest, 0, len(m.requests))
	for _, r := range m.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

func (m *memRequestStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.requests, id)
	return nil
}

type memConfigStore struct {
	mu  sync.Mutex
	cfg domain.Config
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{cfg: domain.DefaultConfig()}
}

func (m *memConfigStore) Load() (domain.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, nil
}

func (m *memConfigStore) Save(cfg domain.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return nil
}

// mockNotifier records delivered notifications.
type mockNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification
	err           error
}

func (m *mockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *mockNotifier) delivered() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Notification(nil), m.notifications...)
}

// mockController records enforcement start/stop calls.
type mockController struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (m *mockController) Start(session domain.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, session.ID)
}

func (m *mockController) Stop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, sessionID)
}

func (m *mockController) startedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

func (m *mockController) stoppedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stopped...)
}

// mockProcessManager implements domain.ProcessManager for testing.
type mockProcessManager struct {
	mu         sync.Mutex
	byName     map[string][]int
	findErr    error
	killErr    map[int]error
	killedPIDs []int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		byName:  make(map[string][]int),
		killErr: make(map[int]error),
	}
}

func (m *mockProcessManager) FindByName(name string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byName[name], nil
}

func (m *mockProcessManager) Kill(ctx context.Context, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.killErr[pid]; err != nil {
		return err
	}
	m.killedPIDs = append(m.killedPIDs, pid)
	// Killed processes disappear from subsequent enumerations.
	for name, pids := range m.byName {
		remaining := pids[:0:0]
		for _, p := range pids {
			if p != pid {
				remaining = append(remaining, p)
			}
		}
		m.byName[name] = remaining
	}
	return nil
}

func (m *mockProcessManager) IsRunning(pid int) bool { return false }

func (m *mockProcessManager) killed() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.killedPIDs...)
}

// mockLocker implements domain.ScreenLocker for testing.
type mockLocker struct {
	mu        sync.Mutex
	locked    bool
	lockCalls int
	lockErr   error
}

func (m *mockLocker) IsLocked(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

func (m *mockLocker) Lock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCalls++
	if m.lockErr != nil {
		return m.lockErr
	}
	m.locked = true
	return nil
}

func (m *mockLocker) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockCalls
}
