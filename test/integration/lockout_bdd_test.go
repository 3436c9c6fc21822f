//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/lockmeout/internal/domain"
	"github.com/eliteGoblin/lockmeout/internal/infra"
	"github.com/eliteGoblin/lockmeout/internal/usecase"
	"github.com/eliteGoblin/lockmeout/test/fixtures"
)

// recordingNotifier captures delivered notifications.
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}

// recordingController captures enforcement start/stop calls.
type recordingController struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

func (r *recordingController) Start(session domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, session.ID)
}

func (r *recordingController) Stop(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, sessionID)
}

var _ = Describe("Lockout lifecycle", func() {
	var (
		dataDir   string
		store     *infra.Store
		notifier  *recordingNotifier
		control   *recordingController
		scheduler *usecase.Scheduler
	)

	key := []byte("integration-test-key-32-bytes-ok")

	newScheduler := func() *usecase.Scheduler {
		return usecase.NewScheduler(store.Schedules(), store.Sessions(),
			store.Requests(), store.Config(), notifier, control, zap.NewNop())
	}

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		var err error
		store, err = infra.OpenStore(dataDir, key)
		Expect(err).NotTo(HaveOccurred())

		notifier = &recordingNotifier{}
		control = &recordingController{}
		scheduler = newScheduler()
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("a daily schedule", func() {
		var day time.Time

		at := func(h, m int) time.Time {
			return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, time.Local)
		}

		BeforeEach(func() {
			day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.Local)
			_, err := scheduler.AddSchedule("20:00", "21:00",
				domain.ModeFullLockout, nil, true, "evening")
			Expect(err).NotTo(HaveOccurred())
		})

		It("walks pending, warning, active, completed across the evening", func() {
			scheduler.Tick(at(12, 0))
			sessions, err := scheduler.ListSessions()
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].State).To(Equal(domain.StatePending))

			scheduler.Tick(at(19, 55))
			sessions, _ = scheduler.ListSessions()
			Expect(sessions[0].State).To(Equal(domain.StateWarning))
			Expect(notifier.count()).To(Equal(1))

			scheduler.Tick(at(20, 0))
			sessions, _ = scheduler.ListSessions()
			Expect(sessions[0].State).To(Equal(domain.StateActive))
			Expect(control.started).To(ConsistOf(sessions[0].ID))

			scheduler.Tick(at(21, 0))
			sessions, _ = scheduler.ListSessions()
			Expect(sessions[0].State).To(Equal(domain.StateCompleted))
			Expect(control.stopped).To(ConsistOf(sessions[0].ID))
		})

		It("recovers an active session after a restart without re-notifying", func() {
			scheduler.Tick(at(19, 55))
			scheduler.Tick(at(20, 0))
			Expect(notifier.count()).To(Equal(1))

			// Simulate a daemon restart: fresh store handle, fresh scheduler.
			Expect(store.Close()).To(Succeed())
			var err error
			store, err = infra.OpenStore(dataDir, key)
			Expect(err).NotTo(HaveOccurred())
			control = &recordingController{}
			scheduler = newScheduler()

			scheduler.Tick(at(20, 30))

			sessions, err := scheduler.ListSessions()
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].State).To(Equal(domain.StateActive))
			Expect(control.started).To(ConsistOf(sessions[0].ID))
			Expect(notifier.count()).To(Equal(1))
		})

		It("skips a fully missed window and targets the next day", func() {
			scheduler.Tick(at(22, 0))

			sessions, err := scheduler.ListSessions()
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(1))
			Expect(sessions[0].OccurrenceDate).To(Equal("2026-03-11"))
			Expect(sessions[0].State).To(Equal(domain.StatePending))
			Expect(control.started).To(BeEmpty())
		})
	})

	Describe("an instant lockout with app blocking", func() {
		var (
			procs    *fixtures.FakeProcessTable
			enforcer *usecase.Enforcer
		)

		BeforeEach(func() {
			procs = fixtures.NewFakeProcessTable()
			enforcer = usecase.NewEnforcer(usecase.EnforcerConfig{
				Interval:    20 * time.Millisecond,
				KillTimeout: time.Second,
			}, store.Sessions(), procs, nil, nil, zap.NewNop())
			scheduler = usecase.NewScheduler(store.Schedules(), store.Sessions(),
				store.Requests(), store.Config(), notifier, enforcer, zap.NewNop())
		})

		AfterEach(func() {
			enforcer.StopAll()
		})

		It("kills the blocked app and keeps it dead until cancelled", func() {
			procs.Launch("steam")
			Expect(procs.Running("steam")).To(Equal(1))

			err := scheduler.RequestInstant(0, time.Hour,
				domain.ModeAppBlockOnly, []string{"steam"})
			Expect(err).NotTo(HaveOccurred())

			scheduler.Tick(time.Now())

			Eventually(func() int {
				return procs.Running("steam")
			}).Should(BeZero())

			// Relaunch: the loop takes it down again.
			procs.Launch("steam")
			Eventually(func() int {
				return procs.Running("steam")
			}).Should(BeZero())

			sessions, err := scheduler.ListSessions()
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions).To(HaveLen(1))
			Expect(scheduler.CancelSession(sessions[0].ID)).To(Succeed())

			// Once cancelled the app stays up.
			Eventually(func() bool {
				procs.Launch("steam")
				time.Sleep(50 * time.Millisecond)
				return procs.Running("steam") > 0
			}).Should(BeTrue())
		})
	})
})
