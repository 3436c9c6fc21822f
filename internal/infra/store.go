package infra

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/lockmeout/internal/domain"
)

const storeDBName = "lockmeout.db"

// Store implements domain.ScheduleStore, domain.SessionStore and
// domain.ConfigStore on a SQLCipher encrypted SQLite database. Encryption
// keeps the schedule tables from being trivially edited to escape an active
// lockout. Every mutation is a synchronous whole-record replace, so a
// restart recovers exactly the records that were fully written.
type Store struct {
	db     *sql.DB
	dbPath string
}

// OpenStore opens (or creates) the encrypted database in dataDir. The key
// is the SQLCipher passphrase. An unreadable database is returned as an
// error and treated as fatal by the daemon: silently discarding state would
// re-materialize and re-notify sessions.
func OpenStore(dataDir string, key []byte) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database (wrong key or corrupt file?): %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id          TEXT PRIMARY KEY,
		start_time  TEXT NOT NULL,
		end_time    TEXT NOT NULL,
		mode        TEXT NOT NULL,
		apps        TEXT NOT NULL DEFAULT '[]',
		persist     INTEGER NOT NULL DEFAULT 0,
		enabled     INTEGER NOT NULL DEFAULT 1,
		description TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		source          TEXT NOT NULL,
		schedule_id     TEXT NOT NULL DEFAULT '',
		occurrence_date TEXT NOT NULL DEFAULT '',
		scheduled_start TEXT NOT NULL,
		scheduled_end   TEXT NOT NULL,
		mode            TEXT NOT NULL,
		apps            TEXT NOT NULL DEFAULT '[]',
		state           TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_occurrence
		ON sessions(schedule_id, occurrence_date)
		WHERE schedule_id != '';
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);

	CREATE TABLE IF NOT EXISTS instant_requests (
		id           TEXT PRIMARY KEY,
		delay_ms     INTEGER NOT NULL,
		duration_ms  INTEGER NOT NULL,
		mode         TEXT NOT NULL,
		apps         TEXT NOT NULL DEFAULT '[]',
		requested_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS config (
		id                INTEGER PRIMARY KEY CHECK (id = 1),
		lead_time_minutes INTEGER NOT NULL,
		default_apps      TEXT NOT NULL,
		notify_summary    TEXT NOT NULL,
		notify_body       TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- domain.ScheduleStore implementation ---

// Put inserts or replaces a schedule record.
func (s *Store) Put(schedule domain.Schedule) error {
	apps, err := json.Marshal(emptyIfNil(schedule.Apps))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO schedules
			(id, start_time, end_time, mode, apps, persist, enabled, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.StartTime, schedule.EndTime, string(schedule.Mode),
		string(apps), boolToInt(schedule.Persist), boolToInt(schedule.Enabled),
		schedule.Description, schedule.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// Get returns a schedule by id.
func (s *Store) Get(id string) (*domain.Schedule, error) {
	row := s.db.QueryRow(`
		SELECT id, start_time, end_time, mode, apps, persist, enabled, description, created_at
		FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrScheduleNotFound
	}
	return schedule, err
}

// List returns all schedules ordered by creation time.
func (s *Store) List() ([]domain.Schedule, error) {
	rows, err := s.db.Query(`
		SELECT id, start_time, end_time, mode, apps, persist, enabled, description, created_at
		FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *schedule)
	}
	return schedules, rows.Err()
}

// Delete removes a schedule record.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// --- domain.SessionStore implementation ---

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(session domain.Session) error {
	apps, err := json.Marshal(emptyIfNil(session.Apps))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO sessions
			(id, source, schedule_id, occurrence_date, scheduled_start, scheduled_end,
			 mode, apps, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, string(session.Source), session.ScheduleID, session.OccurrenceDate,
		session.ScheduledStart.Format(time.RFC3339Nano),
		session.ScheduledEnd.Format(time.RFC3339Nano),
		string(session.Mode), string(apps), string(session.State),
		session.CreatedAt.Format(time.RFC3339Nano),
		session.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// GetSession returns a session by id.
func (s *Store) GetSession(id string) (*domain.Session, error) {
	row := s.db.QueryRow(sessionSelect+` WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	return session, err
}

// UpdateSessionState performs a guarded state transition: the write only
// lands if the session is still in the expected prior state. The tick and
// the CLI are separate processes sharing this database, so an unguarded
// replace could resurrect a session cancelled between read and write.
func (s *Store) UpdateSessionState(id string, from, to domain.SessionState, updatedAt time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE sessions SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(to), updatedAt.Format(time.RFC3339Nano), id, string(from))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListSessions returns all sessions ordered by scheduled start.
func (s *Store) ListSessions() ([]domain.Session, error) {
	return s.querySessions(sessionSelect + ` ORDER BY scheduled_start`)
}

// ListLiveSessions returns sessions in a non-terminal state.
func (s *Store) ListLiveSessions() ([]domain.Session, error) {
	return s.querySessions(sessionSelect+` WHERE state IN (?, ?, ?) ORDER BY scheduled_start`,
		string(domain.StatePending), string(domain.StateWarning), string(domain.StateActive))
}

// FindByOccurrence returns the session for a schedule occurrence, or nil.
func (s *Store) FindByOccurrence(scheduleID, occurrenceDate string) (*domain.Session, error) {
	row := s.db.QueryRow(sessionSelect+` WHERE schedule_id = ? AND occurrence_date = ?`,
		scheduleID, occurrenceDate)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return session, err
}

// CountBySchedule returns how many sessions a schedule ever materialized.
func (s *Store) CountBySchedule(scheduleID string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE schedule_id = ?`,
		scheduleID).Scan(&count)
	return count, err
}

// --- domain.InstantRequestStore implementation ---

// AddRequest queues an instant lockout request.
func (s *Store) AddRequest(req domain.InstantRequest) error {
	apps, err := json.Marshal(emptyIfNil(req.Apps))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO instant_requests (id, delay_ms, duration_ms, mode, apps, requested_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.Delay.Milliseconds(), req.Duration.Milliseconds(),
		string(req.Mode), string(apps), req.RequestedAt.Format(time.RFC3339Nano))
	return err
}

// ListRequests returns queued requests in request order.
func (s *Store) ListRequests() ([]domain.InstantRequest, error) {
	rows, err := s.db.Query(`
		SELECT id, delay_ms, duration_ms, mode, apps, requested_at
		FROM instant_requests ORDER BY requested_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []domain.InstantRequest
	for rows.Next() {
		var req domain.InstantRequest
		var delayMs, durationMs int64
		var mode, appsJSON, requestedAt string
		if err := rows.Scan(&req.ID, &delayMs, &durationMs, &mode, &appsJSON, &requestedAt); err != nil {
			return nil, err
		}
		req.Delay = time.Duration(delayMs) * time.Millisecond
		req.Duration = time.Duration(durationMs) * time.Millisecond
		req.Mode = domain.LockMode(mode)
		if err := json.Unmarshal([]byte(appsJSON), &req.Apps); err != nil {
			return nil, fmt.Errorf("corrupt apps for request %s: %w", req.ID, err)
		}
		if req.RequestedAt, err = time.Parse(time.RFC3339Nano, requestedAt); err != nil {
			return nil, fmt.Errorf("corrupt requested_at for request %s: %w", req.ID, err)
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// DeleteRequest removes a consumed request.
func (s *Store) DeleteRequest(id string) error {
	_, err := s.db.Exec(`DELETE FROM instant_requests WHERE id = ?`, id)
	return err
}

// --- domain.ConfigStore implementation ---

// LoadConfig returns the stored config, or defaults if never saved.
func (s *Store) LoadConfig() (domain.Config, error) {
	cfg := domain.DefaultConfig()
	var appsJSON string
	err := s.db.QueryRow(`
		SELECT lead_time_minutes, default_apps, notify_summary, notify_body
		FROM config WHERE id = 1`).Scan(
		&cfg.LeadTimeMinutes, &appsJSON, &cfg.NotifySummary, &cfg.NotifyBody)
	if errors.Is(err, sql.ErrNoRows) {
		return cfg, nil
	}
	if err != nil {
		return domain.Config{}, err
	}
	if err := json.Unmarshal([]byte(appsJSON), &cfg.DefaultApps); err != nil {
		return domain.Config{}, fmt.Errorf("corrupt default_apps: %w", err)
	}
	return cfg, nil
}

// SaveConfig replaces the single config record.
func (s *Store) SaveConfig(cfg domain.Config) error {
	apps, err := json.Marshal(emptyIfNil(cfg.DefaultApps))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO config (id, lead_time_minutes, default_apps, notify_summary, notify_body)
		VALUES (1, ?, ?, ?, ?)`,
		cfg.LeadTimeMinutes, string(apps), cfg.NotifySummary, cfg.NotifyBody)
	return err
}

// --- scanning helpers ---

const sessionSelect = `
	SELECT id, source, schedule_id, occurrence_date, scheduled_start, scheduled_end,
	       mode, apps, state, created_at, updated_at
	FROM sessions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var schedule domain.Schedule
	var mode, appsJSON, createdAt string
	var persist, enabled int
	err := row.Scan(&schedule.ID, &schedule.StartTime, &schedule.EndTime, &mode,
		&appsJSON, &persist, &enabled, &schedule.Description, &createdAt)
	if err != nil {
		return nil, err
	}
	schedule.Mode = domain.LockMode(mode)
	schedule.Persist = persist != 0
	schedule.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(appsJSON), &schedule.Apps); err != nil {
		return nil, fmt.Errorf("corrupt apps for schedule %s: %w", schedule.ID, err)
	}
	if schedule.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for schedule %s: %w", schedule.ID, err)
	}
	return &schedule, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var source, mode, appsJSON, state string
	var start, end, createdAt, updatedAt string
	err := row.Scan(&session.ID, &source, &session.ScheduleID, &session.OccurrenceDate,
		&start, &end, &mode, &appsJSON, &state, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	session.Source = domain.SessionSource(source)
	session.Mode = domain.LockMode(mode)
	session.State = domain.SessionState(state)
	if err := json.Unmarshal([]byte(appsJSON), &session.Apps); err != nil {
		return nil, fmt.Errorf("corrupt apps for session %s: %w", session.ID, err)
	}
	for _, field := range []struct {
		raw  string
		dest *time.Time
	}{
		{start, &session.ScheduledStart},
		{end, &session.ScheduledEnd},
		{createdAt, &session.CreatedAt},
		{updatedAt, &session.UpdatedAt},
	} {
		t, err := time.Parse(time.RFC3339Nano, field.raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp for session %s: %w", session.ID, err)
		}
		*field.dest = t
	}
	return &session, nil
}

func (s *Store) querySessions(query string, args ...any) ([]domain.Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(apps []string) []string {
	if apps == nil {
		return []string{}
	}
	return apps
}

// --- interface adapters ---

// The schedule methods live directly on Store; the session and config
// views need thin adapters because the interface method names clash.
type sessionStoreAdapter struct{ *Store }

func (a sessionStoreAdapter) Put(session domain.Session) error       { return a.PutSession(session) }
func (a sessionStoreAdapter) Get(id string) (*domain.Session, error) { return a.GetSession(id) }
func (a sessionStoreAdapter) List() ([]domain.Session, error)        { return a.ListSessions() }
func (a sessionStoreAdapter) ListLive() ([]domain.Session, error)    { return a.ListLiveSessions() }
func (a sessionStoreAdapter) UpdateState(id string, from, to domain.SessionState, updatedAt time.Time) (bool, error) {
	return a.UpdateSessionState(id, from, to, updatedAt)
}

type requestStoreAdapter struct{ *Store }

func (a requestStoreAdapter) Add(req domain.InstantRequest) error    { return a.AddRequest(req) }
func (a requestStoreAdapter) List() ([]domain.InstantRequest, error) { return a.ListRequests() }
func (a requestStoreAdapter) Delete(id string) error                 { return a.DeleteRequest(id) }

type configStoreAdapter struct{ *Store }

func (a configStoreAdapter) Load() (domain.Config, error) { return a.LoadConfig() }
func (a configStoreAdapter) Save(cfg domain.Config) error { return a.SaveConfig(cfg) }

// Schedules returns the store's domain.ScheduleStore view.
func (s *Store) Schedules() domain.ScheduleStore { return s }

// Sessions returns the store's domain.SessionStore view.
func (s *Store) Sessions() domain.SessionStore { return sessionStoreAdapter{s} }

// Requests returns the store's domain.InstantRequestStore view.
func (s *Store) Requests() domain.InstantRequestStore { return requestStoreAdapter{s} }

// Config returns the store's domain.ConfigStore view.
func (s *Store) Config() domain.ConfigStore { return configStoreAdapter{s} }

// Ensure Store satisfies the schedule side directly.
var _ domain.ScheduleStore = (*Store)(nil)
var _ domain.SessionStore = sessionStoreAdapter{}
var _ domain.InstantRequestStore = requestStoreAdapter{}
var _ domain.ConfigStore = configStoreAdapter{}
