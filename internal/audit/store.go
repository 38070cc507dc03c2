package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bulwark-io/bulwark/pkg/config"
	"github.com/bulwark-io/bulwark/pkg/errors"
	"github.com/bulwark-io/bulwark/internal/scaling"
)

const schema = `
CREATE TABLE IF NOT EXISTS scaling_events (
	id           TEXT PRIMARY KEY,
	occurred_at  TIMESTAMPTZ NOT NULL,
	action       TEXT NOT NULL,
	from_count   INTEGER NOT NULL,
	to_count     INTEGER NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	reason       TEXT NOT NULL,
	manual       BOOLEAN NOT NULL,
	success      BOOLEAN NOT NULL,
	error        TEXT,
	duration_ms  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scaling_events_occurred_at ON scaling_events (occurred_at DESC);
`

// storedEvent is the row shape for scaling_events.
type storedEvent struct {
	ID         string    `db:"id"`
	OccurredAt time.Time `db:"occurred_at"`
	Action     string    `db:"action"`
	FromCount  int       `db:"from_count"`
	ToCount    int       `db:"to_count"`
	Confidence float64   `db:"confidence"`
	Reason     string    `db:"reason"`
	Manual     bool      `db:"manual"`
	Success    bool      `db:"success"`
	Error      *string   `db:"error"`
	DurationMs int64     `db:"duration_ms"`
}

// Store persists scaling events to Postgres so the decision history
// survives restarts, unlike the in-memory ring.
type Store struct {
	db *sqlx.DB
}

// NewStore connects to the database and ensures the schema exists.
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, errors.NewInternalError("failed to connect to database").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to ping database").WithCause(err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB returns the underlying connection for health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.NewInternalError("failed to create scaling_events schema").WithCause(err)
	}
	return nil
}

// Record inserts a scaling event.
func (s *Store) Record(ctx context.Context, event scaling.Event) error {
	row := storedEvent{
		ID:         event.ID,
		OccurredAt: event.Timestamp,
		Action:     string(event.Decision.Action),
		FromCount:  event.Decision.CurrentInstances,
		ToCount:    event.Decision.TargetInstances,
		Confidence: event.Decision.Confidence,
		Reason:     event.Decision.Reason,
		Manual:     event.Manual,
		Success:    event.Success,
		DurationMs: event.DurationMs,
	}
	if event.Error != "" {
		row.Error = &event.Error
	}

	const query = `
		INSERT INTO scaling_events
			(id, occurred_at, action, from_count, to_count, confidence, reason, manual, success, error, duration_ms)
		VALUES
			(:id, :occurred_at, :action, :from_count, :to_count, :confidence, :reason, :manual, :success, :error, :duration_ms)`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.NewInternalError("failed to record scaling event").WithCause(err)
	}
	return nil
}

// Recent returns the most recent scaling events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]scaling.Event, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []storedEvent
	const query = `
		SELECT id, occurred_at, action, from_count, to_count, confidence, reason, manual, success, error, duration_ms
		FROM scaling_events
		ORDER BY occurred_at DESC
		LIMIT $1`

	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, errors.NewInternalError("failed to load scaling events").WithCause(err)
	}

	events := make([]scaling.Event, 0, len(rows))
	for _, row := range rows {
		event := scaling.Event{
			ID:        row.ID,
			Timestamp: row.OccurredAt,
			Decision: scaling.Decision{
				Action:           scaling.Action(row.Action),
				CurrentInstances: row.FromCount,
				TargetInstances:  row.ToCount,
				Confidence:       row.Confidence,
				Reason:           row.Reason,
			},
			Manual:     row.Manual,
			Success:    row.Success,
			DurationMs: row.DurationMs,
		}
		if row.Error != nil {
			event.Error = *row.Error
		}
		events = append(events, event)
	}
	return events, nil
}
