// Package postgres provides PostgreSQL storage for audit events.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/mcp-dbinstance/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// eventColumns lists columns returned by event SELECT queries.
var eventColumns = []string{
	"id", "timestamp", "type", "instance", "context_name", "role",
	"purpose", "duration_ms", "success", "error_message",
}

// Store implements audit.Logger using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
	}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event audit.Event) error {
	query, args, err := psq.Insert("context_events").
		Columns(eventColumns...).
		Values(
			event.ID,
			event.Timestamp,
			string(event.Type),
			event.Instance,
			event.Context,
			event.Role,
			event.Purpose,
			event.DurationMS,
			event.Success,
			event.ErrorMessage,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building event insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting context event: %w", err)
	}
	return nil
}

// applyEventFilter adds filter conditions to a SELECT builder.
func applyEventFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"type": string(filter.Type)})
	}
	if filter.Instance != "" {
		qb = qb.Where(sq.Eq{"instance": filter.Instance})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	return qb
}

// Query retrieves audit events matching the filter.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyEventFilter(psq.Select(eventColumns...).From("context_events"), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building event query: %w", err)
	}

	return s.executeQuery(ctx, query, args, filter.Limit)
}

// Count returns the number of audit events matching the filter.
func (s *Store) Count(ctx context.Context, filter audit.QueryFilter) (int, error) {
	qb := applyEventFilter(psq.Select("COUNT(*)").From("context_events"), filter)

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting context events: %w", err)
	}
	return count, nil
}

// Overview holds aggregate statistics for the event log.
type Overview struct {
	TotalEvents   int     `json:"total_events"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	FailureCount  int     `json:"failure_count"`
	Instances     int     `json:"instances"`
}

// Stats returns aggregate statistics over events in the given window.
func (s *Store) Stats(ctx context.Context, start, end *time.Time) (*Overview, error) {
	qb := psq.Select(
		"COUNT(*)",
		"COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0)",
		"COALESCE(AVG(duration_ms), 0)",
		"COUNT(*) FILTER (WHERE NOT success)",
		"COUNT(DISTINCT instance)",
	).From("context_events")
	if start != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *start})
	}
	if end != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *end})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building stats query: %w", err)
	}

	var o Overview
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&o.TotalEvents, &o.SuccessRate, &o.AvgDurationMS, &o.FailureCount, &o.Instances,
	)
	if err != nil {
		return nil, fmt.Errorf("computing event stats: %w", err)
	}
	return &o, nil
}

func (s *Store) executeQuery(ctx context.Context, query string, args []any, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying context events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if limit > 0 && limit <= maxQueryCapacity {
		allocCap = limit
	}
	events := make([]audit.Event, 0, allocCap)

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating context event rows: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (audit.Event, error) {
	var event audit.Event
	var eventType string

	err := rows.Scan(
		&event.ID,
		&event.Timestamp,
		&eventType,
		&event.Instance,
		&event.Context,
		&event.Role,
		&event.Purpose,
		&event.DurationMS,
		&event.Success,
		&event.ErrorMessage,
	)
	if err != nil {
		return event, fmt.Errorf("scanning context event row: %w", err)
	}

	event.Type = audit.EventType(eventType)
	return event, nil
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	return nil
}

// Cleanup removes events older than the retention period.
func (s *Store) Cleanup(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	query, args, err := psq.Delete("context_events").
		Where(sq.Lt{"timestamp": cutoff}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building cleanup query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cleaning up context events: %w", err)
	}
	return nil
}

// StartCleanupRoutine starts a background goroutine that periodically deletes
// old events. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Cleanup(ctx)
			}
		}
	}()
}

// Verify interface compliance.
var _ audit.Logger = (*Store)(nil)
