package reporters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/armorclaw/stderr/pkg/configtree"
	"github.com/armorclaw/stderr/pkg/logger"
	"github.com/armorclaw/stderr/pkg/mvc"
	"github.com/armorclaw/stderr/pkg/route"
)

// SQLite reporter defaults.
const (
	DefaultStorePath       = "errors.db"
	DefaultRetentionDays   = 30
	DefaultCleanupSchedule = "@daily"
)

// SQLiteReporter persists handled errors to SQLite. Repeated unresolved errors
// of the same class and message are folded into one row with an occurrence
// count.
//
// Attributes: path, retention_days, cleanup_schedule ("off" disables the
// scheduled cleanup).
type SQLiteReporter struct {
	db            *sql.DB
	path          string
	mu            sync.RWMutex
	retentionDays int
	cron          *cron.Cron
	log           *logger.Logger
}

// StoreConfig configures the SQLite reporter
type StoreConfig struct {
	Path            string // Path to SQLite database file
	RetentionDays   int    // Days to keep resolved errors (0 = default 30)
	CleanupSchedule string // cron spec for Cleanup; "" = default, "off" = never
}

// StoreConfigFromAttributes reads the plugin declaration attributes.
func StoreConfigFromAttributes(attrs configtree.Attributes) (StoreConfig, error) {
	cfg := StoreConfig{
		Path:            attrs.Get("path"),
		CleanupSchedule: attrs.Get("cleanup_schedule"),
	}
	if v := attrs.Get("retention_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid retention_days %q", v)
		}
		cfg.RetentionDays = days
	}
	return cfg, nil
}

// NewSQLiteReporter opens (creating if needed) the store at cfg.Path.
func NewSQLiteReporter(cfg StoreConfig, l *logger.Logger) (*SQLiteReporter, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultStorePath
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = DefaultCleanupSchedule
	}
	if l == nil {
		l = logger.Global()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteReporter{
		db:            db,
		path:          cfg.Path,
		retentionDays: cfg.RetentionDays,
		log:           l.WithComponent("reporter.sqlite"),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.CleanupSchedule != "off" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.CleanupSchedule, s.scheduledCleanup); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid cleanup_schedule %q: %w", cfg.CleanupSchedule, err)
		}
		s.cron.Start()
	}

	return s, nil
}

func (s *SQLiteReporter) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS errors (
			id           TEXT PRIMARY KEY,
			class        TEXT NOT NULL,
			message      TEXT NOT NULL,
			error_type   INTEGER NOT NULL,
			http_status  INTEGER NOT NULL,
			controller   TEXT NOT NULL,
			stack_json   TEXT NOT NULL,
			first_seen   TIMESTAMP NOT NULL,
			last_seen    TIMESTAMP NOT NULL,
			occurrences  INTEGER DEFAULT 1,
			resolved     BOOLEAN DEFAULT FALSE,
			resolved_by  TEXT,
			resolved_at  TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_errors_class ON errors(class);
		CREATE INDEX IF NOT EXISTS idx_errors_error_type ON errors(error_type);
		CREATE INDEX IF NOT EXISTS idx_errors_resolved ON errors(resolved);
		CREATE INDEX IF NOT EXISTS idx_errors_first_seen ON errors(first_seen);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// StoredError represents an error retrieved from the store
type StoredError struct {
	ID          string           `json:"id"`
	Class       string           `json:"class"`
	Message     string           `json:"message"`
	ErrorType   route.ErrorType  `json:"error_type"`
	HTTPStatus  int              `json:"http_status"`
	Controller  string           `json:"controller"`
	Stack       []mvc.StackFrame `json:"stack,omitempty"`
	FirstSeen   time.Time        `json:"first_seen"`
	LastSeen    time.Time        `json:"last_seen"`
	Occurrences int              `json:"occurrences"`
	Resolved    bool             `json:"resolved"`
	ResolvedBy  string           `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
}

// Report stores req, or bumps the occurrence count of the matching unresolved
// row.
func (s *SQLiteReporter) Report(ctx context.Context, req *mvc.Request, errorType route.ErrorType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stackJSON, err := json.Marshal(req.Stack)
	if err != nil {
		return fmt.Errorf("failed to serialize stack: %w", err)
	}

	seen := req.Time.UTC()
	if seen.IsZero() {
		seen = time.Now().UTC()
	}

	var existingID string
	queryErr := s.db.QueryRowContext(ctx,
		"SELECT id FROM errors WHERE class = ? AND message = ? AND resolved = FALSE ORDER BY last_seen DESC LIMIT 1",
		req.ClassName, req.Message(),
	).Scan(&existingID)

	if queryErr == nil && existingID != "" {
		_, err = s.db.ExecContext(ctx, `
			UPDATE errors SET
				stack_json = ?,
				last_seen = ?,
				occurrences = occurrences + 1
			WHERE id = ?
		`, string(stackJSON), seen, existingID)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO errors (id, class, message, error_type, http_status, controller, stack_json, first_seen, last_seen, occurrences)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`,
		req.ID,
		req.ClassName,
		req.Message(),
		int(errorType),
		req.Route.HTTPStatus,
		req.Route.Controller,
		string(stackJSON),
		seen,
		seen,
	)
	return err
}

// ErrorQuery defines parameters for querying errors
type ErrorQuery struct {
	ID        string           // Filter by row ID
	Class     string           // Filter by error class
	ErrorType *route.ErrorType // Filter by error type (nil = all)
	Resolved  *bool            // Filter by resolved status (nil = all)
	Since     time.Time        // Only errors first seen after this time
	Until     time.Time        // Only errors first seen before this time
	Limit     int              // Max results (default 20, max 1000)
	Offset    int              // Pagination offset
	OrderBy   string           // "first_seen", "last_seen", "occurrences" (default "last_seen")
	OrderDesc bool             // Sort descending
}

// Query retrieves errors matching the query parameters
func (s *SQLiteReporter) Query(ctx context.Context, q ErrorQuery) ([]StoredError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}

	query := "SELECT id, class, message, error_type, http_status, controller, stack_json, first_seen, last_seen, occurrences, resolved, resolved_by, resolved_at FROM errors WHERE 1=1"
	args := []interface{}{}

	if q.ID != "" {
		query += " AND id = ?"
		args = append(args, q.ID)
	}
	if q.Class != "" {
		query += " AND class = ?"
		args = append(args, q.Class)
	}
	if q.ErrorType != nil {
		query += " AND error_type = ?"
		args = append(args, int(*q.ErrorType))
	}
	if q.Resolved != nil {
		query += " AND resolved = ?"
		args = append(args, *q.Resolved)
	}
	if !q.Since.IsZero() {
		query += " AND first_seen >= ?"
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query += " AND first_seen <= ?"
		args = append(args, q.Until.UTC())
	}

	orderCol := "last_seen"
	switch q.OrderBy {
	case "first_seen", "occurrences":
		orderCol = q.OrderBy
	}
	orderDir := "DESC"
	if !q.OrderDesc {
		orderDir = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderCol, orderDir)

	query += " LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []StoredError
	for rows.Next() {
		var se StoredError
		var errorType int
		var stackJSON string
		var resolvedAt sql.NullTime
		var resolvedBy sql.NullString

		err := rows.Scan(
			&se.ID,
			&se.Class,
			&se.Message,
			&errorType,
			&se.HTTPStatus,
			&se.Controller,
			&stackJSON,
			&se.FirstSeen,
			&se.LastSeen,
			&se.Occurrences,
			&se.Resolved,
			&resolvedBy,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		se.ErrorType = route.ErrorType(errorType)
		_ = json.Unmarshal([]byte(stackJSON), &se.Stack)
		if resolvedBy.Valid {
			se.ResolvedBy = resolvedBy.String
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			se.ResolvedAt = &t
		}

		results = append(results, se)
	}

	return results, rows.Err()
}

// Get retrieves a single error by ID
func (s *SQLiteReporter) Get(ctx context.Context, id string) (*StoredError, error) {
	results, err := s.Query(ctx, ErrorQuery{ID: id, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("error not found: %s", id)
	}
	return &results[0], nil
}

// Resolve marks an error as resolved
func (s *SQLiteReporter) Resolve(ctx context.Context, id, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE errors SET
			resolved = TRUE,
			resolved_by = ?,
			resolved_at = ?
		WHERE id = ?
	`, resolvedBy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("error not found: %s", id)
	}
	return nil
}

// Unresolve marks an error as unresolved (for reopening)
func (s *SQLiteReporter) Unresolve(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE errors SET
			resolved = FALSE,
			resolved_by = NULL,
			resolved_at = NULL
		WHERE id = ?
	`, id)
	return err
}

// Delete removes an error permanently
func (s *SQLiteReporter) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM errors WHERE id = ?", id)
	return err
}

// Cleanup removes resolved errors older than the retention window
func (s *SQLiteReporter) Cleanup(ctx context.Context) (int64, error) {
	return s.cleanupBefore(ctx, time.Now().UTC().AddDate(0, 0, -s.retentionDays))
}

func (s *SQLiteReporter) cleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM errors WHERE resolved = TRUE AND resolved_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteReporter) scheduledCleanup() {
	n, err := s.Cleanup(context.Background())
	if err != nil {
		s.log.ErrorEvent(context.Background(), "scheduled cleanup failed", err)
		return
	}
	s.log.Debug("scheduled cleanup", "removed", n, "retention_days", s.retentionDays)
}

// StoreStats holds statistics about the error store
type StoreStats struct {
	TotalErrors      int            `json:"total_errors"`
	UnresolvedErrors int            `json:"unresolved_errors"`
	UniqueClasses    int            `json:"unique_classes"`
	Occurrences      int            `json:"occurrences"`
	ByErrorType      map[string]int `json:"by_error_type"`
}

// Stats returns statistics about stored errors
func (s *SQLiteReporter) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats StoreStats

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT class), COALESCE(SUM(occurrences), 0) FROM errors",
	).Scan(&stats.TotalErrors, &stats.UniqueClasses, &stats.Occurrences)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM errors WHERE resolved = FALSE",
	).Scan(&stats.UnresolvedErrors)
	if err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT error_type, COUNT(*) FROM errors GROUP BY error_type",
	)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	stats.ByErrorType = make(map[string]int)
	for rows.Next() {
		var et, count int
		if err := rows.Scan(&et, &count); err != nil {
			return stats, err
		}
		stats.ByErrorType[route.ErrorType(et).String()] = count
	}

	return stats, rows.Err()
}

// Close stops the cleanup schedule and closes the database connection
func (s *SQLiteReporter) Close() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteReporter) Path() string {
	return s.path
}
