package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/miradorstack/mirador-incident/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS metrics (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    service          TEXT    NOT NULL,
    ts               INTEGER NOT NULL,
    cpu_percent      REAL    NOT NULL,
    memory_mb        REAL    NOT NULL,
    network_out_mbps REAL    NOT NULL,
    request_count    INTEGER NOT NULL,
    error_count      INTEGER NOT NULL,
    latency_p95_ms   REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_metrics_service_ts ON metrics(service, ts);

CREATE TABLE IF NOT EXISTS changes (
    change_id   TEXT PRIMARY KEY,
    service     TEXT    NOT NULL,
    ts          INTEGER NOT NULL,
    description TEXT    NOT NULL DEFAULT '',
    version     TEXT    NOT NULL DEFAULT '',
    type        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_changes_ts ON changes(ts DESC);

CREATE TABLE IF NOT EXISTS alerts (
    id         TEXT PRIMARY KEY,
    type       TEXT    NOT NULL,
    change_id  TEXT    NOT NULL DEFAULT '',
    service    TEXT    NOT NULL DEFAULT '',
    impact     TEXT    NOT NULL DEFAULT '',
    severity   TEXT    NOT NULL DEFAULT '',
    confidence REAL    NOT NULL DEFAULT 0,
    message    TEXT    NOT NULL DEFAULT '',
    ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts DESC);
`

// SQLiteStore is the persistent Store backed by a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

type metricRow struct {
	Service        string  `db:"service"`
	TS             int64   `db:"ts"`
	CPUPercent     float64 `db:"cpu_percent"`
	MemoryMB       float64 `db:"memory_mb"`
	NetworkOutMbps float64 `db:"network_out_mbps"`
	RequestCount   int64   `db:"request_count"`
	ErrorCount     int64   `db:"error_count"`
	LatencyP95Ms   float64 `db:"latency_p95_ms"`
}

type changeRow struct {
	ChangeID    string `db:"change_id"`
	Service     string `db:"service"`
	TS          int64  `db:"ts"`
	Description string `db:"description"`
	Version     string `db:"version"`
	Type        string `db:"type"`
}

type alertRow struct {
	ID         string  `db:"id"`
	Type       string  `db:"type"`
	ChangeID   string  `db:"change_id"`
	Service    string  `db:"service"`
	Impact     string  `db:"impact"`
	Severity   string  `db:"severity"`
	Confidence float64 `db:"confidence"`
	Message    string  `db:"message"`
	TS         int64   `db:"ts"`
}

// NewSQLiteStore opens (creating if needed) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under concurrent ingest.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Kind identifies the implementation.
func (s *SQLiteStore) Kind() string { return "sqlite" }

// InsertMetric appends a sample.
func (s *SQLiteStore) InsertMetric(ctx context.Context, m models.MetricSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (service, ts, cpu_percent, memory_mb, network_out_mbps, request_count, error_count, latency_p95_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Service, m.Timestamp.UnixNano(), m.CPUPercent, m.MemoryMB, m.NetworkOutMbps, m.RequestCount, m.ErrorCount, m.LatencyP95Ms,
	)
	if err != nil {
		return unavailable("insert metric", err)
	}
	return nil
}

// InsertChange appends a change event; change ids are unique.
func (s *SQLiteStore) InsertChange(ctx context.Context, c models.ChangeEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changes (change_id, service, ts, description, version, type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ChangeID, c.Service, c.Timestamp.UnixNano(), c.Description, c.Version, c.Type,
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return fmt.Errorf("%w: change %s already recorded", models.ErrInvalidInput, c.ChangeID)
		}
		return unavailable("insert change", err)
	}
	return nil
}

// InsertAlert appends an alert.
func (s *SQLiteStore) InsertAlert(ctx context.Context, a models.Alert) error {
	impact := ""
	if a.Impact != nil {
		data, err := json.Marshal(a.Impact)
		if err != nil {
			return fmt.Errorf("marshal impact: %w", err)
		}
		impact = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, type, change_id, service, impact, severity, confidence, message, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), a.ChangeID, a.Service, impact, string(a.Severity), a.Confidence, a.Message, a.Timestamp.UnixNano(),
	)
	if err != nil {
		return unavailable("insert alert", err)
	}
	return nil
}

// FindMetrics returns the samples matching q, sorted and limited.
func (s *SQLiteStore) FindMetrics(ctx context.Context, q MetricQuery) ([]models.MetricSample, error) {
	var (
		clauses = []string{"service = ?"}
		args    = []any{q.Service}
	)
	if !q.Start.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, q.Start.UnixNano())
	}
	if !q.End.IsZero() {
		clauses = append(clauses, "ts < ?")
		args = append(args, q.End.UnixNano())
	}
	query := "SELECT service, ts, cpu_percent, memory_mb, network_out_mbps, request_count, error_count, latency_p95_ms FROM metrics WHERE " +
		strings.Join(clauses, " AND ")
	if q.Order == OrderDescending {
		query += " ORDER BY ts DESC, id DESC"
	} else {
		query += " ORDER BY ts ASC, id ASC"
	}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	var rows []metricRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable("find metrics", err)
	}
	out := make([]models.MetricSample, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.MetricSample{
			Service:        r.Service,
			Timestamp:      time.Unix(0, r.TS).UTC(),
			CPUPercent:     r.CPUPercent,
			MemoryMB:       r.MemoryMB,
			NetworkOutMbps: r.NetworkOutMbps,
			RequestCount:   r.RequestCount,
			ErrorCount:     r.ErrorCount,
			LatencyP95Ms:   r.LatencyP95Ms,
		})
	}
	return out, nil
}

// FindChange looks a change up by id.
func (s *SQLiteStore) FindChange(ctx context.Context, changeID string) (models.ChangeEvent, error) {
	var row changeRow
	err := s.db.GetContext(ctx, &row, `SELECT change_id, service, ts, description, version, type FROM changes WHERE change_id = ?`, changeID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChangeEvent{}, fmt.Errorf("%w: %s", models.ErrChangeNotFound, changeID)
	}
	if err != nil {
		return models.ChangeEvent{}, unavailable("find change", err)
	}
	return row.toModel(), nil
}

// ListChanges returns the most recent changes first.
func (s *SQLiteStore) ListChanges(ctx context.Context, limit int) ([]models.ChangeEvent, error) {
	query := `SELECT change_id, service, ts, description, version, type FROM changes ORDER BY ts DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []changeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable("list changes", err)
	}
	out := make([]models.ChangeEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ListAlerts returns the most recent alerts first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	query := `SELECT id, type, change_id, service, impact, severity, confidence, message, ts FROM alerts ORDER BY ts DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, unavailable("list alerts", err)
	}
	out := make([]models.Alert, 0, len(rows))
	for _, r := range rows {
		alert := models.Alert{
			ID:         r.ID,
			Type:       models.AlertType(r.Type),
			ChangeID:   r.ChangeID,
			Service:    r.Service,
			Severity:   models.Severity(r.Severity),
			Confidence: r.Confidence,
			Message:    r.Message,
			Timestamp:  time.Unix(0, r.TS).UTC(),
		}
		if r.Impact != "" {
			var impact models.ChangeImpact
			if err := json.Unmarshal([]byte(r.Impact), &impact); err != nil {
				return nil, fmt.Errorf("decode alert %s impact: %w", r.ID, err)
			}
			alert.Impact = &impact
		}
		out = append(out, alert)
	}
	return out, nil
}

// Ping checks database reachability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (r changeRow) toModel() models.ChangeEvent {
	return models.ChangeEvent{
		ChangeID:    r.ChangeID,
		Service:     r.Service,
		Timestamp:   time.Unix(0, r.TS).UTC(),
		Description: r.Description,
		Version:     r.Version,
		Type:        r.Type,
	}
}
