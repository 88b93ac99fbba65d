// Package store provides SQLite persistence for user settings and API
// cost tracking. Records are append-only for costs and keyed upserts
// for settings; the schema is created automatically on first open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver for database/sql
)

// Store wraps the SQLite database. All public methods are safe for
// concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// Open creates a store at the given database path, migrating the
// schema if needed.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS user_settings (
		user_id       TEXT PRIMARY KEY,
		settings_json TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS api_costs (
		id            TEXT PRIMARY KEY,
		timestamp     TEXT NOT NULL,
		model         TEXT NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd      REAL NOT NULL,
		tools         TEXT,
		session_id    TEXT,
		domain        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_costs_timestamp ON api_costs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_costs_session ON api_costs(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Settings returns the stored settings for a user, or nil when none
// have been saved.
func (s *Store) Settings(ctx context.Context, userID string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT settings_json FROM user_settings WHERE user_id = ?`, userID)

	var raw string
	switch err := row.Scan(&raw); {
	case err == sql.ErrNoRows:
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("query settings: %w", err)
	}

	var settings map[string]any
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// SaveSettings upserts a user's settings.
func (s *Store) SaveSettings(ctx context.Context, userID string, settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_settings (user_id, settings_json, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			settings_json = excluded.settings_json,
			updated_at    = excluded.updated_at`,
		userID, string(raw), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// CostRecord is one model call's token usage and cost.
type CostRecord struct {
	ID           string
	Timestamp    time.Time
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Tools        string // comma-joined capability names, empty if none
	SessionID    string
	Domain       string
}

// RecordCost persists a cost record. An empty ID gets a UUIDv7; a zero
// timestamp gets the current time.
func (s *Store) RecordCost(ctx context.Context, rec CostRecord) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate cost record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_costs
			(id, timestamp, model, input_tokens, output_tokens, cost_usd, tools, session_id, domain)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.CostUSD,
		rec.Tools,
		rec.SessionID,
		rec.Domain,
	)
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}
	return nil
}

// CostSummary holds aggregated cost totals.
type CostSummary struct {
	TotalRequests     int     `json:"total_requests"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost"`
}

// CostsSince returns aggregated totals for records at or after since.
func (s *Store) CostsSince(ctx context.Context, since time.Time) (*CostSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM api_costs
		 WHERE timestamp >= ?`,
		since.UTC().Format(time.RFC3339))

	var sum CostSummary
	if err := row.Scan(&sum.TotalRequests, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("query cost summary: %w", err)
	}
	return &sum, nil
}

// DailyCost is one day's aggregated spend.
type DailyCost struct {
	Day      string  `json:"day"` // YYYY-MM-DD
	Requests int     `json:"requests"`
	CostUSD  float64 `json:"cost"`
}

// CostsByDay returns per-day totals for records at or after since,
// most recent day first.
func (s *Store) CostsByDay(ctx context.Context, since time.Time) ([]DailyCost, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT substr(timestamp, 1, 10), COUNT(*), COALESCE(SUM(cost_usd), 0)
		 FROM api_costs
		 WHERE timestamp >= ?
		 GROUP BY substr(timestamp, 1, 10)
		 ORDER BY substr(timestamp, 1, 10) DESC`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query costs by day: %w", err)
	}
	defer rows.Close()

	var out []DailyCost
	for rows.Next() {
		var d DailyCost
		if err := rows.Scan(&d.Day, &d.Requests, &d.CostUSD); err != nil {
			return nil, fmt.Errorf("scan costs by day: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Model pricing per million tokens (USD).
var modelPricing = map[string][2]float64{
	// [input_per_1M, output_per_1M]
	"claude-opus-4-20250514":     {15.0, 75.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-3-5-sonnet-20241022": {3.0, 15.0},
	"claude-3-5-haiku-20241022":  {0.8, 4.0},
}

// ComputeCost calculates the USD cost for a model's token usage.
// Unknown models default to Sonnet pricing.
func ComputeCost(model string, inputTokens, outputTokens int) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		pricing = [2]float64{3.0, 15.0}
	}
	cost := float64(inputTokens) / 1_000_000.0 * pricing[0]
	cost += float64(outputTokens) / 1_000_000.0 * pricing[1]
	return cost
}
