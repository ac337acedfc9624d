package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink persists audit events to a ClickHouse `audit_events` table.
// It opens its connection through the database/sql driver so the gateway
// can reuse ordinary connection-pool settings rather than the native
// protocol's own pool.
type ClickHouseSink struct {
	db *sql.DB
}

// ClickHouseConfig configures the connection to a ClickHouse cluster.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// NewClickHouseSink opens a pooled connection and returns a ready sink. The
// caller owns the returned *sql.DB's lifetime via Close.
func NewClickHouseSink(cfg ClickHouseConfig) (*ClickHouseSink, error) {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: clickhouse ping: %w", err)
	}

	return &ClickHouseSink{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *ClickHouseSink) Close() error {
	return s.db.Close()
}

const insertEventSQL = `
INSERT INTO audit_events (
	timestamp, request_id, event_type, workspace_id, provider, model,
	prompt_tokens, completion_tokens, total_tokens, estimated_cost_usd,
	duration_ms, status, error_message, client_ip
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Persist inserts one row into audit_events.
func (s *ClickHouseSink) Persist(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		event.Timestamp,
		event.RequestID.String(),
		string(event.EventType),
		event.WorkspaceID,
		event.Provider,
		event.Model,
		event.PromptTokens,
		event.CompletionTokens,
		event.TotalTokens,
		event.EstimatedCostUSD,
		event.DurationMs,
		string(event.Status),
		event.ErrorMessage,
		event.ClientIP,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}
