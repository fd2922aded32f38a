package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manyworlds/continuum/pkg/models"
)

// Publisher publishes run events over PostgreSQL NOTIFY.
// Persistent events are stored in run_events then broadcast via NOTIFY in
// the same transaction. Transient events (progress ticks) are broadcast
// via NOTIFY only.
//
// Each public method accepts the domain object and derives a typed
// payload — see payloads.go. Internally, payloads are marshaled to JSON
// and routed to the run channel (and the global channel for terminal
// status) via persistAndNotify or notifyOnly.
type Publisher struct {
	db *sql.DB
}

// NewPublisher creates a run event publisher.
// The db parameter should be the *sql.DB from database.Client.
func NewPublisher(db *sql.DB) *Publisher {
	return &Publisher{db: db}
}

// --- Typed public methods ---

// PublishRunStatus persists a run status event to the run channel and
// broadcasts a transient copy to the global runs channel.
// Both publishes are best-effort: if the persistent one fails, the
// transient one is still attempted. Returns the first error encountered.
func (p *Publisher) PublishRunStatus(ctx context.Context, run *models.Run) error {
	payload := NewRunStatusPayload(run)
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal RunStatusPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, run.ID, EventTypeRunStatus, RunChannel(run.ID), payloadJSON); err != nil {
		slog.Warn("Failed to publish run status to run channel",
			"run_id", run.ID, "status", run.Status, "error", err)
		firstErr = err
	}

	// Global runs channel copy is transient — for run list views.
	if err := p.notifyOnly(ctx, GlobalRunsChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish run status to global channel",
			"run_id", run.ID, "status", run.Status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// PublishRunProgress broadcasts a run.progress transient event (no DB
// persistence). High-frequency tick updates — ephemeral, superseded by the
// next heartbeat.
func (p *Publisher) PublishRunProgress(ctx context.Context, run *models.Run) error {
	payloadJSON, err := json.Marshal(NewRunProgressPayload(run))
	if err != nil {
		return fmt.Errorf("failed to marshal RunProgressPayload: %w", err)
	}
	return p.notifyOnly(ctx, RunChannel(run.ID), payloadJSON)
}

// PublishNodeAggregate persists and broadcasts a node.aggregate event.
// Fired after a completed run triggers an aggregate recompute; persisted
// under the triggering run so catchup replays it alongside the terminal
// status.
func (p *Publisher) PublishNodeAggregate(ctx context.Context, runID uuid.UUID, node *models.Node) error {
	payloadJSON, err := json.Marshal(NewNodeAggregatePayload(runID, node))
	if err != nil {
		return fmt.Errorf("failed to marshal NodeAggregatePayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, runID, EventTypeNodeAggregate, RunChannel(runID), payloadJSON); err != nil {
		slog.Warn("Failed to publish node aggregate to run channel",
			"run_id", runID, "node_id", node.ID, "error", err)
		firstErr = err
	}
	if err := p.notifyOnly(ctx, GlobalRunsChannel, payloadJSON); err != nil {
		slog.Warn("Failed to publish node aggregate to global channel",
			"run_id", runID, "node_id", node.ID, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StoredEvent is one persisted run_events row returned by CatchupEvents.
type StoredEvent struct {
	ID      int64
	Payload map[string]any
}

// CatchupEvents returns persisted events for a run with id > sinceID, in
// id order, capped at limit. Subscribers replay these after (re)connecting
// using the db_event_id from the last NOTIFY they observed.
func (p *Publisher) CatchupEvents(ctx context.Context, runID uuid.UUID, sinceID int64, limit int) ([]StoredEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, payload FROM run_events WHERE run_id = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		runID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("catchup query failed: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("catchup scan failed: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("catchup payload unmarshal failed: %w", err)
		}
		// The stored payload doesn't contain db_event_id (it's only added
		// to the NOTIFY payload at publish time), so add it from the row id.
		payload["db_event_id"] = id
		events = append(events, StoredEvent{ID: id, Payload: payload})
	}
	return events, rows.Err()
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to run_events and
// broadcasts via NOTIFY in a single transaction (pg_notify is
// transactional — held until COMMIT).
func (p *Publisher) persistAndNotify(ctx context.Context, runID uuid.UUID, eventType, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO run_events (run_id, event_type, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		runID, eventType, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	// Build NOTIFY payload with db_event_id for catchup tracking.
	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	// pg_notify within the same transaction — held until COMMIT.
	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting.
func (p *Publisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for
// NOTIFY delivery and applies truncation if the result exceeds
// PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}
	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the
// full JSON payload bytes, extracting only the routing fields a subscriber
// needs to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		RunID     string `json:"run_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"run_id":    routing.RunID,
		"truncated": true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
