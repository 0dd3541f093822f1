// Package sqlite provides a SQLite-backed implementation of the trigger
// store contract.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	trigger "github.com/goliatone/go-trigger"
	_ "modernc.org/sqlite"
)

// Store persists actions and executions in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	handler_type TEXT NOT NULL,
	configuration TEXT NOT NULL DEFAULT '{}',
	event_types TEXT NOT NULL DEFAULT '[]',
	conditions TEXT NOT NULL DEFAULT '[]',
	context_filters TEXT NOT NULL DEFAULT '{}',
	execution_mode TEXT NOT NULL,
	priority TEXT NOT NULL,
	timeout_seconds INTEGER NOT NULL,
	max_retries INTEGER NOT NULL,
	retry_delay_seconds INTEGER NOT NULL,
	status TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	action_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data TEXT NOT NULL DEFAULT '{}',
	context TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	retry_of TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL DEFAULT 0,
	completed_at INTEGER NOT NULL DEFAULT 0,
	result TEXT NOT NULL DEFAULT 'null',
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status, created_at);
CREATE INDEX IF NOT EXISTS idx_executions_action ON executions(action_id);
`

// Open opens a SQLite store at path and ensures the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// ActionsByEventType returns actions whose event type list covers
// eventType. Wildcard patterns cannot be pushed into SQL, so rows are
// filtered after the scan; the status filter still prunes in the query.
func (s *Store) ActionsByEventType(ctx context.Context, eventType string, activeOnly bool) ([]*trigger.Action, error) {
	query := `SELECT id, name, handler_type, configuration, event_types, conditions,
		context_filters, execution_mode, priority, timeout_seconds, max_retries,
		retry_delay_seconds, status, enabled, tenant_id, created_at, updated_at
		FROM actions`
	var args []any
	if activeOnly {
		query += ` WHERE status = ?`
		args = append(args, string(trigger.StatusActive))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []*trigger.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		if action.ListensTo(eventType) {
			out = append(out, action)
		}
	}
	return out, rows.Err()
}

func (s *Store) SaveAction(ctx context.Context, action *trigger.Action) error {
	cols, err := actionColumns(action)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO actions
		(id, name, handler_type, configuration, event_types, conditions, context_filters,
		execution_mode, priority, timeout_seconds, max_retries, retry_delay_seconds,
		status, enabled, tenant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cols...)
	if err != nil {
		return fmt.Errorf("insert action %s: %w", action.ID, err)
	}
	return nil
}

func (s *Store) UpdateAction(ctx context.Context, action *trigger.Action) error {
	cols, err := actionColumns(action)
	if err != nil {
		return err
	}
	// shift id to the WHERE position
	args := append(cols[1:], cols[0])
	res, err := s.db.ExecContext(ctx, `UPDATE actions SET
		name = ?, handler_type = ?, configuration = ?, event_types = ?, conditions = ?,
		context_filters = ?, execution_mode = ?, priority = ?, timeout_seconds = ?,
		max_retries = ?, retry_delay_seconds = ?, status = ?, enabled = ?, tenant_id = ?,
		created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update action %s: %w", action.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": action.ID})
	}
	return nil
}

func (s *Store) DeleteAction(ctx context.Context, actionID string, soft bool) error {
	var res sql.Result
	var err error
	if soft {
		res, err = s.db.ExecContext(ctx,
			`UPDATE actions SET status = ?, updated_at = ? WHERE id = ?`,
			string(trigger.StatusArchived), toMillis(time.Now()), actionID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, actionID)
	}
	if err != nil {
		return fmt.Errorf("delete action %s: %w", actionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": actionID})
	}
	return nil
}

func (s *Store) Action(ctx context.Context, actionID string) (*trigger.Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, handler_type, configuration,
		event_types, conditions, context_filters, execution_mode, priority,
		timeout_seconds, max_retries, retry_delay_seconds, status, enabled, tenant_id,
		created_at, updated_at
		FROM actions WHERE id = ?`, actionID)
	action, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": actionID})
	}
	return action, err
}

func (s *Store) SaveExecution(ctx context.Context, execution *trigger.Execution) error {
	cols, err := executionColumns(execution)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO executions
		(id, action_id, event_id, event_type, event_data, context, status, retry_count,
		retry_of, started_at, completed_at, result, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cols...)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", execution.ID, err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, execution *trigger.Execution) error {
	cols, err := executionColumns(execution)
	if err != nil {
		return err
	}
	args := append(cols[1:], cols[0])
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET
		action_id = ?, event_id = ?, event_type = ?, event_data = ?, context = ?,
		status = ?, retry_count = ?, retry_of = ?, started_at = ?, completed_at = ?,
		result = ?, error = ?, created_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", execution.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trigger.ErrExecutionNotFound.Clone().
			WithMetadata(map[string]any{"execution_id": execution.ID})
	}
	return nil
}

func (s *Store) Execution(ctx context.Context, executionID string) (*trigger.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, action_id, event_id, event_type,
		event_data, context, status, retry_count, retry_of, started_at, completed_at,
		result, error, created_at
		FROM executions WHERE id = ?`, executionID)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, trigger.ErrExecutionNotFound.Clone().
			WithMetadata(map[string]any{"execution_id": executionID})
	}
	return execution, err
}

func (s *Store) PendingExecutions(ctx context.Context, limit int) ([]*trigger.Execution, error) {
	query := `SELECT id, action_id, event_id, event_type, event_data, context, status,
		retry_count, retry_of, started_at, completed_at, result, error, created_at
		FROM executions WHERE status = ? ORDER BY created_at, id`
	args := []any{string(trigger.ExecutionPending)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending executions: %w", err)
	}
	defer rows.Close()

	var out []*trigger.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, execution)
	}
	return out, rows.Err()
}

func actionColumns(action *trigger.Action) ([]any, error) {
	configuration, err := json.Marshal(action.Configuration)
	if err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	eventTypes, err := json.Marshal(action.EventTypes)
	if err != nil {
		return nil, fmt.Errorf("encode event types: %w", err)
	}
	conditions := make([]map[string]any, 0, len(action.Conditions))
	for _, c := range action.Conditions {
		conditions = append(conditions, c.ToMap())
	}
	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("encode conditions: %w", err)
	}
	filters, err := json.Marshal(action.ContextFilters)
	if err != nil {
		return nil, fmt.Errorf("encode context filters: %w", err)
	}
	return []any{
		action.ID,
		action.Name,
		string(action.HandlerType),
		string(configuration),
		string(eventTypes),
		string(conditionsJSON),
		string(filters),
		string(action.ExecutionMode),
		string(action.Priority),
		action.TimeoutSeconds,
		action.MaxRetries,
		action.RetryDelaySeconds,
		string(action.Status),
		boolToInt(action.Enabled),
		action.TenantID,
		toMillis(action.CreatedAt),
		toMillis(action.UpdatedAt),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*trigger.Action, error) {
	var (
		a                                                      trigger.Action
		handlerType, mode, priority, status                    string
		configuration, eventTypes, conditionsJSON, filtersJSON string
		enabled                                                int
		createdAt, updatedAt                                   int64
	)
	err := row.Scan(&a.ID, &a.Name, &handlerType, &configuration, &eventTypes,
		&conditionsJSON, &filtersJSON, &mode, &priority, &a.TimeoutSeconds,
		&a.MaxRetries, &a.RetryDelaySeconds, &status, &enabled, &a.TenantID,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.HandlerType = trigger.HandlerType(handlerType)
	a.ExecutionMode = trigger.ExecutionMode(mode)
	a.Priority = trigger.Priority(priority)
	a.Status = trigger.ActionStatus(status)
	a.Enabled = enabled != 0
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)

	if err := json.Unmarshal([]byte(configuration), &a.Configuration); err != nil {
		return nil, fmt.Errorf("decode configuration for %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(eventTypes), &a.EventTypes); err != nil {
		return nil, fmt.Errorf("decode event types for %s: %w", a.ID, err)
	}
	var rawConditions []map[string]any
	if err := json.Unmarshal([]byte(conditionsJSON), &rawConditions); err != nil {
		return nil, fmt.Errorf("decode conditions for %s: %w", a.ID, err)
	}
	for _, raw := range rawConditions {
		cond, err := trigger.ConditionFromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("rebuild condition for %s: %w", a.ID, err)
		}
		a.Conditions = append(a.Conditions, cond)
	}
	if err := json.Unmarshal([]byte(filtersJSON), &a.ContextFilters); err != nil {
		return nil, fmt.Errorf("decode context filters for %s: %w", a.ID, err)
	}
	return &a, nil
}

func executionColumns(execution *trigger.Execution) ([]any, error) {
	eventData, err := json.Marshal(execution.EventData)
	if err != nil {
		return nil, fmt.Errorf("encode event data: %w", err)
	}
	execCtx, err := json.Marshal(execution.Context)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	result, err := json.Marshal(execution.Result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return []any{
		execution.ID,
		execution.ActionID,
		execution.EventID,
		execution.EventType,
		string(eventData),
		string(execCtx),
		string(execution.Status),
		execution.RetryCount,
		execution.RetryOf,
		toMillis(execution.StartedAt),
		toMillis(execution.CompletedAt),
		string(result),
		execution.Error,
		toMillis(execution.CreatedAt),
	}, nil
}

func scanExecution(row rowScanner) (*trigger.Execution, error) {
	var (
		e                                 trigger.Execution
		status                            string
		eventData, execCtx, result        string
		startedAt, completedAt, createdAt int64
	)
	err := row.Scan(&e.ID, &e.ActionID, &e.EventID, &e.EventType, &eventData,
		&execCtx, &status, &e.RetryCount, &e.RetryOf, &startedAt, &completedAt,
		&result, &e.Error, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Status = trigger.ExecutionStatus(status)
	e.StartedAt = fromMillis(startedAt)
	e.CompletedAt = fromMillis(completedAt)
	e.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(eventData), &e.EventData); err != nil {
		return nil, fmt.Errorf("decode event data for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(execCtx), &e.Context); err != nil {
		return nil, fmt.Errorf("decode context for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(result), &e.Result); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", e.ID, err)
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
