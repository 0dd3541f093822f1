// Package redis provides a Redis-backed implementation of the trigger store
// contract. Keys live under a configurable prefix so one instance can share
// a database with other tenants.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	trigger "github.com/goliatone/go-trigger"
	goredis "github.com/redis/go-redis/v9"
)

// Store persists actions and executions as JSON values in Redis.
type Store struct {
	client *goredis.Client
	prefix string
}

// Option configures a store.
type Option func(*Store)

// WithPrefix overrides the default `trigger` key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New wraps an existing client.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: "trigger"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open dials a Redis server and wraps it in a store.
func Open(addr, password string, db int, opts ...Option) *Store {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return New(client, opts...)
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) actionKey(id string) string    { return s.prefix + ":action:" + id }
func (s *Store) actionIndexKey() string        { return s.prefix + ":actions" }
func (s *Store) executionKey(id string) string { return s.prefix + ":execution:" + id }
func (s *Store) pendingKey() string            { return s.prefix + ":executions:pending" }

// ActionsByEventType loads every indexed action and filters locally;
// wildcard event type patterns rule out a server-side index per type.
func (s *Store) ActionsByEventType(ctx context.Context, eventType string, activeOnly bool) ([]*trigger.Action, error) {
	ids, err := s.client.SMembers(ctx, s.actionIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list action ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.actionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	var out []*trigger.Action
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			// index entry without a value, e.g. expired mid-scan
			continue
		}
		action, err := decodeAction([]byte(raw))
		if err != nil {
			return nil, err
		}
		if activeOnly && action.Status != trigger.StatusActive {
			continue
		}
		if action.ListensTo(eventType) {
			out = append(out, action)
		}
	}
	return out, nil
}

func (s *Store) SaveAction(ctx context.Context, action *trigger.Action) error {
	payload, err := encodeAction(action)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.actionKey(action.ID), payload, 0)
	pipe.SAdd(ctx, s.actionIndexKey(), action.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save action %s: %w", action.ID, err)
	}
	return nil
}

func (s *Store) UpdateAction(ctx context.Context, action *trigger.Action) error {
	exists, err := s.client.Exists(ctx, s.actionKey(action.ID)).Result()
	if err != nil {
		return fmt.Errorf("check action %s: %w", action.ID, err)
	}
	if exists == 0 {
		return trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": action.ID})
	}
	payload, err := encodeAction(action)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.actionKey(action.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("update action %s: %w", action.ID, err)
	}
	return nil
}

func (s *Store) DeleteAction(ctx context.Context, actionID string, soft bool) error {
	if soft {
		action, err := s.Action(ctx, actionID)
		if err != nil {
			return err
		}
		action.Status = trigger.StatusArchived
		action.UpdatedAt = time.Now().UTC()
		return s.UpdateAction(ctx, action)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.actionKey(actionID))
	pipe.SRem(ctx, s.actionIndexKey(), actionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete action %s: %w", actionID, err)
	}
	return nil
}

func (s *Store) Action(ctx context.Context, actionID string) (*trigger.Action, error) {
	raw, err := s.client.Get(ctx, s.actionKey(actionID)).Bytes()
	if err == goredis.Nil {
		return nil, trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": actionID})
	}
	if err != nil {
		return nil, fmt.Errorf("load action %s: %w", actionID, err)
	}
	return decodeAction(raw)
}

func (s *Store) SaveExecution(ctx context.Context, execution *trigger.Execution) error {
	payload, err := json.Marshal(execution.ToMap())
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", execution.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.executionKey(execution.ID), payload, 0)
	if execution.Status == trigger.ExecutionPending {
		pipe.ZAdd(ctx, s.pendingKey(), goredis.Z{
			Score:  float64(execution.CreatedAt.UnixMilli()),
			Member: execution.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save execution %s: %w", execution.ID, err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, execution *trigger.Execution) error {
	exists, err := s.client.Exists(ctx, s.executionKey(execution.ID)).Result()
	if err != nil {
		return fmt.Errorf("check execution %s: %w", execution.ID, err)
	}
	if exists == 0 {
		return trigger.ErrExecutionNotFound.Clone().
			WithMetadata(map[string]any{"execution_id": execution.ID})
	}
	payload, err := json.Marshal(execution.ToMap())
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", execution.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.executionKey(execution.ID), payload, 0)
	if execution.Status != trigger.ExecutionPending {
		pipe.ZRem(ctx, s.pendingKey(), execution.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update execution %s: %w", execution.ID, err)
	}
	return nil
}

func (s *Store) Execution(ctx context.Context, executionID string) (*trigger.Execution, error) {
	raw, err := s.client.Get(ctx, s.executionKey(executionID)).Bytes()
	if err == goredis.Nil {
		return nil, trigger.ErrExecutionNotFound.Clone().
			WithMetadata(map[string]any{"execution_id": executionID})
	}
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	return decodeExecution(raw)
}

func (s *Store) PendingExecutions(ctx context.Context, limit int) ([]*trigger.Execution, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending executions: %w", err)
	}
	var out []*trigger.Execution
	for _, id := range ids {
		execution, err := s.Execution(ctx, id)
		if err != nil {
			if trigger.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		// the zset can lag a status change briefly
		if execution.Status != trigger.ExecutionPending {
			continue
		}
		out = append(out, execution)
	}
	return out, nil
}

func encodeAction(action *trigger.Action) ([]byte, error) {
	payload, err := json.Marshal(action.ToMap())
	if err != nil {
		return nil, fmt.Errorf("encode action %s: %w", action.ID, err)
	}
	return payload, nil
}

func decodeAction(raw []byte) (*trigger.Action, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	return trigger.ActionFromMap(m)
}

func decodeExecution(raw []byte) (*trigger.Execution, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return trigger.ExecutionFromMap(m), nil
}
