package registry

import (
	"context"
	"sort"
	"sync"

	trigger "github.com/goliatone/go-trigger"
)

// MemoryStore keeps actions and executions in memory. It backs tests and
// embedded single-process deployments; the sqlite and redis stores cover
// everything durable.
type MemoryStore struct {
	mu         sync.RWMutex
	actions    map[string]*trigger.Action
	executions map[string]*trigger.Execution
	order      []string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions:    make(map[string]*trigger.Action),
		executions: make(map[string]*trigger.Execution),
	}
}

func (s *MemoryStore) ActionsByEventType(_ context.Context, eventType string, activeOnly bool) ([]*trigger.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*trigger.Action
	for _, id := range s.order {
		action, ok := s.actions[id]
		if !ok {
			continue
		}
		if activeOnly && action.Status != trigger.StatusActive {
			continue
		}
		if action.ListensTo(eventType) {
			out = append(out, action.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveAction(_ context.Context, action *trigger.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; !exists {
		s.order = append(s.order, action.ID)
	}
	s.actions[action.ID] = action.Clone()
	return nil
}

func (s *MemoryStore) UpdateAction(_ context.Context, action *trigger.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; !exists {
		return trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": action.ID})
	}
	s.actions[action.ID] = action.Clone()
	return nil
}

func (s *MemoryStore) DeleteAction(_ context.Context, actionID string, soft bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, exists := s.actions[actionID]
	if !exists {
		return trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": actionID})
	}
	if soft {
		action.Status = trigger.StatusArchived
		return nil
	}
	delete(s.actions, actionID)
	for i, id := range s.order {
		if id == actionID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) Action(_ context.Context, actionID string) (*trigger.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[actionID]
	if !ok {
		return nil, trigger.ErrActionNotFound.Clone().
			WithMetadata(map[string]any{"action_id": actionID})
	}
	return action.Clone(), nil
}

func (s *MemoryStore) SaveExecution(_ context.Context, execution *trigger.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ID] = snapshotExecution(execution)
	return nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, execution *trigger.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[execution.ID]; !exists {
		return trigger.ErrExecutionNotFound.Clone().
			WithMetadata(map[string]any{"execution_id": execution.ID})
	}
	s.executions[execution.ID] = snapshotExecution(execution)
	return nil
}

func (s *MemoryStore) Execution(_ context.Context, executionID string) (*trigger.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execution, ok := s.executions[executionID]
	if !ok {
		return nil, trigger.ErrExecutionNotFound.Clone().
			WithMetadata(map[string]any{"execution_id": executionID})
	}
	return snapshotExecution(execution), nil
}

func (s *MemoryStore) PendingExecutions(_ context.Context, limit int) ([]*trigger.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*trigger.Execution
	for _, execution := range s.executions {
		if execution.Status == trigger.ExecutionPending {
			out = append(out, snapshotExecution(execution))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func snapshotExecution(e *trigger.Execution) *trigger.Execution {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}
