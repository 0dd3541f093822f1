package trigger

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// HandlerType identifies the executor family an action dispatches to.
type HandlerType string

const (
	HandlerWebhook  HandlerType = "webhook"
	HandlerEmail    HandlerType = "email"
	HandlerFunction HandlerType = "function"
	HandlerWorkflow HandlerType = "workflow"
	HandlerSMS      HandlerType = "sms"
	HandlerSlack    HandlerType = "slack"
	HandlerTeams    HandlerType = "teams"
	HandlerCustom   HandlerType = "custom"
)

// ExecutionMode controls how the orchestrator dispatches a matched action.
type ExecutionMode string

const (
	ModeSync   ExecutionMode = "sync"
	ModeAsync  ExecutionMode = "async"
	ModeQueued ExecutionMode = "queued"
)

// Priority orders actions within a dispatch batch.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the numeric ordering weight; unknown priorities sort below low.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return -1
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// ActionStatus is the lifecycle state of an action. Only active actions are
// executable.
type ActionStatus string

const (
	StatusActive   ActionStatus = "active"
	StatusPaused   ActionStatus = "paused"
	StatusArchived ActionStatus = "archived"
)

// requiredConfigKeys lists the configuration keys each handler type needs at
// construction and after every update.
var requiredConfigKeys = map[HandlerType][]string{
	HandlerWebhook:  {"url"},
	HandlerEmail:    {"to", "template"},
	HandlerFunction: {"module", "function"},
	HandlerWorkflow: {"steps"},
}

// Action is a rule plus handler configuration that may fire on matching
// events. Matching is pure; dispatch is the orchestrator's job.
type Action struct {
	ID                string
	Name              string
	HandlerType       HandlerType
	Configuration     map[string]any
	EventTypes        []string
	Conditions        []Condition
	ContextFilters    map[string]any
	ExecutionMode     ExecutionMode
	Priority          Priority
	TimeoutSeconds    int
	MaxRetries        int
	RetryDelaySeconds int
	Status            ActionStatus
	Enabled           bool
	TenantID          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActionOption customizes a new action.
type ActionOption func(*Action)

func WithConditions(conditions ...Condition) ActionOption {
	return func(a *Action) {
		a.Conditions = append(a.Conditions, conditions...)
	}
}

func WithContextFilters(filters map[string]any) ActionOption {
	return func(a *Action) {
		a.ContextFilters = filters
	}
}

func WithExecutionMode(mode ExecutionMode) ActionOption {
	return func(a *Action) {
		a.ExecutionMode = mode
	}
}

func WithPriority(p Priority) ActionOption {
	return func(a *Action) {
		a.Priority = p
	}
}

func WithTimeout(seconds int) ActionOption {
	return func(a *Action) {
		a.TimeoutSeconds = seconds
	}
}

func WithRetry(maxRetries, delaySeconds int) ActionOption {
	return func(a *Action) {
		a.MaxRetries = maxRetries
		a.RetryDelaySeconds = delaySeconds
	}
}

func WithTenant(tenantID string) ActionOption {
	return func(a *Action) {
		a.TenantID = tenantID
	}
}

// NewAction constructs an enabled, active action and validates the
// handler-type-required configuration keys.
func NewAction(name string, handlerType HandlerType, configuration map[string]any, eventTypes []string, opts ...ActionOption) (*Action, error) {
	now := time.Now().UTC()
	a := &Action{
		ID:                uuid.NewString(),
		Name:              name,
		HandlerType:       handlerType,
		Configuration:     configuration,
		EventTypes:        append([]string(nil), eventTypes...),
		ExecutionMode:     ModeAsync,
		Priority:          PriorityNormal,
		TimeoutSeconds:    30,
		MaxRetries:        3,
		RetryDelaySeconds: 5,
		Status:            StatusActive,
		Enabled:           true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if err := a.validateConfiguration(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Action) validateConfiguration() error {
	required := requiredConfigKeys[a.HandlerType]
	var missing []string
	for _, key := range required {
		if _, ok := a.Configuration[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return ErrConfigInvalid.Clone().WithMetadata(map[string]any{
			"handler_type": string(a.HandlerType),
			"missing_keys": strings.Join(missing, ","),
			"action":       a.Name,
		})
	}
	return nil
}

// MatchesEvent reports whether this action fires for the given event type
// and payload. Evaluation errors from individual conditions surface so the
// registry can exclude the action without aborting the lookup.
func (a *Action) MatchesEvent(eventType string, data map[string]any) (bool, error) {
	if !a.Enabled || a.Status != StatusActive {
		return false, nil
	}
	// no event types means manual-only
	if len(a.EventTypes) == 0 {
		return false, nil
	}
	if !a.matchesEventType(eventType) {
		return false, nil
	}
	if !a.matchesContextFilters(data) {
		return false, nil
	}
	for _, cond := range a.Conditions {
		ok, err := cond.Evaluate(data)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// ListensTo reports whether the action's event type list covers eventType,
// ignoring the enabled and status gates. Stores use it to assemble candidate
// lists.
func (a *Action) ListensTo(eventType string) bool {
	return a.matchesEventType(eventType)
}

func (a *Action) matchesEventType(eventType string) bool {
	for _, pattern := range a.EventTypes {
		if pattern == eventType || pattern == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		}
	}
	return false
}

func (a *Action) matchesContextFilters(data map[string]any) bool {
	for key, want := range a.ContextFilters {
		got, ok := data[key]
		if !ok {
			return false
		}
		if list, isList := toList(want); isList {
			if !containsValue(list, got) {
				return false
			}
			continue
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

// ApplyUpdate mutates the action from a string-keyed update set, then
// re-validates configuration. A failed validation rejects the whole update.
func (a *Action) ApplyUpdate(updates map[string]any) error {
	restore := *a
	for key, value := range updates {
		if err := a.applyField(key, value); err != nil {
			*a = restore
			return err
		}
	}
	if err := a.validateConfiguration(); err != nil {
		*a = restore
		return err
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (a *Action) applyField(key string, value any) error {
	switch key {
	case "name":
		if s, ok := value.(string); ok {
			a.Name = s
			return nil
		}
	case "configuration":
		if m, ok := value.(map[string]any); ok {
			a.Configuration = m
			return nil
		}
	case "event_types":
		if types, ok := toStringList(value); ok {
			a.EventTypes = types
			return nil
		}
	case "conditions":
		if conds, ok := value.([]Condition); ok {
			a.Conditions = conds
			return nil
		}
		if raw, ok := value.([]map[string]any); ok {
			conds := make([]Condition, 0, len(raw))
			for _, item := range raw {
				c, err := ConditionFromMap(item)
				if err != nil {
					return err
				}
				conds = append(conds, c)
			}
			a.Conditions = conds
			return nil
		}
	case "context_filters":
		if m, ok := value.(map[string]any); ok {
			a.ContextFilters = m
			return nil
		}
	case "execution_mode":
		if s, ok := value.(string); ok {
			a.ExecutionMode = ExecutionMode(s)
			return nil
		}
		if m, ok := value.(ExecutionMode); ok {
			a.ExecutionMode = m
			return nil
		}
	case "priority":
		p, ok := toPriority(value)
		if !ok {
			break
		}
		a.Priority = p
		return nil
	case "timeout_seconds":
		if n, err := toFloat(value); err == nil {
			a.TimeoutSeconds = int(n)
			return nil
		}
	case "max_retries":
		if n, err := toFloat(value); err == nil {
			a.MaxRetries = int(n)
			return nil
		}
	case "retry_delay_seconds":
		if n, err := toFloat(value); err == nil {
			a.RetryDelaySeconds = int(n)
			return nil
		}
	case "status":
		if s, ok := value.(string); ok {
			a.Status = ActionStatus(s)
			return nil
		}
		if s, ok := value.(ActionStatus); ok {
			a.Status = s
			return nil
		}
	case "enabled":
		if b, ok := value.(bool); ok {
			a.Enabled = b
			return nil
		}
	case "tenant_id":
		if s, ok := value.(string); ok {
			a.TenantID = s
			return nil
		}
	default:
		return errors.New("unknown action field", errors.CategoryValidation).
			WithTextCode(ErrCodeConfigInvalid).
			WithMetadata(map[string]any{"field": key})
	}
	return errors.New("invalid value for action field", errors.CategoryValidation).
		WithTextCode(ErrCodeConfigInvalid).
		WithMetadata(map[string]any{"field": key})
}

// Clone returns a deep-enough copy for cache snapshots: slices and maps are
// copied one level down so registry consumers never mutate cached state.
func (a *Action) Clone() *Action {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Configuration = copyMap(a.Configuration)
	cp.ContextFilters = copyMap(a.ContextFilters)
	cp.EventTypes = append([]string(nil), a.EventTypes...)
	cp.Conditions = append([]Condition(nil), a.Conditions...)
	return &cp
}

// ToMap serializes the action for persistence.
func (a *Action) ToMap() map[string]any {
	conditions := make([]map[string]any, 0, len(a.Conditions))
	for _, c := range a.Conditions {
		conditions = append(conditions, c.ToMap())
	}
	return map[string]any{
		"id":                  a.ID,
		"name":                a.Name,
		"handler_type":        string(a.HandlerType),
		"configuration":       copyMap(a.Configuration),
		"event_types":         append([]string(nil), a.EventTypes...),
		"conditions":          conditions,
		"context_filters":     copyMap(a.ContextFilters),
		"execution_mode":      string(a.ExecutionMode),
		"priority":            string(a.Priority),
		"timeout_seconds":     a.TimeoutSeconds,
		"max_retries":         a.MaxRetries,
		"retry_delay_seconds": a.RetryDelaySeconds,
		"status":              string(a.Status),
		"enabled":             a.Enabled,
		"tenant_id":           a.TenantID,
		"created_at":          a.CreatedAt,
		"updated_at":          a.UpdatedAt,
	}
}

// ActionFromMap rebuilds an action from its persisted form, re-running
// configuration validation.
func ActionFromMap(m map[string]any) (*Action, error) {
	a := &Action{}
	if s, ok := m["id"].(string); ok {
		a.ID = s
	}
	if s, ok := m["name"].(string); ok {
		a.Name = s
	}
	if s, ok := m["handler_type"].(string); ok {
		a.HandlerType = HandlerType(s)
	}
	if cfg, ok := m["configuration"].(map[string]any); ok {
		a.Configuration = cfg
	}
	if types, ok := toStringList(m["event_types"]); ok {
		a.EventTypes = types
	}
	if err := decodeConditions(a, m["conditions"]); err != nil {
		return nil, err
	}
	if filters, ok := m["context_filters"].(map[string]any); ok {
		a.ContextFilters = filters
	}
	if s, ok := m["execution_mode"].(string); ok {
		a.ExecutionMode = ExecutionMode(s)
	}
	if p, ok := toPriority(m["priority"]); ok {
		a.Priority = p
	}
	if n, err := toFloat(m["timeout_seconds"]); err == nil {
		a.TimeoutSeconds = int(n)
	}
	if n, err := toFloat(m["max_retries"]); err == nil {
		a.MaxRetries = int(n)
	}
	if n, err := toFloat(m["retry_delay_seconds"]); err == nil {
		a.RetryDelaySeconds = int(n)
	}
	if s, ok := m["status"].(string); ok {
		a.Status = ActionStatus(s)
	}
	if b, ok := m["enabled"].(bool); ok {
		a.Enabled = b
	}
	if s, ok := m["tenant_id"].(string); ok {
		a.TenantID = s
	}
	a.CreatedAt = toTime(m["created_at"])
	a.UpdatedAt = toTime(m["updated_at"])
	if err := a.validateConfiguration(); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeConditions(a *Action, raw any) error {
	switch items := raw.(type) {
	case nil:
		return nil
	case []Condition:
		a.Conditions = append([]Condition(nil), items...)
		return nil
	case []map[string]any:
		for _, item := range items {
			c, err := ConditionFromMap(item)
			if err != nil {
				return err
			}
			a.Conditions = append(a.Conditions, c)
		}
		return nil
	case []any:
		for _, entry := range items {
			item, ok := entry.(map[string]any)
			if !ok {
				return errors.New("condition entry must be a map", errors.CategoryValidation).
					WithTextCode(ErrCodeConfigInvalid)
			}
			c, err := ConditionFromMap(item)
			if err != nil {
				return err
			}
			a.Conditions = append(a.Conditions, c)
		}
		return nil
	}
	return errors.New("conditions must be a list", errors.CategoryValidation).
		WithTextCode(ErrCodeConfigInvalid)
}

func toPriority(v any) (Priority, bool) {
	switch t := v.(type) {
	case Priority:
		if t.Valid() {
			return t, true
		}
	case string:
		p := Priority(t)
		if p.Valid() {
			return p, true
		}
	}
	return "", false
}

func toStringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
