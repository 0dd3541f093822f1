// Package registry caches candidate actions per event type and answers the
// "which actions fire for this event" question with mutation-driven cache
// invalidation.
package registry

import (
	"context"
	"sort"
	"time"

	"github.com/goliatone/go-errors"
	trigger "github.com/goliatone/go-trigger"
)

// Registry is the cache + lookup facade over the action store.
type Registry struct {
	store  trigger.Store
	cache  *eventCache
	logger trigger.Logger
	nowFn  func() time.Time
}

// Option configures a registry.
type Option func(*Registry)

// WithCacheTTL overrides the per-entry freshness window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.cache.ttl = ttl
	}
}

// WithCacheCapacity overrides the cached event type bound.
func WithCacheCapacity(capacity int) Option {
	return func(r *Registry) {
		if capacity > 0 {
			r.cache.capacity = capacity
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger trigger.Logger) Option {
	return func(r *Registry) {
		r.logger = trigger.NormalizeLogger(logger)
	}
}

// New builds a registry over the given store.
func New(store trigger.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		cache:  newEventCache(DefaultCacheTTL, DefaultCacheCapacity),
		logger: trigger.NewFmtLogger(nil),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register persists a new action and invalidates cache entries for every
// event type it names.
func (r *Registry) Register(ctx context.Context, action *trigger.Action) error {
	if action == nil {
		return errors.New("action is required", errors.CategoryValidation).
			WithTextCode(trigger.ErrCodeConfigInvalid)
	}
	if err := r.store.SaveAction(ctx, action); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "save action").
			WithMetadata(map[string]any{"action_id": action.ID})
	}
	r.cache.invalidate(action.EventTypes)
	return nil
}

// Unregister soft-deletes an action and invalidates its event types.
func (r *Registry) Unregister(ctx context.Context, actionID string) error {
	action, err := r.store.Action(ctx, actionID)
	if err != nil {
		return err
	}
	if err := r.store.DeleteAction(ctx, actionID, true); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "delete action").
			WithMetadata(map[string]any{"action_id": actionID})
	}
	r.cache.invalidate(action.EventTypes)
	return nil
}

// Update applies a field update set to a stored action. Cache entries for
// both the pre-update and post-update event types are invalidated; a cached
// hit under a type the action dropped can still outlive this call until its
// TTL expires (known staleness window).
func (r *Registry) Update(ctx context.Context, actionID string, updates map[string]any) (*trigger.Action, error) {
	action, err := r.store.Action(ctx, actionID)
	if err != nil {
		return nil, err
	}
	before := append([]string(nil), action.EventTypes...)
	if err := action.ApplyUpdate(updates); err != nil {
		return nil, err
	}
	if err := r.store.UpdateAction(ctx, action); err != nil {
		return nil, errors.Wrap(err, errors.CategoryExternal, "update action").
			WithMetadata(map[string]any{"action_id": actionID})
	}
	r.cache.invalidate(before)
	r.cache.invalidate(action.EventTypes)
	return action, nil
}

// ActionsForEvent returns the actions matching the event, sorted by priority
// descending with store order preserved among equals. Candidates come from
// the cache when fresh, otherwise from the store. A candidate whose match
// evaluation fails is logged and excluded; one bad rule never aborts the
// lookup.
func (r *Registry) ActionsForEvent(ctx context.Context, eventType string, data map[string]any, execCtx map[string]any) ([]*trigger.Action, error) {
	now := r.nowFn()
	candidates, hit := r.cache.get(eventType, now)
	if !hit {
		fetched, err := r.store.ActionsByEventType(ctx, eventType, true)
		if err != nil {
			return nil, errors.Wrap(err, errors.CategoryExternal, "fetch actions for event type").
				WithMetadata(map[string]any{"event_type": eventType})
		}
		candidates = make([]*trigger.Action, 0, len(fetched))
		for _, a := range fetched {
			candidates = append(candidates, a.Clone())
		}
		r.cache.set(eventType, candidates, now)
	}

	tenant, _ := execCtx["tenant_id"].(string)

	matched := make([]*trigger.Action, 0, len(candidates))
	for _, action := range candidates {
		if tenant != "" && action.TenantID != "" && action.TenantID != tenant {
			continue
		}
		ok, err := action.MatchesEvent(eventType, data)
		if err != nil {
			r.logger.Error("excluding action after match evaluation error: %v", err)
			continue
		}
		if ok {
			// clone so callers never mutate cached state
			matched = append(matched, action.Clone())
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority.Rank() > matched[j].Priority.Rank()
	})
	return matched, nil
}

// CacheSize reports how many event types are currently cached.
func (r *Registry) CacheSize() int {
	return r.cache.len()
}
