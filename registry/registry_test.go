package registry

import (
	"context"
	"testing"
	"time"

	trigger "github.com/goliatone/go-trigger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps MemoryStore to observe cache behavior.
type countingStore struct {
	*MemoryStore
	fetches int
}

func (s *countingStore) ActionsByEventType(ctx context.Context, eventType string, activeOnly bool) ([]*trigger.Action, error) {
	s.fetches++
	return s.MemoryStore.ActionsByEventType(ctx, eventType, activeOnly)
}

func mustAction(t *testing.T, name string, eventTypes []string, opts ...trigger.ActionOption) *trigger.Action {
	t.Helper()
	a, err := trigger.NewAction(name, trigger.HandlerCustom, nil, eventTypes, opts...)
	require.NoError(t, err)
	return a
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)

	a := mustAction(t, "notify", []string{"user.created"})
	require.NoError(t, reg.Register(ctx, a))

	matched, err := reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, a.ID, matched[0].ID)
}

func TestRegistryServesFromCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)

	require.NoError(t, reg.Register(ctx, mustAction(t, "notify", []string{"user.created"})))

	_, err := reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	_, err = reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, store.fetches, "second lookup should be a cache hit")
	assert.Equal(t, 1, reg.CacheSize())
}

func TestRegistryRegisterInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)

	require.NoError(t, reg.Register(ctx, mustAction(t, "first", []string{"user.created"})))
	matched, err := reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 1)

	// the new action must be visible on the very next lookup
	require.NoError(t, reg.Register(ctx, mustAction(t, "second", []string{"user.created"})))
	matched, err = reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	assert.Len(t, matched, 2)
}

func TestRegistryUnregisterInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)

	a := mustAction(t, "notify", []string{"user.created"})
	require.NoError(t, reg.Register(ctx, a))

	matched, err := reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 1)

	require.NoError(t, reg.Unregister(ctx, a.ID))
	matched, err = reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, matched, "soft-deleted action must stop matching immediately")

	// the record survives as archived
	stored, err := store.Action(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, trigger.StatusArchived, stored.Status)
}

func TestRegistryUpdateInvalidatesOldAndNewTypes(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)

	a := mustAction(t, "notify", []string{"user.created"})
	require.NoError(t, reg.Register(ctx, a))

	_, err := reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	_, err = reg.ActionsForEvent(ctx, "order.placed", nil, nil)
	require.NoError(t, err)

	updated, err := reg.Update(ctx, a.ID, map[string]any{"event_types": []string{"order.placed"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"order.placed"}, updated.EventTypes)

	matched, err := reg.ActionsForEvent(ctx, "order.placed", nil, nil)
	require.NoError(t, err)
	assert.Len(t, matched, 1, "new event type must serve the updated action")

	matched, err = reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, matched, "old event type must stop serving the action")
}

func TestRegistryUpdateRejectionLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store)

	a, err := trigger.NewAction("hook", trigger.HandlerWebhook,
		map[string]any{"url": "https://example.com"}, []string{"user.created"})
	require.NoError(t, err)
	require.NoError(t, reg.Register(ctx, a))

	_, err = reg.Update(ctx, a.ID, map[string]any{"configuration": map[string]any{}})
	require.Error(t, err)

	stored, err := store.Action(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", stored.Configuration["url"])
}

func TestRegistryPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore())

	names := map[trigger.Priority]string{
		trigger.PriorityLow:      "low",
		trigger.PriorityCritical: "critical",
		trigger.PriorityNormal:   "normal",
		trigger.PriorityHigh:     "high",
	}
	for _, p := range []trigger.Priority{trigger.PriorityLow, trigger.PriorityCritical, trigger.PriorityNormal, trigger.PriorityHigh} {
		require.NoError(t, reg.Register(ctx, mustAction(t, names[p], []string{"x"}, trigger.WithPriority(p))))
	}

	matched, err := reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 4)

	got := make([]string, 0, 4)
	for _, a := range matched {
		got = append(got, a.Name)
	}
	assert.Equal(t, []string{"critical", "high", "normal", "low"}, got)
}

func TestRegistryStableOrderAmongEqualPriority(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore())

	require.NoError(t, reg.Register(ctx, mustAction(t, "first", []string{"x"})))
	require.NoError(t, reg.Register(ctx, mustAction(t, "second", []string{"x"})))

	matched, err := reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 2)
	assert.Equal(t, "first", matched[0].Name)
	assert.Equal(t, "second", matched[1].Name)
}

func TestRegistryExcludesActionOnMatchError(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore())

	bad := mustAction(t, "bad", []string{"x"},
		trigger.WithConditions(trigger.MustCondition("field", trigger.OpIn, "not-a-list")))
	good := mustAction(t, "good", []string{"x"})
	require.NoError(t, reg.Register(ctx, bad))
	require.NoError(t, reg.Register(ctx, good))

	matched, err := reg.ActionsForEvent(ctx, "x", map[string]any{"field": "v"}, nil)
	require.NoError(t, err, "one bad rule must not abort the lookup")
	require.Len(t, matched, 1)
	assert.Equal(t, "good", matched[0].Name)
}

func TestRegistryTenantScoping(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore())

	require.NoError(t, reg.Register(ctx, mustAction(t, "acme", []string{"x"}, trigger.WithTenant("acme"))))
	require.NoError(t, reg.Register(ctx, mustAction(t, "globex", []string{"x"}, trigger.WithTenant("globex"))))
	require.NoError(t, reg.Register(ctx, mustAction(t, "shared", []string{"x"})))

	matched, err := reg.ActionsForEvent(ctx, "x", nil, map[string]any{"tenant_id": "acme"})
	require.NoError(t, err)
	require.Len(t, matched, 2)
	names := []string{matched[0].Name, matched[1].Name}
	assert.ElementsMatch(t, []string{"acme", "shared"}, names)

	// no tenant in context sees everything
	matched, err = reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	assert.Len(t, matched, 3)
}

func TestRegistryTTLRefetch(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{MemoryStore: NewMemoryStore()}
	reg := New(store, WithCacheTTL(10*time.Second))

	now := time.Now()
	reg.nowFn = func() time.Time { return now }

	require.NoError(t, reg.Register(ctx, mustAction(t, "notify", []string{"x"})))

	_, err := reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	_, err = reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, store.fetches)

	now = now.Add(11 * time.Second)
	_, err = reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.fetches, "expired entry must refetch from the store")
}

func TestRegistryCachedResultsAreIsolated(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore())

	require.NoError(t, reg.Register(ctx, mustAction(t, "notify", []string{"x"})))

	matched, err := reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	matched[0].Name = "mutated"
	matched[0].Enabled = false
	matched[0].EventTypes[0] = "changed"

	// a second lookup hits the cache and must be unaffected
	matched, err = reg.ActionsForEvent(ctx, "x", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 1, "caller mutation must not disable the cached action")
	assert.Equal(t, "notify", matched[0].Name)
}

func TestRegistryWildcardActionServesConcreteEvents(t *testing.T) {
	ctx := context.Background()
	reg := New(NewMemoryStore())

	require.NoError(t, reg.Register(ctx, mustAction(t, "audit", []string{"user.*"})))

	matched, err := reg.ActionsForEvent(ctx, "user.created", nil, nil)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "audit", matched[0].Name)

	matched, err = reg.ActionsForEvent(ctx, "order.placed", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, matched)
}
