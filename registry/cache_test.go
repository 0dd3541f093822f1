package registry

import (
	"testing"
	"time"

	trigger "github.com/goliatone/go-trigger"
)

func cachedAction(t *testing.T, name string, eventTypes ...string) *trigger.Action {
	t.Helper()
	a, err := trigger.NewAction(name, trigger.HandlerCustom, nil, eventTypes)
	if err != nil {
		t.Fatalf("new action: %v", err)
	}
	return a
}

func TestEventCacheTTL(t *testing.T) {
	now := time.Now()
	c := newEventCache(10*time.Second, 100)
	c.set("user.created", []*trigger.Action{cachedAction(t, "a", "user.created")}, now)

	if _, hit := c.get("user.created", now.Add(5*time.Second)); !hit {
		t.Fatalf("expected hit inside TTL")
	}
	if _, hit := c.get("user.created", now.Add(11*time.Second)); hit {
		t.Fatalf("expected miss past TTL")
	}
	// the stale entry is dropped, not just skipped
	if c.len() != 0 {
		t.Fatalf("stale entry should be evicted, len=%d", c.len())
	}
}

func TestEventCacheCapacityEvictsOldest(t *testing.T) {
	now := time.Now()
	c := newEventCache(time.Minute, 2)
	c.set("a", nil, now)
	c.set("b", nil, now.Add(time.Second))
	c.set("c", nil, now.Add(2*time.Second))

	if c.len() != 2 {
		t.Fatalf("len = %d, want 2", c.len())
	}
	if _, hit := c.get("a", now.Add(3*time.Second)); hit {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, hit := c.get("c", now.Add(3*time.Second)); !hit {
		t.Fatalf("newest entry should survive eviction")
	}
}

func TestEventCacheInvalidate(t *testing.T) {
	now := time.Now()
	c := newEventCache(time.Minute, 100)
	c.set("user.created", nil, now)
	c.set("user.deleted", nil, now)
	c.set("order.placed", nil, now)

	c.invalidate([]string{"user.created"})
	if _, hit := c.get("user.created", now); hit {
		t.Fatalf("literal invalidation failed")
	}
	if _, hit := c.get("user.deleted", now); !hit {
		t.Fatalf("literal invalidation dropped an unrelated entry")
	}

	c.set("user.created", nil, now)
	c.invalidate([]string{"user.*"})
	if _, hit := c.get("user.created", now); hit {
		t.Fatalf("prefix invalidation missed user.created")
	}
	if _, hit := c.get("user.deleted", now); hit {
		t.Fatalf("prefix invalidation missed user.deleted")
	}
	if _, hit := c.get("order.placed", now); !hit {
		t.Fatalf("prefix invalidation dropped an unrelated entry")
	}

	c.invalidate([]string{"*"})
	if c.len() != 0 {
		t.Fatalf("star invalidation should clear everything, len=%d", c.len())
	}
}
