package scraping

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/radar-cache/internal/radar"
)

// Context is the blackboard shared by the steps of one workflow run. A new
// Context is created for every run and dropped when the run ends.
type Context struct {
	RunID      string
	Location   radar.Location
	CapturedAt time.Time

	mu        sync.RWMutex
	values    map[string]any
	succeeded map[string]struct{}
}

// NewContext creates an empty Context for a run against loc.
func NewContext(loc radar.Location, capturedAt time.Time) *Context {
	return &Context{
		RunID:      uuid.NewString(),
		Location:   loc,
		CapturedAt: capturedAt.UTC(),
		values:     make(map[string]any),
		succeeded:  make(map[string]struct{}),
	}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Has reports whether key is set.
func (c *Context) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Succeeded reports whether the named step has succeeded in this run.
func (c *Context) Succeeded(step string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.succeeded[step]
	return ok
}

func (c *Context) markSucceeded(step string, artifacts map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range artifacts {
		c.values[k] = v
	}
	c.succeeded[step] = struct{}{}
}

// Value is a typed Get.
func Value[T any](c *Context, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
