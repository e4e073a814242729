package dedicated

import (
	"context"
	"sync"
)

type scopeContextKey struct{}

// ScopeContext extends the standard context.Context with the identity of an
// isolated execution scope and the callbacks to run when it ends.
type ScopeContext struct {
	context.Context
	id string

	mu        sync.Mutex
	callbacks []func()
	ended     bool
}

// NewScopeContext creates a new ScopeContext with the given id wrapping parent.
func NewScopeContext(parent context.Context, id string) *ScopeContext {
	if parent == nil {
		parent = context.Background()
	}
	return &ScopeContext{
		Context: parent,
		id:      id,
	}
}

// ScopeFromContext returns the innermost ScopeContext carried by ctx.
func ScopeFromContext(ctx context.Context) (*ScopeContext, bool) {
	if ctx == nil {
		return nil, false
	}
	sc, ok := ctx.Value(scopeContextKey{}).(*ScopeContext)
	return sc, ok
}

func (c *ScopeContext) ID() string {
	return c.id
}

func (c *ScopeContext) Parent() context.Context {
	return c.Context
}

func (c *ScopeContext) Value(key interface{}) interface{} {
	if _, ok := key.(scopeContextKey); ok {
		return c
	}
	return c.Context.Value(key)
}

// OnEnd registers fn to run when the scope ends and reports whether the
// scope was still active. Callbacks registered after End run immediately.
func (c *ScopeContext) OnEnd(fn func()) bool {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		fn()
		return false
	}
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
	return true
}

// End runs the registered callbacks in registration order. Only the first
// call has an effect.
func (c *ScopeContext) End() {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	callbacks := c.callbacks
	c.callbacks = nil
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// Ended reports whether End has been called.
func (c *ScopeContext) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// ContextScopes is a ScopeProvider reading the scope from a ScopeContext
// carried by the context passed to each call.
type ContextScopes struct{}

var (
	_ ScopeProvider   = ContextScopes{}
	_ ScopeEndChecker = ContextScopes{}
)

func (ContextScopes) CurrentScopeID(ctx context.Context) string {
	if sc, ok := ScopeFromContext(ctx); ok {
		return sc.ID()
	}
	return ""
}

func (ContextScopes) SupportsIsolation() bool {
	return true
}

func (ContextScopes) OnScopeEnd(ctx context.Context, fn func()) bool {
	if sc, ok := ScopeFromContext(ctx); ok {
		return sc.OnEnd(fn)
	}
	return true
}

func (ContextScopes) ScopeEnded(ctx context.Context) bool {
	sc, ok := ScopeFromContext(ctx)
	return ok && sc.Ended()
}
