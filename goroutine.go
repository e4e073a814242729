package dedicated

import (
	"context"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// goid returns the current goroutine ID.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))[0]
	id, _ := strconv.ParseInt(idField, 10, 64)
	return id
}

// GoroutineScopes is a ScopeProvider that treats every goroutine as its own
// scope. Workers call End before returning to release the connections they
// resolved.
type GoroutineScopes struct {
	prefix    string
	mu        sync.Mutex
	callbacks map[int64][]func()
	goidCache sync.Map
}

var _ ScopeProvider = (*GoroutineScopes)(nil)

// NewGoroutineScopes creates a provider whose scope IDs are "<prefix><goid>".
//
// State kept for a goroutine is released only by End. A goroutine that
// resolves connections and returns without calling End keeps its callbacks
// and cached ID until the provider is dropped; Pending reports such
// goroutines.
func NewGoroutineScopes(prefix string) *GoroutineScopes {
	if prefix == "" {
		prefix = "g"
	}
	return &GoroutineScopes{
		prefix:    prefix,
		callbacks: make(map[int64][]func()),
	}
}

func (g *GoroutineScopes) scopeID(id int64) string {
	if cached, ok := g.goidCache.Load(id); ok {
		return cached.(string)
	}
	strID := g.prefix + strconv.FormatInt(id, 10)
	g.goidCache.Store(id, strID)
	return strID
}

func (g *GoroutineScopes) CurrentScopeID(context.Context) string {
	return g.scopeID(goid())
}

func (g *GoroutineScopes) SupportsIsolation() bool {
	return true
}

// OnScopeEnd registers fn for the calling goroutine. A goroutine scope is
// active until End, and reopens on the next registration.
func (g *GoroutineScopes) OnScopeEnd(_ context.Context, fn func()) bool {
	id := goid()
	g.mu.Lock()
	g.callbacks[id] = append(g.callbacks[id], fn)
	g.mu.Unlock()
	return true
}

// End runs and forgets the callbacks registered by the calling goroutine.
func (g *GoroutineScopes) End() {
	id := goid()
	g.mu.Lock()
	callbacks := g.callbacks[id]
	delete(g.callbacks, id)
	g.mu.Unlock()
	g.goidCache.Delete(id)

	for _, fn := range callbacks {
		fn()
	}
}

// Pending returns the number of goroutines with registered callbacks.
func (g *GoroutineScopes) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.callbacks)
}
