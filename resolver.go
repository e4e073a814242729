package dedicated

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/centraunit/dedicated/telemetry"
)

// ClosePolicy controls how errors returned by Handle.Close are reported.
type ClosePolicy int

const (
	// CloseSilently logs close errors and reports success.
	CloseSilently ClosePolicy = iota
	// ClosePropagateFirst closes every targeted handle and returns the
	// first close error.
	ClosePropagateFirst
)

func (p ClosePolicy) String() string {
	switch p {
	case ClosePropagateFirst:
		return "propagate"
	default:
		return "silent"
	}
}

type registryEntry struct {
	channel string
	handle  Handle
}

// Resolver creates, caches and releases dedicated connections per channel.
//
// Connections are keyed by channel, or by "<scopeID>:<channel>" when the
// configured ScopeProvider isolates scopes. At most one live handle exists
// per key. A Resolver is safe for concurrent use.
type Resolver struct {
	base      ConfigSupplier
	connector Connector
	scopes    ScopeProvider
	env       Environment
	logger    zerolog.Logger
	telemetry telemetry.Collector
	policy    ClosePolicy

	mu      sync.Mutex
	handles map[string]registryEntry
	group   singleflight.Group
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithScopes enables scope isolation through provider.
func WithScopes(provider ScopeProvider) Option {
	return func(r *Resolver) {
		r.scopes = provider
	}
}

// WithEnvironment sets where channel overrides are looked up.
// The process environment is used by default.
func WithEnvironment(env Environment) Option {
	return func(r *Resolver) {
		if env != nil {
			r.env = env
		}
	}
}

// WithLogger sets the logger used for connection lifecycle events.
// Logging is disabled by default.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithTelemetry sets the collector recording opened, closed and failed
// connections. A nil collector keeps the no-op default.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(r *Resolver) {
		if collector != nil {
			r.telemetry = collector
		}
	}
}

// WithClosePolicy sets how close errors are reported. CloseSilently is the
// default.
func WithClosePolicy(policy ClosePolicy) Option {
	return func(r *Resolver) {
		r.policy = policy
	}
}

// NewResolver creates a Resolver deriving channel configurations from base
// and opening them through connector.
// Returns ConfigurationMissingError if base or connector is nil.
func NewResolver(base ConfigSupplier, connector Connector, opts ...Option) (*Resolver, error) {
	if base == nil {
		return nil, &ConfigurationMissingError{What: "base connection configuration supplier"}
	}
	if connector == nil {
		return nil, &ConfigurationMissingError{What: "connection connector"}
	}
	r := &Resolver{
		base:      base,
		connector: connector,
		env:       OSEnvironment{},
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
		policy:    CloseSilently,
		handles:   make(map[string]registryEntry, 8),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Resolver) scopeID(ctx context.Context) string {
	if r.scopes == nil || !r.scopes.SupportsIsolation() {
		return ""
	}
	return r.scopes.CurrentScopeID(ctx)
}

func (r *Resolver) scopeEnded(ctx context.Context, scopeID string) bool {
	if scopeID == "" {
		return false
	}
	checker, ok := r.scopes.(ScopeEndChecker)
	return ok && checker.ScopeEnded(ctx)
}

func makeScopeKey(scopeID, channel string) string {
	if scopeID == "" {
		return channel
	}
	return scopeID + ":" + channel
}

// ScopeKey returns the registry key channel resolves to under ctx.
func (r *Resolver) ScopeKey(ctx context.Context, channel string) string {
	return makeScopeKey(r.scopeID(ctx), channel)
}

func (r *Resolver) lookup(key string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.handles[key]
	return e.handle, ok
}

// Resolve returns the dedicated connection for channel in the scope of ctx,
// creating it on first use. Repeated calls in the same scope return the
// same handle until it is closed. Errors from the connector are returned
// unchanged and nothing is cached. Returns ScopeEndedError when the scope of
// ctx has already ended.
func (r *Resolver) Resolve(ctx context.Context, channel string) (Handle, error) {
	scopeID := r.scopeID(ctx)
	key := makeScopeKey(scopeID, channel)

	if h, ok := r.lookup(key); ok {
		return h, nil
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if h, ok := r.lookup(key); ok {
			return h, nil
		}
		if r.scopeEnded(ctx, scopeID) {
			return nil, &ScopeEndedError{ScopeID: scopeID, Channel: channel}
		}
		h, err := r.create(ctx, key, channel)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.handles[key] = registryEntry{channel: channel, handle: h}
		live := len(r.handles)
		r.mu.Unlock()

		r.telemetry.IncOpened(channel)
		r.telemetry.SetLive(live)

		if scopeID != "" {
			active := r.scopes.OnScopeEnd(ctx, func() {
				if err := r.CloseConnection(key); err != nil {
					r.logger.Warn().Err(err).Str("key", key).Msg("scope teardown failed to close dedicated connection")
				}
			})
			// The scope ended while connecting; the teardown already closed h.
			if !active {
				return nil, &ScopeEndedError{ScopeID: scopeID, Channel: channel}
			}
		}
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	h, _ := v.(Handle)
	return h, nil
}

func (r *Resolver) create(ctx context.Context, key, channel string) (Handle, error) {
	base, err := r.base.BaseConfig()
	if err != nil {
		return nil, &ConfigurationMissingError{What: "base connection configuration", Err: err}
	}
	cfg, err := DeriveConfig(channel, base, r.env)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("channel", channel).
		Str("key", key).
		Str("driver", cfg.Driver).
		Str("dbname", cfg.DBName).
		Msg("creating dedicated connection")

	h, err := r.connector.Connect(ctx, cfg)
	if err != nil {
		r.telemetry.IncFailed(channel)
		r.logger.Error().Err(err).Str("channel", channel).Msg("failed to create dedicated connection")
		return nil, err
	}
	return h, nil
}

// HasLiveConnection reports whether a handle is registered under key.
func (r *Resolver) HasLiveConnection(key string) bool {
	_, ok := r.lookup(key)
	return ok
}

// Connections returns a snapshot of the registry keyed by scope key.
func (r *Resolver) Connections() map[string]Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Handle, len(r.handles))
	for k, e := range r.handles {
		out[k] = e.handle
	}
	return out
}

// CloseConnection closes and evicts the handle under key. Closing an absent
// key is a no-op.
func (r *Resolver) CloseConnection(key string) error {
	return r.evict(func(k string) bool { return k == key })
}

// CloseAll closes and evicts every registered handle.
func (r *Resolver) CloseAll() error {
	return r.evict(func(string) bool { return true })
}

// CloseScope closes and evicts the handles resolved under scopeID.
// An empty scopeID closes everything, like CloseAll.
func (r *Resolver) CloseScope(scopeID string) error {
	if scopeID == "" {
		return r.CloseAll()
	}
	prefix := scopeID + ":"
	return r.evict(func(k string) bool { return strings.HasPrefix(k, prefix) })
}

// CloseCurrentScope closes the handles of the scope ctx runs in, or every
// handle when scopes are not isolated.
func (r *Resolver) CloseCurrentScope(ctx context.Context) error {
	return r.CloseScope(r.scopeID(ctx))
}

func (r *Resolver) evict(match func(key string) bool) error {
	r.mu.Lock()
	var keys []string
	for k := range r.handles {
		if match(k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	entries := make(map[string]registryEntry, len(keys))
	for _, k := range keys {
		entries[k] = r.handles[k]
		delete(r.handles, k)
	}
	live := len(r.handles)
	r.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}
	r.telemetry.SetLive(live)

	var first error
	for _, k := range keys {
		e := entries[k]
		if e.handle == nil {
			continue
		}
		err := e.handle.Close()
		r.telemetry.IncClosed(e.channel)
		if err == nil {
			r.logger.Debug().Str("key", k).Msg("closed dedicated connection")
			continue
		}
		closeErr := &CloseError{Key: k, Err: err}
		if r.policy == CloseSilently {
			r.logger.Warn().Err(err).Str("key", k).Msg("ignoring error while closing dedicated connection")
			continue
		}
		if first == nil {
			first = closeErr
		}
	}
	return first
}
