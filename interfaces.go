// Package dedicated provides per-channel database connections for services
// that must not share the default connection.
package dedicated

import "context"

// Handle is a live database connection. *sql.DB satisfies it.
type Handle interface {
	Close() error
}

// Connector creates a live handle from a connection configuration.
// Errors returned by Connect reach the caller of Resolver.Resolve unchanged.
type Connector interface {
	Connect(ctx context.Context, cfg ConnectionConfig) (Handle, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, cfg ConnectionConfig) (Handle, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg ConnectionConfig) (Handle, error) {
	return f(ctx, cfg)
}

// ConfigSupplier provides the base ("default") connection configuration
// that channel connections are derived from.
type ConfigSupplier interface {
	BaseConfig() (ConnectionConfig, error)
}

// StaticConfig is a ConfigSupplier that always returns the same configuration.
type StaticConfig ConnectionConfig

func (s StaticConfig) BaseConfig() (ConnectionConfig, error) {
	return ConnectionConfig(s).Clone(), nil
}

// ScopeProvider exposes the isolated execution scope a call runs in.
type ScopeProvider interface {
	// CurrentScopeID returns the identifier of the scope ctx belongs to, or
	// an empty string when ctx carries no scope.
	CurrentScopeID(ctx context.Context) string

	// SupportsIsolation reports whether scopes are isolated from each other.
	SupportsIsolation() bool

	// OnScopeEnd registers fn to run once when the scope of ctx ends.
	// It returns false if that scope has already ended, in which case fn
	// has run before OnScopeEnd returns.
	OnScopeEnd(ctx context.Context, fn func()) bool
}

// ScopeEndChecker is implemented by ScopeProviders that can tell whether the
// scope of ctx has already ended. The Resolver uses it to refuse opening
// connections for finished scopes.
type ScopeEndChecker interface {
	ScopeEnded(ctx context.Context) bool
}

// Lifecycle is implemented by registered services that need to run code
// after their dedicated connections were injected and before they are closed.
type Lifecycle interface {
	// OnBoot is called by Container.Compile once every declared connection
	// has been injected into the service.
	OnBoot(ctx context.Context) error

	// OnShutdown is called by Container.Shutdown before connections close.
	OnShutdown(ctx context.Context) error
}

// ChannelDeclarer marks a service as needing a dedicated connection on the
// returned channel. Registered services implementing it are tagged
// automatically.
type ChannelDeclarer interface {
	DedicatedChannel() string
}

// ConnectionSetter receives connections for declarations that have no
// matching field on the service.
type ConnectionSetter interface {
	SetConnection(channel string, handle Handle)
}
