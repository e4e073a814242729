package dedicated

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// ConnectionID returns the id under which the connection of channel is
// defined in a Container.
func ConnectionID(channel string) string {
	return fmt.Sprintf("dedicated.%s_connection", channel)
}

// CreateConnection defines the connection of channel without a service
// declaring it and returns its id. Defining an existing channel returns the
// existing id. Nothing is opened until Connection is called.
// Returns ConfigurationMissingError when the container has no resolver.
func (c *Container) CreateConnection(channel string) (string, error) {
	id := ConnectionID(channel)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.connections[id]; ok {
		return id, nil
	}
	if c.resolver == nil {
		return "", &ConfigurationMissingError{
			What: "dedicated connection resolver; create the container with NewContainer(resolver) first",
		}
	}
	c.connections[id] = channel
	return id, nil
}

// HasConnection reports whether the connection of channel is defined.
func (c *Container) HasConnection(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.connections[ConnectionID(channel)]
	return ok
}

// ConnectionIDs returns the ids of all defined connections, sorted.
func (c *Container) ConnectionIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.connections))
}

// Connection resolves the defined connection of channel in the scope of ctx.
// Returns UndefinedConnectionError when channel was never defined.
func (c *Container) Connection(ctx context.Context, channel string) (Handle, error) {
	if !c.HasConnection(channel) {
		return nil, &UndefinedConnectionError{Channel: channel}
	}
	return c.resolver.Resolve(ctx, channel)
}
