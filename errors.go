package dedicated

import "fmt"

// ConfigurationMissingError is returned when the base connection
// configuration, its supplier or the connector is unavailable.
type ConfigurationMissingError struct {
	What string
	Err  error
}

func (e *ConfigurationMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration missing: %s: %v", e.What, e.Err)
	}
	return fmt.Sprintf("configuration missing: %s", e.What)
}

func (e *ConfigurationMissingError) Unwrap() error {
	return e.Err
}

// InvalidDeclarationError represents a service declaration that cannot be
// honoured, such as a dedicated connection tag without a channel.
type InvalidDeclarationError struct {
	Service string
	Reason  string
}

func (e *InvalidDeclarationError) Error() string {
	return fmt.Sprintf("invalid dedicated connection declaration on service %q: %s", e.Service, e.Reason)
}

// InvalidPortError represents a port override that is not an integer.
type InvalidPortError struct {
	Variable string
	Value    string
	Err      error
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("invalid port %q in %s: %v", e.Value, e.Variable, e.Err)
}

func (e *InvalidPortError) Unwrap() error {
	return e.Err
}

// ScopeEndedError is returned when a connection is requested from a scope
// that has already ended.
type ScopeEndedError struct {
	ScopeID string
	Channel string
}

func (e *ScopeEndedError) Error() string {
	return fmt.Sprintf("scope %s has ended; no dedicated connection for channel %q", e.ScopeID, e.Channel)
}

// CloseError represents a failure to close the handle stored under Key.
type CloseError struct {
	Key string
	Err error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close failed for connection %s: %v", e.Key, e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// BootError represents a service boot failure.
type BootError struct {
	Service string
	Err     error
}

func (e *BootError) Error() string {
	return fmt.Sprintf("boot failed for service %s: %v", e.Service, e.Err)
}

func (e *BootError) Unwrap() error {
	return e.Err
}

// ShutdownError represents a service shutdown failure.
type ShutdownError struct {
	Service string
	Err     error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("shutdown failed for service %s: %v", e.Service, e.Err)
}

func (e *ShutdownError) Unwrap() error {
	return e.Err
}

// DuplicateServiceError represents a second registration under the same id.
type DuplicateServiceError struct {
	Service string
}

func (e *DuplicateServiceError) Error() string {
	return fmt.Sprintf("service already registered: %s", e.Service)
}

// NilServiceError represents an attempt to register a nil service.
type NilServiceError struct {
	Service string
}

func (e *NilServiceError) Error() string {
	return fmt.Sprintf("nil service provided for id: %s", e.Service)
}

// BindingNotFoundError represents a lookup of a service id that was never registered.
type BindingNotFoundError struct {
	Service string
}

func (e *BindingNotFoundError) Error() string {
	return fmt.Sprintf("no service registered with id: %s", e.Service)
}

// TypeMismatchError represents a type assertion failure.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// UndefinedConnectionError represents a request for a channel connection
// that no declaration or helper call has defined.
type UndefinedConnectionError struct {
	Channel string
}

func (e *UndefinedConnectionError) Error() string {
	return fmt.Sprintf("no dedicated connection defined for channel %q (id %s)", e.Channel, ConnectionID(e.Channel))
}
