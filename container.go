package dedicated

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// DedicatedConnectionTag marks a service as needing the dedicated connection
// named by its "channel" attribute.
const DedicatedConnectionTag = "dedicated.connection"

// structTag is the struct field tag naming the channel injected into a field.
const structTag = "dedicated"

var handleType = reflect.TypeOf((*Handle)(nil)).Elem()

// Tag attaches metadata to a registered service.
type Tag struct {
	Name       string
	Attributes map[string]string
}

// WithDedicatedConnection returns the tag declaring that a service needs the
// dedicated connection of channel.
func WithDedicatedConnection(channel string) Tag {
	return Tag{
		Name:       DedicatedConnectionTag,
		Attributes: map[string]string{"channel": channel},
	}
}

// serviceDefinition represents a registered service and its declarations.
type serviceDefinition struct {
	id      string
	service interface{}
	tags    []Tag
	booted  bool
}

// injection is a resolved declaration: which channel goes where.
type injection struct {
	channel string
	field   []int // nil when the connection is handed to ConnectionSetter
}

type servicePlan struct {
	def        *serviceDefinition
	injections []injection
}

// Container holds services declaring dedicated connections and wires those
// connections into them on Compile.
type Container struct {
	resolver    *Resolver
	mu          sync.RWMutex
	definitions map[string]*serviceDefinition
	order       []string
	connections map[string]string // connection id -> channel
	compiled    bool
}

var typeStringCache sync.Map

func serviceTypeName(service interface{}) string {
	t := reflect.TypeOf(service)
	if cached, ok := typeStringCache.Load(t); ok {
		return cached.(string)
	}
	name := t.String()
	typeStringCache.Store(t, name)
	return name
}

// NewContainer creates a container opening connections through resolver.
// A nil resolver is accepted until a connection is actually needed.
func NewContainer(resolver *Resolver) *Container {
	return &Container{
		resolver:    resolver,
		definitions: make(map[string]*serviceDefinition, 32),
		connections: make(map[string]string, 8),
	}
}

// Resolver returns the resolver backing the container.
func (c *Container) Resolver() *Resolver {
	return c.resolver
}

// Register adds service under id. An empty id defaults to the service's
// type name. Services implementing ChannelDeclarer are tagged automatically.
// Returns NilServiceError if service is nil and DuplicateServiceError if id
// is taken.
func (c *Container) Register(id string, service interface{}, tags ...Tag) error {
	if service == nil {
		return &NilServiceError{Service: id}
	}
	if v := reflect.ValueOf(service); (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) && v.IsNil() {
		return &NilServiceError{Service: id}
	}
	if id == "" {
		id = serviceTypeName(service)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.definitions[id]; ok {
		return &DuplicateServiceError{Service: id}
	}
	if declarer, ok := service.(ChannelDeclarer); ok {
		tags = append(tags, WithDedicatedConnection(declarer.DedicatedChannel()))
	}
	c.definitions[id] = &serviceDefinition{
		id:      id,
		service: service,
		tags:    tags,
	}
	c.order = append(c.order, id)
	return nil
}

// Service returns the service registered under id.
func (c *Container) Service(id string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.definitions[id]
	if !ok {
		return nil, false
	}
	return def.service, true
}

// Get returns the service registered under id as T.
// Returns BindingNotFoundError if id is unknown and TypeMismatchError if the
// service is not a T.
func Get[T any](c *Container, id string) (T, error) {
	var zero T
	service, ok := c.Service(id)
	if !ok {
		return zero, &BindingNotFoundError{Service: id}
	}
	typed, ok := service.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Expected: reflect.TypeOf((*T)(nil)).Elem().String(),
			Got:      serviceTypeName(service),
		}
	}
	return typed, nil
}

// Compile validates every declaration, resolves the declared connections,
// injects them and boots Lifecycle services. No connection is opened when
// any declaration is invalid. Connection errors are returned unchanged.
//
// When resolving or injecting fails, the connections opened by this call are
// closed and the injected fields are reset. A BootError leaves connections
// and booted services in place; call Shutdown to release them.
func (c *Container) Compile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	plans := make([]servicePlan, 0, len(c.order))
	channels := 0
	for _, id := range c.order {
		def := c.definitions[id]
		injections, err := planInjections(def)
		if err != nil {
			return err
		}
		channels += len(injections)
		plans = append(plans, servicePlan{def: def, injections: injections})
	}
	if channels > 0 && c.resolver == nil {
		return &ConfigurationMissingError{What: "dedicated connection resolver"}
	}

	for _, plan := range plans {
		for _, inj := range plan.injections {
			c.connections[ConnectionID(inj.channel)] = inj.channel
		}
	}

	var opened []string
	var done []injected
	rollback := func() {
		for _, in := range done {
			in.clear()
		}
		for _, key := range opened {
			if err := c.resolver.CloseConnection(key); err != nil {
				c.resolver.logger.Warn().Err(err).Str("key", key).Msg("failed to roll back dedicated connection")
			}
		}
	}
	for _, plan := range plans {
		for _, inj := range plan.injections {
			key := c.resolver.ScopeKey(ctx, inj.channel)
			live := c.resolver.HasLiveConnection(key)
			h, err := c.resolver.Resolve(ctx, inj.channel)
			if err != nil {
				rollback()
				return err
			}
			if !live {
				opened = append(opened, key)
			}
			if err := inject(plan.def, inj, h); err != nil {
				rollback()
				return err
			}
			done = append(done, injected{def: plan.def, inj: inj})
		}
	}

	for _, plan := range plans {
		if plan.def.booted {
			continue
		}
		if svc, ok := plan.def.service.(Lifecycle); ok {
			if err := svc.OnBoot(ctx); err != nil {
				return &BootError{Service: plan.def.id, Err: err}
			}
		}
		plan.def.booted = true
	}
	c.compiled = true
	return nil
}

// Compiled reports whether Compile has completed successfully.
func (c *Container) Compiled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compiled
}

// Shutdown calls OnShutdown on booted services in reverse registration
// order and then closes every connection held by the resolver.
// The first failure is returned after all steps ran.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for i := len(c.order) - 1; i >= 0; i-- {
		def := c.definitions[c.order[i]]
		if !def.booted {
			continue
		}
		def.booted = false
		svc, ok := def.service.(Lifecycle)
		if !ok {
			continue
		}
		if err := svc.OnShutdown(ctx); err != nil && first == nil {
			first = &ShutdownError{Service: def.id, Err: err}
		}
	}
	c.compiled = false

	if c.resolver != nil {
		if err := c.resolver.CloseAll(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Reset removes every registration and connection definition.
// It does not close connections; call Shutdown first.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.definitions = make(map[string]*serviceDefinition, 32)
	c.order = nil
	c.connections = make(map[string]string, 8)
	c.compiled = false
}

func planInjections(def *serviceDefinition) ([]injection, error) {
	var injections []injection
	claimed := make(map[int]bool)

	v := reflect.ValueOf(def.service)
	var st reflect.Type
	if v.Kind() == reflect.Ptr && v.Elem().Kind() == reflect.Struct {
		st = v.Elem().Type()
	}

	if st != nil {
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			channel, ok := f.Tag.Lookup(structTag)
			if !ok {
				continue
			}
			if channel == "" {
				return nil, &InvalidDeclarationError{
					Service: def.id,
					Reason:  fmt.Sprintf("field %s has a %q struct tag without a channel", f.Name, structTag),
				}
			}
			if !f.IsExported() {
				return nil, &InvalidDeclarationError{
					Service: def.id,
					Reason:  fmt.Sprintf("field %s is not exported", f.Name),
				}
			}
			if !canHoldHandle(f.Type) {
				return nil, &InvalidDeclarationError{
					Service: def.id,
					Reason:  fmt.Sprintf("field %s of type %s cannot hold a connection", f.Name, f.Type),
				}
			}
			claimed[i] = true
			injections = append(injections, injection{channel: channel, field: f.Index})
		}
	}

	for _, tag := range def.tags {
		if tag.Name != DedicatedConnectionTag {
			continue
		}
		channel := tag.Attributes["channel"]
		if channel == "" {
			return nil, &InvalidDeclarationError{
				Service: def.id,
				Reason:  fmt.Sprintf("%q tag without a \"channel\" attribute", DedicatedConnectionTag),
			}
		}
		field := claimField(st, claimed)
		if field == nil {
			if _, ok := def.service.(ConnectionSetter); !ok {
				return nil, &InvalidDeclarationError{
					Service: def.id,
					Reason:  fmt.Sprintf("no field or SetConnection method can receive channel %q", channel),
				}
			}
		}
		injections = append(injections, injection{channel: channel, field: field})
	}
	return injections, nil
}

// claimField returns the index of the first unclaimed exported field able to
// hold a connection and marks it claimed.
func claimField(st reflect.Type, claimed map[int]bool) []int {
	if st == nil {
		return nil
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if claimed[i] || !f.IsExported() {
			continue
		}
		if _, tagged := f.Tag.Lookup(structTag); tagged {
			continue
		}
		if canHoldHandle(f.Type) {
			claimed[i] = true
			return f.Index
		}
	}
	return nil
}

// canHoldHandle reports whether a field of type t can receive a connection:
// an interface every Handle satisfies, or a concrete Handle implementation.
func canHoldHandle(t reflect.Type) bool {
	if t.Kind() == reflect.Interface {
		return handleType.Implements(t)
	}
	return t.Implements(handleType)
}

// injected records a completed injection so a failed Compile can undo it.
type injected struct {
	def *serviceDefinition
	inj injection
}

func (in injected) clear() {
	if in.inj.field == nil {
		return
	}
	field := reflect.ValueOf(in.def.service).Elem().FieldByIndex(in.inj.field)
	field.Set(reflect.Zero(field.Type()))
}

func inject(def *serviceDefinition, inj injection, h Handle) error {
	if inj.field == nil {
		def.service.(ConnectionSetter).SetConnection(inj.channel, h)
		return nil
	}
	field := reflect.ValueOf(def.service).Elem().FieldByIndex(inj.field)
	hv := reflect.ValueOf(h)
	if !hv.IsValid() || !hv.Type().AssignableTo(field.Type()) {
		return &InvalidDeclarationError{
			Service: def.id,
			Reason:  fmt.Sprintf("connection for channel %q of type %T is not assignable to %s", inj.channel, h, field.Type()),
		}
	}
	field.Set(hv)
	return nil
}
