package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/centraunit/dedicated"
)

// Handle is an in-memory connection recording how it was created and closed.
type Handle struct {
	Config   dedicated.ConnectionConfig
	CloseErr error

	closes atomic.Int32
}

func (h *Handle) Close() error {
	h.closes.Add(1)
	return h.CloseErr
}

// Closed reports whether Close was called at least once.
func (h *Handle) Closed() bool {
	return h.closes.Load() > 0
}

// CloseCount returns how many times Close was called.
func (h *Handle) CloseCount() int {
	return int(h.closes.Load())
}

// Connector creates Handles and records every configuration it was asked for.
type Connector struct {
	// Err, when set, fails every Connect call.
	Err error
	// CloseErr is copied into every created Handle.
	CloseErr error
	// Gate, when set, blocks Connect until it is closed.
	Gate chan struct{}

	mu      sync.Mutex
	configs []dedicated.ConnectionConfig
	handles []*Handle
}

var _ dedicated.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context, cfg dedicated.ConnectionConfig) (dedicated.Handle, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs = append(c.configs, cfg)
	if c.Err != nil {
		return nil, c.Err
	}
	h := &Handle{Config: cfg, CloseErr: c.CloseErr}
	c.handles = append(c.handles, h)
	return h, nil
}

// Calls returns the number of Connect calls that reached the connector.
func (c *Connector) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.configs)
}

// Configs returns the configurations passed to Connect, in call order.
func (c *Connector) Configs() []dedicated.ConnectionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dedicated.ConnectionConfig(nil), c.configs...)
}

// Handles returns the handles created so far, in creation order.
func (c *Connector) Handles() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Handle(nil), c.handles...)
}

// FailingSupplier is a ConfigSupplier that is never able to provide a configuration.
type FailingSupplier struct{}

func (FailingSupplier) BaseConfig() (dedicated.ConnectionConfig, error) {
	return dedicated.ConnectionConfig{}, errors.New("default connection is not configured")
}

// ReportService receives its connection through a struct tag.
type ReportService struct {
	DB dedicated.Handle `dedicated:"reports"`
}

// AuditService declares its channel through ChannelDeclarer and receives
// the connection in its first Handle field.
type AuditService struct {
	Conn dedicated.Handle

	booted   bool
	shutdown bool
}

func (a *AuditService) DedicatedChannel() string { return "audit" }

func (a *AuditService) OnBoot(ctx context.Context) error {
	if a.Conn == nil {
		return fmt.Errorf("audit service booted without connection")
	}
	a.booted = true
	return nil
}

func (a *AuditService) OnShutdown(ctx context.Context) error {
	a.shutdown = true
	return nil
}

func (a *AuditService) Booted() bool   { return a.booted }
func (a *AuditService) Shutdown() bool { return a.shutdown }

// MultiChannelService needs two distinct dedicated connections.
type MultiChannelService struct {
	Orders  dedicated.Handle `dedicated:"orders"`
	Billing dedicated.Handle `dedicated:"billing"`
}

// SetterService has no connection field and receives connections through
// SetConnection.
type SetterService struct {
	mu    sync.Mutex
	conns map[string]dedicated.Handle
}

func (s *SetterService) SetConnection(channel string, h dedicated.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		s.conns = make(map[string]dedicated.Handle)
	}
	s.conns[channel] = h
}

func (s *SetterService) Connection(channel string) dedicated.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[channel]
}

// PlainService has nowhere to receive a connection.
type PlainService struct {
	Name string
}

// EmptyChannelService declares an empty channel.
type EmptyChannelService struct {
	Conn dedicated.Handle
}

func (EmptyChannelService) DedicatedChannel() string { return "" }

// FailingBootService fails OnBoot.
type FailingBootService struct {
	Conn dedicated.Handle
}

func (f *FailingBootService) OnBoot(ctx context.Context) error {
	return fmt.Errorf("simulated boot failure")
}

func (f *FailingBootService) OnShutdown(ctx context.Context) error { return nil }
