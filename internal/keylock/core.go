//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package keylock

import "fmt"

// Config is everything the core needs from its collaborator to start
// serving.
type Config struct {
	// Endpoint is either a decimal TCP port or a Unix socket path: a
	// value that parses as a decimal uint16 is a port, otherwise a path.
	Endpoint string
	// MaxConnections is the hard ceiling on concurrent clients.
	MaxConnections int
	// ForceUnlink removes a stale Unix socket file before binding.
	ForceUnlink bool
}

// Core wires the connection table, reactor, protocol handler and
// election registry into the single coordination daemon. It holds no
// values and no durable state; every field here is forgotten on
// process exit.
type Core struct {
	table    *Table
	registry *Registry
	protocol *Protocol
	reactor  *Reactor
	listener *Listener
}

// New builds the core from cfg and sink, constructing the listening
// endpoint as part of startup. A non-nil error here is a startup
// failure and should lead to a non-zero exit.
func New(cfg Config, sink Sink) (*Core, error) {
	if cfg.MaxConnections <= 0 {
		return nil, fmt.Errorf("keylock: max_connections must be positive, got %d", cfg.MaxConnections)
	}
	if sink == nil {
		sink = NopSink{}
	}

	listener, err := NewListener(cfg.Endpoint, cfg.ForceUnlink)
	if err != nil {
		return nil, fmt.Errorf("keylock: listener: %w", err)
	}

	table := NewTable(cfg.MaxConnections)
	registry := NewRegistry()
	protocol := NewProtocol(table, registry, sink)

	reactor, err := NewReactor(table, protocol, sink, listener)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("keylock: reactor: %w", err)
	}

	return &Core{
		table:    table,
		registry: registry,
		protocol: protocol,
		reactor:  reactor,
		listener: listener,
	}, nil
}

// OnTick registers fn to be called after every reactor loop pass that
// had ready descriptors, from the reactor's own goroutine, with the
// current occupancy snapshot. Used by
// the optional metrics endpoint; must be called before Run.
func (c *Core) OnTick(fn func(Snapshot)) {
	c.reactor.OnIteration = fn
}

// Run drives the event loop until Stop is called or the loop hits an
// unrecoverable error. It does not return under normal operation.
func (c *Core) Run() error {
	return c.reactor.Run()
}

// Stop asks the running loop to return at its next iteration. This is
// not a graceful drain: in-flight OWNER/WAITER state is abandoned, not
// released to waiters.
func (c *Core) Stop() {
	c.reactor.Stop()
}

// Close releases the listening endpoint. Call after Run returns.
func (c *Core) Close() error {
	return c.listener.Close()
}

// Snapshot reports current occupancy, used by the optional metrics
// endpoint; it does not belong to the wire protocol.
type Snapshot struct {
	Active  int
	Owners  int
	Waiters int
}

// Snapshot returns a point-in-time view of table occupancy.
func (c *Core) Snapshot() Snapshot {
	active := c.table.ActiveIndices()
	s := Snapshot{Active: len(active)}
	for _, idx := range active {
		switch c.table.Get(idx).State() {
		case Owner:
			s.Owners++
		case Waiter:
			s.Waiters++
		}
	}
	return s
}
