package discovery

import (
	"sync"
	"sync/atomic"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/sched"
	"github.com/sereno-systems/mdnsd/wire"
)

// DiscoveryManager is the single per-host entry point for service
// discovery. It owns one ServiceTypeClient per service type currently
// being browsed and starts/stops the shared transport as the set of
// registrations becomes non-empty/empty.
type DiscoveryManager struct {
	transport Transport
	domain    wire.Name
	clock     sched.Clock
	sleep     sched.Sleeper
	logger    logging.Logger
	metrics   *Metrics

	mu      sync.Mutex
	clients map[string]*ServiceTypeClient

	packetNum int64
}

// Option configures a DiscoveryManager constructed with NewDiscoveryManager.
type Option func(*DiscoveryManager)

// WithDomain overrides the default ".local" browsing domain.
func WithDomain(domain wire.Name) Option {
	return func(m *DiscoveryManager) { m.domain = domain }
}

// WithLogger attaches a logger; the default is a discard logger.
func WithLogger(logger logging.Logger) Option {
	return func(m *DiscoveryManager) { m.logger = logger }
}

// WithMetrics attaches a Metrics collector; the default is nil (disabled).
func WithMetrics(metrics *Metrics) Option {
	return func(m *DiscoveryManager) { m.metrics = metrics }
}

// WithClock overrides the production sched.Clock, for tests.
func WithClock(clock sched.Clock) Option {
	return func(m *DiscoveryManager) { m.clock = clock }
}

// WithSleeper overrides the production sched.Sleeper, for tests.
func WithSleeper(sleep sched.Sleeper) Option {
	return func(m *DiscoveryManager) { m.sleep = sleep }
}

// NewDiscoveryManager returns a manager that sends queries and receives
// responses through transport.
func NewDiscoveryManager(transport Transport, opts ...Option) *DiscoveryManager {
	m := &DiscoveryManager{
		transport: transport,
		domain:    dnssd.DefaultDomain,
		clock:     sched.SystemClock,
		logger:    logging.DiscardLogger,
		clients:   make(map[string]*ServiceTypeClient),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register associates listener with svcType, creating the client and
// starting the transport if this is the first registration of any type.
func (m *DiscoveryManager) Register(svcType dnssd.ServiceType, listener Listener, opts MdnsSearchOptions) error {
	m.mu.Lock()
	wasEmpty := len(m.clients) == 0

	c, ok := m.clients[svcType.String()]
	if !ok {
		c = newServiceTypeClient(svcType, m.domain, m.transport, m.clock, m.sleep, m.logger, m.metrics)
		m.clients[svcType.String()] = c
	}
	m.mu.Unlock()

	if wasEmpty {
		if err := m.transport.Start(); err != nil {
			m.mu.Lock()
			delete(m.clients, svcType.String())
			m.mu.Unlock()
			return err
		}
	}

	c.addListener(listener, opts)
	return nil
}

// Unregister removes listener from svcType. If that empties the client, it
// is dropped; if that empties the manager entirely, the transport is
// stopped.
func (m *DiscoveryManager) Unregister(svcType dnssd.ServiceType, listener Listener) error {
	m.mu.Lock()
	c, ok := m.clients[svcType.String()]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	c.removeListener(listener)

	if c.empty() {
		m.mu.Lock()
		delete(m.clients, svcType.String())
		empty := len(m.clients) == 0
		m.mu.Unlock()

		if empty {
			return m.transport.Stop()
		}
	}

	return nil
}

// HandlePacket decodes an inbound datagram and dispatches it to every
// client interested in any record it carries: a response need not repeat
// a PTR record in every packet of a multi-packet exchange, so dispatch
// cannot key on the PTR alone.
func (m *DiscoveryManager) HandlePacket(data []byte, interfaceIndex int) {
	n := atomic.AddInt64(&m.packetNum, 1)

	msg, err := wire.Decode(data)
	if err != nil {
		m.metrics.incParseFailures()
		m.notifyParseFailure(int(n), err)
		return
	}
	if !msg.Response {
		return
	}

	m.metrics.incResponsesParsed()

	// wire.Decode does not know the time; stamp every record's Received here,
	// right after decode, so TTL-expiry math downstream has a real baseline.
	now := m.clock.NowMillis()
	for _, r := range msg.Answers {
		r.Header().Received = now
	}
	for _, r := range msg.Authority {
		r.Header().Received = now
	}
	for _, r := range msg.Additional {
		r.Header().Received = now
	}

	m.mu.Lock()
	var targets []*ServiceTypeClient
	for _, c := range m.clients {
		if c.interestedIn(msg) {
			targets = append(targets, c)
		}
	}
	m.mu.Unlock()

	for _, target := range targets {
		target.handleMessage(msg, interfaceIndex)
	}
}

func (m *DiscoveryManager) notifyParseFailure(packetNum int, err error) {
	m.mu.Lock()
	clients := make([]*ServiceTypeClient, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		listeners := make([]Listener, 0, len(c.listeners))
		for l := range c.listeners {
			listeners = append(listeners, l)
		}
		c.mu.Unlock()
		for _, l := range listeners {
			l.OnFailedToParseMdnsResponse(packetNum, err)
		}
	}
}
