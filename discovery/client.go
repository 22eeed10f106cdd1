package discovery

import (
	"context"
	"sort"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/sched"
	"github.com/sereno-systems/mdnsd/wire"
)

const maxPacketSize = 9000

// sessionConfig is the query scheduler's current configuration, recomputed
// from the union of registered listeners' options whenever the listener
// set changes.
type sessionConfig struct {
	passive    bool
	subtypes   []string
	expireTTLs bool
}

// ServiceTypeClient schedules queries for one service type and maintains
// the cache of instances discovered for it.
type ServiceTypeClient struct {
	svcType   dnssd.ServiceType
	domain    wire.Name
	transport Transport
	clock     sched.Clock
	sleep     sched.Sleeper
	logger    logging.Logger
	metrics   *Metrics

	mu        sync.Mutex
	listeners map[Listener]MdnsSearchOptions
	cache     map[string]*instanceState
	hostIndex map[string]map[string]*instanceState

	sessionID uint64
	cancel    context.CancelFunc
	nextTxnID uint16
}

func newServiceTypeClient(svcType dnssd.ServiceType, domain wire.Name, transport Transport, clock sched.Clock, sleep sched.Sleeper, logger logging.Logger, metrics *Metrics) *ServiceTypeClient {
	if sleep == nil {
		sleep = sched.DefaultSleeper
	}
	return &ServiceTypeClient{
		svcType:   svcType,
		domain:    domain,
		transport: transport,
		clock:     clock,
		sleep:     sleep,
		logger:    logger,
		metrics:   metrics,
		listeners: make(map[Listener]MdnsSearchOptions),
		cache:     make(map[string]*instanceState),
		hostIndex: make(map[string]map[string]*instanceState),
	}
}

func (c *ServiceTypeClient) empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners) == 0
}

// addListener registers listener and restarts the query session under a
// fresh session id so the new configuration takes effect immediately.
func (c *ServiceTypeClient) addListener(l Listener, opts MdnsSearchOptions) {
	c.mu.Lock()
	c.listeners[l] = opts
	c.mu.Unlock()
	c.restart()
}

// removeListener drops listener. If it was the last one, the session is
// stopped entirely; otherwise it restarts to reflect any change in the
// union of remaining listeners' options.
func (c *ServiceTypeClient) removeListener(l Listener) {
	c.mu.Lock()
	delete(c.listeners, l)
	empty := len(c.listeners) == 0
	c.mu.Unlock()

	if empty {
		c.stop()
		return
	}
	c.restart()
}

func (c *ServiceTypeClient) currentConfig() sessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := sessionConfig{passive: true}
	subtypeSet := make(map[string]struct{})
	for _, opts := range c.listeners {
		if !opts.Passive {
			cfg.passive = false
		}
		if opts.RemoveExpiredService {
			cfg.expireTTLs = true
		}
		for _, s := range opts.Subtypes {
			subtypeSet[s] = struct{}{}
		}
	}
	for s := range subtypeSet {
		cfg.subtypes = append(cfg.subtypes, s)
	}
	sort.Strings(cfg.subtypes)
	return cfg
}

func (c *ServiceTypeClient) stop() {
	c.mu.Lock()
	c.sessionID++
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// restart cancels any in-flight query task and begins a new one under a
// new session id.
func (c *ServiceTypeClient) restart() {
	cfg := c.currentConfig()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.sessionID++
	id := c.sessionID
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.runSession(ctx, id, cfg)
}

func (c *ServiceTypeClient) stillCurrent(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID == id
}

func burstSize(cfg sessionConfig, burst int) int {
	if !cfg.passive || burst == 0 {
		return QueriesPerBurst
	}
	return QueriesPerBurstPassiveMode
}

// runSession drives the burst schedule until ctx is canceled (by restart
// or stop) or the session id it was
// started with becomes stale.
func (c *ServiceTypeClient) runSession(ctx context.Context, id uint64, cfg sessionConfig) {
	gap := InitialTimeBetweenBursts
	if cfg.passive {
		gap = MaxTimeBetweenBursts
	}

	for burst := 0; ; burst++ {
		n := burstSize(cfg, burst)
		for i := 0; i < n; i++ {
			if err := c.sendQuery(cfg, i == 0); err != nil {
				return
			}
			if cfg.expireTTLs {
				c.sweepExpired(id)
			}
			if i+1 < n {
				if err := c.sleep(ctx, TimeBetweenQueriesInBurst); err != nil {
					return
				}
			}
		}

		if err := c.sleep(ctx, gap); err != nil {
			return
		}
		if !c.stillCurrent(id) {
			return
		}

		if !cfg.passive {
			gap *= 2
			if gap > MaxTimeBetweenBursts {
				gap = MaxTimeBetweenBursts
			}
		}
	}
}

func (c *ServiceTypeClient) nextTransactionID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTxnID++
	if c.nextTxnID == 0 {
		c.nextTxnID = 1
	}
	return c.nextTxnID
}

func (c *ServiceTypeClient) buildQuery(unicast bool) *wire.Message {
	m := wire.NewQuery()
	m.ID = c.nextTransactionID()

	typeDomain := dnssd.InstanceEnumerationDomain(c.svcType, c.domain)
	m.Questions = append(m.Questions, wire.Question{
		Name: typeDomain, Type: wire.TypePTR, Class: wire.ClassINET, Unicast: unicast,
	})

	cfg := c.currentConfig()
	for _, sub := range cfg.subtypes {
		subDomain := dnssd.SubtypeEnumerationDomain(dnssd.Subtype(sub), c.svcType, c.domain)
		m.Questions = append(m.Questions, wire.Question{
			Name: subDomain, Type: wire.TypePTR, Class: wire.ClassINET, Unicast: unicast,
		})
	}

	return m
}

func (c *ServiceTypeClient) sendQuery(cfg sessionConfig, firstOfBurst bool) error {
	m := c.buildQuery(firstOfBurst)

	buf := make([]byte, maxPacketSize)
	n, err := m.Encode(buf)
	if err != nil {
		logging.Debug(c.logger, "discovery: failed to encode query for %s: %s", c.svcType, err)
		return nil
	}

	if err := c.transport.Send(buf[:n]); err != nil {
		return err
	}

	c.metrics.incQueriesSent()

	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()
	for _, l := range listeners {
		l.OnDiscoveryQuerySent()
	}

	return nil
}

// questionMatches reports whether name (a PTR owner name from an inbound
// response) refers to this client's base type or one of its subtypes.
func (c *ServiceTypeClient) questionMatches(name wire.Name) bool {
	if name.Equal(dnssd.InstanceEnumerationDomain(c.svcType, c.domain)) {
		return true
	}
	_, ok := dnssd.SplitSubtypeQuestion(name, c.svcType, c.domain)
	return ok
}

// interestedIn reports whether m carries any record this client should
// process: a PTR naming its base type or a subtype, or a SRV/TXT/A/AAAA
// record naming an instance or host it already has cached. A response
// split across packets (PTR+SRV in one, TXT+A/AAAA in a later one) is
// routed by this second path once the first packet has cached the
// instance's PTR.
func (c *ServiceTypeClient) interestedIn(m *wire.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range m.Answers {
		if ptr, ok := r.(*wire.PTRRecord); ok && c.questionMatches(ptr.Name) {
			return true
		}
	}

	tracks := func(r wire.Record) bool {
		switch rec := r.(type) {
		case *wire.SRVRecord:
			_, ok := c.cache[rec.Name.String()]
			return ok
		case *wire.TXTRecord:
			_, ok := c.cache[rec.Name.String()]
			return ok
		case *wire.ARecord:
			_, ok := c.hostIndex[rec.Name.String()]
			return ok
		case *wire.AAAARecord:
			_, ok := c.hostIndex[rec.Name.String()]
			return ok
		}
		return false
	}
	for _, r := range m.Answers {
		if tracks(r) {
			return true
		}
	}
	for _, r := range m.Additional {
		if tracks(r) {
			return true
		}
	}
	return false
}

func (c *ServiceTypeClient) subtypeOf(name wire.Name) string {
	sub, ok := dnssd.SplitSubtypeQuestion(name, c.svcType, c.domain)
	if !ok {
		return ""
	}
	return string(sub)
}

// handleMessage merges an inbound response into the cache and notifies
// listeners.
func (c *ServiceTypeClient) handleMessage(m *wire.Message, interfaceIndex int) {
	now := c.clock.NowMillis()
	all := make([]wire.Record, 0, len(m.Answers)+len(m.Additional))
	all = append(all, m.Answers...)
	all = append(all, m.Additional...)

	c.mu.Lock()

	touched := make(map[string]*instanceState)
	var goodbyes []string

	for _, r := range all {
		ptr, ok := r.(*wire.PTRRecord)
		if !ok || !c.questionMatches(ptr.Name) {
			continue
		}
		key := ptr.Target.String()
		if ptr.Header().TTL == 0 {
			goodbyes = append(goodbyes, key)
			continue
		}

		inst, ok := c.cache[key]
		if !ok {
			inst = newInstanceState(ptr.Target)
			inst.interfaceIndex = interfaceIndex
			c.cache[key] = inst
		}
		inst.addPTR(c.subtypeOf(ptr.Name))
		touched[key] = inst
	}

	for _, r := range all {
		switch rec := r.(type) {
		case *wire.SRVRecord:
			key := rec.Name.String()
			inst, ok := c.cache[key]
			if !ok {
				continue
			}
			if rec.Header().TTL == 0 {
				goodbyes = append(goodbyes, key)
				continue
			}
			oldHostKey := ""
			if inst.haveSRV {
				oldHostKey = inst.target.String()
			}
			changed, dropped := inst.setSRV(rec, now)
			if changed || dropped {
				touched[key] = inst
			}
			newHostKey := inst.target.String()
			if oldHostKey != newHostKey {
				c.unindexHost(oldHostKey, key)
				c.indexHost(newHostKey, key, inst)
			}

		case *wire.TXTRecord:
			key := rec.Name.String()
			inst, ok := c.cache[key]
			if !ok {
				continue
			}
			if inst.setTXT(rec, now) {
				touched[key] = inst
			}

		case *wire.ARecord:
			hostKey := rec.Name.String()
			for instKey, inst := range c.hostIndex[hostKey] {
				ip := make([]byte, 4)
				copy(ip, rec.IP[:])
				if inst.setIPv4(ip, now) {
					touched[instKey] = inst
				}
			}

		case *wire.AAAARecord:
			hostKey := rec.Name.String()
			for instKey, inst := range c.hostIndex[hostKey] {
				ip := make([]byte, 16)
				copy(ip, rec.IP[:])
				if inst.setIPv6(ip, now) {
					touched[instKey] = inst
				}
			}
		}
	}

	var toRemove []wire.Name
	for _, key := range goodbyes {
		if inst, ok := c.cache[key]; ok {
			delete(c.cache, key)
			delete(touched, key)
			c.unindexHost(inst.target.String(), key)
			toRemove = append(toRemove, inst.name)
		}
	}

	type delivery struct {
		found   []ServiceInstance
		updated []ServiceInstance
	}
	var d delivery
	for _, inst := range touched {
		wasComplete := inst.reportedComplete
		nowComplete := inst.complete()
		if nowComplete && !wasComplete {
			inst.reportedComplete = true
			d.found = append(d.found, inst.snapshot())
		} else if nowComplete && wasComplete {
			d.updated = append(d.updated, inst.snapshot())
		}
	}

	listeners := make([]Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}

	c.mu.Unlock()

	for range d.found {
		c.metrics.incServicesFound()
	}
	for range toRemove {
		c.metrics.incServicesRemoved()
	}

	for _, l := range listeners {
		for _, si := range d.found {
			l.OnServiceFound(si)
		}
		for _, si := range d.updated {
			l.OnServiceUpdated(si)
		}
		for _, name := range toRemove {
			l.OnServiceRemoved(name)
		}
	}
}

func (c *ServiceTypeClient) indexHost(hostKey, instKey string, inst *instanceState) {
	if hostKey == "" {
		return
	}
	m, ok := c.hostIndex[hostKey]
	if !ok {
		m = make(map[string]*instanceState)
		c.hostIndex[hostKey] = m
	}
	m[instKey] = inst
}

func (c *ServiceTypeClient) unindexHost(hostKey, instKey string) {
	if hostKey == "" {
		return
	}
	if m, ok := c.hostIndex[hostKey]; ok {
		delete(m, instKey)
		if len(m) == 0 {
			delete(c.hostIndex, hostKey)
		}
	}
}

// sweepExpired removes complete instances whose SRV TTL has lapsed, per
// MdnsSearchOptions.RemoveExpiredService.
func (c *ServiceTypeClient) sweepExpired(sessionID uint64) {
	now := c.clock.NowMillis()

	c.mu.Lock()
	if c.sessionID != sessionID {
		c.mu.Unlock()
		return
	}

	var removed []wire.Name
	for key, inst := range c.cache {
		if inst.reportedComplete && inst.haveSRV && inst.srvExpiryMillis <= now {
			delete(c.cache, key)
			c.unindexHost(inst.target.String(), key)
			removed = append(removed, inst.name)
		}
	}

	listeners := make([]Listener, 0, len(c.listeners))
	for l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for range removed {
		c.metrics.incServicesRemoved()
	}

	for _, l := range listeners {
		for _, name := range removed {
			l.OnServiceRemoved(name)
		}
	}
}
