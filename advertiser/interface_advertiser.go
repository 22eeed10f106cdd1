package advertiser

import (
	"context"
	"net"
	"sync"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/sereno-systems/mdnsd/sched"
	"github.com/sereno-systems/mdnsd/wire"
)

// Listener receives per-service and per-interface advertiser callbacks.
type Listener interface {
	OnRegisterServiceSucceeded(serviceID uint32)
	OnServiceConflict(serviceID uint32)
	OnDestroyed()
}

type phase int

const (
	phaseIdle phase = iota
	phaseProbing
	phaseAnnouncing
	phaseRegistered
	phaseExiting
)

type serviceState struct {
	phase  phase
	cancel context.CancelFunc
}

// InterfaceAdvertiser owns one interface's record repository plus its
// prober and announcer, and drives each registered service through the
// Idle -> Probing -> Announcing -> Registered state machine.
type InterfaceAdvertiser struct {
	repo     *RecordRepository
	sender   Sender
	random   sched.Random
	sleep    sched.Sleeper
	listener Listener
	logger   logging.Logger
	metrics  *Metrics

	mu     sync.Mutex
	states map[uint32]*serviceState
}

// NewInterfaceAdvertiser returns an advertiser for one interface. domain is
// typically dnssd.DefaultDomain.
func NewInterfaceAdvertiser(domain wire.Name, sender Sender, random sched.Random, listener Listener, logger logging.Logger, metrics *Metrics) *InterfaceAdvertiser {
	if random == nil {
		random = sched.CryptoRandom
	}
	if logger == nil {
		logger = logging.DiscardLogger
	}
	return &InterfaceAdvertiser{
		repo:     NewRecordRepository(domain),
		sender:   sender,
		random:   random,
		sleep:    sched.DefaultSleeper,
		listener: listener,
		logger:   logger,
		metrics:  metrics,
		states:   make(map[uint32]*serviceState),
	}
}

// AddService registers a new service and immediately begins probing for
// it.
func (a *InterfaceAdvertiser) AddService(id uint32, info ServiceInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.repo.AddService(id, info); err != nil {
		return err
	}
	a.beginProbingLocked(id)
	return nil
}

// SetSleeper overrides the Sleeper used to pace probes and announcements.
// Intended for tests; production callers should leave the default.
func (a *InterfaceAdvertiser) SetSleeper(sleep sched.Sleeper) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sleep = sleep
}

// IsProbing reports whether id is currently in the probing phase.
func (a *InterfaceAdvertiser) IsProbing(id uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[id]
	return ok && st.phase == phaseProbing
}

func (a *InterfaceAdvertiser) beginProbingLocked(id uint32) {
	info, err := a.repo.SetServiceProbing(id)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.states[id] = &serviceState{phase: phaseProbing, cancel: cancel}

	prober := &Prober{
		Names:   info.Names,
		Records: []wire.Record{info.SRV},
		Random:  a.random,
		Sender:  a.countingSender(a.metrics.incProbesSent),
	}

	go a.runProbe(ctx, id, prober)
}

// countingSenderFunc adapts a.sender so every Send also invokes a counting
// callback; it exists only to keep Prober/Announcer ignorant of Metrics.
type countingSenderFunc func(data []byte) error

func (f countingSenderFunc) Send(data []byte) error { return f(data) }

func (a *InterfaceAdvertiser) countingSender(inc func()) Sender {
	return countingSenderFunc(func(data []byte) error {
		inc()
		return a.sender.Send(data)
	})
}

func (a *InterfaceAdvertiser) runProbe(ctx context.Context, id uint32, prober *Prober) {
	a.mu.Lock()
	sleep := a.sleep
	a.mu.Unlock()

	repeater := &sched.Repeater{Sleep: sleep}
	err := repeater.Run(ctx, prober)

	a.mu.Lock()
	st, ok := a.states[id]
	if !ok || st.phase != phaseProbing {
		a.mu.Unlock()
		return
	}
	if err != nil {
		a.mu.Unlock()
		return
	}
	a.beginAnnouncingLocked(id)
	a.mu.Unlock()
}

func (a *InterfaceAdvertiser) beginAnnouncingLocked(id uint32) {
	info, err := a.repo.OnProbingSucceeded(id)
	if err != nil {
		return
	}

	st := a.states[id]
	st.phase = phaseAnnouncing

	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel

	announcer := &Announcer{
		Answers:    info.Answers,
		Additional: info.Additional,
		Sender:     a.countingSender(a.metrics.incAnnouncesSent),
	}

	go a.runAnnounce(ctx, id, announcer)
}

func (a *InterfaceAdvertiser) runAnnounce(ctx context.Context, id uint32, announcer *Announcer) {
	a.mu.Lock()
	sleep := a.sleep
	a.mu.Unlock()

	repeater := &sched.Repeater{Sleep: sleep}
	err := repeater.Run(ctx, announcer)

	a.mu.Lock()
	st, ok := a.states[id]
	if !ok || st.phase != phaseAnnouncing || err != nil {
		a.mu.Unlock()
		return
	}
	st.phase = phaseRegistered
	listener := a.listener
	a.mu.Unlock()

	a.metrics.incRegistered()
	if listener != nil {
		listener.OnRegisterServiceSucceeded(id)
	}
}

// HandlePacket inspects an inbound message for records that conflict with
// a probing or registered service's SRV record.
func (a *InterfaceAdvertiser) HandlePacket(m *wire.Message) {
	all := make([]wire.Record, 0, len(m.Answers)+len(m.Authority))
	all = append(all, m.Answers...)
	all = append(all, m.Authority...)

	a.mu.Lock()
	var conflicted []uint32
	for id, st := range a.states {
		if st.phase != phaseProbing && st.phase != phaseAnnouncing && st.phase != phaseRegistered {
			continue
		}
		reg, ok := a.repo.Get(id)
		if !ok {
			continue
		}
		for _, r := range all {
			srv, ok := r.(*wire.SRVRecord)
			if !ok || !srv.Name.Equal(reg.FQDN) {
				continue
			}
			if srv.Target.Equal(a.repo.HostName) && srv.Port == reg.Info.Port {
				continue // our own record echoed back
			}
			conflicted = append(conflicted, id)
			break
		}
	}
	a.mu.Unlock()

	for _, id := range conflicted {
		a.onConflict(id)
	}
}

func (a *InterfaceAdvertiser) onConflict(id uint32) {
	a.mu.Lock()
	st, ok := a.states[id]
	if !ok {
		a.mu.Unlock()
		return
	}
	if st.cancel != nil {
		st.cancel()
	}

	reg, ok := a.repo.Get(id)
	if !ok {
		a.mu.Unlock()
		return
	}

	newName := NextCandidateName(reg.Info.Instance)
	if _, err := a.repo.RenameService(id, newName); err != nil {
		a.mu.Unlock()
		return
	}

	a.beginProbingLocked(id)
	listener := a.listener
	a.mu.Unlock()

	a.metrics.incConflicts()
	if listener != nil {
		listener.OnServiceConflict(id)
	}
}

// RemoveService sends a goodbye announcement for id, if registered, and
// drops it from the repository.
func (a *InterfaceAdvertiser) RemoveService(id uint32) {
	a.mu.Lock()
	if st, ok := a.states[id]; ok {
		if st.cancel != nil {
			st.cancel()
		}
		st.phase = phaseExiting
	}
	info := a.repo.ExitService(id)
	a.mu.Unlock()

	if info != nil {
		a.sendAnnouncement(info)
	}

	a.mu.Lock()
	a.repo.RemoveService(id)
	delete(a.states, id)
	a.mu.Unlock()
}

func (a *InterfaceAdvertiser) sendAnnouncement(info *AnnouncementInfo) {
	m := wire.NewResponse()
	m.Answers = info.Answers
	m.Additional = info.Additional

	buf := make([]byte, 9000)
	n, err := m.Encode(buf)
	if err != nil {
		logging.Debug(a.logger, "advertiser: failed to encode announcement: %s", err)
		return
	}
	if err := a.sender.Send(buf[:n]); err != nil {
		logging.Debug(a.logger, "advertiser: failed to send announcement: %s", err)
	}
}

// UpdateAddresses re-announces the interface's address records after a
// link-property change.
func (a *InterfaceAdvertiser) UpdateAddresses(ipv4, ipv6 []net.IP) {
	a.mu.Lock()
	info := a.repo.UpdateAddresses(ipv4, ipv6)
	a.mu.Unlock()

	if info != nil {
		a.sendAnnouncement(info)
	}
}

// DestroyNow sends goodbye announcements for every registered service and
// notifies the listener.
func (a *InterfaceAdvertiser) DestroyNow() {
	a.mu.Lock()
	ids := make([]uint32, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.RemoveService(id)
	}

	if a.listener != nil {
		a.listener.OnDestroyed()
	}
}
