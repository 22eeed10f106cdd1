// Package provider translates host-side network/interface lifecycle events
// into per-network sockets, and fans socket lifecycle events out to
// registered consumers.
package provider

import (
	"bytes"
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync/atomic"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/sereno-systems/mdnsd/socket"
)

// ErrWrongThread is returned by every mutating method when called from a
// goroutine other than the Provider's own worker goroutine (the one
// running Run). The public API enforces single-threaded access this way
// rather than with a mutex.
var ErrWrongThread = errors.New("provider: method called from outside the owning worker goroutine")

// NetworkID identifies a network the provider has a socket for. LocalNetwork
// is the sentinel id shared by every tethered-interface socket.
type NetworkID string

// LocalNetwork is the network id reported for sockets created for
// local-only tethered interfaces, which have no true network id.
const LocalNetwork NetworkID = "local"

// LinkProperties is the address set the provider tracks per network.
type LinkProperties struct {
	Addresses []net.IP
}

// Consumer receives socket lifecycle notifications from the provider. All
// methods are invoked on the provider's worker goroutine.
type Consumer interface {
	OnSocketCreated(nid NetworkID, ifaceName string, s *socket.Socket)
	OnInterfaceDestroyed(nid NetworkID, ifaceName string)
	OnAddressesChanged(nid NetworkID, ifaceName string, s *socket.Socket)
}

// Filter selects which networks a subscription is interested in. An empty
// NetworkID with All set to true corresponds to "network-filter = None":
// every interface, including tethered ones.
type Filter struct {
	NetworkID NetworkID
	All       bool
}

func (f Filter) matches(nid NetworkID) bool {
	return f.All || f.NetworkID == nid
}

type subscription struct {
	consumer Consumer
	filter   Filter
}

type namedSocket struct {
	ifaceName string
	sock      *socket.Socket
}

// Provider owns the mapping from network to socket and fans lifecycle
// events out to subscribers. Construct with New, then run its worker loop
// with Run; every other method (and every inbound lifecycle event) must be
// invoked from within a function submitted via Post.
type Provider struct {
	logger                 logging.Logger
	enableIPv4, enableIPv6 bool

	commands chan func()
	done     chan struct{}

	workerGoroutine uint64

	sockets map[NetworkID]namedSocket
	tether  map[string]*socket.Socket // interface name -> socket
	links   map[NetworkID]LinkProperties
	subs    []subscription
}

// New returns a Provider. enableIPv4/enableIPv6 are forwarded to every
// socket.New call the provider makes.
func New(logger logging.Logger, enableIPv4, enableIPv6 bool) *Provider {
	if logger == nil {
		logger = logging.DiscardLogger
	}

	return &Provider{
		logger:     logger,
		enableIPv4: enableIPv4,
		enableIPv6: enableIPv6,
		commands:   make(chan func(), 16),
		done:       make(chan struct{}),
		sockets:    make(map[NetworkID]namedSocket),
		tether:     make(map[string]*socket.Socket),
		links:      make(map[NetworkID]LinkProperties),
	}
}

// Post schedules fn to run on the provider's worker goroutine. It is the
// only method safe to call from any goroutine; fn itself may then safely
// call every other Provider method.
func (p *Provider) Post(fn func()) {
	select {
	case p.commands <- fn:
	case <-p.done:
	}
}

// Run processes scheduled commands until ctx is canceled. It must be called
// from the goroutine that will act as the provider's worker for its entire
// lifetime.
func (p *Provider) Run(ctx context.Context) error {
	atomic.StoreUint64(&p.workerGoroutine, goroutineID())
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			p.destroyAll()
			return ctx.Err()
		case fn := <-p.commands:
			fn()
		}
	}
}

func (p *Provider) checkThread() error {
	if goroutineID() != atomic.LoadUint64(&p.workerGoroutine) {
		return ErrWrongThread
	}
	return nil
}

func (p *Provider) destroyAll() {
	for nid, ns := range p.sockets {
		_ = ns.sock.Destroy()
		delete(p.sockets, nid)
	}
	for name, s := range p.tether {
		_ = s.Destroy()
		delete(p.tether, name)
	}
}

// RequestSocket registers consumer's interest in networks matching filter,
// immediately delivering OnSocketCreated for every currently-owned socket
// that matches.
func (p *Provider) RequestSocket(consumer Consumer, filter Filter) error {
	if err := p.checkThread(); err != nil {
		return err
	}

	p.subs = append(p.subs, subscription{consumer, filter})

	for nid, ns := range p.sockets {
		if filter.matches(nid) {
			consumer.OnSocketCreated(nid, ns.ifaceName, ns.sock)
		}
	}
	if filter.All {
		for name, s := range p.tether {
			consumer.OnSocketCreated(LocalNetwork, name, s)
		}
	}

	return nil
}

// UnrequestSocket removes every subscription registered by consumer, then
// destroys any socket no longer referenced by a remaining subscription.
func (p *Provider) UnrequestSocket(consumer Consumer) error {
	if err := p.checkThread(); err != nil {
		return err
	}

	kept := p.subs[:0]
	for _, s := range p.subs {
		if s.consumer != consumer {
			kept = append(kept, s)
		}
	}
	p.subs = kept

	p.pruneUnreferenced()
	return nil
}

func (p *Provider) hasMatchingSub(nid NetworkID) bool {
	for _, s := range p.subs {
		if s.filter.matches(nid) {
			return true
		}
	}
	return false
}

func (p *Provider) hasAnyAllSub() bool {
	for _, s := range p.subs {
		if s.filter.All {
			return true
		}
	}
	return false
}

func (p *Provider) pruneUnreferenced() {
	for nid, ns := range p.sockets {
		if !p.hasMatchingSub(nid) {
			_ = ns.sock.Destroy()
			delete(p.sockets, nid)
			p.notifyDestroyed(nid, ns.ifaceName)
		}
	}

	if !p.hasAnyAllSub() {
		for name, s := range p.tether {
			_ = s.Destroy()
			delete(p.tether, name)
			p.notifyDestroyed(LocalNetwork, name)
		}
	}
}

func (p *Provider) notifyDestroyed(nid NetworkID, ifaceName string) {
	for _, s := range p.subs {
		if s.filter.matches(nid) {
			s.consumer.OnInterfaceDestroyed(nid, ifaceName)
		}
	}
}

// OnInterfaceLost drops cached link properties for nid, destroys its
// socket, and notifies subscribers.
func (p *Provider) OnInterfaceLost(nid NetworkID) error {
	if err := p.checkThread(); err != nil {
		return err
	}

	delete(p.links, nid)

	ns, ok := p.sockets[nid]
	if !ok {
		return nil
	}
	delete(p.sockets, nid)
	_ = ns.sock.Destroy()
	p.notifyDestroyed(nid, ns.ifaceName)
	return nil
}

// OnLinkPropertiesChanged updates the cached properties for nid on iface.
// If a socket already exists for nid, its multicast group membership is
// refreshed to match the new address set and subscribers are notified of
// the address change. If no socket exists and at least one subscription
// matches nid, a socket is created and subscribers are notified of its
// creation.
func (p *Provider) OnLinkPropertiesChanged(nid NetworkID, iface *net.Interface, props LinkProperties) error {
	if err := p.checkThread(); err != nil {
		return err
	}

	p.links[nid] = props

	if ns, ok := p.sockets[nid]; ok {
		if err := ns.sock.JoinGroup(props.Addresses); err != nil {
			logging.Debug(p.logger, "unable to rejoin multicast group on %s: %s", iface.Name, err)
		}
		for _, s := range p.subs {
			if s.filter.matches(nid) {
				s.consumer.OnAddressesChanged(nid, ns.ifaceName, ns.sock)
			}
		}
		return nil
	}

	if !p.hasMatchingSub(nid) {
		return nil
	}

	s, err := socket.New(iface, p.logger, p.enableIPv4, p.enableIPv6)
	if err != nil {
		return err
	}
	if err := s.JoinGroup(props.Addresses); err != nil {
		logging.Debug(p.logger, "unable to join multicast group on %s: %s", iface.Name, err)
	}

	p.sockets[nid] = namedSocket{iface.Name, s}
	for _, sub := range p.subs {
		if sub.filter.matches(nid) {
			sub.consumer.OnSocketCreated(nid, iface.Name, s)
		}
	}
	return nil
}

// OnTetheredInterfacesChanged creates sockets for newly-tethered interfaces
// and destroys sockets for interfaces no longer tethered. Sockets are only
// created when at least one subscription has Filter.All set.
func (p *Provider) OnTetheredInterfacesChanged(current []net.Interface) error {
	if err := p.checkThread(); err != nil {
		return err
	}

	want := make(map[string]net.Interface, len(current))
	for _, iface := range current {
		want[iface.Name] = iface
	}

	for name := range p.tether {
		if _, ok := want[name]; !ok {
			s := p.tether[name]
			delete(p.tether, name)
			_ = s.Destroy()
			p.notifyDestroyed(LocalNetwork, name)
		}
	}

	if !p.hasAnyAllSub() {
		return nil
	}

	for name, iface := range want {
		if _, ok := p.tether[name]; ok {
			continue
		}

		iface := iface
		s, err := socket.New(&iface, p.logger, p.enableIPv4, p.enableIPv6)
		if err != nil {
			logging.Debug(p.logger, "unable to open socket for tethered interface %s: %s", name, err)
			continue
		}

		p.tether[name] = s
		for _, sub := range p.subs {
			if sub.filter.All {
				sub.consumer.OnSocketCreated(LocalNetwork, name, s)
			}
		}
	}

	return nil
}

// goroutineID parses the calling goroutine's id out of its own stack trace.
// The Go runtime exposes no public API for this; it is used here only to
// enforce the single-worker-goroutine contract with a clear error instead
// of silent data races, and is never used for scheduling decisions.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
