// Command mdnsd is a small standalone harness for the mDNS/DNS-SD engine:
// it opens a socket on every multicast-capable interface, advertises one
// static service, and logs whatever instances of a browsed service type
// come and go. It exists to exercise provider, discovery and advertiser
// together the way an embedding application would, not as a production
// daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sereno-systems/mdnsd/advertiser"
	"github.com/sereno-systems/mdnsd/discovery"
	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/provider"
	"github.com/sereno-systems/mdnsd/socket"
	"github.com/sereno-systems/mdnsd/wire"
)

func main() {
	var (
		instance = flag.String("instance", "mdnsd-sandbox", "instance name to advertise")
		advType  = flag.String("advertise", "_http._tcp", "service type to advertise")
		port     = flag.Uint("port", 8080, "port to advertise")
		browse   = flag.String("browse", "_http._tcp", "service type to browse for")
	)
	flag.Parse()

	svcType, err := dnssd.ParseServiceType(*advType)
	if err != nil {
		log.Fatalf("mdnsd: %s", err)
	}
	browseType, err := dnssd.ParseServiceType(*browse)
	if err != nil {
		log.Fatalf("mdnsd: %s", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	reg := prometheus.NewRegistry()
	p := provider.New(logging.DebugLogger, true, true)

	h := &host{
		reg:        reg,
		service:    advertiser.ServiceInfo{Instance: dnssd.InstanceName(*instance), Type: svcType, Port: uint16(*port)},
		browseType: browseType,
		nextID:     1,
	}

	go func() {
		p.Post(func() {
			if err := p.RequestSocket(h, provider.Filter{All: true}); err != nil {
				logging.Debug(logging.DebugLogger, "mdnsd: request socket failed: %s", err)
			}
		})
		if err := seedInterfaces(p); err != nil {
			logging.Debug(logging.DebugLogger, "mdnsd: seeding interfaces failed: %s", err)
		}
	}()

	if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mdnsd: %s", err)
	}
}

// seedInterfaces discovers the host's multicast-capable interfaces and
// reports their addresses to p, standing in for the platform-specific
// network-change watcher a real embedder would supply.
func seedInterfaces(p *provider.Provider) error {
	ifaces, err := net.Interfaces()
	if err != nil {
		return err
	}

	for _, iface := range ifaces {
		iface := iface
		if iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		var ips []net.IP
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok {
				ips = append(ips, ipnet.IP)
			}
		}
		if len(ips) == 0 {
			continue
		}

		nid := provider.NetworkID(fmt.Sprintf("iface:%s", iface.Name))
		p.Post(func() {
			_ = p.OnLinkPropertiesChanged(nid, &iface, provider.LinkProperties{Addresses: ips})
		})
	}
	return nil
}

// host is the single provider.Consumer for this process. For every socket
// the provider creates it spins up a matched discovery manager and
// interface advertiser, wires a shared read loop between them, registers
// the static advertised service, and starts browsing for browseType.
type host struct {
	reg        *prometheus.Registry
	service    advertiser.ServiceInfo
	browseType dnssd.ServiceType
	nextID     uint32
	endpoints  []*ifaceEndpoint
}

type ifaceEndpoint struct {
	nid    provider.NetworkID
	iface  string
	sock   *socket.Socket
	disc   *discovery.DiscoveryManager
	adv    *advertiser.InterfaceAdvertiser
	cancel context.CancelFunc
}

func (h *host) OnSocketCreated(nid provider.NetworkID, ifaceName string, s *socket.Socket) {
	tx := multicastSender{sock: s}

	discMetrics := discovery.NewMetrics(h.reg)
	advMetrics := advertiser.NewMetrics(h.reg)

	disc := discovery.NewDiscoveryManager(
		transportAdapter{sock: s, sender: tx},
		discovery.WithLogger(logging.DebugLogger),
		discovery.WithMetrics(discMetrics),
	)
	adv := advertiser.NewInterfaceAdvertiser(dnssd.DefaultDomain, tx, nil, &listenerLogger{ifaceName: ifaceName}, logging.DebugLogger, advMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	ep := &ifaceEndpoint{nid: nid, iface: ifaceName, sock: s, disc: disc, adv: adv, cancel: cancel}

	go ep.readLoop(ctx)

	if err := adv.AddService(h.nextID, h.service); err != nil {
		logging.Debug(logging.DebugLogger, "mdnsd: failed to advertise on %s: %s", ifaceName, err)
	}
	h.nextID++

	if err := disc.Register(h.browseType, &finder{ifaceName: ifaceName}, discovery.DefaultSearchOptions); err != nil {
		logging.Debug(logging.DebugLogger, "mdnsd: failed to browse on %s: %s", ifaceName, err)
	}

	h.endpoints = append(h.endpoints, ep)
}

func (h *host) OnInterfaceDestroyed(nid provider.NetworkID, ifaceName string) {
	kept := h.endpoints[:0]
	for _, ep := range h.endpoints {
		if ep.nid == nid && ep.iface == ifaceName {
			ep.cancel()
			ep.adv.DestroyNow()
			continue
		}
		kept = append(kept, ep)
	}
	h.endpoints = kept
}

func (h *host) OnAddressesChanged(nid provider.NetworkID, ifaceName string, s *socket.Socket) {
	for _, ep := range h.endpoints {
		if ep.nid == nid && ep.iface == ifaceName {
			ep.adv.UpdateAddresses(nil, nil)
		}
	}
}

func (ep *ifaceEndpoint) readLoop(ctx context.Context) {
	for {
		p, err := ep.sock.Receive(ctx)
		if err != nil {
			return
		}

		data := append([]byte(nil), p.Data...)
		p.Close()

		ep.disc.HandlePacket(data, p.Source.InterfaceIndex)

		if m, err := wire.Decode(data); err == nil {
			ep.adv.HandlePacket(m)
		}
	}
}

// multicastSender fans a single encoded packet out to both the IPv4 and
// IPv6 mDNS groups; a family the socket didn't open for is simply skipped.
type multicastSender struct {
	sock *socket.Socket
}

func (m multicastSender) Send(data []byte) error {
	_ = m.sock.Send(&socket.OutboundPacket{
		Destination: socket.Endpoint{InterfaceIndex: m.sock.Interface.Index, Address: &socket.IPv4Group},
		Data:        data,
	})
	_ = m.sock.Send(&socket.OutboundPacket{
		Destination: socket.Endpoint{InterfaceIndex: m.sock.Interface.Index, Address: &socket.IPv6Group},
		Data:        data,
	})
	return nil
}

// transportAdapter bridges socket.Socket into discovery.Transport. Start
// and Stop are no-ops here because the socket's lifetime is already owned
// by the provider/consumer relationship above.
type transportAdapter struct {
	sock   *socket.Socket
	sender multicastSender
}

func (transportAdapter) Start() error { return nil }
func (transportAdapter) Stop() error  { return nil }
func (t transportAdapter) Send(data []byte) error {
	return t.sender.Send(data)
}

type finder struct {
	ifaceName string
}

func (f *finder) OnServiceFound(si discovery.ServiceInstance) {
	log.Printf("mdnsd[%s]: found %s port=%d ipv4=%s ipv6=%s", f.ifaceName, si.Name, si.Port, si.IPv4, si.IPv6)
}
func (f *finder) OnServiceUpdated(si discovery.ServiceInstance) {
	log.Printf("mdnsd[%s]: updated %s port=%d", f.ifaceName, si.Name, si.Port)
}
func (f *finder) OnServiceRemoved(name wire.Name) {
	log.Printf("mdnsd[%s]: removed %s", f.ifaceName, name)
}
func (f *finder) OnDiscoveryQuerySent() {}
func (f *finder) OnFailedToParseMdnsResponse(packetNumber int, err error) {
	log.Printf("mdnsd[%s]: failed to parse packet %d: %s", f.ifaceName, packetNumber, err)
}

type listenerLogger struct {
	ifaceName string
}

func (l *listenerLogger) OnRegisterServiceSucceeded(serviceID uint32) {
	log.Printf("mdnsd[%s]: service %d registered", l.ifaceName, serviceID)
}
func (l *listenerLogger) OnServiceConflict(serviceID uint32) {
	log.Printf("mdnsd[%s]: service %d renamed after conflict", l.ifaceName, serviceID)
}
func (l *listenerLogger) OnDestroyed() {
	log.Printf("mdnsd[%s]: advertiser destroyed", l.ifaceName)
}
