package discovery_test

import (
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sereno-systems/mdnsd/discovery"
	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/wire"
)

type fakeTransport struct {
	mu      sync.Mutex
	started bool
	stopped bool
	sent    [][]byte
}

func (t *fakeTransport) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

func (t *fakeTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.sent = append(t.sent, cp)
	return nil
}

type fakeListener struct {
	mu       sync.Mutex
	found    []discovery.ServiceInstance
	updated  []discovery.ServiceInstance
	removed  []wire.Name
	querySent int
}

func (l *fakeListener) OnServiceFound(si discovery.ServiceInstance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.found = append(l.found, si)
}
func (l *fakeListener) OnServiceUpdated(si discovery.ServiceInstance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, si)
}
func (l *fakeListener) OnServiceRemoved(name wire.Name) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, name)
}
func (l *fakeListener) OnDiscoveryQuerySent() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.querySent++
}
func (l *fakeListener) OnFailedToParseMdnsResponse(int, error) {}

func (l *fakeListener) foundNames() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var names []string
	for _, si := range l.found {
		names = append(names, si.Name.String())
	}
	return names
}

var printerType = dnssd.ServiceType{Name: "_printer", Proto: "_tcp"}

func encodeResponse(answers ...wire.Record) []byte {
	m := wire.NewResponse()
	m.Answers = answers
	buf := make([]byte, 9000)
	n, err := m.Encode(buf)
	Expect(err).NotTo(HaveOccurred())
	return buf[:n]
}

func instanceFQDN(instance string) wire.Name {
	return dnssd.InstanceFQDN(dnssd.InstanceName(instance), printerType, dnssd.DefaultDomain)
}

func ptrRecord(target wire.Name, ttl uint32) *wire.PTRRecord {
	return &wire.PTRRecord{
		RecordHeader: wire.RecordHeader{
			Name: dnssd.InstanceEnumerationDomain(printerType, dnssd.DefaultDomain),
			TTL:  ttl,
		},
		Target: target,
	}
}

func srvRecord(name, target wire.Name, port uint16) *wire.SRVRecord {
	return &wire.SRVRecord{
		RecordHeader: wire.RecordHeader{Name: name, TTL: 120},
		Port:         port,
		Target:       target,
	}
}

func txtRecord(name wire.Name, entries ...string) *wire.TXTRecord {
	return &wire.TXTRecord{
		RecordHeader: wire.RecordHeader{Name: name, TTL: 4500},
		Entries:      entries,
	}
}

func aRecord(name wire.Name, ip net.IP) *wire.ARecord {
	r := &wire.ARecord{RecordHeader: wire.RecordHeader{Name: name, TTL: 120}}
	copy(r.IP[:], ip.To4())
	return r
}

var _ = Describe("DiscoveryManager", func() {
	var (
		transport *fakeTransport
		manager   *discovery.DiscoveryManager
		listener  *fakeListener
	)

	BeforeEach(func() {
		transport = &fakeTransport{}
		manager = discovery.NewDiscoveryManager(transport)
		listener = &fakeListener{}
	})

	AfterEach(func() {
		_ = manager.Unregister(printerType, listener)
	})

	It("reports a found service from a single fully-populated response", func() {
		Expect(manager.Register(printerType, listener, discovery.DefaultSearchOptions)).To(Succeed())

		fqdn := instanceFQDN("MyPrinter")
		host := wire.MustParseName("printer.local")

		data := encodeResponse(
			ptrRecord(fqdn, 4500),
			srvRecord(fqdn, host, 631),
			txtRecord(fqdn, "rp=queue"),
			aRecord(host, net.ParseIP("192.0.2.7")),
		)

		manager.HandlePacket(data, 1)

		Eventually(listener.foundNames, time.Second).Should(ContainElement(fqdn.String()))

		listener.mu.Lock()
		defer listener.mu.Unlock()
		Expect(listener.found).To(HaveLen(1))
		si := listener.found[0]
		Expect(si.Port).To(Equal(uint16(631)))
		Expect(si.IPv4.String()).To(Equal("192.0.2.7"))
	})

	It("reports exactly one found event when records arrive in two packets", func() {
		Expect(manager.Register(printerType, listener, discovery.DefaultSearchOptions)).To(Succeed())

		fqdn := instanceFQDN("MyPrinter")
		host := wire.MustParseName("printer.local")

		manager.HandlePacket(encodeResponse(
			ptrRecord(fqdn, 4500),
			srvRecord(fqdn, host, 631),
		), 1)

		Consistently(func() int {
			listener.mu.Lock()
			defer listener.mu.Unlock()
			return len(listener.found)
		}, 200*time.Millisecond).Should(Equal(0))

		manager.HandlePacket(encodeResponse(
			txtRecord(fqdn, "rp=queue"),
			aRecord(host, net.ParseIP("192.0.2.7")),
		), 1)

		Eventually(listener.foundNames, time.Second).Should(ContainElement(fqdn.String()))

		listener.mu.Lock()
		defer listener.mu.Unlock()
		Expect(listener.found).To(HaveLen(1))
		Expect(listener.updated).To(BeEmpty())
	})

	It("removes a service on goodbye", func() {
		Expect(manager.Register(printerType, listener, discovery.DefaultSearchOptions)).To(Succeed())

		fqdn := instanceFQDN("MyPrinter")
		host := wire.MustParseName("printer.local")

		manager.HandlePacket(encodeResponse(
			ptrRecord(fqdn, 4500),
			srvRecord(fqdn, host, 631),
			txtRecord(fqdn, "rp=queue"),
			aRecord(host, net.ParseIP("192.0.2.7")),
		), 1)

		Eventually(listener.foundNames, time.Second).Should(ContainElement(fqdn.String()))

		manager.HandlePacket(encodeResponse(ptrRecord(fqdn, 0)), 1)

		Eventually(func() []wire.Name {
			listener.mu.Lock()
			defer listener.mu.Unlock()
			return listener.removed
		}, time.Second).Should(ContainElement(fqdn))
	})
})
