package advertiser_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sereno-systems/mdnsd/advertiser"
	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/sched"
	"github.com/sereno-systems/mdnsd/wire"
)

type fakeSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *fakeSender) packets() []*wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.Message, 0, len(s.sent))
	for _, data := range s.sent {
		m, err := wire.Decode(data)
		Expect(err).NotTo(HaveOccurred())
		out = append(out, m)
	}
	return out
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeAdvertiserListener struct {
	mu        sync.Mutex
	succeeded []uint32
	conflicts []uint32
	destroyed bool
}

func (l *fakeAdvertiserListener) OnRegisterServiceSucceeded(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.succeeded = append(l.succeeded, id)
}
func (l *fakeAdvertiserListener) OnServiceConflict(id uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conflicts = append(l.conflicts, id)
}
func (l *fakeAdvertiserListener) OnDestroyed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyed = true
}

func (l *fakeAdvertiserListener) succeededIDs() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint32(nil), l.succeeded...)
}

func (l *fakeAdvertiserListener) conflictIDs() []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]uint32(nil), l.conflicts...)
}

// immediateSleeper never actually waits, so probe/announce cadence tests
// run in real time rather than waiting out the true RFC 6762 schedule.
func immediateSleeper(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var httpType = dnssd.ServiceType{Name: "_http", Proto: "_tcp"}

var _ = Describe("InterfaceAdvertiser", func() {
	var (
		sender   *fakeSender
		listener *fakeAdvertiserListener
		adv      *advertiser.InterfaceAdvertiser
	)

	BeforeEach(func() {
		sender = &fakeSender{}
		listener = &fakeAdvertiserListener{}
		adv = advertiser.NewInterfaceAdvertiser(dnssd.DefaultDomain, sender, sched.CryptoRandom, listener, nil, nil)
		adv.SetSleeper(immediateSleeper)
	})

	It("probes with one ANY question and an authority SRV record per send, three times", func() {
		info := advertiser.ServiceInfo{Instance: "Foo", Type: httpType, Port: 80}
		Expect(adv.AddService(1, info)).To(Succeed())

		Eventually(sender.count, time.Second).Should(BeNumerically(">=", 3))

		fqdn := dnssd.InstanceFQDN("Foo", httpType, dnssd.DefaultDomain)
		packets := sender.packets()
		for _, m := range packets[:3] {
			Expect(m.Response).To(BeFalse())
			Expect(m.Questions).To(HaveLen(1))
			Expect(m.Questions[0].Name).To(Equal(fqdn))
			Expect(m.Questions[0].Type).To(Equal(wire.TypeANY))
			Expect(m.Authority).To(HaveLen(1))
			srv, ok := m.Authority[0].(*wire.SRVRecord)
			Expect(ok).To(BeTrue())
			Expect(srv.Port).To(Equal(uint16(80)))
		}
	})

	It("registers the service once probing and announcing complete", func() {
		info := advertiser.ServiceInfo{Instance: "Foo", Type: httpType, Port: 80, Text: []string{"k=v"}}
		Expect(adv.AddService(1, info)).To(Succeed())

		Eventually(listener.succeededIDs, time.Second).Should(ContainElement(uint32(1)))
		Expect(adv.IsProbing(1)).To(BeFalse())

		packets := sender.packets()
		Expect(len(packets)).To(BeNumerically(">=", 11)) // 3 probes + 8 announcements
		last := packets[len(packets)-1]
		Expect(last.Response).To(BeTrue())
		Expect(last.Authoritative).To(BeTrue())
	})

	It("detects a conflicting SRV record during probing and re-probes under a new name", func() {
		info := advertiser.ServiceInfo{Instance: "Foo", Type: httpType, Port: 80}
		Expect(adv.AddService(1, info)).To(Succeed())

		fqdn := dnssd.InstanceFQDN("Foo", httpType, dnssd.DefaultDomain)
		conflict := &wire.Message{
			Header: wire.Header{Response: true, Authoritative: true},
			Answers: []wire.Record{
				&wire.SRVRecord{
					RecordHeader: wire.RecordHeader{Name: fqdn, TTL: 120},
					Port:         80,
					Target:       wire.MustParseName("otherhost.local"),
				},
			},
		}
		adv.HandlePacket(conflict)

		Eventually(listener.conflictIDs, time.Second).Should(ContainElement(uint32(1)))
		Eventually(listener.succeededIDs, time.Second).Should(ContainElement(uint32(1)))
	})
})
