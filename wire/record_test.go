package wire_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sereno-systems/mdnsd/wire"
)

func roundTrip(m *wire.Message) *wire.Message {
	buf := make([]byte, 4096)
	n, err := m.Encode(buf)
	Expect(err).NotTo(HaveOccurred())

	decoded, err := wire.Decode(buf[:n])
	Expect(err).NotTo(HaveOccurred())
	return decoded
}

var _ = Describe("record round-trip", func() {
	It("round-trips an A record", func() {
		m := wire.NewResponse()
		m.Answers = append(m.Answers, &wire.ARecord{
			RecordHeader: wire.RecordHeader{
				Name:       wire.MustParseName("printer.local"),
				CacheFlush: true,
				TTL:        120,
			},
			IP: [4]byte{192, 0, 2, 7},
		})

		out := roundTrip(m)
		Expect(out.Answers).To(HaveLen(1))

		a, ok := out.Answers[0].(*wire.ARecord)
		Expect(ok).To(BeTrue())
		Expect(a.Name).To(Equal(wire.MustParseName("printer.local")))
		Expect(a.CacheFlush).To(BeTrue())
		Expect(a.TTL).To(Equal(uint32(120)))
		Expect(a.IP).To(Equal([4]byte{192, 0, 2, 7}))
	})

	It("round-trips a PTR record with a compressed target", func() {
		m := wire.NewResponse()
		m.Answers = append(m.Answers, &wire.PTRRecord{
			RecordHeader: wire.RecordHeader{
				Name: wire.MustParseName("_printer._tcp.local"),
				TTL:  4500,
			},
			Target: wire.MustParseName("MyPrinter._printer._tcp.local"),
		})

		out := roundTrip(m)
		ptr := out.Answers[0].(*wire.PTRRecord)
		Expect(ptr.Target).To(Equal(wire.MustParseName("MyPrinter._printer._tcp.local")))
	})

	It("round-trips an SRV record", func() {
		m := wire.NewResponse()
		m.Answers = append(m.Answers, &wire.SRVRecord{
			RecordHeader: wire.RecordHeader{
				Name: wire.MustParseName("MyPrinter._printer._tcp.local"),
				TTL:  120,
			},
			Priority: 0,
			Weight:   0,
			Port:     631,
			Target:   wire.MustParseName("printer.local"),
		})

		out := roundTrip(m)
		srv := out.Answers[0].(*wire.SRVRecord)
		Expect(srv.Port).To(Equal(uint16(631)))
		Expect(srv.Target).To(Equal(wire.MustParseName("printer.local")))
	})

	It("round-trips a TXT record, including the empty-record case", func() {
		m := wire.NewResponse()
		m.Answers = append(m.Answers,
			&wire.TXTRecord{
				RecordHeader: wire.RecordHeader{Name: wire.MustParseName("a.local"), TTL: 4500},
				Entries:      []string{"rp=queue"},
			},
			&wire.TXTRecord{
				RecordHeader: wire.RecordHeader{Name: wire.MustParseName("b.local"), TTL: 4500},
			},
		)

		out := roundTrip(m)
		Expect(out.Answers[0].(*wire.TXTRecord).Entries).To(Equal([]string{"rp=queue"}))
		Expect(out.Answers[1].(*wire.TXTRecord).Entries).To(Equal([]string{""}))
	})

	It("round-trips an AAAA record", func() {
		m := wire.NewResponse()
		ip := [16]byte{0x20, 0x01, 0x0d, 0xb8}
		m.Answers = append(m.Answers, &wire.AAAARecord{
			RecordHeader: wire.RecordHeader{Name: wire.MustParseName("printer.local"), TTL: 120},
			IP:           ip,
		})

		out := roundTrip(m)
		Expect(out.Answers[0].(*wire.AAAARecord).IP).To(Equal(ip))
	})

	It("round-trips an NSEC record asserting a single type", func() {
		m := wire.NewResponse()
		m.Additional = append(m.Additional, &wire.NSECRecord{
			RecordHeader: wire.RecordHeader{Name: wire.MustParseName("printer.local"), TTL: 120},
			NextDomain:   wire.MustParseName("printer.local"),
			Types:        []wire.RRType{wire.TypeA},
		})

		out := roundTrip(m)
		nsec := out.Additional[0].(*wire.NSECRecord)
		Expect(nsec.Types).To(Equal([]wire.RRType{wire.TypeA}))
	})

	It("skips a record of an unknown type while honoring its rdlength", func() {
		buf := make([]byte, 512)
		w := wire.NewWriter(buf)

		// header: zero id, QR|AA flags, two answers, every other count zero
		Expect(w.WriteUint16(0)).To(Succeed())
		Expect(w.WriteUint16(0x8400)).To(Succeed())
		Expect(w.WriteUint16(0)).To(Succeed())
		Expect(w.WriteUint16(2)).To(Succeed())
		Expect(w.WriteUint16(0)).To(Succeed())
		Expect(w.WriteUint16(0)).To(Succeed())

		// unknown-type record (MX, type 15) followed by a known A record,
		// to prove the reader resumes correctly after skipping.
		Expect(w.WriteName(wire.MustParseName("a.local"))).To(Succeed())
		Expect(w.WriteUint16(15)).To(Succeed())
		Expect(w.WriteUint16(uint16(wire.ClassINET))).To(Succeed())
		Expect(w.WriteUint32(120)).To(Succeed())
		mark, err := w.Rewind()
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteBytes([]byte{1, 2, 3, 4})).To(Succeed())
		Expect(w.Unrewind(mark)).To(Succeed())

		Expect(w.WriteName(wire.MustParseName("b.local"))).To(Succeed())
		Expect(w.WriteUint16(uint16(wire.TypeA))).To(Succeed())
		Expect(w.WriteUint16(uint16(wire.ClassINET))).To(Succeed())
		Expect(w.WriteUint32(120)).To(Succeed())
		mark, err = w.Rewind()
		Expect(err).NotTo(HaveOccurred())
		Expect(w.WriteBytes([]byte{10, 0, 0, 1})).To(Succeed())
		Expect(w.Unrewind(mark)).To(Succeed())

		out, err := wire.Decode(w.Bytes())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Answers).To(HaveLen(1))
		Expect(out.Answers[0].(*wire.ARecord).Name).To(Equal(wire.MustParseName("b.local")))
	})
})
