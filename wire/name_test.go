package wire_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sereno-systems/mdnsd/wire"
)

var _ = Describe("Name", func() {
	Describe("ParseName", func() {
		It("splits a dotted name into labels", func() {
			n, err := wire.ParseName("MyPrinter._printer._tcp.local.")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(wire.Name{"MyPrinter", "_printer", "_tcp", "local"}))
		})

		It("rejects labels longer than 63 bytes", func() {
			long := make([]byte, 64)
			for i := range long {
				long[i] = 'a'
			}
			_, err := wire.ParseName(string(long) + ".local")
			Expect(err).To(Equal(wire.ErrMalformedName))
		})
	})

	Describe("Equal", func() {
		It("compares labels case-insensitively", func() {
			a := wire.MustParseName("Foo.Local")
			b := wire.MustParseName("foo.local")
			Expect(a.Equal(b)).To(BeTrue())
		})
	})

	Describe("HasSuffix", func() {
		It("recognizes a name rooted at a shorter suffix", func() {
			n := wire.MustParseName("MyPrinter._printer._tcp.local")
			suffix := wire.MustParseName("_printer._tcp.local")
			Expect(n.HasSuffix(suffix)).To(BeTrue())
		})

		It("rejects an unrelated name", func() {
			n := wire.MustParseName("MyPrinter._printer._tcp.local")
			suffix := wire.MustParseName("_http._tcp.local")
			Expect(n.HasSuffix(suffix)).To(BeFalse())
		})
	})
})
