package dnssd_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/wire"
)

var _ = Describe("ServiceType", func() {
	It("parses a well-formed _name._proto string", func() {
		st, err := dnssd.ParseServiceType("_http._tcp")
		Expect(err).NotTo(HaveOccurred())
		Expect(st).To(Equal(dnssd.ServiceType{Name: "_http", Proto: "_tcp"}))
		Expect(st.String()).To(Equal("_http._tcp"))
	})

	It("rejects a protocol other than _tcp/_udp", func() {
		_, err := dnssd.ParseServiceType("_http._sctp")
		Expect(err).To(HaveOccurred())
	})

	It("rejects labels missing the leading underscore", func() {
		_, err := dnssd.ParseServiceType("http._tcp")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("InstanceName escaping", func() {
	It("returns a label with the name's raw, unescaped bytes", func() {
		n := dnssd.InstanceName(`Office. Printer\1`)
		l := n.Label()
		Expect(string(l)).To(Equal(`Office. Printer\1`))
	})

	It("leaves names with no special characters unchanged", func() {
		n := dnssd.InstanceName("Kitchen Printer")
		Expect(string(n.Label())).To(Equal("Kitchen Printer"))
	})

	It("escapes dots and backslashes in presentation format", func() {
		n := dnssd.InstanceName(`Office. Printer\1`)
		Expect(n.String()).To(Equal(`Office\. Printer\\1`))
	})
})

var _ = Describe("domain construction", func() {
	st := dnssd.ServiceType{Name: "_http", Proto: "_tcp"}
	domain := dnssd.DefaultDomain

	It("builds the instance enumeration (browsing) domain", func() {
		got := dnssd.InstanceEnumerationDomain(st, domain)
		Expect(got.String()).To(Equal("_http._tcp.local."))
	})

	It("builds a fully-qualified instance name", func() {
		got := dnssd.InstanceFQDN("Kitchen Printer", st, domain)
		Expect(got.String()).To(Equal("Kitchen Printer._http._tcp.local."))
	})

	It("carries a literal dot in the instance label as raw label bytes", func() {
		got := dnssd.InstanceFQDN("A.B", st, domain)
		Expect(got.String()).To(Equal(`A.B._http._tcp.local.`))
	})

	It("builds the subtype enumeration domain", func() {
		got := dnssd.SubtypeEnumerationDomain("_printer", st, domain)
		Expect(got.String()).To(Equal("_printer._sub._http._tcp.local."))
	})

	It("builds the service type enumeration (meta-service) domain", func() {
		got := dnssd.MetaServiceDomain(domain)
		Expect(got.String()).To(Equal("_services._dns-sd._udp.local."))
	})

	It("recognizes a matching subtype question", func() {
		q := wire.MustParseName("_printer._sub._http._tcp.local")
		sub, ok := dnssd.SplitSubtypeQuestion(q, st, domain)
		Expect(ok).To(BeTrue())
		Expect(sub).To(Equal(dnssd.Subtype("_printer")))
	})

	It("rejects a question for an unrelated type", func() {
		q := wire.MustParseName("_printer._sub._ipp._tcp.local")
		_, ok := dnssd.SplitSubtypeQuestion(q, st, domain)
		Expect(ok).To(BeFalse())
	})
})
