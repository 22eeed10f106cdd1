// Package dnssd holds the DNS-SD naming conventions (RFC 6763) shared by
// the discovery client and the advertiser: service type and subtype
// labels, instance-name escaping, and the well-known domains used for
// instance enumeration, type enumeration, and subtype queries.
package dnssd

import (
	"errors"
	"strings"

	"github.com/sereno-systems/mdnsd/wire"
)

// DefaultDomain is the domain almost every mDNS deployment advertises and
// browses within.
var DefaultDomain = wire.Name{"local"}

// ServiceType is a DNS-SD service type, such as "_http._tcp".
type ServiceType struct {
	Name  string // e.g. "_http"
	Proto string // "_tcp" or "_udp"
}

// ParseServiceType parses a "_name._proto" string.
func ParseServiceType(s string) (ServiceType, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ServiceType{}, errors.New("dnssd: service type must have the form _name._proto")
	}
	if !strings.HasPrefix(parts[0], "_") || !strings.HasPrefix(parts[1], "_") {
		return ServiceType{}, errors.New("dnssd: service type labels must begin with an underscore")
	}
	if parts[1] != "_tcp" && parts[1] != "_udp" {
		return ServiceType{}, errors.New("dnssd: service type protocol must be _tcp or _udp")
	}
	return ServiceType{Name: parts[0], Proto: parts[1]}, nil
}

// Labels returns the type's labels, e.g. ["_http", "_tcp"].
func (t ServiceType) Labels() wire.Name {
	return wire.Name{wire.Label(t.Name), wire.Label(t.Proto)}
}

// String returns the dotted "_name._proto" form.
func (t ServiceType) String() string {
	return t.Name + "." + t.Proto
}

// Subtype is a secondary grouping of a service type, such as
// "_printer" in "_printer._sub._http._tcp.local".
type Subtype string

// Labels returns the subtype prefix labels, e.g. ["_printer", "_sub"].
func (s Subtype) Labels() wire.Name {
	return wire.Name{wire.Label(s), "_sub"}
}

// InstanceName is the left-most, unqualified label identifying one service
// instance. A DNS label is a length-prefixed byte string, not
// dot-delimited text, so a literal '.' or '\' within an instance name
// needs no escaping on the wire; RFC 6763 section 4.3's backslash
// escaping is a presentation-format convention for display only, applied
// by String, never by Label.
type InstanceName string

// Label returns n's raw bytes as a single wire label, unescaped.
func (n InstanceName) Label() wire.Label {
	return wire.Label(n)
}

// String returns n in RFC 6763 section 4.3 presentation format, escaping
// literal dots and backslashes so the name reads unambiguously next to
// the dot-separated domain it's qualified within.
func (n InstanceName) String() string {
	var b strings.Builder
	b.Grow(len(n))
	for i := 0; i < len(n); i++ {
		c := n[i]
		if c == '.' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// InstanceFQDN returns the fully-qualified name of a service instance:
// <instance>.<type>.<domain>.
func InstanceFQDN(instance InstanceName, svcType ServiceType, domain wire.Name) wire.Name {
	return domain.Join(svcType.Labels()).Join(wire.Name{instance.Label()})
}

// InstanceEnumerationDomain returns the domain queried to browse a service
// type ("service instance enumeration", RFC 6763 section 4): <type>.<domain>.
func InstanceEnumerationDomain(svcType ServiceType, domain wire.Name) wire.Name {
	return domain.Join(svcType.Labels())
}

// SubtypeEnumerationDomain returns the domain queried to browse a subtype:
// <sub>._sub.<type>.<domain>.
func SubtypeEnumerationDomain(sub Subtype, svcType ServiceType, domain wire.Name) wire.Name {
	return domain.Join(svcType.Labels()).Join(sub.Labels())
}

// MetaServiceDomain is the well-known domain queried to perform "service
// type enumeration" (RFC 6763 section 9): _services._dns-sd._udp.<domain>.
func MetaServiceDomain(domain wire.Name) wire.Name {
	return domain.Join(wire.Name{"_services", "_dns-sd", "_udp"})
}

// SplitSubtypeQuestion recognizes a question name of the form
// "_<sub>._sub.<type>.<domain>" and returns the subtype it names. ok is
// false if name does not have that shape relative to svcType and domain.
func SplitSubtypeQuestion(name wire.Name, svcType ServiceType, domain wire.Name) (sub Subtype, ok bool) {
	want := SubtypeEnumerationDomain("", svcType, domain)
	// want has an empty first label; compare everything after it.
	if len(name) != len(want) {
		return "", false
	}
	if !name[1:].Equal(want[1:]) {
		return "", false
	}
	return Subtype(name[0]), true
}
