package discovery

import (
	"net"

	"github.com/sereno-systems/mdnsd/wire"
)

// ServiceInstance is a snapshot of one discovered service instance,
// delivered to listeners. It is a value copy; mutating it has no effect on
// the client's cache.
type ServiceInstance struct {
	Name           wire.Name // fully-qualified instance name
	Subtypes       []string
	Port           uint16
	Target         wire.Name // SRV target (host name)
	IPv4           net.IP
	IPv6           net.IP
	Text           []string
	InterfaceIndex int
	LastUpdate     int64 // monotonic milliseconds
}

// instanceState is the client's mutable, lock-protected cache entry for one
// service instance.
type instanceState struct {
	name wire.Name

	havePTR  bool
	haveSRV  bool
	haveTXT  bool
	subtypes map[string]struct{}

	port           uint16
	target         wire.Name
	ipv4           net.IP
	ipv6           net.IP
	text           []string
	interfaceIndex int

	srvExpiryMillis int64
	lastUpdate      int64

	reportedComplete bool
}

func newInstanceState(name wire.Name) *instanceState {
	return &instanceState{name: name, subtypes: make(map[string]struct{})}
}

func (s *instanceState) snapshot() ServiceInstance {
	subs := make([]string, 0, len(s.subtypes))
	for t := range s.subtypes {
		subs = append(subs, t)
	}
	return ServiceInstance{
		Name:           s.name,
		Subtypes:       subs,
		Port:           s.port,
		Target:         s.target,
		IPv4:           s.ipv4,
		IPv6:           s.ipv6,
		Text:           s.text,
		InterfaceIndex: s.interfaceIndex,
		LastUpdate:     s.lastUpdate,
	}
}

func (s *instanceState) complete() bool {
	return s.havePTR && s.haveSRV && s.haveTXT && (s.ipv4 != nil || s.ipv6 != nil)
}

// addPTR records that a PTR pointing at this instance was seen under
// subtype sub (empty for the base type). It never makes the instance
// "less" complete and is idempotent.
func (s *instanceState) addPTR(sub string) {
	s.havePTR = true
	if sub != "" {
		if _, ok := s.subtypes[sub]; !ok {
			s.subtypes[sub] = struct{}{}
		}
	}
}

// setSRV merges an SRV record, reporting whether anything actually changed
// and whether the previously-cached address records had to be dropped
// because the target host changed.
func (s *instanceState) setSRV(rec *wire.SRVRecord, now int64) (changed, addressesDropped bool) {
	targetChanged := !s.haveSRV || !s.target.Equal(rec.Target)
	if targetChanged {
		s.target = rec.Target
		if s.haveSRV && (s.ipv4 != nil || s.ipv6 != nil) {
			s.ipv4 = nil
			s.ipv6 = nil
			addressesDropped = true
		}
		changed = true
	}
	if s.port != rec.Port {
		s.port = rec.Port
		changed = true
	}
	s.haveSRV = true
	s.srvExpiryMillis = rec.Received + int64(rec.TTL)*1000
	if changed {
		s.lastUpdate = now
	}
	return changed, addressesDropped
}

func sameText(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *instanceState) setTXT(rec *wire.TXTRecord, now int64) (changed bool) {
	if !s.haveTXT || !sameText(s.text, rec.Entries) {
		s.text = rec.Entries
		changed = true
		s.lastUpdate = now
	}
	s.haveTXT = true
	return changed
}

func (s *instanceState) setIPv4(ip net.IP, now int64) (changed bool) {
	if !s.ipv4.Equal(ip) {
		s.ipv4 = ip
		changed = true
		s.lastUpdate = now
	}
	return changed
}

func (s *instanceState) setIPv6(ip net.IP, now int64) (changed bool) {
	if !s.ipv6.Equal(ip) {
		s.ipv6 = ip
		changed = true
		s.lastUpdate = now
	}
	return changed
}
