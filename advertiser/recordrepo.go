// Package advertiser implements the advertising side of the engine (spec
// section 4.5): a per-interface record repository, and prober/announcer
// specializations of the shared packet-repeater primitive that drive each
// registered service through probing, announcing, and exit.
package advertiser

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"

	"github.com/sereno-systems/mdnsd/dnssd"
	"github.com/sereno-systems/mdnsd/wire"
)

// TTL constants. Per RFC 6762 section 10, address records use a short TTL
// because a host's address changes more readily than its other records.
const (
	AddressTTL = 120
	RecordTTL  = 75 * 60
)

// ErrNameConflict is returned by AddService when another non-exiting
// registration already owns the requested instance name.
type ErrNameConflict struct {
	ExistingServiceID uint32
}

func (e *ErrNameConflict) Error() string {
	return fmt.Sprintf("advertiser: instance name already owned by service %d", e.ExistingServiceID)
}

// ErrDuplicateServiceID is returned by AddService when id is already
// registered.
var ErrDuplicateServiceID = errors.New("advertiser: service id already registered")

// ErrServiceNotFound is returned by operations addressing an unknown
// service id.
var ErrServiceNotFound = errors.New("advertiser: service id not found")

// ServiceInfo describes a service to register.
type ServiceInfo struct {
	Instance dnssd.InstanceName
	Type     dnssd.ServiceType
	Subtypes []dnssd.Subtype
	Port     uint16
	Text     []string
}

// ServiceRegistration is one registered service's full record set.
type ServiceRegistration struct {
	ID      uint32
	Info    ServiceInfo
	FQDN    wire.Name // <instance>.<type>.<domain>
	Exiting bool
	Probing bool
}

// ProbingInfo is produced by SetServiceProbing: the record the prober must
// verify nobody else owns.
type ProbingInfo struct {
	Names []wire.Name
	SRV   *wire.SRVRecord
}

// AnnouncementInfo is produced by OnProbingSucceeded, ExitService, and
// UpdateAddresses: a full response to send immediately.
type AnnouncementInfo struct {
	Answers    []wire.Record
	Additional []wire.Record
}

// RecordRepository owns one interface's host name, current addresses, and
// the set of registered services sharing that interface.
type RecordRepository struct {
	Domain   wire.Name
	HostName wire.Name

	ipv4 []net.IP
	ipv6 []net.IP

	services   map[uint32]*ServiceRegistration
	byInstance map[string]uint32
}

// NewRecordRepository returns a repository with a freshly-generated,
// per-interface host name, so that host identity cannot be correlated
// across interfaces.
func NewRecordRepository(domain wire.Name) *RecordRepository {
	return &RecordRepository{
		Domain:     domain,
		HostName:   randomHostName(domain),
		services:   make(map[uint32]*ServiceRegistration),
		byInstance: make(map[string]uint32),
	}
}

func randomHostName(domain wire.Name) wire.Name {
	var b [16]byte
	_, _ = rand.Read(b[:])
	label := wire.Label(fmt.Sprintf("Android_%x", b))
	return domain.Join(wire.Name{label})
}

// AddService registers a new service. It fails with ErrDuplicateServiceID
// if id is already known, or *ErrNameConflict if another non-exiting
// registration already owns the instance name.
func (r *RecordRepository) AddService(id uint32, info ServiceInfo) (*ServiceRegistration, error) {
	if _, ok := r.services[id]; ok {
		return nil, ErrDuplicateServiceID
	}

	fqdn := dnssd.InstanceFQDN(info.Instance, info.Type, r.Domain)
	key := fqdn.String()

	if existingID, ok := r.byInstance[key]; ok {
		if existing := r.services[existingID]; existing != nil && !existing.Exiting {
			return nil, &ErrNameConflict{ExistingServiceID: existingID}
		}
		delete(r.services, existingID)
	}

	reg := &ServiceRegistration{ID: id, Info: info, FQDN: fqdn}
	r.services[id] = reg
	r.byInstance[key] = id
	return reg, nil
}

// SetServiceProbing marks reg's records as probing and returns the probe
// target: the SRV record only.
func (r *RecordRepository) SetServiceProbing(id uint32) (*ProbingInfo, error) {
	reg, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	reg.Probing = true

	srv := r.srvRecord(reg)
	return &ProbingInfo{Names: []wire.Name{reg.FQDN}, SRV: srv}, nil
}

func (r *RecordRepository) srvRecord(reg *ServiceRegistration) *wire.SRVRecord {
	return &wire.SRVRecord{
		RecordHeader: wire.RecordHeader{Name: reg.FQDN, TTL: RecordTTL},
		Port:         reg.Info.Port,
		Target:       r.HostName,
	}
}

func (r *RecordRepository) txtRecord(reg *ServiceRegistration) *wire.TXTRecord {
	return &wire.TXTRecord{
		RecordHeader: wire.RecordHeader{Name: reg.FQDN, CacheFlush: true, TTL: RecordTTL},
		Entries:      reg.Info.Text,
	}
}

func (r *RecordRepository) instancePTR(reg *ServiceRegistration, ttl uint32) *wire.PTRRecord {
	return &wire.PTRRecord{
		RecordHeader: wire.RecordHeader{
			Name: dnssd.InstanceEnumerationDomain(reg.Info.Type, r.Domain),
			TTL:  ttl,
		},
		Target: reg.FQDN,
	}
}

func (r *RecordRepository) metaPTR(reg *ServiceRegistration, ttl uint32) *wire.PTRRecord {
	return &wire.PTRRecord{
		RecordHeader: wire.RecordHeader{Name: dnssd.MetaServiceDomain(r.Domain), TTL: ttl},
		Target:       dnssd.InstanceEnumerationDomain(reg.Info.Type, r.Domain),
	}
}

func (r *RecordRepository) addressRecords() []wire.Record {
	var out []wire.Record
	for _, ip := range r.ipv4 {
		rec := &wire.ARecord{RecordHeader: wire.RecordHeader{Name: r.HostName, CacheFlush: true, TTL: AddressTTL}}
		copy(rec.IP[:], ip.To4())
		out = append(out, rec)
	}
	for _, ip := range r.ipv6 {
		rec := &wire.AAAARecord{RecordHeader: wire.RecordHeader{Name: r.HostName, CacheFlush: true, TTL: AddressTTL}}
		copy(rec.IP[:], ip.To16())
		out = append(out, rec)
	}
	return out
}

// OnProbingSucceeded clears reg's probing flag and builds the full
// announcement: non-shared records with cache-flush set, the shared PTRs
// without cache-flush, plus NSEC records asserting exclusivity of each
// non-shared name (the instance FQDN's SRV/TXT, and the host name's
// A/AAAA if any addresses are registered).
func (r *RecordRepository) OnProbingSucceeded(id uint32) (*AnnouncementInfo, error) {
	reg, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	reg.Probing = false

	srv := r.srvRecord(reg)
	srv.CacheFlush = true
	txt := r.txtRecord(reg)

	info := &AnnouncementInfo{
		Answers: append([]wire.Record{srv, txt}, r.addressRecords()...),
	}
	info.Answers = append(info.Answers,
		r.instancePTR(reg, RecordTTL),
		r.metaPTR(reg, RecordTTL),
	)

	info.Additional = append(info.Additional, &wire.NSECRecord{
		RecordHeader: wire.RecordHeader{Name: reg.FQDN, CacheFlush: true, TTL: RecordTTL},
		NextDomain:   reg.FQDN,
		Types:        []wire.RRType{wire.TypeSRV, wire.TypeTXT},
	})

	if len(r.ipv4) > 0 || len(r.ipv6) > 0 {
		info.Additional = append(info.Additional, &wire.NSECRecord{
			RecordHeader: wire.RecordHeader{Name: r.HostName, CacheFlush: true, TTL: AddressTTL},
			NextDomain:   r.HostName,
			Types:        []wire.RRType{wire.TypeA, wire.TypeAAAA},
		})
	}

	return info, nil
}

// ExitService marks reg as exiting and returns a goodbye announcement
// (every record TTL=0), or nil if id is unknown or already exiting.
func (r *RecordRepository) ExitService(id uint32) *AnnouncementInfo {
	reg, ok := r.services[id]
	if !ok || reg.Exiting {
		return nil
	}
	reg.Exiting = true

	srv := r.srvRecord(reg)
	srv.TTL = 0
	txt := r.txtRecord(reg)
	txt.TTL = 0

	info := &AnnouncementInfo{Answers: []wire.Record{srv, txt}}
	for _, rec := range r.addressRecords() {
		rec.Header().TTL = 0
		info.Answers = append(info.Answers, rec)
	}
	info.Answers = append(info.Answers, r.instancePTR(reg, 0), r.metaPTR(reg, 0))

	return info
}

// RemoveService drops reg entirely.
func (r *RecordRepository) RemoveService(id uint32) {
	if reg, ok := r.services[id]; ok {
		delete(r.byInstance, reg.FQDN.String())
		delete(r.services, id)
	}
}

// RenameService replaces reg's instance name (used when a conflict forces
// a rename) and returns the registration's updated FQDN.
func (r *RecordRepository) RenameService(id uint32, newInstance dnssd.InstanceName) (*ServiceRegistration, error) {
	reg, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}

	delete(r.byInstance, reg.FQDN.String())
	reg.Info.Instance = newInstance
	reg.FQDN = dnssd.InstanceFQDN(newInstance, reg.Info.Type, r.Domain)
	r.byInstance[reg.FQDN.String()] = id
	return reg, nil
}

// UpdateAddresses replaces the repository's view of the interface's
// addresses and returns an announcement of the new address records for
// every currently-registered, non-probing service, or nil if there is
// nothing to announce.
func (r *RecordRepository) UpdateAddresses(ipv4, ipv6 []net.IP) *AnnouncementInfo {
	r.ipv4 = ipv4
	r.ipv6 = ipv6

	announced := false
	for _, reg := range r.services {
		if !reg.Probing && !reg.Exiting {
			announced = true
			break
		}
	}
	if !announced {
		return nil
	}

	info := &AnnouncementInfo{}
	for _, rec := range r.addressRecords() {
		info.Answers = append(info.Answers, rec)
	}
	if len(info.Answers) == 0 {
		return nil
	}
	return info
}

// Get returns the registration for id, if any.
func (r *RecordRepository) Get(id uint32) (*ServiceRegistration, bool) {
	reg, ok := r.services[id]
	return reg, ok
}
