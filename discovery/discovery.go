// Package discovery implements the mDNS discovery client: a
// per-service-type query scheduler that aggregates responses into
// a cache of service instances and reports completeness changes to
// listeners.
package discovery

import (
	"github.com/sereno-systems/mdnsd/wire"
)

// Listener receives callbacks about one registered service type. All
// methods are invoked after the owning ServiceTypeClient's lock has been
// released; implementations must not call back into the client
// synchronously.
type Listener interface {
	OnServiceFound(ServiceInstance)
	OnServiceUpdated(ServiceInstance)
	OnServiceRemoved(name wire.Name)
	OnDiscoveryQuerySent()
	OnFailedToParseMdnsResponse(packetNumber int, err error)
}

// Transport is the shared socket transport a DiscoveryManager sends
// queries through and receives responses from. It is started when the
// first service type is registered and stopped when the last is
// unregistered.
type Transport interface {
	Start() error
	Stop() error
	Send(data []byte) error
}
