package advertiser

// Sender transmits an encoded mDNS packet on the interface an
// InterfaceAdvertiser owns. It is the advertiser-side analogue of the
// discovery package's Transport, kept as a separate, narrower interface
// since the advertiser never starts or stops the underlying socket itself
// (the socket provider owns that lifecycle).
type Sender interface {
	Send(data []byte) error
}
