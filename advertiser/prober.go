package advertiser

import (
	"context"
	"time"

	"github.com/sereno-systems/mdnsd/sched"
	"github.com/sereno-systems/mdnsd/wire"
)

// ProbeSpacing is the fixed interval between probe transmissions.
const ProbeSpacing = 250 * time.Millisecond

// Prober drives the RFC 6762 section 8.1 uniqueness-verification
// procedure: three probe queries 250ms apart, with a random initial
// delay in [0, 250ms).
type Prober struct {
	Names   []wire.Name
	Records []wire.Record // placed in the authority section
	Random  sched.Random
	Sender  Sender

	maxPacketSize int
}

// NumSends implements sched.Request.
func (p *Prober) NumSends() int { return 3 }

// DelayBefore implements sched.Request: a random jitter before the first
// probe, a fixed 250ms before each subsequent one.
func (p *Prober) DelayBefore(step int) time.Duration {
	if step == 1 {
		return sched.RandDuration(p.Random, ProbeSpacing)
	}
	return ProbeSpacing
}

// Send implements sched.Request: transmits one probe query asking about
// every name in p.Names, with p.Records placed in the authority section.
func (p *Prober) Send(ctx context.Context, index int) error {
	m := wire.NewQuery()
	for _, name := range p.Names {
		m.Questions = append(m.Questions, wire.Question{
			Name: name, Type: wire.TypeANY, Class: wire.ClassINET,
		})
	}
	m.Authority = p.Records

	size := p.maxPacketSize
	if size == 0 {
		size = 9000
	}
	buf := make([]byte, size)
	n, err := m.Encode(buf)
	if err != nil {
		return nil
	}
	return p.Sender.Send(buf[:n])
}
