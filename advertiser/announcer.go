package advertiser

import (
	"context"
	"time"

	"github.com/sereno-systems/mdnsd/wire"
)

// AnnounceInitialDelay is the delay before the first announcement; each
// subsequent delay doubles, producing cumulative send times of
// approximately 1s, 3s, 7s, 15s, 31s, 63s, 127s, 255s.
const AnnounceInitialDelay = time.Second

// Announcer drives the RFC 6762 section 8.3 announcing procedure: eight
// unsolicited responses with doubling spacing.
type Announcer struct {
	Answers    []wire.Record
	Additional []wire.Record
	Sender     Sender

	maxPacketSize int
}

// NumSends implements sched.Request.
func (a *Announcer) NumSends() int { return 8 }

// DelayBefore implements sched.Request: 1s before the first send, doubling
// before every subsequent one.
func (a *Announcer) DelayBefore(step int) time.Duration {
	return AnnounceInitialDelay << uint(step-1)
}

// Send implements sched.Request: transmits a full response carrying every
// announced record.
func (a *Announcer) Send(ctx context.Context, index int) error {
	m := wire.NewResponse()
	m.Answers = a.Answers
	m.Additional = a.Additional

	size := a.maxPacketSize
	if size == 0 {
		size = 9000
	}
	buf := make([]byte, size)
	n, err := m.Encode(buf)
	if err != nil {
		return nil
	}
	return a.Sender.Send(buf[:n])
}
