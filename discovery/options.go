package discovery

import "time"

// Scheduling constants governing query bursts. See RFC 6762 section 5.2.
const (
	// QueriesPerBurst is the number of queries sent in every active-mode
	// burst, and in a passive-mode client's first burst.
	QueriesPerBurst = 3

	// QueriesPerBurstPassiveMode is the number of queries sent in every
	// passive-mode burst after the first.
	QueriesPerBurstPassiveMode = 1

	// TimeBetweenQueriesInBurst is the fixed spacing between the queries
	// within a single burst.
	TimeBetweenQueriesInBurst = 20 * time.Millisecond

	// InitialTimeBetweenBursts is the inter-burst delay used for the first
	// active-mode burst gap, doubling on each subsequent burst.
	InitialTimeBetweenBursts = 5 * time.Second

	// MaxTimeBetweenBursts caps the active-mode doubling and is also the
	// fixed passive-mode inter-burst delay, per RFC 6762 section 5.2's
	// 60-minute ceiling.
	MaxTimeBetweenBursts = 60 * time.Minute
)

// MdnsSearchOptions configures a single service-type registration. To avoid
// shared mutable state, the default value is constructed once
// (DefaultSearchOptions) and never
// mutated.
type MdnsSearchOptions struct {
	// Passive selects passive scan mode: a single large first burst
	// followed by small, fixed-interval bursts, trading discovery latency
	// for network traffic. Active mode keeps every burst at full size and
	// only grows the interval between them.
	Passive bool

	// Subtypes additionally queried alongside the base service type.
	Subtypes []string

	// RemoveExpiredService enables the TTL expiry sweep: after each query,
	// complete cached instances whose SRV record has reached TTL 0 are
	// removed and reported via OnServiceRemoved.
	RemoveExpiredService bool
}

// DefaultSearchOptions is the immutable default configuration: active
// mode, no subtypes, no TTL expiry sweep.
var DefaultSearchOptions = MdnsSearchOptions{}
