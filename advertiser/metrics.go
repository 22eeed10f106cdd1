package advertiser

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the advertiser's Prometheus instrumentation. A nil
// *Metrics is valid; every method on it is then a no-op.
type Metrics struct {
	probesSent     prometheus.Counter
	announcesSent  prometheus.Counter
	conflicts      prometheus.Counter
	registered     prometheus.Counter
}

// NewMetrics constructs a Metrics and registers its collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		probesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "advertiser",
			Name:      "probes_sent_total",
			Help:      "Total probe queries sent.",
		}),
		announcesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "advertiser",
			Name:      "announces_sent_total",
			Help:      "Total announcement responses sent.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "advertiser",
			Name:      "conflicts_total",
			Help:      "Total name conflicts detected during probing or after registration.",
		}),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "advertiser",
			Name:      "services_registered_total",
			Help:      "Total services that completed probing and announcing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.probesSent, m.announcesSent, m.conflicts, m.registered)
	}

	return m
}

func (m *Metrics) incProbesSent() {
	if m != nil {
		m.probesSent.Inc()
	}
}

func (m *Metrics) incAnnouncesSent() {
	if m != nil {
		m.announcesSent.Inc()
	}
}

func (m *Metrics) incConflicts() {
	if m != nil {
		m.conflicts.Inc()
	}
}

func (m *Metrics) incRegistered() {
	if m != nil {
		m.registered.Inc()
	}
}
