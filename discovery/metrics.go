package discovery

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the discovery client's Prometheus instrumentation. A nil
// *Metrics is valid and every method on it is a no-op, so instrumentation
// can be omitted entirely by callers that do not register a collector.
type Metrics struct {
	queriesSent      prometheus.Counter
	responsesParsed  prometheus.Counter
	parseFailures     prometheus.Counter
	servicesFound    prometheus.Counter
	servicesRemoved  prometheus.Counter
}

// NewMetrics constructs a Metrics and registers its collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "discovery",
			Name:      "queries_sent_total",
			Help:      "Total mDNS queries sent by the discovery client.",
		}),
		responsesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "discovery",
			Name:      "responses_parsed_total",
			Help:      "Total mDNS responses successfully decoded by the discovery client.",
		}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "discovery",
			Name:      "parse_failures_total",
			Help:      "Total inbound packets the discovery client failed to decode.",
		}),
		servicesFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "discovery",
			Name:      "services_found_total",
			Help:      "Total service instances found; each is counted once, however many listeners are notified.",
		}),
		servicesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mdnsd",
			Subsystem: "discovery",
			Name:      "services_removed_total",
			Help:      "Total service instances removed, by TTL expiry or goodbye; each is counted once, however many listeners are notified.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.queriesSent, m.responsesParsed, m.parseFailures, m.servicesFound, m.servicesRemoved)
	}

	return m
}

func (m *Metrics) incQueriesSent() {
	if m != nil {
		m.queriesSent.Inc()
	}
}

func (m *Metrics) incResponsesParsed() {
	if m != nil {
		m.responsesParsed.Inc()
	}
}

func (m *Metrics) incParseFailures() {
	if m != nil {
		m.parseFailures.Inc()
	}
}

func (m *Metrics) incServicesFound() {
	if m != nil {
		m.servicesFound.Inc()
	}
}

func (m *Metrics) incServicesRemoved() {
	if m != nil {
		m.servicesRemoved.Inc()
	}
}
