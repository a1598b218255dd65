// Package metrics exposes Prometheus collectors for the server loop and
// message processors. Grounded on the teacher's own dependency on
// github.com/prometheus/client_golang (plugins/exporter/prometheus), used
// here directly via the standard Vec collector types rather than that
// plugin's reflect-based struct-tag mapper, since the core has a small,
// fixed metric set that doesn't need a generic mapping layer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every metric the core registers.
type Collectors struct {
	MessagesTotal   *prometheus.CounterVec
	LeasesIssued    prometheus.Counter
	LeasesActive    prometheus.Gauge
	AllocFailures   *prometheus.CounterVec
	HookSkipsTotal  *prometheus.CounterVec
}

// New constructs and registers the core's collectors against reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcp6d",
			Name:      "messages_total",
			Help:      "DHCPv6 messages processed, by message type.",
		}, []string{"message_type"}),
		LeasesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dhcp6d",
			Name:      "leases_issued_total",
			Help:      "Leases created by REQUEST processing.",
		}),
		LeasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhcp6d",
			Name:      "leases_active",
			Help:      "Leases currently present in the lease store.",
		}),
		AllocFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcp6d",
			Name:      "allocation_failures_total",
			Help:      "Allocation engine failures, by reason.",
		}, []string{"reason"}),
		HookSkipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhcp6d",
			Name:      "hook_skips_total",
			Help:      "Requests where a registered hook set the skip flag, by hook point.",
		}, []string{"point"}),
	}

	reg.MustRegister(c.MessagesTotal, c.LeasesIssued, c.LeasesActive, c.AllocFailures, c.HookSkipsTotal)
	return c
}
