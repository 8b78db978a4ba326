// Package metrics holds the counters and gauges the emulator exposes.
// None of these drive behavior; they are incidental instrumentation on
// top of the operations described in the component design, following
// the instrumentation style kata-containers applies to its runtime.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// InstructionsRetired counts instructions executed across all
	// exec_run calls, labeled by CCD id.
	InstructionsRetired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pspemu",
		Name:      "instructions_retired_total",
		Help:      "Number of guest instructions retired.",
	}, []string{"ccd"})

	// SvcCallsDispatched counts SVC dispatches, labeled by syscall
	// number and outcome (handled, unimplemented).
	SvcCallsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pspemu",
		Name:      "svc_calls_dispatched_total",
		Help:      "Number of SVC traps dispatched by the SVC layer.",
	}, []string{"syscall", "outcome"})

	// ProxyRoundTrips counts calls forwarded across the proxy bridge.
	ProxyRoundTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pspemu",
		Name:      "proxy_round_trips_total",
		Help:      "Number of requests forwarded to the proxy client.",
	}, []string{"kind"})

	// X86MappingSlotsInUse tracks the live x86 cached mapping slot
	// count per CCD; ranges 0..8 per the hardware limit.
	X86MappingSlotsInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pspemu",
		Name:      "x86_mapping_slots_in_use",
		Help:      "Number of occupied x86 cached mapping slots.",
	}, []string{"ccd"})
)

func init() {
	prometheus.MustRegister(InstructionsRetired, SvcCallsDispatched, ProxyRoundTrips, X86MappingSlotsInUse)
}
