// Package metrics exposes the overlay's counters as Prometheus counters.
// The original implementation feature-gates these behind a "stats" Cargo
// feature; this port carries them unconditionally since the counters are
// cheap and Go has no equivalent compile-time feature flag.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter the routing and node packages increment. The zero value is not usable; construct with New.
type Metrics struct {
	LoopDetected         prometheus.Counter
	StaleHeartbeat       prometheus.Counter
	CacheSelect          prometheus.Counter
	CacheClear           prometheus.Counter
	Failover             prometheus.Counter
	HeartbeatsSent       prometheus.Counter
	HeartbeatsForwarded  prometheus.Counter
	DecryptFailed        prometheus.Counter
}

// New registers the overlay's counters against reg and returns a Metrics
// bundle. Pass prometheus.NewRegistry() for an isolated registry (tests)
// or nil to use the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "overlay",
			Name:      name,
			Help:      help,
		})
		reg.MustRegister(c)
		return c
	}
	return &Metrics{
		LoopDetected:        factory("loop_detected_total", "HeartbeatReply messages dropped as routing loops."),
		StaleHeartbeat:      factory("stale_heartbeat_total", "HeartbeatReply messages dropped as referring to an out-of-window sequence."),
		CacheSelect:         factory("cache_select_total", "Times the OBU upstream candidate cache was (re)selected."),
		CacheClear:          factory("cache_clear_total", "Times the OBU upstream candidate cache was cleared."),
		Failover:            factory("failover_total", "Times the OBU promoted a new cached upstream after a send failure."),
		HeartbeatsSent:      factory("heartbeats_sent_total", "Heartbeats emitted by this RSU."),
		HeartbeatsForwarded: factory("heartbeats_forwarded_total", "Heartbeats rebroadcast by this OBU."),
		DecryptFailed:       factory("decrypt_failed_total", "Inbound payloads dropped because AEAD decryption failed."),
	}
}

// Noop returns a Metrics bundle backed by a private registry, suitable for
// tests and for nodes run with metrics disabled.
func Noop() *Metrics {
	return New(prometheus.NewRegistry())
}
