// Package metrics exposes the server's Prometheus collectors, registered
// into a private registry and served by internal/admin's /metrics handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups every metric the server updates. Built once at startup
// and threaded into the server, which updates it.
type Collectors struct {
	Registry *prometheus.Registry

	OnlinePlayers    prometheus.Gauge
	RoomsByState     *prometheus.GaugeVec
	ConnectionsTotal prometheus.Counter
	FramesProcessed  prometheus.Counter
	InvalidFrames    prometheus.Counter
}

// New registers and returns a fresh set of collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		Registry: reg,
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blackjackd",
			Name:      "online_players",
			Help:      "Number of currently connected players.",
		}),
		RoomsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "blackjackd",
			Name:      "rooms_by_state",
			Help:      "Number of rooms currently in each state.",
		}, []string{"state"}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackjackd",
			Name:      "connections_total",
			Help:      "Total TCP connections accepted.",
		}),
		FramesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackjackd",
			Name:      "frames_processed_total",
			Help:      "Total well-formed protocol frames processed.",
		}),
		InvalidFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blackjackd",
			Name:      "invalid_frames_total",
			Help:      "Total frames rejected by the codec; handler-level rejections are not counted.",
		}),
	}

	reg.MustRegister(c.OnlinePlayers, c.RoomsByState, c.ConnectionsTotal, c.FramesProcessed, c.InvalidFrames)
	return c
}
