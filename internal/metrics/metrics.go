// Package metrics exposes Prometheus collectors for playback, the lock and
// websocket subscribers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keshon/muminst/internal/lock"
)

const namespace = "muminst"

// Metrics owns a private registry so tests can create as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	plays       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	locked      prometheus.Gauge
	subscribers prometheus.Gauge
	tracks      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		plays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "play_requests_total",
			Help:      "Play requests by client and result.",
		}, []string{"client", "result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_transitions_total",
			Help:      "Lock state transitions published to subscribers.",
		}, []string{"state"}),
		locked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lock_held",
			Help:      "1 while a sound holds the lock.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_subscribers",
			Help:      "Connected websocket subscribers.",
		}),
		tracks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_events_total",
			Help:      "Player events by status.",
		}, []string{"status"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.plays, m.transitions, m.locked, m.subscribers, m.tracks,
	)
	return m
}

// Publish implements lock.Publisher.
func (m *Metrics) Publish(c lock.Changed) {
	if c.Locked {
		m.transitions.WithLabelValues("locked").Inc()
		m.locked.Set(1)
		return
	}
	m.transitions.WithLabelValues("unlocked").Inc()
	m.locked.Set(0)
}

// ObservePlay counts one play request. result is "ok" or a short error class.
func (m *Metrics) ObservePlay(client, result string) {
	m.plays.WithLabelValues(client, result).Inc()
}

// ObservePlayerEvent counts a player event by its status.
func (m *Metrics) ObservePlayerEvent(status string) {
	m.tracks.WithLabelValues(status).Inc()
}

// SetSubscribers records the current websocket subscriber count.
func (m *Metrics) SetSubscribers(n int) {
	m.subscribers.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
