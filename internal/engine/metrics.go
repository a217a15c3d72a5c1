package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's Prometheus collectors. Counters are always
// usable; they are exported only when a registerer is supplied.
type Metrics struct {
	Placed        prometheus.Counter
	Clamped       *prometheus.CounterVec
	Pending       *prometheus.CounterVec
	Applied       *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	Expired       prometheus.Counter
	Notifications *prometheus.CounterVec
}

func newMetrics() *Metrics {
	return &Metrics{
		Placed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "messages_placed_total",
			Help:      "Messages inserted into a timeline.",
		}),
		Clamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "sort_index_clamped_total",
			Help:      "Claimed timestamps overridden to keep lane order.",
		}, []string{"direction"}),
		Pending: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "pending_stored_total",
			Help:      "Forward references recorded until their target arrives.",
		}, []string{"kind"}),
		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "mutations_applied_total",
			Help:      "Remote mutations applied to a stored message.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "payloads_dropped_total",
			Help:      "Payloads dropped as referential errors or policy rejections.",
		}, []string{"code"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "messages_expired_total",
			Help:      "Messages destroyed by the expiration sweep.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgweave",
			Name:      "notifications_total",
			Help:      "Downstream notifications published.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) register(reg prometheus.Registerer, queueLen func() float64) {
	reg.MustRegister(
		m.Placed,
		m.Clamped,
		m.Pending,
		m.Applied,
		m.Dropped,
		m.Expired,
		m.Notifications,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "msgweave",
			Name:      "queue_length",
			Help:      "Events waiting in the ingestion queue.",
		}, queueLen),
	)
}
