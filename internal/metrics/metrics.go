package metrics

import (
	"roomchat/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports session activity to Prometheus.
type Collector struct {
	FramesSent      *prometheus.CounterVec
	EventsReceived  *prometheus.CounterVec
	DecodeFallbacks prometheus.Counter
	SessionState    *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		FramesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_frames_sent_total",
			Help: "Frames written to the chat server by kind",
		}, []string{"kind"}),

		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomchat_events_received_total",
			Help: "Inbound frames by decoded event kind",
		}, []string{"kind"}),

		DecodeFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roomchat_decode_fallbacks_total",
			Help: "Inbound frames that were not structured events and were passed through raw",
		}),

		SessionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomchat_sessions",
			Help: "Number of sessions currently in each state",
		}, []string{"state"}),
	}

	reg.MustRegister(c.FramesSent, c.EventsReceived, c.DecodeFallbacks, c.SessionState)
	return c
}

func (c *Collector) FrameSent(kind models.FrameType) {
	c.FramesSent.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) EventReceived(kind models.EventKind) {
	c.EventsReceived.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) DecodeFallback() {
	c.DecodeFallbacks.Inc()
}

// StateChanged moves one session from the from bucket to the to bucket.
func (c *Collector) StateChanged(from, to models.SessionState) {
	c.SessionState.WithLabelValues(from.String()).Dec()
	c.SessionState.WithLabelValues(to.String()).Inc()
}

// SessionCreated counts a new session as Connecting.
func (c *Collector) SessionCreated() {
	c.SessionState.WithLabelValues(models.StateConnecting.String()).Inc()
}
