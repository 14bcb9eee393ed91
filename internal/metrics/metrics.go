// Package metrics exposes the sync core's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Sends          *prometheus.CounterVec
	LedgerUpserts  *prometheus.CounterVec
	LiveEvents     *prometheus.CounterVec
	ReadBatch      *prometheus.CounterVec
	Subscriptions  prometheus.Counter
	TotalUnread    prometheus.Gauge
	Conversations  prometheus.Gauge
	BlobOperations *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg gives unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync", Name: "sends_total",
			Help: "Outgoing message sends by result.",
		}, []string{"result"}),
		LedgerUpserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync", Name: "ledger_upserts_total",
			Help: "Conversation summary writes by projection and result.",
		}, []string{"projection", "result"}),
		LiveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync", Name: "live_events_total",
			Help: "Live feed deliveries by feed and outcome.",
		}, []string{"feed", "outcome"}),
		ReadBatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync", Name: "read_marks_total",
			Help: "Messages marked read by result.",
		}, []string{"result"}),
		Subscriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync", Name: "subscription_failures_total",
			Help: "Live feeds that could not be established after retries.",
		}),
		TotalUnread: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync", Name: "unread_total",
			Help: "Sum of unread counts across the merged conversation list.",
		}),
		Conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatsync", Name: "conversations",
			Help: "Rows in the merged conversation list.",
		}),
		BlobOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync", Name: "blob_operations_total",
			Help: "Avatar uploads and signed URL lookups by result.",
		}, []string{"op", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Sends, m.LedgerUpserts, m.LiveEvents, m.ReadBatch,
			m.Subscriptions, m.TotalUnread, m.Conversations, m.BlobOperations)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) Send(err error) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) LedgerUpsert(projection string, err error) {
	if m == nil {
		return
	}
	m.LedgerUpserts.WithLabelValues(projection, result(err)).Inc()
}

func (m *Metrics) LiveEvent(feed, outcome string) {
	if m == nil {
		return
	}
	m.LiveEvents.WithLabelValues(feed, outcome).Inc()
}

func (m *Metrics) ReadMark(err error) {
	if m == nil {
		return
	}
	m.ReadBatch.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) SubscriptionFailed() {
	if m == nil {
		return
	}
	m.Subscriptions.Inc()
}

func (m *Metrics) ListChanged(rows, unread int) {
	if m == nil {
		return
	}
	m.Conversations.Set(float64(rows))
	m.TotalUnread.Set(float64(unread))
}

func (m *Metrics) Blob(op string, err error) {
	if m == nil {
		return
	}
	m.BlobOperations.WithLabelValues(op, result(err)).Inc()
}

// Handler serves the registry in the prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
