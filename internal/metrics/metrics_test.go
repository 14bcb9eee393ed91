package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Send(nil)
	m.Send(errors.New("x"))
	m.Send(nil)
	m.LedgerUpsert("incoming", nil)
	m.ListChanged(3, 7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Sends.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerUpserts.WithLabelValues("incoming", "ok")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TotalUnread))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Conversations))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Send(nil)
		m.LedgerUpsert("outgoing", nil)
		m.LiveEvent("messages", "dropped")
		m.ReadMark(nil)
		m.SubscriptionFailed()
		m.ListChanged(1, 1)
		m.Blob("upload", nil)
	})
}
