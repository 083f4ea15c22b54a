package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	fams, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range fams {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestCountersRegistered(t *testing.T) {
	MessagesReceived.WithLabelValues("buys").Inc()
	AlertsEmitted.WithLabelValues("1").Inc()
	DedupSuppressed.Inc()

	fam := findFamily(t, "solalerts_messages_received_total")
	require.NotNil(t, fam)
	assert.Equal(t, dto.MetricType_COUNTER, fam.GetType())

	var sourceLabel string
	for _, m := range fam.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "source" {
				sourceLabel = l.GetValue()
			}
		}
	}
	assert.Equal(t, "buys", sourceLabel)
}

func TestGatherSnapshot(t *testing.T) {
	before := Gather()
	DedupSuppressed.Inc()
	DedupSuppressed.Inc()
	after := Gather()

	assert.InDelta(t, before.DedupSuppressed+2, after.DedupSuppressed, 0.001)
	// Families that never fired report zero, not an error.
	assert.GreaterOrEqual(t, after.MirrorFailures, 0.0)
}
