package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters. Every drop, suppression and retry in the pipeline
// increments exactly one of these; /api/health summarizes them.
var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_messages_received_total",
		Help: "Raw messages received per source",
	}, []string{"source"})

	ParseMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_parse_miss_total",
		Help: "Messages that yielded no usable event, per source",
	}, []string{"source"})

	IngestDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_ingest_dropped_total",
		Help: "Messages dropped on buffer overflow, per source",
	}, []string{"source"})

	StaleEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_stale_events_total",
		Help: "Parsed events older than the ingest latency budget",
	})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_source_reconnects_total",
		Help: "Transport reconnect attempts per source",
	}, []string{"source"})

	EligibilityRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_eligibility_rejected_total",
		Help: "Candidates rejected by an eligibility gate",
	}, []string{"gate"})

	DedupSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_dedup_suppressed_total",
		Help: "Alert candidates suppressed by the dedup window",
	})

	AlertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_alerts_emitted_total",
		Help: "Alert records appended to the log, per tier",
	}, []string{"tier"})

	EnrichFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_enrich_failures_total",
		Help: "Quote enrichment calls that timed out or failed",
	})

	JournalRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_journal_retries_total",
		Help: "Durable log write retries",
	})

	EmergencyWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_journal_emergency_total",
		Help: "Records diverted to the emergency sidecar",
	})

	MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_mirror_failures_total",
		Help: "Remote mirror push cycles that exhausted retries",
	})

	FanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solalerts_fanout_dropped_total",
		Help: "Alerts dropped on fan-out channel overflow",
	})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solalerts_delivery_failures_total",
		Help: "Per-recipient delivery failures by class",
	}, []string{"class"})
)

// Snapshot is the counter summary embedded in /api/health.
type Snapshot struct {
	ParseMisses      float64 `json:"parseMisses"`
	IngestDropped    float64 `json:"ingestDropped"`
	StaleEvents      float64 `json:"staleEvents"`
	DedupSuppressed  float64 `json:"dedupSuppressed"`
	EnrichFailures   float64 `json:"enrichFailures"`
	JournalRetries   float64 `json:"journalRetries"`
	EmergencyWrites  float64 `json:"emergencyWrites"`
	MirrorFailures   float64 `json:"mirrorFailures"`
	FanoutDropped    float64 `json:"fanoutDropped"`
}

// Gather reads the default registry into a Snapshot. Missing families
// report zero.
func Gather() Snapshot {
	fams, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return Snapshot{}
	}
	sum := func(name string) float64 {
		var total float64
		for _, f := range fams {
			if f.GetName() != name {
				continue
			}
			for _, m := range f.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		}
		return total
	}
	return Snapshot{
		ParseMisses:     sum("solalerts_parse_miss_total"),
		IngestDropped:   sum("solalerts_ingest_dropped_total"),
		StaleEvents:     sum("solalerts_stale_events_total"),
		DedupSuppressed: sum("solalerts_dedup_suppressed_total"),
		EnrichFailures:  sum("solalerts_enrich_failures_total"),
		JournalRetries:  sum("solalerts_journal_retries_total"),
		EmergencyWrites: sum("solalerts_journal_emergency_total"),
		MirrorFailures:  sum("solalerts_mirror_failures_total"),
		FanoutDropped:   sum("solalerts_fanout_dropped_total"),
	}
}
