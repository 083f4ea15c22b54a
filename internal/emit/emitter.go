// Package emit turns scored candidates into durable alert records. The
// order is fixed: dedup check, enrichment, durable append, then mirror
// and fanout. Nothing is delivered before the append succeeds.
package emit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/enrich"
	"github.com/solboy/solalerts/internal/metrics"
)

// Appender is the durable log surface the emitter writes to.
type Appender interface {
	Append(rec domain.AlertRecord) (string, error)
}

// Enricher fetches a live quote; nil quote means fall back to parsed
// figures.
type Enricher interface {
	Quote(ctx context.Context, contract string) (*enrich.Quote, error)
}

// AlertState answers dedup questions and records emissions.
type AlertState interface {
	Alerted(contract string) (tier int, at time.Time)
	MarkAlerted(contract string, tier int, at time.Time)
}

// Sink receives the record after the durable append.
type Sink interface {
	Offer(rec domain.AlertRecord)
}

// Config bounds the emitter.
type Config struct {
	DedupeWindow  time.Duration
	EnrichTimeout time.Duration
}

// Emitter owns the candidate-to-record path.
type Emitter struct {
	cfg      Config
	state    AlertState
	enricher Enricher
	journal  Appender
	sinks    []Sink
	onEmit   func(symbol string, tier int, at time.Time)
	log      zerolog.Logger
}

// New builds an emitter. enricher may be nil; onEmit may be nil. Sinks
// are notified in order after the append.
func New(cfg Config, state AlertState, enricher Enricher, journal Appender, log zerolog.Logger, sinks ...Sink) *Emitter {
	if cfg.EnrichTimeout == 0 {
		cfg.EnrichTimeout = 2 * time.Second
	}
	return &Emitter{
		cfg:      cfg,
		state:    state,
		enricher: enricher,
		journal:  journal,
		sinks:    sinks,
		log:      log.With().Str("component", "emit").Logger(),
	}
}

// OnEmit registers a callback invoked after every successful append,
// used to feed the scorer's alert history.
func (e *Emitter) OnEmit(fn func(symbol string, tier int, at time.Time)) { e.onEmit = fn }

// Emit processes one candidate. It returns the stored record, or nil
// when the dedup window suppressed it.
func (e *Emitter) Emit(ctx context.Context, cand *domain.AlertCandidate) (*domain.AlertRecord, error) {
	prevTier, prevAt := e.state.Alerted(cand.Contract)
	if prevTier != 0 && cand.ObservedAt.Sub(prevAt) < e.cfg.DedupeWindow &&
		!domain.StrongerTier(cand.Tier, prevTier) {
		metrics.DedupSuppressed.Inc()
		e.log.Debug().Str("contract", cand.Contract).Int("tier", cand.Tier).
			Int("prev_tier", prevTier).Msg("suppressed by dedup window")
		return nil, nil
	}

	rec := e.buildRecord(ctx, cand)

	id, err := e.journal.Append(rec)
	if err != nil {
		return nil, fmt.Errorf("append alert %s: %w", rec.ID, err)
	}
	rec.ID = id

	e.state.MarkAlerted(cand.Contract, cand.Tier, cand.ObservedAt)
	if e.onEmit != nil {
		e.onEmit(cand.Symbol, cand.Tier, cand.ObservedAt)
	}
	metrics.AlertsEmitted.WithLabelValues(strconv.Itoa(cand.Tier)).Inc()
	e.log.Info().Str("id", rec.ID).Str("token", rec.Token).Int("tier", rec.Tier).
		Str("theme", cand.Theme).Msg("alert emitted")

	for _, sink := range e.sinks {
		sink.Offer(rec)
	}
	return &rec, nil
}

// buildRecord assembles the persisted form, enriching with a live quote
// when one arrives inside the deadline.
func (e *Emitter) buildRecord(ctx context.Context, cand *domain.AlertCandidate) domain.AlertRecord {
	tags := make([]string, 0, len(cand.Tags))
	for _, t := range cand.Tags {
		tags = append(tags, string(t))
	}

	liquidity := cand.LiquidityUSD
	entryMC := cand.EntryMCUSD
	stale := false
	if e.enricher != nil {
		qctx, cancel := context.WithTimeout(ctx, e.cfg.EnrichTimeout)
		quote, err := e.enricher.Quote(qctx, cand.Contract)
		cancel()
		if err != nil {
			metrics.EnrichFailures.Inc()
			e.log.Debug().Err(err).Str("contract", cand.Contract).Msg("enrichment failed")
			stale = true
		} else {
			if quote.LiquidityUSD != nil {
				liquidity = quote.LiquidityUSD
			}
			if entryMC == nil {
				entryMC = quote.MarketCapUSD
			}
		}
	}
	if stale && !containsTag(tags, string(domain.TagStaleMC)) {
		tags = append(tags, string(domain.TagStaleMC))
		sort.Strings(tags)
	}

	hotlist := "No"
	if cand.Hotlist {
		hotlist = "Yes"
	}
	return domain.AlertRecord{
		ID:                domain.RecordID(cand.Contract, cand.ObservedAt),
		Token:             cand.Symbol,
		Tier:              cand.Tier,
		Level:             domain.LevelForTier(cand.Tier),
		Timestamp:         cand.ObservedAt.UTC().Format(time.RFC3339),
		Contract:          cand.Contract,
		EntryMC:           entryMC,
		Hotlist:           hotlist,
		Description:       describe(cand),
		MatchedSignals:    cand.MatchedSignals,
		Tags:              tags,
		Liquidity:         liquidity,
		Callers:           cand.Callers,
		Subs:              cand.Subs,
		ConfirmationCount: cand.Confirmations,
		CohortTime:        cand.CohortStart.UTC().Format(time.RFC3339),
	}
}

// describe renders the one-line human summary stored with the record.
func describe(cand *domain.AlertCandidate) string {
	age := domain.RelativeTime(cand.CohortStart, cand.ObservedAt)
	var b strings.Builder
	switch cand.Theme {
	case "hotlist":
		b.WriteString("Top-5 hotlist token")
	case "momentum":
		b.WriteString("Momentum spike")
	case "smart_money":
		b.WriteString("Large buys detected")
	default:
		b.WriteString("Early trending token")
	}
	fmt.Fprintf(&b, ", cohort started %s", age)
	if n := len(cand.MatchedSignals); n > 0 {
		fmt.Fprintf(&b, " with %d confirmation", n)
		if n > 1 {
			b.WriteString("s")
		}
	}
	if cand.EntryMCUSD != nil {
		fmt.Fprintf(&b, " at $%.0fK MC", *cand.EntryMCUSD/1000)
	}
	return b.String()
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
