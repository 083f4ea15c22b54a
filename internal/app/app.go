// Package app assembles the pipeline: ingest sessions feed parser
// workers, parsed events funnel into one correlator goroutine, and
// emitted alerts flow to the journal, the mirror and the fanout.
package app

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/correlate"
	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/emit"
	"github.com/solboy/solalerts/internal/enrich"
	"github.com/solboy/solalerts/internal/fanout"
	"github.com/solboy/solalerts/internal/ingest"
	"github.com/solboy/solalerts/internal/journal"
	"github.com/solboy/solalerts/internal/metrics"
	"github.com/solboy/solalerts/internal/mirror"
	"github.com/solboy/solalerts/internal/outcomes"
	"github.com/solboy/solalerts/internal/parse"
	"github.com/solboy/solalerts/internal/state"
)

const evictInterval = time.Minute

// App owns every long-lived component of the pipeline process.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	journal   *journal.Journal
	store     *state.Store
	scorer    *correlate.Scorer
	parser    *parse.Parser
	emitter   *emit.Emitter
	manager   *ingest.Manager
	committer *mirror.Committer
	mirrorSt  mirror.Store
	fan       *fanout.Fanout
	outcomes  *outcomes.Store
	relayNC   *nats.Conn
}

// New wires the pipeline from configuration. Nothing starts running
// until Run.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	a.journal = journal.New(cfg.Journal, log)

	sources := make([]domain.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, s.Source())
	}
	a.parser = parse.New(sources, parse.Config{
		LargeBuySOL: cfg.Thresholds.LargeBuySOL,
		WhaleBuySOL: cfg.Thresholds.WhaleBuySOL,
	})

	a.store = state.New(state.Config{
		Window:              cfg.Thresholds.StateWindow,
		HotlistWindow:       cfg.Thresholds.HotlistWindow,
		MaxEventsPerToken:   cfg.Thresholds.MaxEventsPerToken,
		MaxTrackedContracts: cfg.Thresholds.MaxTrackedContracts,
		MinCohortMultiplier: cfg.Thresholds.CohortMinMultiplier,
	})

	if cfg.Outcomes.Enabled {
		st, err := outcomes.Open(ctx, cfg.Outcomes.DSN)
		if err != nil {
			return nil, fmt.Errorf("outcomes store: %w", err)
		}
		a.outcomes = st
	}
	var reader correlate.OutcomeReader
	if a.outcomes != nil {
		reader = a.outcomes
	}
	a.scorer = correlate.New(cfg.Thresholds, reader)

	registry, err := fanout.LoadRegistry(cfg.Fanout.RegistryPath)
	if err != nil {
		return nil, err
	}
	var deliverer fanout.Deliverer = &logDeliverer{log: log}
	if relayURL := relayURL(cfg); relayURL != "" {
		nc, err := nats.Connect(relayURL, nats.Timeout(10*time.Second))
		if err != nil {
			log.Warn().Err(err).Msg("delivery relay unreachable, logging alerts only")
		} else {
			a.relayNC = nc
			deliverer = &natsDeliverer{nc: nc}
		}
	}
	a.fan = fanout.New(registry, deliverer, cfg.Fanout.BroadcastChannel, cfg.Ingest.FanoutBuffer, log)

	sinks := []emit.Sink{a.fan}
	if cfg.Mirror.Enabled {
		a.mirrorSt = mirror.NewRedisStore(cfg.Mirror)
		a.committer = mirror.NewCommitter(a.mirrorSt, log)
		sinks = append(sinks, a.committer)
	}

	a.emitter = emit.New(emit.Config{
		DedupeWindow:  cfg.Thresholds.DedupeWindow,
		EnrichTimeout: cfg.Enrich.Timeout,
	}, a.store, enrich.New(cfg.Enrich), a.journal, log, sinks...)
	a.emitter.OnEmit(a.scorer.RecordAlert)

	a.manager = ingest.NewManager(cfg.Ingest, log)
	for _, src := range cfg.Sources {
		a.manager.Add(src, a.transportFor(src))
	}
	return a, nil
}

func (a *App) transportFor(src config.SourceConfig) ingest.Transport {
	token := a.cfg.SourceCredential(src)
	if src.Transport == "nats" {
		return &ingest.NatsTransport{URL: src.URL, Subject: src.Subject, Token: token}
	}
	return &ingest.WebsocketTransport{URL: src.URL, Token: token}
}

// relayURL picks the NATS endpoint used for alert delivery: the first
// nats-transport source shares its relay.
func relayURL(cfg *config.Config) string {
	for _, s := range cfg.Sources {
		if s.Transport == "nats" {
			return s.URL
		}
	}
	return ""
}

// Run executes the pipeline until ctx is cancelled or an unrecoverable
// ingest error occurs. A returned ingest.ErrAuth means the process must
// exit with the auth status code.
func (a *App) Run(ctx context.Context) error {
	if err := a.journal.Open(); err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer a.journal.Close()
	defer a.closeStores()

	if a.mirrorSt != nil {
		a.reconcileMirror(ctx)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan domain.ParsedEvent, a.cfg.Ingest.ParserBuffer)

	a.manager.Start(runCtx)

	var parseWG sync.WaitGroup
	workers := a.cfg.Ingest.ParserConcurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	for i := 0; i < workers; i++ {
		parseWG.Add(1)
		go func() {
			defer parseWG.Done()
			a.parseLoop(events)
		}()
	}

	correlatorDone := make(chan struct{})
	go func() {
		defer close(correlatorDone)
		a.correlatorLoop(runCtx, events)
	}()

	evictTicker := time.NewTicker(evictInterval)
	defer evictTicker.Stop()

	var fatal error
loop:
	for {
		select {
		case <-ctx.Done():
			a.log.Info().Msg("shutdown requested")
			break loop
		case err := <-a.manager.Fatal():
			fatal = err
			a.log.Error().Err(err).Msg("unrecoverable ingest failure")
			break loop
		case <-evictTicker.C:
			if n := a.store.Evict(time.Now().UTC()); n > 0 {
				a.log.Debug().Int("evicted", n).Msg("state eviction")
			}
		}
	}

	// Drain: stop ingest, let the parsers finish the buffered messages,
	// then let the correlator empty the event channel. The drain budget
	// caps the whole sequence.
	drained := make(chan struct{})
	go func() {
		a.manager.Stop()
		parseWG.Wait()
		close(events)
		<-correlatorDone
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(a.cfg.Ingest.ShutdownDrain):
		a.log.Warn().Msg("drain budget exceeded, abandoning buffered events")
		cancel()
	}

	a.fan.Close()
	if a.committer != nil {
		a.committer.Close()
	}
	return fatal
}

func (a *App) closeStores() {
	if a.outcomes != nil {
		a.outcomes.Close()
	}
	if a.mirrorSt != nil {
		a.mirrorSt.Close()
	}
	if a.relayNC != nil {
		a.relayNC.Close()
	}
}

// eventAge is the worse of the queue age and the upstream wall-clock
// age. Messages without an upstream timestamp are judged on queue age
// alone.
func eventAge(msg domain.RawMessage, now time.Time) time.Duration {
	age := now.Sub(msg.ReceivedAt)
	if !msg.SentAt.IsZero() {
		if up := now.Sub(msg.SentAt); up > age {
			age = up
		}
	}
	return age
}

// parseLoop drains the shared message stream through the parser.
func (a *App) parseLoop(events chan<- domain.ParsedEvent) {
	for msg := range a.manager.Out() {
		if eventAge(msg, time.Now()) > a.cfg.Ingest.LatencyBudget {
			metrics.StaleEvents.Inc()
			continue
		}
		parsed := a.parser.Parse(msg)
		if parsed == nil {
			metrics.ParseMisses.WithLabelValues(msg.SourceID).Inc()
			continue
		}
		for _, ev := range parsed {
			events <- ev
		}
	}
}

// correlatorLoop is the single writer of token state. Everything that
// depends on ordering happens here.
func (a *App) correlatorLoop(ctx context.Context, events <-chan domain.ParsedEvent) {
	for ev := range events {
		a.recordOutcome(ev)
		snap := a.store.Upsert(ev)
		a.patchSocial(ev)

		cand, reason := a.scorer.Evaluate(snap, ev.ObservedAt)
		if cand == nil {
			switch reason {
			case correlate.RejectNoCohort, correlate.RejectNoTier, correlate.RejectSentinel:
			default:
				metrics.EligibilityRejected.WithLabelValues(reason).Inc()
			}
			continue
		}
		if _, err := a.emitter.Emit(ctx, cand); err != nil {
			a.log.Error().Err(err).Str("contract", cand.Contract).Msg("emit failed")
		}
	}
}

// recordOutcome feeds observed multipliers into the outcomes store for
// the churn penalty.
func (a *App) recordOutcome(ev domain.ParsedEvent) {
	if a.outcomes == nil || ev.Multiplier == nil || ev.Symbol == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.outcomes.Record(ctx, ev.Symbol, ev.ObservedAt, *ev.Multiplier); err != nil {
		a.log.Debug().Err(err).Str("symbol", ev.Symbol).Msg("outcome record failed")
	}
}

// patchSocial back-fills caller and subscriber counts onto already
// emitted records when the tracker echoes them later. Matching is by
// symbol across all tiers; tokens that never alerted fall through as a
// journal no-op.
func (a *App) patchSocial(ev domain.ParsedEvent) {
	if ev.Callers == nil && ev.Subs == nil {
		return
	}
	if ev.Symbol == "" {
		return
	}
	if err := a.journal.UpdateSocial(ev.Symbol, 0, ev.Callers, ev.Subs); err != nil {
		a.log.Debug().Err(err).Str("symbol", ev.Symbol).Msg("social patch failed")
	}
}

// reconcileMirror pulls remote records missing from the local log. Runs
// once at startup; failures are logged and ignored.
func (a *App) reconcileMirror(ctx context.Context) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	local, err := a.journal.Load()
	if err != nil {
		a.log.Warn().Err(err).Msg("mirror reconcile skipped, log unreadable")
		return
	}
	missing, err := mirror.Reconcile(rctx, a.mirrorSt, local)
	if err != nil {
		a.log.Warn().Err(err).Msg("mirror reconcile failed")
		return
	}
	if len(missing) == 0 {
		return
	}
	added, err := a.journal.Merge(missing)
	if err != nil {
		a.log.Warn().Err(err).Msg("mirror merge failed")
		return
	}
	a.log.Info().Int("records", added).Msg("recovered records from mirror")
}
