// Package state holds the per-contract rolling aggregates the correlator
// scores against. The correlator is the only writer; the periodic
// eviction job shares the store, so access is serialized with a mutex.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/solboy/solalerts/internal/domain"
)

// Config bounds the store.
type Config struct {
	Window              time.Duration // rolling event horizon per token
	HotlistWindow       time.Duration // reconciliation window around first_seen
	MaxEventsPerToken   int
	MaxTrackedContracts int
	MinCohortMultiplier float64
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		Window:              30 * time.Minute,
		HotlistWindow:       20 * time.Minute,
		MaxEventsPerToken:   256,
		MaxTrackedContracts: 10000,
		MinCohortMultiplier: 2.0,
	}
}

type tokenState struct {
	contract    string
	symbol      string
	firstSeen   time.Time
	lastUpdated time.Time
	events      []domain.ParsedEvent
	kinds       map[domain.SourceKind]bool
	sources     map[string]bool
	tags        map[domain.SignalTag]time.Time // first observation per tag
	hotlistAt   []time.Time

	cohortStart time.Time
	cohortMult  float64
	entryMC     *float64

	alertedTier int // 0 = never alerted
	alertedAt   time.Time
}

// Store tracks token states keyed by canonical contract address.
// Hotlist sentinels are tracked alongside real contracts until they are
// reconciled or expire.
type Store struct {
	mu     sync.Mutex
	cfg    Config
	tokens map[string]*tokenState
}

// New builds an empty store.
func New(cfg Config) *Store {
	if cfg.Window == 0 {
		cfg = DefaultConfig()
	}
	return &Store{cfg: cfg, tokens: make(map[string]*tokenState)}
}

// Upsert folds one parsed event into its token state and returns a
// snapshot for scoring. Hotlist sentinel events are reconciled against
// real-contract states by symbol; the returned snapshot then belongs to
// the reconciled contract, or to the orphan sentinel when none matched.
func (s *Store) Upsert(ev domain.ParsedEvent) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	contract := ev.Contract
	if domain.IsHotlistSentinel(contract) {
		if real := s.reconcileHotlist(ev); real != "" {
			contract = real
		}
	} else {
		s.adoptOrphans(ev)
	}

	ts := s.tokens[contract]
	if ts == nil {
		ts = &tokenState{
			contract:  contract,
			symbol:    ev.Symbol,
			firstSeen: ev.ObservedAt,
			kinds:     make(map[domain.SourceKind]bool),
			sources:   make(map[string]bool),
			tags:      make(map[domain.SignalTag]time.Time),
		}
		s.tokens[contract] = ts
	}
	ts.apply(ev, s.cfg)
	return ts.snapshot()
}

// reconcileHotlist merges a sentinel event onto a real-contract state
// whose symbol matches and whose first sighting is near the hotlist
// observation. Returns the real contract, or "".
func (s *Store) reconcileHotlist(ev domain.ParsedEvent) string {
	for contract, ts := range s.tokens {
		if domain.IsHotlistSentinel(contract) {
			continue
		}
		if !domain.SymbolsMatch(ts.symbol, ev.Symbol) {
			continue
		}
		gap := ev.ObservedAt.Sub(ts.firstSeen)
		if gap < 0 {
			gap = -gap
		}
		if gap <= s.cfg.HotlistWindow {
			return contract
		}
	}
	return ""
}

// adoptOrphans folds any orphan sentinel with a matching symbol into the
// state of a newly seen real contract.
func (s *Store) adoptOrphans(ev domain.ParsedEvent) {
	for contract, orphan := range s.tokens {
		if !domain.IsHotlistSentinel(contract) {
			continue
		}
		if !domain.SymbolsMatch(orphan.symbol, ev.Symbol) {
			continue
		}
		gap := ev.ObservedAt.Sub(orphan.lastUpdated)
		if gap < 0 {
			gap = -gap
		}
		if gap > s.cfg.HotlistWindow {
			continue
		}
		real := s.tokens[ev.Contract]
		if real == nil {
			real = &tokenState{
				contract:  ev.Contract,
				symbol:    ev.Symbol,
				firstSeen: ev.ObservedAt,
				kinds:     make(map[domain.SourceKind]bool),
				sources:   make(map[string]bool),
				tags:      make(map[domain.SignalTag]time.Time),
			}
			s.tokens[ev.Contract] = real
		}
		for tag, at := range orphan.tags {
			if _, ok := real.tags[tag]; !ok {
				real.tags[tag] = at
			}
		}
		real.hotlistAt = append(real.hotlistAt, orphan.hotlistAt...)
		delete(s.tokens, contract)
	}
}

func (ts *tokenState) apply(ev domain.ParsedEvent, cfg Config) {
	ts.events = append(ts.events, ev)
	ts.lastUpdated = ev.ObservedAt
	if ts.symbol == "" {
		ts.symbol = ev.Symbol
	}
	ts.kinds[ev.SourceKind] = true
	ts.sources[ev.SourceID] = true
	for _, tag := range ev.Tags {
		if _, ok := ts.tags[tag]; !ok {
			ts.tags[tag] = ev.ObservedAt
		}
		if tag == domain.TagTop5Hotlist {
			ts.hotlistAt = append(ts.hotlistAt, ev.ObservedAt)
		}
	}

	// Cohort start: first momentum-tracker confirmation at or above the
	// trigger multiplier.
	if ts.cohortStart.IsZero() && ev.SourceKind == domain.KindMomentumFeed &&
		ev.Multiplier != nil && *ev.Multiplier >= cfg.MinCohortMultiplier {
		ts.cohortStart = ev.ObservedAt
		ts.cohortMult = *ev.Multiplier
		if ev.MarketCapUSD != nil {
			mc := *ev.MarketCapUSD
			ts.entryMC = &mc
		}
	}
	if ts.entryMC == nil && !ts.cohortStart.IsZero() && ev.MarketCapUSD != nil {
		mc := *ev.MarketCapUSD
		ts.entryMC = &mc
	}

	ts.trim(ev.ObservedAt, cfg)
}

func (ts *tokenState) trim(now time.Time, cfg Config) {
	horizon := now.Add(-cfg.Window)
	i := 0
	for ; i < len(ts.events); i++ {
		if ts.events[i].ObservedAt.After(horizon) {
			break
		}
	}
	if i > 0 {
		ts.events = append(ts.events[:0], ts.events[i:]...)
	}
	if len(ts.events) > cfg.MaxEventsPerToken {
		ts.events = ts.events[len(ts.events)-cfg.MaxEventsPerToken:]
	}
	// Hotlist observations age out on a wider horizon so the late-hotlist
	// rule can still see them.
	hlHorizon := now.Add(-(cfg.Window + 2*cfg.HotlistWindow))
	j := 0
	for ; j < len(ts.hotlistAt); j++ {
		if ts.hotlistAt[j].After(hlHorizon) {
			break
		}
	}
	if j > 0 {
		ts.hotlistAt = append(ts.hotlistAt[:0], ts.hotlistAt[j:]...)
	}
}

// MarkAlerted records that tier fired for contract at the given time.
// A stronger tier overwrites; a weaker one only refreshes the clock when
// the recorded tier already fired.
func (s *Store) MarkAlerted(contract string, tier int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tokens[contract]
	if ts == nil {
		return
	}
	if ts.alertedTier == 0 || domain.StrongerTier(tier, ts.alertedTier) {
		ts.alertedTier = tier
	}
	ts.alertedAt = at
}

// Alerted returns the strongest tier already emitted for contract and
// when, or (0, zero time).
func (s *Store) Alerted(contract string) (int, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tokens[contract]
	if ts == nil {
		return 0, time.Time{}
	}
	return ts.alertedTier, ts.alertedAt
}

// Snapshot returns an immutable view of a contract's state, or nil when
// the contract is not tracked.
func (s *Store) Snapshot(contract string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.tokens[contract]
	if ts == nil {
		return nil
	}
	snap := ts.snapshot()
	return &snap
}

// Evict drops idle states. Orphan sentinels expire after the state
// window; real contracts are evicted oldest-first only while the store
// exceeds its capacity and the state has been idle a full window.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for contract, ts := range s.tokens {
		if domain.IsHotlistSentinel(contract) && now.Sub(ts.lastUpdated) >= s.cfg.Window {
			delete(s.tokens, contract)
			evicted++
		}
	}
	if len(s.tokens) <= s.cfg.MaxTrackedContracts {
		return evicted
	}
	type idle struct {
		contract string
		at       time.Time
	}
	var candidates []idle
	for contract, ts := range s.tokens {
		if now.Sub(ts.lastUpdated) >= s.cfg.Window {
			candidates = append(candidates, idle{contract, ts.lastUpdated})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.Before(candidates[j].at) })
	for _, c := range candidates {
		if len(s.tokens) <= s.cfg.MaxTrackedContracts {
			break
		}
		delete(s.tokens, c.contract)
		evicted++
	}
	return evicted
}

// Len reports the number of tracked contracts including sentinels.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
