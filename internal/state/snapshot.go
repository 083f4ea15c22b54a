package state

import (
	"time"

	"github.com/solboy/solalerts/internal/domain"
)

// Snapshot is the immutable view handed to the scorer. Derived metrics
// are computed at snapshot time from the event ring.
type Snapshot struct {
	Contract    string
	Symbol      string
	FirstSeen   time.Time
	LastUpdated time.Time
	Events      []domain.ParsedEvent
	Kinds       map[domain.SourceKind]bool
	Sources     map[string]bool
	Tags        map[domain.SignalTag]time.Time
	HotlistAt   []time.Time

	CohortStart time.Time
	CohortMult  float64
	EntryMC     *float64

	AlertedTier int
	AlertedAt   time.Time

	// Derived metrics.
	TotalBuySOL        float64
	DistinctBuySources int
	FirstToSecondBuy   time.Duration
	TimeSpread         time.Duration
	TopBuySOL          *float64
	LastBuySOL         *float64
}

func (ts *tokenState) snapshot() Snapshot {
	snap := Snapshot{
		Contract:    ts.contract,
		Symbol:      ts.symbol,
		FirstSeen:   ts.firstSeen,
		LastUpdated: ts.lastUpdated,
		Events:      append([]domain.ParsedEvent(nil), ts.events...),
		Kinds:       make(map[domain.SourceKind]bool, len(ts.kinds)),
		Sources:     make(map[string]bool, len(ts.sources)),
		Tags:        make(map[domain.SignalTag]time.Time, len(ts.tags)),
		HotlistAt:   append([]time.Time(nil), ts.hotlistAt...),
		CohortStart: ts.cohortStart,
		CohortMult:  ts.cohortMult,
		AlertedTier: ts.alertedTier,
		AlertedAt:   ts.alertedAt,
	}
	for k, v := range ts.kinds {
		snap.Kinds[k] = v
	}
	for k, v := range ts.sources {
		snap.Sources[k] = v
	}
	for k, v := range ts.tags {
		snap.Tags[k] = v
	}
	if ts.entryMC != nil {
		mc := *ts.entryMC
		snap.EntryMC = &mc
	}
	snap.derive()
	return snap
}

func (s *Snapshot) derive() {
	buySources := map[string]bool{}
	var buyTimes []time.Time
	for i := range s.Events {
		ev := &s.Events[i]
		if ev.BuySOL != nil {
			s.TotalBuySOL += *ev.BuySOL
			buySources[ev.SourceID] = true
			buyTimes = append(buyTimes, ev.ObservedAt)
			v := *ev.BuySOL
			s.LastBuySOL = &v
			if s.TopBuySOL == nil || v > *s.TopBuySOL {
				top := v
				s.TopBuySOL = &top
			}
		}
	}
	s.DistinctBuySources = len(buySources)
	if len(buyTimes) >= 2 {
		s.FirstToSecondBuy = buyTimes[1].Sub(buyTimes[0])
	}
	if n := len(s.Events); n >= 2 {
		s.TimeSpread = s.Events[n-1].ObservedAt.Sub(s.Events[0].ObservedAt)
	}
}

// HasCohort reports whether a cohort trigger has been observed.
func (s *Snapshot) HasCohort() bool { return !s.CohortStart.IsZero() }

// HotlistWithin reports whether any hotlist observation falls inside
// [t0-window, t0+window].
func (s *Snapshot) HotlistWithin(t0 time.Time, window time.Duration) bool {
	for _, at := range s.HotlistAt {
		d := at.Sub(t0)
		if d < 0 {
			d = -d
		}
		if d <= window {
			return true
		}
	}
	return false
}

// HotlistOutside reports a "late" hotlist: at least one observation, none
// of them inside the window.
func (s *Snapshot) HotlistOutside(t0 time.Time, window time.Duration) bool {
	return len(s.HotlistAt) > 0 && !s.HotlistWithin(t0, window)
}

// LatestMC returns the most recent parsed market cap, or nil.
func (s *Snapshot) LatestMC() *float64 {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].MarketCapUSD != nil {
			v := *s.Events[i].MarketCapUSD
			return &v
		}
	}
	return nil
}

// LatestLiquidity returns the most recent parsed liquidity, or nil.
func (s *Snapshot) LatestLiquidity() *float64 {
	for i := len(s.Events) - 1; i >= 0; i-- {
		if s.Events[i].LiquidityUSD != nil {
			v := *s.Events[i].LiquidityUSD
			return &v
		}
	}
	return nil
}

// LatestSocial returns the most recent caller and subscriber counts.
func (s *Snapshot) LatestSocial() (callers, subs *int) {
	for i := len(s.Events) - 1; i >= 0; i-- {
		ev := &s.Events[i]
		if callers == nil && ev.Callers != nil {
			v := *ev.Callers
			callers = &v
		}
		if subs == nil && ev.Subs != nil {
			v := *ev.Subs
			subs = &v
		}
		if callers != nil && subs != nil {
			break
		}
	}
	return callers, subs
}
