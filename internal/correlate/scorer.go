// Package correlate applies the tier rules to token state snapshots.
// Evaluation is pure with respect to the snapshot; the scorer's only
// internal state is the alert history that drives the churn penalty and
// dynamic thresholding.
package correlate

import (
	"sort"
	"time"

	"github.com/solboy/solalerts/internal/config"
	"github.com/solboy/solalerts/internal/domain"
	"github.com/solboy/solalerts/internal/state"
)

// StrongConfirmationTags satisfy the Tier-1 confirmation requirement.
var StrongConfirmationTags = []domain.SignalTag{
	domain.TagMomentumSpike,
	domain.TagLargeBuy,
	domain.TagWhaleBuy,
	domain.TagEarlyTrending,
}

// OutcomeReader reports the peak multiplier reached after alerts on a
// symbol. Implementations are fed by a separate outcomes feed; a nil
// reader means no churn penalty is ever applied.
type OutcomeReader interface {
	PeakSince(symbol string, since time.Time) (peak float64, known bool, err error)
}

// Reject reasons surfaced to metrics and debug logs.
const (
	RejectSentinel   = "hotlist_sentinel"
	RejectLiquidity  = "liquidity_floor"
	RejectMarketCap  = "market_cap_ceiling"
	RejectSocialOnly = "social_only"
	RejectNoCohort   = "no_cohort"
	RejectNoTier     = "no_tier"
	RejectDemotedOut = "demoted_out"
)

// Scorer evaluates snapshots against the tier rules.
type Scorer struct {
	cfg      config.ThresholdsConfig
	outcomes OutcomeReader

	tier1Times  []time.Time // HIGH alerts in the last 24h, for dynamic thresholds
	tightened   bool
	lastAlerted map[string]time.Time // symbol -> last alert, for churn
}

// New builds a scorer. outcomes may be nil.
func New(cfg config.ThresholdsConfig, outcomes OutcomeReader) *Scorer {
	return &Scorer{
		cfg:         cfg,
		outcomes:    outcomes,
		lastAlerted: make(map[string]time.Time),
	}
}

// Evaluate scores one snapshot. It returns the candidate and "" on a
// hit, or nil and the reject reason.
func (sc *Scorer) Evaluate(snap state.Snapshot, now time.Time) (*domain.AlertCandidate, string) {
	if reason := sc.gates(snap); reason != "" {
		return nil, reason
	}
	if !snap.HasCohort() {
		return nil, RejectNoCohort
	}

	entryMC := snap.EntryMC
	if entryMC == nil {
		entryMC = snap.LatestMC()
	}

	tier, reasons := sc.ruleTier(snap, now, entryMC)
	if tier == 0 {
		return nil, RejectNoTier
	}

	// Buy-size boost acts only on the 2/3 boundary; Tier 1 is reachable
	// solely through its own gates.
	if tier == 3 && sc.buyBoost(snap) {
		tier = 2
		reasons = append(reasons, "buy_size_boost")
	}
	if liq := snap.LatestLiquidity(); liq != nil && *liq < sc.cfg.LowLiquidityUSD {
		tier++
		reasons = append(reasons, "low_liquidity_penalty")
	}
	if sc.churnPenalty(snap.Symbol, now) {
		tier++
		reasons = append(reasons, "churn_penalty")
	}
	if tier > 3 {
		return nil, RejectDemotedOut
	}

	return sc.buildCandidate(snap, now, tier, reasons, entryMC), ""
}

func (sc *Scorer) gates(snap state.Snapshot) string {
	if domain.IsHotlistSentinel(snap.Contract) || !domain.ValidContract(snap.Contract) {
		return RejectSentinel
	}
	if liq := snap.LatestLiquidity(); liq != nil && *liq < sc.cfg.MinLiquidityUSD {
		return RejectLiquidity
	}
	if mc := snap.LatestMC(); mc != nil && *mc > sc.cfg.MaxMarketCapUSD {
		return RejectMarketCap
	}
	// States fed only by social feeds carry no buy evidence at all and
	// are excluded.
	socialOnly := len(snap.Kinds) > 0
	for kind := range snap.Kinds {
		if kind != domain.KindSocialFeed {
			socialOnly = false
			break
		}
	}
	if socialOnly {
		return RejectSocialOnly
	}
	return ""
}

// ruleTier evaluates the tier rules in declared order; the first
// satisfied tier wins.
func (sc *Scorer) ruleTier(snap state.Snapshot, now time.Time, entryMC *float64) (int, []string) {
	t0 := snap.CohortStart
	hotlistInWindow := snap.HotlistWithin(t0, sc.cfg.HotlistWindow)
	strong := sc.strongTags(snap)

	t1MCMax := sc.cfg.Tier1MCMaxUSD
	minCallers := sc.cfg.SocialMinCallers
	minSubs := sc.cfg.SocialMinSubs
	if sc.tightenedNow(now) {
		t1MCMax += sc.cfg.DynamicMCTighten
		minCallers = int(float64(minCallers) * sc.cfg.DynamicSocialMult)
		minSubs = int(float64(minSubs) * sc.cfg.DynamicSocialMult)
	}

	// Tier 1: fresh cohort, hotlist inside the window, a strong
	// confirmation, entry MC in the prime band. The contract-or-social
	// clause is satisfied by gate 1 (the contract is always present
	// here); the social branch is kept for states that would pass on
	// social strength alone.
	if now.Sub(t0) <= sc.cfg.StateWindow && hotlistInWindow && len(strong) >= 1 &&
		mcWithin(entryMC, sc.cfg.Tier1MCMinUSD, t1MCMax) {
		callers, subs := snap.LatestSocial()
		socialStrong := callers != nil && subs != nil && *callers >= minCallers && *subs >= minSubs
		if domain.ValidContract(snap.Contract) || socialStrong {
			return 1, []string{"tier1_hotlist_confirmed"}
		}
	}

	if hotlistInWindow && len(strong) >= 1 &&
		mcWithin(entryMC, sc.cfg.Tier2MCMinUSD, sc.cfg.Tier2MCMaxUSD) {
		return 2, []string{"tier2_hotlist_confirmed"}
	}

	if len(strong) >= 2 {
		return 3, []string{"tier3_multi_confirmation"}
	}
	if snap.HotlistOutside(t0, sc.cfg.HotlistWindow) {
		return 3, []string{"tier3_late_hotlist"}
	}
	return 0, nil
}

func (sc *Scorer) strongTags(snap state.Snapshot) []domain.SignalTag {
	var tags []domain.SignalTag
	for _, tag := range StrongConfirmationTags {
		if _, ok := snap.Tags[tag]; ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (sc *Scorer) buyBoost(snap state.Snapshot) bool {
	if snap.TopBuySOL != nil && *snap.TopBuySOL >= sc.cfg.WhaleBuySOL {
		return true
	}
	return snap.LastBuySOL != nil && *snap.LastBuySOL >= sc.cfg.LargeBuySOL
}

// churnPenalty applies when the symbol alerted inside the churn window
// and the outcomes feed knows it never reached the peak threshold.
// Missing outcome data means no penalty.
func (sc *Scorer) churnPenalty(symbol string, now time.Time) bool {
	if sc.outcomes == nil {
		return false
	}
	last, ok := sc.lastAlerted[domain.NormalizeSymbol(symbol)]
	if !ok || now.Sub(last) > sc.cfg.ChurnWindow {
		return false
	}
	peak, known, err := sc.outcomes.PeakSince(symbol, last)
	if err != nil || !known {
		return false
	}
	return peak < sc.cfg.ChurnPeakThreshold
}

// tightenedNow maintains the dynamic-threshold hysteresis: tighten above
// the high water mark of Tier-1 alerts per day, restore below the low
// water mark.
func (sc *Scorer) tightenedNow(now time.Time) bool {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for ; i < len(sc.tier1Times); i++ {
		if sc.tier1Times[i].After(cutoff) {
			break
		}
	}
	sc.tier1Times = sc.tier1Times[i:]
	n := len(sc.tier1Times)
	if n > sc.cfg.DynamicHighWater {
		sc.tightened = true
	} else if n < sc.cfg.DynamicLowWater {
		sc.tightened = false
	}
	return sc.tightened
}

// RecordAlert feeds an emitted alert back into the churn history and the
// Tier-1 rate tracker.
func (sc *Scorer) RecordAlert(symbol string, tier int, at time.Time) {
	sc.lastAlerted[domain.NormalizeSymbol(symbol)] = at
	if tier == 1 {
		sc.tier1Times = append(sc.tier1Times, at)
	}
}

func (sc *Scorer) buildCandidate(snap state.Snapshot, now time.Time, tier int, reasons []string, entryMC *float64) *domain.AlertCandidate {
	hotlist := len(snap.HotlistAt) > 0
	matched := sc.matchedSignals(snap)
	callers, subs := snap.LatestSocial()

	cand := &domain.AlertCandidate{
		Contract:       snap.Contract,
		Symbol:         snap.Symbol,
		Tier:           tier,
		Reasons:        reasons,
		Theme:          theme(snap, hotlist),
		CohortStart:    snap.CohortStart,
		ObservedAt:     now,
		EntryMCUSD:     entryMC,
		LiquidityUSD:   snap.LatestLiquidity(),
		Callers:        callers,
		Subs:           subs,
		TopBuySOL:      snap.TopBuySOL,
		LastBuySOL:     snap.LastBuySOL,
		Hotlist:        hotlist,
		Confirmations:  len(matched),
		MatchedSignals: matched,
	}
	for tag := range snap.Tags {
		cand.Tags = append(cand.Tags, tag)
	}
	if snap.HotlistOutside(snap.CohortStart, sc.cfg.HotlistWindow) {
		cand.Tags = append(cand.Tags, domain.TagLateHotlist)
	}
	sort.Slice(cand.Tags, func(i, j int) bool { return cand.Tags[i] < cand.Tags[j] })
	return cand
}

// matchedSignals lists the signals that backed the alert, ordered by
// first observation.
func (sc *Scorer) matchedSignals(snap state.Snapshot) []string {
	type seen struct {
		name string
		at   time.Time
	}
	var sigs []seen
	if at, ok := snap.Tags[domain.TagTop5Hotlist]; ok {
		sigs = append(sigs, seen{"hotlist", at})
	}
	for _, tag := range StrongConfirmationTags {
		if at, ok := snap.Tags[tag]; ok {
			sigs = append(sigs, seen{string(tag), at})
		}
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].at.Before(sigs[j].at) })
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.name
	}
	return out
}

func theme(snap state.Snapshot, hotlist bool) string {
	switch {
	case hotlist:
		return "hotlist"
	case hasTag(snap, domain.TagMomentumSpike):
		return "momentum"
	case hasTag(snap, domain.TagWhaleBuy) || hasTag(snap, domain.TagLargeBuy):
		return "smart_money"
	default:
		return "early_trending"
	}
}

func hasTag(snap state.Snapshot, tag domain.SignalTag) bool {
	_, ok := snap.Tags[tag]
	return ok
}

func mcWithin(mc *float64, lo, hi float64) bool {
	return mc != nil && *mc >= lo && *mc <= hi
}
