package parse

import (
	"regexp"

	"github.com/solboy/solalerts/internal/domain"
)

var reListEntry = regexp.MustCompile(`(?m)^\s*(\d+)\.\s*[#$]?([A-Za-z0-9]+)`)

// ExtractHotlist parses a numbered trending list ("1. $PP") into its
// symbols, in list order.
func ExtractHotlist(text string) []string {
	matches := reListEntry.FindAllStringSubmatch(text, -1)
	symbols := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := domain.NormalizeSymbol(m[2]); s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols
}

// assignTags derives signal tags from the source kind and message
// content. The buy thresholds come from configuration.
func (p *Parser) assignTags(kind domain.SourceKind, text string, ev *domain.ParsedEvent) {
	add := func(t domain.SignalTag) {
		if !ev.HasTag(t) {
			ev.Tags = append(ev.Tags, t)
		}
	}
	switch kind {
	case domain.KindTrendingFeed:
		add(domain.TagEarlyTrending)
	case domain.KindHotlistFeed:
		if ev.HotlistRank >= 1 && ev.HotlistRank <= 5 {
			add(domain.TagTop5Hotlist)
		}
	}
	if kind == domain.KindMomentumFeed && hasMomentumSpike(text) {
		add(domain.TagMomentumSpike)
	}
	if ev.BuySOL != nil {
		if *ev.BuySOL >= p.cfg.WhaleBuySOL {
			add(domain.TagWhaleBuy)
		} else if *ev.BuySOL >= p.cfg.LargeBuySOL {
			add(domain.TagLargeBuy)
		}
	}
}
