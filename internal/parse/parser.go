// Package parse turns raw chat messages into typed token events. Parsing
// is stateless: the result depends only on the input message and the
// source table configured at startup.
package parse

import (
	"github.com/solboy/solalerts/internal/domain"
)

// Config carries the thresholds that promote buy events to tags.
type Config struct {
	LargeBuySOL float64
	WhaleBuySOL float64
}

// Parser maps messages to events using the per-source grammar table.
type Parser struct {
	sources map[string]domain.Source
	cfg     Config
}

// New builds a parser over the configured sources.
func New(sources []domain.Source, cfg Config) *Parser {
	m := make(map[string]domain.Source, len(sources))
	for _, s := range sources {
		m[s.ID] = s
	}
	if cfg.LargeBuySOL == 0 {
		cfg.LargeBuySOL = 5
	}
	if cfg.WhaleBuySOL == 0 {
		cfg.WhaleBuySOL = 20
	}
	return &Parser{sources: m, cfg: cfg}
}

// Parse extracts zero or more events from one message. A nil result is a
// parse miss. Hotlist messages carry a ranked symbol list and yield one
// sentinel event per top-five entry; every other feed yields at most one
// event and requires a valid contract address.
func (p *Parser) Parse(msg domain.RawMessage) []domain.ParsedEvent {
	src, ok := p.sources[msg.SourceID]
	if !ok {
		return nil
	}
	if msg.Text == "" && len(msg.Entities) == 0 {
		return nil
	}

	if src.Kind == domain.KindHotlistFeed {
		return p.parseHotlist(src, msg)
	}

	contract := ExtractContract(msg.Text, msg.Entities)
	if contract == "" {
		return nil
	}
	symbol := ExtractSymbol(msg.Text)
	if symbol == "" {
		return nil
	}

	ev := domain.ParsedEvent{
		SourceID:     src.ID,
		SourceKind:   src.Kind,
		ObservedAt:   msg.ReceivedAt,
		SentAt:       msg.SentAt,
		Contract:     contract,
		Symbol:       domain.NormalizeSymbol(symbol),
		MarketCapUSD: ExtractMarketCap(msg.Text),
		LiquidityUSD: ExtractLiquidity(msg.Text),
		BuySOL:       ExtractBuySOL(msg.Text),
		Holders:      ExtractHolders(msg.Text),
	}
	ev.Callers, ev.Subs = ExtractCallersSubs(msg.Text)
	if src.Kind == domain.KindMomentumFeed {
		ev.Multiplier = ExtractMultiplier(msg.Text)
	}
	p.assignTags(src.Kind, msg.Text, &ev)
	return []domain.ParsedEvent{ev}
}

func (p *Parser) parseHotlist(src domain.Source, msg domain.RawMessage) []domain.ParsedEvent {
	symbols := ExtractHotlist(msg.Text)
	if len(symbols) == 0 {
		return nil
	}
	if len(symbols) > 5 {
		symbols = symbols[:5]
	}
	events := make([]domain.ParsedEvent, 0, len(symbols))
	for i, sym := range symbols {
		ev := domain.ParsedEvent{
			SourceID:    src.ID,
			SourceKind:  src.Kind,
			ObservedAt:  msg.ReceivedAt,
			SentAt:      msg.SentAt,
			Contract:    domain.HotlistSentinel(sym),
			Symbol:      sym,
			HotlistRank: i + 1,
		}
		p.assignTags(src.Kind, msg.Text, &ev)
		events = append(events, ev)
	}
	return events
}
