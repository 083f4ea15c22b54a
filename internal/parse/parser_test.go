package parse

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solboy/solalerts/internal/domain"
)

const (
	wsolMint = "So11111111111111111111111111111111111111112"
	pumpMint = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
)

func testSources() []domain.Source {
	return []domain.Source{
		{ID: "buys", Kind: domain.KindBuyFeed},
		{ID: "social", Kind: domain.KindSocialFeed},
		{ID: "tracker", Kind: domain.KindMomentumFeed},
		{ID: "trending", Kind: domain.KindTrendingFeed},
		{ID: "hotlist", Kind: domain.KindHotlistFeed},
	}
}

func TestExtractContract(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		entities []domain.Entity
		want     string
	}{
		{
			name: "track deep link",
			text: "see https://t.me/somebot?start=track_" + wsolMint,
			want: strings.ToUpper(wsolMint),
		},
		{
			name:     "entity pump fun url",
			entities: []domain.Entity{{URL: "https://pump.fun/" + pumpMint}},
			text:     "new launch",
			want:     strings.ToUpper(pumpMint),
		},
		{
			name: "gmgn referral link keeps token not referral",
			text: "https://gmgn.ai/sol/token/abc123_" + wsolMint + "?chain=sol",
			want: strings.ToUpper(wsolMint),
		},
		{
			name: "ca label",
			text: "CA: " + pumpMint,
			want: strings.ToUpper(pumpMint),
		},
		{
			name: "bare address",
			text: "aping " + wsolMint + " now",
			want: strings.ToUpper(wsolMint),
		},
		{
			name: "eth deep link poisons message",
			text: "https://t.me/bot?start=0x1234567890abcdef1234567890abcdef12345678 also " + wsolMint,
			want: "",
		},
		{
			name: "no address",
			text: "gm everyone",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractContract(tt.text, tt.entities))
		})
	}
}

func TestExtractSymbol(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"name paren", "Name: Peppa Pig (PP)", "PP"},
		{"swap receipt buy side", "Swapped 5.2 SOL for 1,234,567 #BONK On Raydium", "BONK"},
		{"buy on", "BUY VEIL on Jupiter", "VEIL"},
		{"whale buy bracket link", "🟢Buy 25 SOL [VEIL💊 (https://gmgn.ai/x)] MCP $53.8K", "VEIL"},
		{"made recap", "This caller made 5x+ on WOJAK", "WOJAK"},
		{"new trending", "🔥 MOODENG New Trending", "MOODENG"},
		{"is up", "📈 GIGA is up 2.4X", "GIGA"},
		{"did arrow", "#PEPE did 👉 3x", "PEPE"},
		{"call alert", "CALL ALERT: TURBO entry now", "TURBO"},
		{"leading hash with ellipsis", "#MOON...shot incoming", "MOON"},
		{"money amount is not a symbol", "entry at $24.4K only", ""},
		{"dollar ticker", "loading $WIF here", "WIF"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSymbol(tt.text))
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
		ok   bool
	}{
		{"53.8K", 53800, true},
		{"1.5M", 1500000, true},
		{"2B", 2e9, true},
		{"51,398", 51398, true},
		{"7", 7, true},
		{"junk", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseMoney(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.InDelta(t, tt.want, got, 0.01, tt.raw)
	}
}

func TestExtractMarketCap(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"suffixed", "💰 MC: $53.8K", 53800},
		{"tracker echo keeps entry value", "MC: $23.1k 👉 $69.2k", 23100},
		{"mcp form", "[VEIL] MCP $53.8K", 53800},
		{"comma form", "MC: $51,398", 51398},
		{"recap second value", "made 2x! $17.2K then $34.5K", 34500},
		{"paren fallback", "💰 TOKEN ($88.1K) - 3 SOL", 88100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractMarketCap(tt.text)
			require.NotNil(t, got)
			assert.InDelta(t, tt.want, *got, 0.01)
		})
	}
	assert.Nil(t, ExtractMarketCap("no numbers here"))
}

func TestExtractNumerics(t *testing.T) {
	liq := ExtractLiquidity("💧 LIQ: $12.5K")
	require.NotNil(t, liq)
	assert.InDelta(t, 12500, *liq, 0.01)

	buy := ExtractBuySOL("🟢Buy 25.5 SOL of something")
	require.NotNil(t, buy)
	assert.InDelta(t, 25.5, *buy, 0.001)

	mult := ExtractMultiplier("#PEPE did 👉 3.5x from entry")
	require.NotNil(t, mult)
	assert.InDelta(t, 3.5, *mult, 0.001)

	callers, subs := ExtractCallersSubs("Callers: 34 | Subs: 120000")
	require.NotNil(t, callers)
	require.NotNil(t, subs)
	assert.Equal(t, 34, *callers)
	assert.Equal(t, 120000, *subs)

	holders := ExtractHolders("Holders: 1,204")
	require.NotNil(t, holders)
	assert.Equal(t, 1204, *holders)

	assert.True(t, hasMomentumSpike("41.06% in 1.5s"))
	assert.False(t, hasMomentumSpike("up 41% today"))
}

func TestExtractHotlist(t *testing.T) {
	text := "🔥 TRENDING NOW\n1. $PP\n2. $DOGE\n3. #CAT\n4. $MOON\n5. $STAR\n6. $SIX"
	got := ExtractHotlist(text)
	assert.Equal(t, []string{"PP", "DOGE", "CAT", "MOON", "STAR", "SIX"}, got)
}

func TestParseHotlistMessage(t *testing.T) {
	p := New(testSources(), Config{})
	msg := domain.RawMessage{
		SourceID:   "hotlist",
		ReceivedAt: time.Now().UTC(),
		Text:       "🔥 TRENDING\n1. $PP\n2. $DOGE\n3. $CAT\n4. $MOON\n5. $STAR\n6. $SIX",
	}
	events := p.Parse(msg)
	require.Len(t, events, 5)
	assert.Equal(t, domain.HotlistSentinel("PP"), events[0].Contract)
	assert.Equal(t, 1, events[0].HotlistRank)
	assert.True(t, events[0].HasTag(domain.TagTop5Hotlist))
	assert.Equal(t, "STAR", events[4].Symbol)
	assert.Equal(t, 5, events[4].HotlistRank)
}

func TestParseMomentumMessage(t *testing.T) {
	p := New(testSources(), Config{})
	msg := domain.RawMessage{
		SourceID:   "tracker",
		ReceivedAt: time.Now().UTC(),
		Text:       "#PEPE did 👉 3x\n41.06% in 1.5s\nMC: $45.2K\nCA: " + wsolMint,
	}
	events := p.Parse(msg)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, strings.ToUpper(wsolMint), ev.Contract)
	assert.Equal(t, "PEPE", ev.Symbol)
	require.NotNil(t, ev.Multiplier)
	assert.InDelta(t, 3.0, *ev.Multiplier, 0.001)
	require.NotNil(t, ev.MarketCapUSD)
	assert.InDelta(t, 45200, *ev.MarketCapUSD, 0.01)
	assert.True(t, ev.HasTag(domain.TagMomentumSpike))
}

func TestParseWhaleBuyMessage(t *testing.T) {
	p := New(testSources(), Config{})
	msg := domain.RawMessage{
		SourceID:   "buys",
		ReceivedAt: time.Now().UTC(),
		Text:       "🟢Buy 25 SOL [VEIL💊 (https://pump.fun/" + pumpMint + ")] MCP $53.8K",
	}
	events := p.Parse(msg)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, strings.ToUpper(pumpMint), ev.Contract)
	assert.Equal(t, "VEIL", ev.Symbol)
	assert.True(t, ev.HasTag(domain.TagWhaleBuy))
	assert.False(t, ev.HasTag(domain.TagLargeBuy))
}

func TestParseLargeBuyTagBoundary(t *testing.T) {
	p := New(testSources(), Config{LargeBuySOL: 5, WhaleBuySOL: 20})
	msg := domain.RawMessage{
		SourceID:   "buys",
		ReceivedAt: time.Now().UTC(),
		Text:       "🟢Buy 5 SOL [FROG (https://pump.fun/" + pumpMint + ")] MCP $40K",
	}
	events := p.Parse(msg)
	require.Len(t, events, 1)
	assert.True(t, events[0].HasTag(domain.TagLargeBuy))
	assert.False(t, events[0].HasTag(domain.TagWhaleBuy))
}

func TestParseMisses(t *testing.T) {
	p := New(testSources(), Config{})
	// Unknown source.
	assert.Nil(t, p.Parse(domain.RawMessage{SourceID: "nope", Text: "x"}))
	// No contract.
	assert.Nil(t, p.Parse(domain.RawMessage{SourceID: "buys", Text: "gm"}))
	// Contract but no symbol.
	assert.Nil(t, p.Parse(domain.RawMessage{SourceID: "buys", Text: wsolMint}))
	// Empty message.
	assert.Nil(t, p.Parse(domain.RawMessage{SourceID: "buys"}))
}
