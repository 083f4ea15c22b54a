package domain

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind classifies an upstream feed by the signal it carries.
type SourceKind string

const (
	KindBuyFeed      SourceKind = "buy_feed"
	KindSocialFeed   SourceKind = "social_feed"
	KindMomentumFeed SourceKind = "momentum_feed"
	KindTrendingFeed SourceKind = "trending_feed"
	KindHotlistFeed  SourceKind = "hotlist_feed"
)

// Source is a configured upstream stream. Immutable after startup.
type Source struct {
	ID          string     `yaml:"id"`
	Kind        SourceKind `yaml:"kind"`
	TrustWeight float64    `yaml:"trust_weight"`
}

// Entity is a URL attached to a message with its anchor text.
type Entity struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// RawMessage is one inbound chat message, created on arrival and
// discarded after parsing. SentAt is the upstream wall-clock timestamp;
// ReceivedAt is local and monotonic-anchored.
type RawMessage struct {
	SourceID   string
	ThreadID   string
	SentAt     time.Time
	ReceivedAt time.Time
	Text       string
	Entities   []Entity
}

// SignalTag is a categorical signal extracted by the parser.
type SignalTag string

const (
	TagEarlyTrending SignalTag = "early_trending"
	TagMomentumSpike SignalTag = "momentum_spike"
	TagLargeBuy      SignalTag = "large_buy"
	TagWhaleBuy      SignalTag = "whale_buy"
	TagTop5Hotlist   SignalTag = "top5_hotlist"
	TagLateHotlist   SignalTag = "late_hotlist"
	TagStaleMC       SignalTag = "stale_mc"
)

// ConfirmationTags are the tags that can satisfy tier rules. Hotlist
// membership is handled separately because its timing matters.
var ConfirmationTags = map[SignalTag]bool{
	TagMomentumSpike: true,
	TagLargeBuy:      true,
	TagWhaleBuy:      true,
	TagEarlyTrending: true,
}

// HotlistPrefix marks a sentinel contract used when only a symbol is known.
const HotlistPrefix = "HOTLIST:"

// HotlistSentinel builds the placeholder contract for a symbol-only event.
func HotlistSentinel(symbol string) string {
	return HotlistPrefix + strings.ToUpper(symbol)
}

// IsHotlistSentinel reports whether contract is a symbol-only placeholder.
func IsHotlistSentinel(contract string) bool {
	return strings.HasPrefix(contract, HotlistPrefix)
}

// ValidContract reports whether addr looks like a base58 Solana address.
// Ethereum-style 0x addresses are rejected outright.
func ValidContract(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	upper := strings.ToUpper(addr)
	if strings.HasPrefix(upper, "0X") {
		return false
	}
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// ParsedEvent is a message that yielded usable data. Contract is either a
// canonical uppercase Solana address or a hotlist sentinel.
type ParsedEvent struct {
	SourceID   string
	SourceKind SourceKind
	ObservedAt time.Time
	SentAt     time.Time
	Contract   string
	Symbol     string

	MarketCapUSD *float64
	LiquidityUSD *float64
	BuySOL       *float64
	Multiplier   *float64
	Holders      *int
	Callers      *int
	Subs         *int

	// HotlistRank is the 1-based position in a hotlist message, 0 otherwise.
	HotlistRank int

	Tags []SignalTag
}

// HasTag reports whether the event carries tag.
func (e *ParsedEvent) HasTag(tag SignalTag) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Tier ranking: 1 is strongest. StrongerTier reports whether a beats b.
func StrongerTier(a, b int) bool { return a < b }

// LevelForTier maps a tier to its alert level. Tier 1 is HIGH, the rest
// MEDIUM.
func LevelForTier(tier int) string {
	if tier == 1 {
		return "HIGH"
	}
	return "MEDIUM"
}

// AlertCandidate is the ephemeral output of the correlator.
type AlertCandidate struct {
	Contract    string
	Symbol      string
	Tier        int
	Reasons     []string
	Theme       string
	CohortStart time.Time
	ObservedAt  time.Time

	EntryMCUSD   *float64
	LiquidityUSD *float64
	Callers      *int
	Subs         *int
	TopBuySOL    *float64
	LastBuySOL   *float64

	Hotlist        bool
	Confirmations  int
	MatchedSignals []string
	Tags           []SignalTag
}

// AlertRecord is the durable form appended to the event log. Serialized
// field names are part of the persisted format.
type AlertRecord struct {
	ID                string   `json:"id"`
	Token             string   `json:"token"`
	Tier              int      `json:"tier"`
	Level             string   `json:"level"`
	Timestamp         string   `json:"timestamp"`
	Contract          string   `json:"contract"`
	EntryMC           *float64 `json:"entryMc"`
	Hotlist           string   `json:"hotlist"`
	Description       string   `json:"description"`
	MatchedSignals    []string `json:"matchedSignals"`
	Tags              []string `json:"tags"`
	Liquidity         *float64 `json:"liquidity,omitempty"`
	Callers           *int     `json:"callers,omitempty"`
	Subs              *int     `json:"subs,omitempty"`
	ConfirmationCount int      `json:"confirmationCount"`
	CohortTime        string   `json:"cohortTime"`
}

// Time parses the record timestamp. Records are written with RFC3339
// timestamps; a zero time is returned for anything unparseable.
func (r *AlertRecord) Time() time.Time {
	t, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecordID builds the deterministic id <contract_prefix8>_<YYYY-MM-DD>.
func RecordID(contract string, ts time.Time) string {
	prefix := strings.ToUpper(contract)
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return prefix + "_" + ts.UTC().Format("2006-01-02")
}

// RelativeTime renders the gap between then and now as a compact string
// like "45m ago" or "3h ago".
func RelativeTime(then, now time.Time) string {
	d := now.Sub(then)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// NormalizeSymbol uppercases and strips the decorative prefixes feeds put
// in front of tickers.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.Trim(symbol, "#$ "))
}

// SymbolsMatch reports whether two symbols refer to the same token,
// tolerating feed-specific decoration. Symbols of four or more characters
// also match on containment because trending feeds truncate names.
func SymbolsMatch(a, b string) bool {
	na, nb := NormalizeSymbol(a), NormalizeSymbol(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	if len(na) >= 4 && len(nb) >= 4 {
		return strings.Contains(na, nb) || strings.Contains(nb, na)
	}
	return false
}

// Subscriber is one entry of the external chat-bot registry. The core
// only reads it.
type Subscriber struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"` // user|group
	TierFilter []int  `json:"tierFilter"`
}

// Wants reports whether the subscriber's tier filter admits tier. An
// empty filter admits everything.
func (s Subscriber) Wants(tier int) bool {
	if len(s.TierFilter) == 0 {
		return true
	}
	for _, t := range s.TierFilter {
		if t == tier {
			return true
		}
	}
	return false
}
