package parse

import (
	"regexp"
	"strconv"
	"strings"
)

// Numeric fields arrive as suffixed shorthand ($53.8k, $1.5M, $51,398)
// under a handful of keyed forms per feed.

var (
	reMCArrowAll   = regexp.MustCompile(`(?i)MC:\s*\$([\d,\.]+[KMBkmb]?)`)
	reMCComma      = regexp.MustCompile(`(?i)MC:\s+\$([\d,]+)`)
	reMCPSuffix    = regexp.MustCompile(`(?i)MCP\s+\$([\d,\.]+)([KMkm])`)
	reMCSuffixed   = regexp.MustCompile(`(?i)MC[:\s]+\$([\d,\.]+)([KMkm])`)
	reAnyMoney     = regexp.MustCompile(`(?i)\$([\d,\.]+[KMkm])`)

	reMCFallbacks = []*regexp.Regexp{
		regexp.MustCompile(`(?i)💰\s*MC:\s*\$?([\d,]+)`),
		regexp.MustCompile(`(?i)MC[:\s]+\$?([\d,\.]+[KMBkmb]?)\s*👉`),
		regexp.MustCompile(`(?i)MCap[:\s]+\$?([\d,\.]+[KMBkmb]?)`),
		regexp.MustCompile(`(?i)Market\s+Cap[:\s]+\$?([\d,\.]+[KMBkmb]?)`),
		regexp.MustCompile(`(?i)Current\s+MC[ap]*[:\s]+\$?([\d,\.]+[KMBkmb]?)`),
		regexp.MustCompile(`(?i)MC[:\s]+\$([\d,\.]+[KMBkmb]?)`),
		regexp.MustCompile(`(?i)💰\s*MC:\s*\$?([\d,\.]+[KMBkmb]?)`),
		regexp.MustCompile(`\(\$([\d,\.]+[KMBkmb]?)\)`),
	}

	reLiquidity = []*regexp.Regexp{
		regexp.MustCompile(`(?i)💧\s*LIQ[:\s]+\$?([\d,\.]+[KMkm]?)`),
		regexp.MustCompile(`(?i)LIQ[:\s]+\$?([\d,\.]+[KMkm]?)`),
		regexp.MustCompile(`(?i)Liquidity[:\s]+\$?([\d,\.]+[KMkm]?)`),
	}

	reBuySize = []*regexp.Regexp{
		regexp.MustCompile(`(?i)🟢Buy\s+(\d+\.?\d*)\s*(?:SOL|WSOL)`),
		regexp.MustCompile(`(?i)Buy\s+(\d+\.?\d*)\s*(?:SOL|WSOL)`),
		regexp.MustCompile(`(?i)swapped\s+(\d+\.?\d*)\s*SOL\s+for`),
		regexp.MustCompile(`(?i)💰\s*[A-Za-z0-9\-]+\s*\(\$[\d,\.]+[KMkm]?\)\s*-\s*(\d+\.?\d*)\s*SOL`),
		regexp.MustCompile(`(?i)(\d+\.?\d*)\s*SOL\s*BUY`),
		regexp.MustCompile(`(?i)Swapped\s+(\d+\.?\d*)\s*#?SOL`),
		regexp.MustCompile(`(?i)(\d+\.?\d*)\s*SOL\s*for`),
	}

	reMultiplier = []*regexp.Regexp{
		regexp.MustCompile(`(?i)did\s+👉\s*(\d+\.?\d*)x`),
		regexp.MustCompile(`(?i)(\d+\.?\d*)x\+?`),
	}

	reCallers = regexp.MustCompile(`(?i)Callers:\s*([0-9]+)`)
	reSubs    = regexp.MustCompile(`(?i)Subs:\s*([0-9]+)`)
	reHolders = regexp.MustCompile(`(?i)Holders?:\s*([0-9,]+)`)

	reSpike = regexp.MustCompile(`(?i)([\d.]+)%\s+in\s+([\d.]+)\s*s`)
)

// parseMoney converts "53.8K", "1.5M", "2B" or "51,398" to dollars.
func parseMoney(raw string) (float64, bool) {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		mult, s = 1e9, strings.TrimSuffix(s, "B")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

// ExtractMarketCap returns the market cap in USD, or nil.
func ExtractMarketCap(text string) *float64 {
	if text == "" {
		return nil
	}
	// Tracker echoes write "MC: $23.1k 👉 $69.2k"; the current value is
	// the second one.
	if all := reMCArrowAll.FindAllStringSubmatch(text, -1); len(all) >= 2 {
		if v, ok := parseMoney(all[len(all)-1][1]); ok {
			return &v
		}
	}
	if m := reMCComma.FindStringSubmatch(text); m != nil && strings.Contains(m[1], ",") {
		if v, ok := parseMoney(m[1]); ok {
			return &v
		}
	}
	if m := reMCPSuffix.FindStringSubmatch(text); m != nil {
		if v, ok := parseMoney(m[1] + m[2]); ok {
			return &v
		}
	}
	// Gain recaps show "$17.2K ⮕ $34.5K"; take the value after the arrow.
	if strings.Contains(text, "made") {
		if all := reAnyMoney.FindAllStringSubmatch(text, -1); len(all) >= 2 {
			if v, ok := parseMoney(all[1][1]); ok {
				return &v
			}
		}
	}
	if m := reMCSuffixed.FindStringSubmatch(text); m != nil {
		if v, ok := parseMoney(m[1] + m[2]); ok {
			return &v
		}
	}
	for _, re := range reMCFallbacks {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, ok := parseMoney(m[1]); ok {
				return &v
			}
		}
	}
	return nil
}

// ExtractLiquidity returns the pool liquidity in USD, or nil.
func ExtractLiquidity(text string) *float64 {
	for _, re := range reLiquidity {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, ok := parseMoney(m[1]); ok {
				return &v
			}
		}
	}
	return nil
}

// ExtractBuySOL returns the buy size in SOL, or nil.
func ExtractBuySOL(text string) *float64 {
	for _, re := range reBuySize {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return &v
			}
		}
	}
	return nil
}

// ExtractMultiplier returns the tracker multiplier ("did 👉 3x"), or nil.
func ExtractMultiplier(text string) *float64 {
	for _, re := range reMultiplier {
		if m := re.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				return &v
			}
		}
	}
	return nil
}

// ExtractCallersSubs returns the labelled caller and subscriber counts.
func ExtractCallersSubs(text string) (callers, subs *int) {
	if m := reCallers.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			callers = &v
		}
	}
	if m := reSubs.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			subs = &v
		}
	}
	return callers, subs
}

// ExtractHolders returns the holder count, or nil.
func ExtractHolders(text string) *int {
	if m := reHolders.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			return &v
		}
	}
	return nil
}

// hasMomentumSpike reports a percent-in-seconds spike like "41.06% in 1.5s".
func hasMomentumSpike(text string) bool {
	return reSpike.MatchString(text)
}
