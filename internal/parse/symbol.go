package parse

import (
	"regexp"
	"strings"
)

// Symbol extraction mirrors the per-feed message shapes. Methods run in
// priority order; the first hit wins. Exchange names that follow "On" in
// swap receipts are never symbols.

var exchangeNames = map[string]bool{
	"SOL": true, "USD": true, "USDC": true, "WSOL": true,
	"FLASH": true, "JUPITER": true, "RAYDIUM": true, "PUMPFUN": true,
	"PUMPSWAP": true, "BINANCE": true, "MAESTRO": true, "CHART": true,
	"BUY": true,
}

var (
	reNameParen    = regexp.MustCompile(`(?i)Name:\s*[^(]+\(([A-Za-z0-9\-]+)\)`)
	reSwapForTag   = regexp.MustCompile(`(?i)for\s+[\d,.]+\s+#\$?([A-Za-z0-9]+)\s+On`)
	reBuyOn        = regexp.MustCompile(`(?i)BUY\s+(\S+)\s+on`)
	reBracketLink  = regexp.MustCompile(`(?i)\[([A-Za-z0-9\-]+)[^\]]*\(https://`)
	reBracketAny   = regexp.MustCompile(`(?i)\[([A-Za-z0-9\-]+)`)
	reMadeXOn      = regexp.MustCompile(`(?i)made\s+\d+x\+?\s+on\s+([A-Za-z0-9\-]+)`)
	reNewTrending  = regexp.MustCompile(`(?i)🔥\s*‎?([^\n]+?)\s+New\s+Trending`)
	reIsUp         = regexp.MustCompile(`(?i)📈\s*‎?([A-Za-z0-9\-]+)\s+is\s+up\s+[\d.]+[Xx]`)
	reMoneyBag     = regexp.MustCompile(`💰\s*([A-Za-z0-9\-]+)\s*\(`)
	reLightning    = regexp.MustCompile(`⚡\s*([A-Za-z0-9\-]+)\s*\(`)
	reSwapGeneric  = regexp.MustCompile(`(?i)Swapped\s+[\d,.]+(?:\s*\([^)]+\))?\s+#?[A-Za-z0-9]+\s+[^#]*for\s+[\d,.]+\s+#([A-Za-z0-9™©®]+)`)
	reDidArrow     = regexp.MustCompile(`(?i)([A-Za-z0-9]+)\s+did\s+👉`)
	reWhiteCircle  = regexp.MustCompile(`⚪\s*[^(]+?\s*\(#([^)]+)\)`)
	reCallAlert    = regexp.MustCompile(`(?i)CALL ALERT:\s*([A-Za-z0-9\-]+)`)
	reCallOn       = regexp.MustCompile(`(?i)call on\s+([A-Za-z0-9\-]+)`)
	reLeadingHash  = regexp.MustCompile(`^#([A-Za-z0-9]+(?:\.\.\.[A-Za-z0-9]+)?)`)
	reAnyHash      = regexp.MustCompile(`#([A-Za-z0-9]+(?:\.\.\.[A-Za-z0-9]+)?)`)
	reDollarSymbol = regexp.MustCompile(`\$([A-Za-z0-9]+)`)
	reTrademark    = regexp.MustCompile(`[™©®]`)
	rePureNumber   = regexp.MustCompile(`^[\d.]+$`)
)

// ExtractSymbol returns the uppercased token symbol, or "" when nothing
// in the message names one.
func ExtractSymbol(text string) string {
	if text == "" {
		return ""
	}

	if m := reNameParen.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 50); s != "" {
			return s
		}
	}
	// Swap receipts: the buy-side symbol follows "for", the exchange
	// follows "On".
	if m := reSwapForTag.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 50); s != "" && !exchangeNames[s] {
			return s
		}
	}
	if m := reBuyOn.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 50); s != "" && !exchangeNames[s] {
			return s
		}
	}
	// Whale-buy brackets: "[VEIL💊 (https://…)]" or plain "[Asgore💊]".
	if hasWhaleBuyShape(text) {
		if m := reBracketLink.FindStringSubmatch(text); m != nil {
			if s := acceptSymbol(m[1], 50); s != "" {
				return s
			}
		}
		if brackets := reBracketAny.FindAllStringSubmatch(text, -1); len(brackets) >= 2 {
			// The last bracket is the token; earlier ones identify the whale.
			if s := acceptSymbol(brackets[len(brackets)-1][1], 50); s != "" {
				return s
			}
		}
	}
	if m := reMadeXOn.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 50); s != "" {
			return s
		}
	}
	if m := reNewTrending.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(strings.Trim(m[1], " ‎"), 50); s != "" {
			return s
		}
	}
	if m := reIsUp.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(strings.Trim(m[1], " ‎"), 50); s != "" {
			return s
		}
	}
	if m := reMoneyBag.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 20); s != "" {
			return s
		}
	}
	if m := reLightning.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 20); s != "" {
			return s
		}
	}
	if m := reSwapGeneric.FindStringSubmatch(text); m != nil {
		s := reTrademark.ReplaceAllString(m[1], "")
		if s = acceptSymbol(s, 20); s != "" && !exchangeNames[s] {
			return s
		}
	}
	if m := reDidArrow.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 20); s != "" && len(s) >= 2 {
			return s
		}
	}
	if m := reWhiteCircle.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 20); s != "" && len(s) >= 2 {
			return s
		}
	}
	if m := reCallAlert.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 20); s != "" && len(s) >= 2 {
			return s
		}
	}
	if m := reCallOn.FindStringSubmatch(text); m != nil {
		if s := acceptSymbol(m[1], 20); s != "" && len(s) >= 2 {
			return s
		}
	}

	hasSwap := strings.Contains(text, "Swapped")
	if !hasSwap {
		if m := reLeadingHash.FindStringSubmatch(text); m != nil {
			if s := acceptSymbol(trimEllipsis(m[1]), 20); s != "" && len(s) >= 2 {
				return s
			}
		}
	}
	if all := reAnyHash.FindAllStringSubmatch(text, -1); len(all) > 0 {
		// In swap receipts the first hashtag is the input token, skip it.
		start := 0
		if hasSwap && len(all) > 1 {
			start = 1
		}
		for i := start; i < len(all); i++ {
			s := acceptSymbol(trimEllipsis(all[i][1]), 20)
			if s != "" && len(s) >= 2 && !exchangeNames[s] {
				return s
			}
		}
	}
	if m := reDollarSymbol.FindStringSubmatch(text); m != nil {
		s := strings.ToUpper(m[1])
		// Market caps like "$24.4K" also match; reject numerics and
		// suffixed amounts.
		if !rePureNumber.MatchString(s) && !strings.HasSuffix(s, "K") && !strings.HasSuffix(s, "M") &&
			len(s) >= 2 && len(s) <= 20 {
			return s
		}
	}
	return ""
}

func hasWhaleBuyShape(text string) bool {
	return (strings.Contains(text, "Buy") || strings.Contains(text, "🟢")) &&
		(strings.Contains(text, "SOL") || strings.Contains(text, "WSOL")) &&
		strings.Contains(text, "MCP")
}

func acceptSymbol(raw string, max int) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || len(s) > max {
		return ""
	}
	if rePureNumber.MatchString(s) {
		return ""
	}
	return s
}

func trimEllipsis(s string) string {
	if i := strings.Index(s, "..."); i >= 0 {
		return s[:i]
	}
	return s
}
