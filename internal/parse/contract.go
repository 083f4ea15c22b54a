package parse

import (
	"regexp"
	"strings"

	"github.com/solboy/solalerts/internal/domain"
)

// Contract extraction is an ordered cascade: bot deep-links are the
// richest hints, then dex/explorer URLs, then keyed text labels, then a
// bare base58 run. The first valid address wins.

const base58Run = `([A-Za-z0-9]{32,44})`

var (
	reEthDeepLink = regexp.MustCompile(`(?i)\?start=(0x[a-fA-F0-9]{40})`)

	// Bot deep-link start parameters, richest first.
	reDeepLinks = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\?start=track_` + base58Run),
		regexp.MustCompile(`(?i)\?start=15_` + base58Run),
		regexp.MustCompile(`(?i)\?start=` + base58Run),
	}

	// Dex/explorer token URLs. The gmgn paths may carry an arbitrary
	// referral prefix before the address.
	reGmgnPrefixed = regexp.MustCompile(`gmgn\.ai/sol/token/[A-Za-z0-9]+_` + base58Run + `(?:\?|\)|$|[^A-Za-z0-9])`)
	reGmgnDirect   = regexp.MustCompile(`gmgn\.ai/sol/token/` + base58Run + `(?:\?|\)|$|[^A-Za-z0-9])`)
	rePumpFun      = regexp.MustCompile(`pump\.fun/` + base58Run)

	// Keyed text labels.
	reLabels = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Mint:\s*` + base58Run),
		regexp.MustCompile(`📄\s*` + base58Run),
		regexp.MustCompile(`(?i)CA:\s*` + base58Run),
		regexp.MustCompile(`(?i)Contract:\s*` + base58Run),
	}

	reBareAddress = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

	reTextURL = regexp.MustCompile(`https?://[^\s\)]+`)
)

// ExtractContract returns the canonical uppercase contract address found
// in the message, or "" when none is present. Ethereum deep-links poison
// the whole message: those feeds cross-post EVM tokens this system does
// not track.
func ExtractContract(text string, entities []domain.Entity) string {
	if text == "" && len(entities) == 0 {
		return ""
	}
	if reEthDeepLink.MatchString(text) {
		return ""
	}

	urls := make([]string, 0, len(entities)+4)
	for _, e := range entities {
		urls = append(urls, e.URL)
	}
	urls = append(urls, reTextURL.FindAllString(text, -1)...)

	// Deep links and token URLs, entity URLs first.
	for _, u := range urls {
		if addr := contractFromURL(u); addr != "" {
			return addr
		}
	}
	// Deep links embedded in plain text.
	if addr := contractFromURL(text); addr != "" {
		return addr
	}

	for _, re := range reLabels {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if addr := canonical(m[1]); addr != "" {
				return addr
			}
		}
	}

	// Last resort: a bare base58 run anywhere in the text.
	for _, m := range reBareAddress.FindAllString(text, -1) {
		if addr := canonical(m); addr != "" {
			return addr
		}
	}
	return ""
}

func contractFromURL(u string) string {
	if reEthDeepLink.MatchString(u) {
		return ""
	}
	for _, re := range reDeepLinks {
		if m := re.FindStringSubmatch(u); m != nil {
			if addr := canonical(m[1]); addr != "" {
				return addr
			}
		}
	}
	if strings.Contains(u, "gmgn.ai/sol/token/") {
		// Referral-prefixed token links carry the address after an
		// underscore; direct links carry it bare. Try prefixed first so
		// the referral token itself is never mistaken for the address.
		for _, re := range []*regexp.Regexp{reGmgnPrefixed, reGmgnDirect} {
			if m := re.FindStringSubmatch(u + "\n"); m != nil {
				if addr := canonical(m[1]); addr != "" {
					return addr
				}
			}
		}
	}
	if m := rePumpFun.FindStringSubmatch(u); m != nil {
		if addr := canonical(m[1]); addr != "" {
			return addr
		}
	}
	return ""
}

func canonical(addr string) string {
	if !domain.ValidContract(addr) {
		return ""
	}
	return strings.ToUpper(addr)
}
