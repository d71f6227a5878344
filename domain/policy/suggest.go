package policy

import (
	"sort"
	"strings"
)

// DefaultSymbolAllowlist seeds /suggest-config when the template and intent
// give no stronger signal; callers are expected to narrow it before launch.
var DefaultSymbolAllowlist = []string{"BTC", "ETH"}

// Suggestion is the result of synthesizing a policy config from a free-text
// intent, a domain hint, and the template library. It is not yet a
// validated Config; onboarding and /verify still run it through Validate.
type Suggestion struct {
	Config      *Config
	Assumptions []string
	Warnings    []string
}

// Suggest picks the best-matching template for domainHint (falling back to
// the template whose objective shares the most keywords with intent, ties
// going to the earlier catalog entry, then the catalog's first entry) and seeds a Config from its defaults plus the caller's
// wallet address and auth key. It never itself calls Validate: the result
// may still be missing fields a user must supply during onboarding.
func Suggest(lib *Library, walletAddress, intent, domainHint, gatewayAuthKey string) (*Suggestion, error) {
	templates, err := lib.List()
	if err != nil {
		return nil, err
	}

	picked, assumptions := pickTemplate(templates, intent, domainHint)

	cfg := &Config{
		ProfileName:                 slug(picked.Title),
		ProfileDomain:               picked.Domain,
		SymbolAllowlist:             append([]string(nil), DefaultSymbolAllowlist...),
		RequestTimeoutMs:            30000,
		MaxRetries:                  3,
		RetryBackoffMs:              1000,
		MaxPositionSizeUSD:          picked.RiskProfile.MaxPositionSizeUSD,
		LeverageCap:                 picked.RiskProfile.MaxLeverage,
		MaxLeverage:                 picked.RiskProfile.MaxLeverage,
		MaxAllocationUSD:            picked.RiskProfile.MaxPositionSizeUSD,
		PerTradeNotionalCapUSD:      picked.RiskProfile.MaxPositionSizeUSD,
		MaxSlippageBps:              picked.RiskProfile.MaxSlippageBps,
		CustodyMode:                 picked.Config.CustodyMode,
		GatewayAuthKey:              gatewayAuthKey,
		VerificationBackend:         picked.Config.VerificationBackend,
		VerificationFallbackEnabled: !picked.Config.VerificationFallbackRequireSignedReceipts,
		VerificationFallbackRequireSignedReceipts: picked.Config.VerificationFallbackRequireSignedReceipts,
		VerificationEigencloudTimeoutMs:           10000,
		PaperLivePolicy:                           picked.Config.PaperLivePolicy,
		InformationSharingScope:                   picked.Config.InformationSharingScope,
		AcceptTerms:                               false,
	}

	var warnings []string
	switch cfg.CustodyMode {
	case CustodyModeUserWallet, CustodyModeDual:
		cfg.UserWalletAddress = walletAddress
	case CustodyModeOperatorWallet:
		warnings = append(warnings, "operator_wallet_address must be supplied before /verify: template "+picked.TemplateID+" requires operator custody")
	}
	if gatewayAuthKey == "" {
		warnings = append(warnings, "gateway_auth_key was not supplied; onboarding must collect one before /verify")
	}
	warnings = append(warnings, "accept_terms defaults to false; onboarding must collect explicit acceptance")

	return &Suggestion{Config: cfg, Assumptions: assumptions, Warnings: warnings}, nil
}

func pickTemplate(templates []Template, intent, domainHint string) (Template, []string) {
	if len(templates) == 0 {
		return Template{
			TemplateID: "default_v1",
			Domain:     "general",
			Title:      "Default profile",
			Config:     TemplateConfigDefaults{CustodyMode: CustodyModeOperatorWallet, VerificationBackend: VerificationBackendEigencloudPrimary},
		}, []string{"no policy templates are registered; falling back to a built-in default profile"}
	}

	domainHint = strings.ToLower(strings.TrimSpace(domainHint))
	if domainHint != "" {
		for _, t := range templates {
			if strings.EqualFold(t.Domain, domainHint) {
				return t, []string{"selected template " + t.TemplateID + " by exact domain match on " + domainHint}
			}
		}
	}

	lowerIntent := strings.ToLower(intent)
	type scored struct {
		t     Template
		score int
	}
	var candidates []scored
	for _, t := range templates {
		score := 0
		for _, word := range strings.Fields(strings.ToLower(t.Objective)) {
			word = strings.Trim(word, ".,")
			if len(word) > 3 && strings.Contains(lowerIntent, word) {
				score++
			}
		}
		candidates = append(candidates, scored{t, score})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if candidates[0].score > 0 {
		return candidates[0].t, []string{"selected template " + candidates[0].t.TemplateID + " by keyword overlap with the stated intent"}
	}
	return templates[0], []string{"no domain or keyword match found; defaulting to the catalog's first template " + templates[0].TemplateID}
}

func slug(title string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('_')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
