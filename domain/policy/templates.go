package policy

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed templates/catalog.yaml
var catalogFS embed.FS

// RiskProfile is a template's default risk posture.
type RiskProfile struct {
	Posture            string  `yaml:"posture" json:"posture"`
	MaxPositionSizeUSD float64 `yaml:"max_position_size_usd" json:"max_position_size_usd"`
	MaxLeverage        float64 `yaml:"max_leverage" json:"max_leverage"`
	MaxSlippageBps     int     `yaml:"max_slippage_bps" json:"max_slippage_bps"`
}

// TemplateConfigDefaults are the config fields a template seeds into
// /suggest-config before user overrides are applied.
type TemplateConfigDefaults struct {
	PaperLivePolicy                           string `yaml:"paper_live_policy" json:"paper_live_policy"`
	CustodyMode                               string `yaml:"custody_mode" json:"custody_mode"`
	VerificationBackend                       string `yaml:"verification_backend" json:"verification_backend"`
	VerificationFallbackRequireSignedReceipts bool   `yaml:"verification_fallback_require_signed_receipts" json:"verification_fallback_require_signed_receipts"`
	InformationSharingScope                   string `yaml:"information_sharing_scope" json:"information_sharing_scope"`
}

// Template is an immutable, library-owned policy template.
type Template struct {
	TemplateID  string                 `yaml:"template_id" json:"template_id"`
	Domain      string                 `yaml:"domain" json:"domain"`
	Title       string                 `yaml:"title" json:"title"`
	Objective   string                 `yaml:"objective" json:"objective"`
	Rationale   string                 `yaml:"rationale" json:"rationale"`
	ModulePlan  []string               `yaml:"module_plan" json:"module_plan"`
	RiskProfile RiskProfile            `yaml:"risk_profile" json:"risk_profile"`
	Config      TemplateConfigDefaults `yaml:"config" json:"config"`
}

type catalog struct {
	Templates []Template `yaml:"templates"`
}

var (
	loadOnce      sync.Once
	loadedCatalog catalog
	loadErr       error
)

func load() (catalog, error) {
	loadOnce.Do(func() {
		data, err := catalogFS.ReadFile("templates/catalog.yaml")
		if err != nil {
			loadErr = fmt.Errorf("read embedded policy template catalog: %w", err)
			return
		}
		if err := yaml.Unmarshal(data, &loadedCatalog); err != nil {
			loadErr = fmt.Errorf("parse embedded policy template catalog: %w", err)
		}
	})
	return loadedCatalog, loadErr
}

// Library is a read-only handle onto the embedded policy template catalog.
type Library struct{}

// NewLibrary returns a Library backed by the embedded catalog.
func NewLibrary() *Library { return &Library{} }

// List returns every template, ordered as they appear in the catalog.
func (l *Library) List() ([]Template, error) {
	c, err := load()
	if err != nil {
		return nil, err
	}
	out := make([]Template, len(c.Templates))
	copy(out, c.Templates)
	return out, nil
}

// Get returns the template with the given id, or false if none matches.
func (l *Library) Get(templateID string) (Template, bool, error) {
	c, err := load()
	if err != nil {
		return Template{}, false, err
	}
	for _, t := range c.Templates {
		if t.TemplateID == templateID {
			return t, true, nil
		}
	}
	return Template{}, false, nil
}

// ByDomain returns every template whose domain matches, preserving catalog order.
func (l *Library) ByDomain(domain string) ([]Template, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	var out []Template
	for _, t := range all {
		if t.Domain == domain {
			out = append(out, t)
		}
	}
	return out, nil
}
