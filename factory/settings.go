/*
Package factory converts settings documents into typed engine configuration.

PURPOSE:
  Business and loyalty settings live in JSON or YAML documents so an
  operator can configure a store without code changes. The factory
  parses a document, applies defaults, validates it, and hands back the
  immutable settings the engine takes as explicit parameters.

WHY A DOCUMENT?
  - Non-developers configure rates, caps and floors
  - Version control for per-store configuration
  - The engine itself never reads ambient settings state

DOCUMENT SCHEMA (YAML shown; JSON uses the same keys):
  business:
    id: "biz-001"
    name: "Warp Coffee"
    short_code: "WRP"
    timezone: "America/Toronto"
  tax:
    name: "HST"
    rate_percent: 13
  loyalty:
    enabled: true
    mode: "points"             # points | dollars
    redemption_rate: 100       # points per dollar
    min_redemption: 500        # points
    max_redemption_per_day: 5000
    earn_rate_percent: 5
    auto_apply: "always"       # always | never
    allow_partial_redemption: false
    credits_expire: true
    expiry_months: 12

SEE ALSO:
  - loyalty/types.go: The Settings this produces
  - cmd/server/main.go: Loads the document at startup
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/checkout-engine/checkout"
	"github.com/warp/checkout-engine/loyalty"
)

// =============================================================================
// DOCUMENT SCHEMA
// =============================================================================

type SettingsDocument struct {
	Business BusinessDoc `json:"business" yaml:"business"`
	Tax      TaxDoc      `json:"tax" yaml:"tax"`
	Loyalty  LoyaltyDoc  `json:"loyalty" yaml:"loyalty"`
}

type BusinessDoc struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	ShortCode string `json:"short_code" yaml:"short_code"`
	Timezone  string `json:"timezone" yaml:"timezone"`
}

type TaxDoc struct {
	Name        string  `json:"name" yaml:"name"`
	RatePercent float64 `json:"rate_percent" yaml:"rate_percent"`
}

type LoyaltyDoc struct {
	Enabled                bool    `json:"enabled" yaml:"enabled"`
	Mode                   string  `json:"mode" yaml:"mode"`
	RedemptionRate         float64 `json:"redemption_rate" yaml:"redemption_rate"`
	MinRedemption          float64 `json:"min_redemption" yaml:"min_redemption"`
	MaxRedemptionPerDay    float64 `json:"max_redemption_per_day" yaml:"max_redemption_per_day"`
	EarnRatePercent        float64 `json:"earn_rate_percent" yaml:"earn_rate_percent"`
	AutoApply              string  `json:"auto_apply" yaml:"auto_apply"`
	AllowPartialRedemption bool    `json:"allow_partial_redemption" yaml:"allow_partial_redemption"`
	CreditsExpire          bool    `json:"credits_expire" yaml:"credits_expire"`
	ExpiryMonths           int     `json:"expiry_months" yaml:"expiry_months"`
}

// Config is the typed output handed to the engine.
type Config struct {
	Business checkout.BusinessSettings
	Loyalty  loyalty.Settings

	TaxName        string
	TaxRatePercent decimal.Decimal
}

// =============================================================================
// PARSING
// =============================================================================

// ParseJSON parses a JSON settings document.
func ParseJSON(data []byte) (*Config, error) {
	var doc SettingsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid settings JSON: %w", err)
	}
	return fromDocument(doc)
}

// ParseYAML parses a YAML settings document.
func ParseYAML(data []byte) (*Config, error) {
	var doc SettingsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid settings YAML: %w", err)
	}
	return fromDocument(doc)
}

// LoadFile reads a settings document, dispatching on file extension
// (.yaml/.yml vs .json).
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

func fromDocument(doc SettingsDocument) (*Config, error) {
	applyDefaults(&doc)
	if err := validate(doc); err != nil {
		return nil, err
	}

	cfg := &Config{
		Business: checkout.BusinessSettings{
			BusinessID: doc.Business.ID,
			Name:       doc.Business.Name,
			ShortCode:  doc.Business.ShortCode,
			Timezone:   doc.Business.Timezone,
		},
		Loyalty: loyalty.Settings{
			Enabled:                doc.Loyalty.Enabled,
			Mode:                   loyalty.Mode(doc.Loyalty.Mode),
			RedemptionRate:         decimal.NewFromFloat(doc.Loyalty.RedemptionRate),
			MinRedemption:          decimal.NewFromFloat(doc.Loyalty.MinRedemption),
			MaxRedemptionPerDay:    decimal.NewFromFloat(doc.Loyalty.MaxRedemptionPerDay),
			EarnRatePercent:        decimal.NewFromFloat(doc.Loyalty.EarnRatePercent),
			AutoApply:              loyalty.AutoApplyPolicy(doc.Loyalty.AutoApply),
			AllowPartialRedemption: doc.Loyalty.AllowPartialRedemption,
			CreditsExpire:          doc.Loyalty.CreditsExpire,
			ExpiryMonths:           doc.Loyalty.ExpiryMonths,
		},
		TaxName:        doc.Tax.Name,
		TaxRatePercent: decimal.NewFromFloat(doc.Tax.RatePercent),
	}
	return cfg, nil
}

func applyDefaults(doc *SettingsDocument) {
	if doc.Business.ShortCode == "" && doc.Business.Name != "" {
		// First three letters of the name, uppercased.
		code := strings.ToUpper(strings.ReplaceAll(doc.Business.Name, " ", ""))
		if len(code) > 3 {
			code = code[:3]
		}
		doc.Business.ShortCode = code
	}
	if doc.Tax.Name == "" {
		doc.Tax.Name = "tax"
	}
	if doc.Loyalty.Mode == "" {
		doc.Loyalty.Mode = string(loyalty.ModePoints)
	}
	if doc.Loyalty.AutoApply == "" {
		doc.Loyalty.AutoApply = string(loyalty.AutoApplyNever)
	}
	if doc.Loyalty.RedemptionRate == 0 {
		doc.Loyalty.RedemptionRate = 100 // 100 pts = $1
	}
}

func validate(doc SettingsDocument) error {
	if doc.Business.ID == "" {
		return fmt.Errorf("settings: business.id is required")
	}
	switch loyalty.Mode(doc.Loyalty.Mode) {
	case loyalty.ModePoints, loyalty.ModeDollars:
	default:
		return fmt.Errorf("settings: unknown loyalty mode %q", doc.Loyalty.Mode)
	}
	switch loyalty.AutoApplyPolicy(doc.Loyalty.AutoApply) {
	case loyalty.AutoApplyAlways, loyalty.AutoApplyNever:
	default:
		return fmt.Errorf("settings: unknown auto_apply policy %q", doc.Loyalty.AutoApply)
	}
	if doc.Loyalty.Enabled && doc.Loyalty.RedemptionRate <= 0 {
		return fmt.Errorf("settings: redemption_rate must be positive when loyalty is enabled")
	}
	if doc.Loyalty.RedemptionRate < 0 || doc.Loyalty.MinRedemption < 0 ||
		doc.Loyalty.MaxRedemptionPerDay < 0 || doc.Loyalty.EarnRatePercent < 0 {
		return fmt.Errorf("settings: loyalty rates must not be negative")
	}
	if doc.Tax.RatePercent < 0 {
		return fmt.Errorf("settings: tax.rate_percent must not be negative")
	}
	if doc.Loyalty.CreditsExpire && doc.Loyalty.ExpiryMonths <= 0 {
		return fmt.Errorf("settings: expiry_months must be positive when credits_expire is set")
	}
	return nil
}
