package config

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/goldnet/ledger-engine/internal/apperr"
	"github.com/goldnet/ledger-engine/internal/model"
)

// Setting keys. Every business constant lives behind one of these.
const (
	KeyMonthlyMinGrams  = "MONTHLY_BONUS_MIN_GRAMS"
	KeyYearlyMinGrams   = "YEARLY_BONUS_MIN_GRAMS"
	KeySponsorRate      = "BONUS_SPONSOR_RATE"
	KeyReferralQuota    = "BONUS_REFERRAL_QUOTA"
	KeyDownlineRate     = "BONUS_DOWNLINE_PURCHASE_RATE"
	KeyYearlyRate       = "BONUS_YEARLY_RATE"
	KeyRebateMaxRate    = "REBATE_MAX_RATE"
	KeyAnnualFee        = "ANNUAL_FEE"
	KeySellSpreadPct    = "PRICE_SELL_SPREAD_PCT"
	KeyBuySpreadPct     = "PRICE_BUY_SPREAD_PCT"
	KeyPurity916        = "PRICE_PURITY_916"
	KeyPriceLockSeconds = "PRICE_LOCK_SECONDS"
	monthlyTierPrefix   = "BONUS_TIER_"
	yearlyTierPrefix    = "BONUS_YEARLY_TIER_"
	maxTiers            = 9
)

// DefaultSettings returns the built-in fallback values.
func DefaultSettings() map[string]string {
	return map[string]string{
		KeyMonthlyMinGrams:  "0.25",
		KeyYearlyMinGrams:   "3.0",
		KeySponsorRate:      "0.005",
		KeyReferralQuota:    "3000",
		KeyDownlineRate:     "0.01",
		KeyYearlyRate:       "0.01",
		KeyRebateMaxRate:    "0.02",
		KeyAnnualFee:        "36.50",
		KeySellSpreadPct:    "8.3",
		KeyBuySpreadPct:     "5.0",
		KeyPurity916:        "0.916",
		KeyPriceLockSeconds: "240",

		"BONUS_TIER_1_THRESHOLD": "10000",
		"BONUS_TIER_1_RATE":      "0.0025",
		"BONUS_TIER_2_THRESHOLD": "50000",
		"BONUS_TIER_2_RATE":      "0.005",
		"BONUS_TIER_3_THRESHOLD": "100000",
		"BONUS_TIER_3_RATE":      "0.01",
	}
}

// Backend persists settings. The store implements it.
type Backend interface {
	LoadSettings(ctx context.Context) (map[string]string, error)
	SaveSetting(ctx context.Context, key, value string) error
}

// Settings is the runtime key/value configuration with typed accessors.
// Reads never fail: a missing or malformed value falls back to the default.
type Settings struct {
	mu       sync.RWMutex
	values   map[string]string
	defaults map[string]string
	backend  Backend
}

// NewSettings creates settings over a backend. backend may be nil, in which
// case changes live only in memory.
func NewSettings(backend Backend, defaults map[string]string) *Settings {
	if defaults == nil {
		defaults = DefaultSettings()
	}
	return &Settings{
		values:   make(map[string]string),
		defaults: defaults,
		backend:  backend,
	}
}

// Load pulls persisted values from the backend and seeds any default the
// backend does not have yet.
func (s *Settings) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	stored, err := s.backend.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	for k, v := range s.defaults {
		if _, ok := stored[k]; ok {
			continue
		}
		if err := s.backend.SaveSetting(ctx, k, v); err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
		stored[k] = v
	}

	s.mu.Lock()
	s.values = stored
	s.mu.Unlock()
	return nil
}

// Set validates, persists and caches one value. Unknown keys are rejected
// with apperr.ErrNotFound; every known key is numeric.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	if !s.Known(key) {
		return apperr.NotFound("setting", key)
	}
	if _, err := decimal.NewFromString(value); err != nil {
		return apperr.Invalid("setting %s: value %q is not numeric", key, value)
	}
	if s.backend != nil {
		if err := s.backend.SaveSetting(ctx, key, value); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Known reports whether key is a setting: any key with a default, or a
// bonus tier row BONUS_TIER_n_{THRESHOLD,RATE} / BONUS_YEARLY_TIER_n_* for
// n in 1..9.
func (s *Settings) Known(key string) bool {
	if _, ok := s.defaults[key]; ok {
		return true
	}
	return isTierKey(key, monthlyTierPrefix) || isTierKey(key, yearlyTierPrefix)
}

func isTierKey(key, prefix string) bool {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return false
	}
	n, field, ok := strings.Cut(rest, "_")
	if !ok || (field != "THRESHOLD" && field != "RATE") {
		return false
	}
	i, err := strconv.Atoi(n)
	return err == nil && i >= 1 && i <= maxTiers
}

// String returns the raw value, or the default, or "".
func (s *Settings) String(key string) string {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return v
	}
	return s.defaults[key]
}

// Decimal returns the value parsed as a decimal. A malformed stored value
// is logged and the default used instead.
func (s *Settings) Decimal(key string) decimal.Decimal {
	raw := s.String(key)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err == nil {
		return d
	}
	slog.Warn("malformed setting, using default", "key", key, "value", raw)
	d, err = decimal.NewFromString(s.defaults[key])
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Int returns the value truncated to an int.
func (s *Settings) Int(key string) int {
	return int(s.Decimal(key).IntPart())
}

// Duration returns the value, in seconds, as a time.Duration.
func (s *Settings) Duration(key string) time.Duration {
	return time.Duration(s.Decimal(key).Mul(decimal.NewFromInt(int64(time.Second))).IntPart())
}

// All returns a copy of the effective settings.
func (s *Settings) All() map[string]string {
	out := make(map[string]string, len(s.defaults))
	for k, v := range s.defaults {
		out[k] = v
	}
	s.mu.RLock()
	for k, v := range s.values {
		out[k] = v
	}
	s.mu.RUnlock()
	return out
}

// Tier is one row of a group-sales bonus table.
type Tier struct {
	Threshold decimal.Decimal `json:"threshold"`
	Rate      decimal.Decimal `json:"rate"`
}

// Tiers returns the bonus table for a period type ordered by threshold,
// highest first. Yearly closings without explicit BONUS_YEARLY_TIER_n keys
// use a single zero-threshold tier at BONUS_YEARLY_RATE.
func (s *Settings) Tiers(pt model.PeriodType) []Tier {
	prefix := monthlyTierPrefix
	if pt == model.PeriodYearly {
		prefix = yearlyTierPrefix
	}

	var tiers []Tier
	for n := 1; n <= maxTiers; n++ {
		base := prefix + strconv.Itoa(n)
		if s.String(base+"_THRESHOLD") == "" || s.String(base+"_RATE") == "" {
			continue
		}
		tiers = append(tiers, Tier{
			Threshold: s.Decimal(base + "_THRESHOLD"),
			Rate:      s.Decimal(base + "_RATE"),
		})
	}
	if len(tiers) == 0 && pt == model.PeriodYearly {
		tiers = append(tiers, Tier{Threshold: decimal.Zero, Rate: s.Decimal(KeyYearlyRate)})
	}

	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Threshold.GreaterThan(tiers[j].Threshold)
	})
	return tiers
}

// MinPersonalGrams is the eligibility floor for a period type.
func (s *Settings) MinPersonalGrams(pt model.PeriodType) decimal.Decimal {
	if pt == model.PeriodYearly {
		return s.Decimal(KeyYearlyMinGrams)
	}
	return s.Decimal(KeyMonthlyMinGrams)
}
