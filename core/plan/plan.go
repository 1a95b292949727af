package plan

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is a subscription level that determines resource ceilings and pool sizing.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierEnterprise Tier = "enterprise"
)

// Unlimited marks a limit with no ceiling.
const Unlimited int64 = -1

// ParseTier normalizes a tier string. Unknown tiers fall back to the most
// restrictive tier so a misconfigured tenant never gains extra capacity.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree
	case TierStarter:
		return TierStarter
	case TierGrowth:
		return TierGrowth
	case TierEnterprise:
		return TierEnterprise
	default:
		return TierFree
	}
}

// OverageRates prices metered usage beyond the included quota, in cents.
type OverageRates struct {
	APICallsPer1000Cents   int64 `yaml:"api_calls_per_1000_cents"`
	InferencesPer1000Cents int64 `yaml:"inferences_per_1000_cents"`
	StoragePerGBCents      int64 `yaml:"storage_per_gb_cents"`
}

// Limits is the per-tier ceiling table entry. A value of Unlimited (-1)
// disables the corresponding ceiling.
type Limits struct {
	APICallsPerDay   int64        `yaml:"api_calls_per_day"`
	InferencesPerDay int64        `yaml:"ml_inferences_per_day"`
	StorageBytes     int64        `yaml:"storage_bytes"`
	MaxProducts      int64        `yaml:"max_products"`
	PoolSize         int          `yaml:"pool_size"`
	PoolMaxOverflow  int          `yaml:"pool_max_overflow"`
	PriceCents       int64        `yaml:"price_cents"`
	Overage          OverageRates `yaml:"overage"`
}

// Table maps every tier to its limits. Loaded once at startup and treated as
// immutable afterwards.
type Table map[Tier]Limits

// For returns the limits for a tier, falling back to the free tier for
// unknown entries.
func (t Table) For(tier Tier) Limits {
	if l, ok := t[tier]; ok {
		return l
	}
	return t[TierFree]
}

// Validate checks that every referenced tier has a limits entry and that the
// free tier exists as fallback. Meant to run at boot, not per request.
func (t Table) Validate(referenced []Tier) error {
	if _, ok := t[TierFree]; !ok {
		return fmt.Errorf("plan table missing fallback tier %q", TierFree)
	}
	missing := map[Tier]bool{}
	for _, tier := range referenced {
		if _, ok := t[tier]; !ok {
			missing[tier] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}
	names := make([]string, 0, len(missing))
	for tier := range missing {
		names = append(names, string(tier))
	}
	sort.Strings(names)
	return fmt.Errorf("plan table missing tiers: %s", strings.Join(names, ", "))
}

// Defaults returns the reference deployment plan table.
func Defaults() Table {
	return Table{
		TierFree: {
			APICallsPerDay:   1_000,
			InferencesPerDay: 100,
			StorageBytes:     1 << 30, // 1 GiB
			MaxProducts:      25,
			PoolSize:         2,
			PoolMaxOverflow:  2,
			PriceCents:       0,
			Overage:          OverageRates{},
		},
		TierStarter: {
			APICallsPerDay:   10_000,
			InferencesPerDay: 1_000,
			StorageBytes:     10 << 30,
			MaxProducts:      250,
			PoolSize:         5,
			PoolMaxOverflow:  10,
			PriceCents:       2_900,
			Overage: OverageRates{
				APICallsPer1000Cents:   500,
				InferencesPer1000Cents: 1_000,
				StoragePerGBCents:      25,
			},
		},
		TierGrowth: {
			APICallsPerDay:   100_000,
			InferencesPerDay: 10_000,
			StorageBytes:     100 << 30,
			MaxProducts:      5_000,
			PoolSize:         10,
			PoolMaxOverflow:  20,
			PriceCents:       9_900,
			Overage: OverageRates{
				APICallsPer1000Cents:   400,
				InferencesPer1000Cents: 800,
				StoragePerGBCents:      20,
			},
		},
		TierEnterprise: {
			APICallsPerDay:   1_000_000,
			InferencesPerDay: 100_000,
			StorageBytes:     1 << 40, // 1 TiB
			MaxProducts:      Unlimited,
			PoolSize:         20,
			PoolMaxOverflow:  40,
			PriceCents:       49_900,
			Overage: OverageRates{
				APICallsPer1000Cents:   300,
				InferencesPer1000Cents: 600,
				StoragePerGBCents:      15,
			},
		},
	}
}
