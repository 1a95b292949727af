package plan

import (
	"strings"
	"testing"
)

func TestParseTierFallsBackToFree(t *testing.T) {
	cases := map[string]Tier{
		"growth":      TierGrowth,
		" Enterprise": TierEnterprise,
		"STARTER":     TierStarter,
		"platinum":    TierFree,
		"":            TierFree,
	}
	for in, want := range cases {
		if got := ParseTier(in); got != want {
			t.Fatalf("ParseTier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultsCoverAllTiers(t *testing.T) {
	table := Defaults()
	for _, tier := range []Tier{TierFree, TierStarter, TierGrowth, TierEnterprise} {
		limits, ok := table[tier]
		if !ok {
			t.Fatalf("defaults missing tier %q", tier)
		}
		if limits.PoolSize <= 0 {
			t.Fatalf("tier %q has no pool size", tier)
		}
	}
	if table[TierEnterprise].MaxProducts != Unlimited {
		t.Fatal("enterprise product count should be unlimited")
	}
}

func TestForUnknownTierUsesFree(t *testing.T) {
	table := Defaults()
	got := table.For(Tier("legacy-gold"))
	if got != table[TierFree] {
		t.Fatalf("unknown tier should map to free limits, got %+v", got)
	}
}

func TestValidateReportsMissingTiers(t *testing.T) {
	table := Table{TierFree: {PoolSize: 1}}
	err := table.Validate([]Tier{TierGrowth, TierStarter})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "growth") || !strings.Contains(err.Error(), "starter") {
		t.Fatalf("error should name missing tiers: %v", err)
	}

	if err := Defaults().Validate([]Tier{TierGrowth}); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateRequiresFreeFallback(t *testing.T) {
	table := Table{TierGrowth: {PoolSize: 10}}
	if err := table.Validate(nil); err == nil {
		t.Fatal("expected error for missing free tier")
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
tiers:
  free:
    api_calls_per_day: 500
    ml_inferences_per_day: 50
    storage_bytes: 1073741824
    max_products: 10
    pool_size: 2
    pool_max_overflow: 2
    price_cents: 0
  growth:
    api_calls_per_day: 50000
    ml_inferences_per_day: 5000
    storage_bytes: -1
    max_products: -1
    pool_size: 10
    pool_max_overflow: 20
    price_cents: 9900
    overage:
      api_calls_per_1000_cents: 400
`
	table, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if table[TierFree].APICallsPerDay != 500 {
		t.Fatalf("unexpected free limits: %+v", table[TierFree])
	}
	growth := table[TierGrowth]
	if growth.MaxProducts != Unlimited || growth.Overage.APICallsPer1000Cents != 400 {
		t.Fatalf("unexpected growth limits: %+v", growth)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("expected error for empty config")
	}
	if _, err := Parse([]byte("tiers: {}")); err == nil {
		t.Fatal("expected error for empty tier map")
	}
	// schema catches unknown fields
	if _, err := Parse([]byte("tiers:\n  free:\n    bogus_field: 1\n")); err == nil {
		t.Fatal("expected schema error for unknown field")
	}
	// missing free tier fails table validation
	if _, err := Parse([]byte("tiers:\n  growth:\n    pool_size: 5\n")); err == nil {
		t.Fatal("expected error for missing free tier")
	}
}
