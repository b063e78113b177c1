package scoring

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRuleConfigMatchesCanonicalTable(t *testing.T) {
	cfg := DefaultRuleConfig()
	if cfg.ExcludedEntityPoints != 50 || cfg.InactiveRevenuePoints != 25 ||
		cfg.SparsePaymentsPoints != 10 || cfg.OutlierPoints != 5 ||
		cfg.HighVariancePoints != 5 || cfg.CapacityMismatchPoints != 40 ||
		cfg.PerCapitaPoints != 30 || cfg.MissingRegistryPoints != 15 {
		t.Fatalf("unexpected default points: %+v", cfg)
	}
	if cfg.MLWeight != 0.2 || cfg.MLHighProbability != 0.8 {
		t.Fatalf("unexpected ML blend defaults: %+v", cfg)
	}
}

func TestLoadRuleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	payload := `{
		"excluded_entity_points": 60,
		"inactive_revenue_points": 20,
		"sparse_payments_points": 10,
		"sparse_payments_max_count": 5,
		"sparse_payments_min_revenue": 250000,
		"outlier_points": 5,
		"high_variance_points": 5,
		"high_variance_threshold": 2.0,
		"capacity_mismatch_points": 40,
		"capacity_mismatch_min_revenue": 500000,
		"capacity_mismatch_max_capacity": 3,
		"per_capita_points": 30,
		"per_capita_threshold": 100000,
		"missing_registry_points": 15,
		"ml_weight": 0.1,
		"ml_high_probability": 0.9
	}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := LoadRuleConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ExcludedEntityPoints != 60 || cfg.HighVarianceThreshold != 2.0 || cfg.MLWeight != 0.1 {
		t.Fatalf("override not applied: %+v", cfg)
	}
}

func TestLoadRuleConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadRuleConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != DefaultRuleConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}
