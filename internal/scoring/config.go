package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RuleConfig holds the policy constants behind the rule table: point values,
// activation thresholds, and the ML blend parameters. Zero values are
// meaningful (a rule can be switched off by setting its points to 0), so
// overrides replace the whole struct rather than patching fields.
type RuleConfig struct {
	ExcludedEntityPoints float64 `json:"excluded_entity_points"`

	InactiveRevenuePoints float64 `json:"inactive_revenue_points"`

	SparsePaymentsPoints     float64 `json:"sparse_payments_points"`
	SparsePaymentsMaxCount   int     `json:"sparse_payments_max_count"`
	SparsePaymentsMinRevenue float64 `json:"sparse_payments_min_revenue"`

	OutlierPoints float64 `json:"outlier_points"`

	HighVariancePoints    float64 `json:"high_variance_points"`
	HighVarianceThreshold float64 `json:"high_variance_threshold"`

	CapacityMismatchPoints      float64 `json:"capacity_mismatch_points"`
	CapacityMismatchMinRevenue  float64 `json:"capacity_mismatch_min_revenue"`
	CapacityMismatchMaxCapacity int     `json:"capacity_mismatch_max_capacity"`

	PerCapitaPoints    float64 `json:"per_capita_points"`
	PerCapitaThreshold float64 `json:"per_capita_threshold"`

	MissingRegistryPoints float64 `json:"missing_registry_points"`

	MLWeight          float64 `json:"ml_weight"`
	MLHighProbability float64 `json:"ml_high_probability"`
}

// DefaultRuleConfig returns the canonical policy.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		ExcludedEntityPoints: 50,

		InactiveRevenuePoints: 25,

		SparsePaymentsPoints:     10,
		SparsePaymentsMaxCount:   3,
		SparsePaymentsMinRevenue: 100_000,

		OutlierPoints: 5,

		HighVariancePoints:    5,
		HighVarianceThreshold: 1.5,

		CapacityMismatchPoints:      40,
		CapacityMismatchMinRevenue:  500_000,
		CapacityMismatchMaxCapacity: 3,

		PerCapitaPoints:    30,
		PerCapitaThreshold: 100_000,

		MissingRegistryPoints: 15,

		MLWeight:          0.2,
		MLHighProbability: 0.8,
	}
}

// LoadRuleConfig reads a complete RuleConfig from the JSON file at path. An
// empty path yields the defaults.
func LoadRuleConfig(path string) (RuleConfig, error) {
	if path == "" {
		return DefaultRuleConfig(), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return RuleConfig{}, fmt.Errorf("read rule config: %w", err)
	}
	var cfg RuleConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RuleConfig{}, fmt.Errorf("unmarshal rule config: %w", err)
	}
	return cfg, nil
}
