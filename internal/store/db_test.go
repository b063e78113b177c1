package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertProviderKeepsAssessment(t *testing.T) {
	db := openTestDB(t)

	provider := &Provider{
		Name:          "Sunrise Care Services",
		LicenseNumber: "lic-001",
		City:          "Columbus",
		Capacity:      4,
		Revenue:       250000,
	}
	require.NoError(t, db.UpsertProvider(provider))
	require.Equal(t, "LIC-001", provider.LicenseNumber)

	stored, err := db.GetProviderByLicense("LIC-001")
	require.NoError(t, err)
	require.NoError(t, db.SaveAssessment(stored.ID, 40, "Medium", []string{"High Revenue / Low Capacity Anomaly"}, 2))

	// re-ingest with updated licensing fields
	require.NoError(t, db.UpsertProvider(&Provider{
		Name:          "Sunrise Care Services Inc",
		LicenseNumber: "LIC-001",
		City:          "Columbus",
		Capacity:      6,
		Revenue:       300000,
	}))

	refreshed, err := db.GetProviderByLicense("lic-001")
	require.NoError(t, err)
	require.Equal(t, stored.ID, refreshed.ID)
	require.Equal(t, 6, refreshed.Capacity)
	require.Equal(t, 40.0, refreshed.RiskScore)
	require.Equal(t, "Medium", refreshed.RiskCategory)
	require.Equal(t, []string{"High Revenue / Low Capacity Anomaly"}, refreshed.RiskFactors())
	require.Equal(t, 2, refreshed.BenfordAnomalies)
	require.NotNil(t, refreshed.ScoredAt)
}

func TestUpsertProviderRejectsEmptyLicense(t *testing.T) {
	db := openTestDB(t)
	require.Error(t, db.UpsertProvider(&Provider{Name: "No License"}))
	require.Error(t, db.UpsertProvider(nil))
}

func TestReplacePayments(t *testing.T) {
	db := openTestDB(t)
	provider := &Provider{Name: "Hopeful Homes", LicenseNumber: "LIC-002"}
	require.NoError(t, db.UpsertProvider(provider))

	first := []Payment{
		{Amount: 100, PaidAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Amount: 200, PaidAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, db.ReplacePayments(provider.ID, first))

	second := []Payment{
		{Amount: 300, PaidAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	require.NoError(t, db.ReplacePayments(provider.ID, second))

	amounts, err := db.PaymentAmounts(provider.ID)
	require.NoError(t, err)
	require.Equal(t, []float64{300}, amounts)
}

func TestListProvidersFilters(t *testing.T) {
	db := openTestDB(t)
	seed := []struct {
		name     string
		license  string
		city     string
		score    float64
		category string
	}{
		{"Alpha Care", "A-1", "Columbus", 80, "High"},
		{"Beta Residential", "B-1", "Columbus", 30, "Medium"},
		{"Gamma Services", "C-1", "Dayton", 5, "Low"},
	}
	for _, s := range seed {
		p := &Provider{Name: s.name, LicenseNumber: s.license, City: s.city}
		require.NoError(t, db.UpsertProvider(p))
		require.NoError(t, db.SaveAssessment(p.ID, s.score, s.category, nil, 0))
	}

	rows, total, err := db.ListProviders(ProviderQuery{City: "columbus"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	// default sort is score descending
	require.Equal(t, "Alpha Care", rows[0].Name)

	rows, total, err = db.ListProviders(ProviderQuery{Category: "High"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "A-1", rows[0].LicenseNumber)

	rows, total, err = db.ListProviders(ProviderQuery{MinScore: 25, Sort: "score_asc"})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Equal(t, "Beta Residential", rows[0].Name)

	_, total, err = db.ListProviders(ProviderQuery{Query: "gamma"})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestComputeStats(t *testing.T) {
	db := openTestDB(t)

	high := &Provider{Name: "High Risk", LicenseNumber: "H-1"}
	low := &Provider{Name: "Low Risk", LicenseNumber: "L-1"}
	unscored := &Provider{Name: "Pending", LicenseNumber: "P-1"}
	for _, p := range []*Provider{high, low, unscored} {
		require.NoError(t, db.UpsertProvider(p))
	}
	require.NoError(t, db.SaveAssessment(high.ID, 90, "High", nil, 0))
	require.NoError(t, db.SaveAssessment(low.ID, 10, "Low", nil, 0))
	require.NoError(t, db.ReplacePayments(high.ID, []Payment{{Amount: 1}, {Amount: 2}}))

	stats, err := db.ComputeStats()
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Providers)
	require.EqualValues(t, 2, stats.Payments)
	require.InDelta(t, 50, stats.MeanRiskScore, 0.001)
	require.InDelta(t, 0.5, stats.HighRiskShare, 0.001)
	require.EqualValues(t, 1, stats.Categories["High"])
	require.EqualValues(t, 1, stats.Categories["Low"])
}

func TestIngestRunLifecycle(t *testing.T) {
	db := openTestDB(t)

	run, err := db.CreateIngestRun("job-1", "providers.csv")
	require.NoError(t, err)
	require.Equal(t, "running", run.Status)

	require.NoError(t, db.UpdateIngestRun("job-1", "completed", "done", 10, 8, 2, 10))

	stored, err := db.GetIngestRun("job-1")
	require.NoError(t, err)
	require.Equal(t, "completed", stored.Status)
	require.Equal(t, 8, stored.Scored)
	require.NotNil(t, stored.FinishedAt)

	latest, err := db.LatestIngestRun()
	require.NoError(t, err)
	require.Equal(t, "job-1", latest.JobID)
}

func TestLatestIngestRunEmpty(t *testing.T) {
	db := openTestDB(t)
	latest, err := db.LatestIngestRun()
	require.NoError(t, err)
	require.Nil(t, latest)
}
