package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"fraudwatch/internal/registry"
	"fraudwatch/internal/scoring"
	"fraudwatch/internal/store"
)

func testPipeline(t *testing.T, lookup *registry.Client) (*Pipeline, *store.Database) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := scoring.NewEngine(scoring.DefaultRuleConfig())
	return NewPipeline(db, engine, lookup, Config{Workers: 2}), db
}

func TestPipelineRunScoresProviders(t *testing.T) {
	pipeline, db := testPipeline(t, nil)

	providers := `License Holder,License Number,License Type,City,Capacity
Sunrise Care Services,LIC-001,Adult Family Home,Columbus,4
Hopeful Homes,LIC-002,Adult Family Home,Columbus,2
`
	payments := `license_number,amount,date
LIC-001,100,2025-01-01
LIC-001,110,2025-02-01
LIC-001,105,2025-03-01
LIC-001,95,2025-04-01
`

	var events []Progress
	summary, err := pipeline.Run(context.Background(),
		strings.NewReader(providers), strings.NewReader(payments),
		func(p Progress) { events = append(events, p) })
	require.NoError(t, err)
	require.Equal(t, Summary{Providers: 2, Scored: 2, Skipped: 0}, summary)

	stored, err := db.GetProviderByLicense("LIC-001")
	require.NoError(t, err)
	require.NotNil(t, stored.ScoredAt)
	require.Equal(t, "Low", stored.RiskCategory)

	amounts, err := db.PaymentAmounts(stored.ID)
	require.NoError(t, err)
	require.Len(t, amounts, 4)

	require.Equal(t, "started", events[0].Stage)
	require.Equal(t, "completed", events[len(events)-1].Stage)
	require.Equal(t, 2, events[len(events)-1].Processed)
}

func TestPipelineSkipsInvalidRecords(t *testing.T) {
	pipeline, db := testPipeline(t, nil)

	providers := `License Holder,License Number,Capacity
Valid Provider,LIC-010,3
Broken Provider,LIC-011,-5
`
	summary, err := pipeline.Run(context.Background(), strings.NewReader(providers), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Providers)
	require.Equal(t, 1, summary.Scored)
	require.Equal(t, 1, summary.Skipped)

	skippedRow, err := db.GetProviderByLicense("LIC-011")
	require.NoError(t, err)
	require.Nil(t, skippedRow.ScoredAt, "invalid record must not carry a score")
}

func TestPipelineRegistryEnrichment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"organizations": []map[string]any{{
				"ein":            341234567,
				"name":           "SUNRISE CARE SERVICES",
				"revenue_amount": 600000.0,
			}},
		})
	}))
	defer server.Close()

	lookup := registry.NewClient(registry.Config{BaseURL: server.URL})
	pipeline, db := testPipeline(t, lookup)

	providers := `License Holder,License Number,Capacity
Sunrise Care Services,LIC-020,2
`
	summary, err := pipeline.Run(context.Background(), strings.NewReader(providers), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Scored)

	stored, err := db.GetProviderByLicense("LIC-020")
	require.NoError(t, err)
	require.Equal(t, "341234567", stored.EIN)
	require.Equal(t, 600000.0, stored.Revenue)
	require.Equal(t, "Active", stored.RegistryStatus)
	// 600k revenue against capacity 2 trips the capacity-mismatch and
	// per-capita rules
	require.Equal(t, 70.0, stored.RiskScore)
	require.Equal(t, "High", stored.RiskCategory)
	require.Contains(t, stored.RiskFactors(), "High Revenue / Low Capacity Anomaly")
}

func TestPipelineRegistryFailureDegradesToUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	lookup := registry.NewClient(registry.Config{BaseURL: server.URL})
	pipeline, db := testPipeline(t, lookup)

	providers := "License Holder,License Number,Capacity\nGhost Provider,LIC-030,1\n"
	summary, err := pipeline.Run(context.Background(), strings.NewReader(providers), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Scored)

	stored, err := db.GetProviderByLicense("LIC-030")
	require.NoError(t, err)
	require.Equal(t, string(scoring.StatusUnknown), stored.RegistryStatus)
}
