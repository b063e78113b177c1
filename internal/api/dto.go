package api

import (
	"time"

	"fraudwatch/internal/scoring"
	"fraudwatch/internal/stats"
	"fraudwatch/internal/store"
)

// ProviderDTO is the API representation for a persisted provider.
type ProviderDTO struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name"`
	LicenseNumber    string     `json:"license_number"`
	LicenseType      string     `json:"license_type"`
	Address          string     `json:"address"`
	City             string     `json:"city"`
	Capacity         int        `json:"capacity"`
	EIN              string     `json:"ein"`
	Revenue          float64    `json:"revenue"`
	RegistryStatus   string     `json:"registry_status"`
	RiskScore        float64    `json:"risk_score"`
	RiskCategory     string     `json:"risk_category"`
	RiskFactors      []string   `json:"risk_factors"`
	BenfordAnomalies int        `json:"benford_anomalies"`
	ScoredAt         *time.Time `json:"scored_at"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ProvidersResponse holds provider items and totals.
type ProvidersResponse struct {
	Items []ProviderDTO `json:"items"`
	Total int64         `json:"total"`
}

// PaymentDTO is the API representation for a disbursement.
type PaymentDTO struct {
	Amount float64   `json:"amount"`
	PaidAt time.Time `json:"paid_at"`
}

// ScoreRequest is an ad-hoc scoring request that bypasses persistence.
type ScoreRequest struct {
	Name           string    `json:"name"`
	TaxID          string    `json:"tax_id"`
	Capacity       int       `json:"capacity"`
	Revenue        float64   `json:"revenue"`
	Status         string    `json:"status"`
	Classification string    `json:"classification"`
	Payments       []float64 `json:"payments"`
}

// ScoreResponse returns the assessment for an ad-hoc request.
type ScoreResponse struct {
	Score    float64             `json:"score"`
	Category string              `json:"category"`
	Factors  []string            `json:"factors"`
	Benford  stats.BenfordReport `json:"benford,omitempty"`
}

// StartIngestResponse describes the asynchronous ingest kickoff payload.
type StartIngestResponse struct {
	JobID     string    `json:"job_id"`
	Source    string    `json:"source"`
	StartedAt time.Time `json:"started_at"`
}

// IngestStatusResponse describes the state of the active ingest job.
type IngestStatusResponse struct {
	Running   bool   `json:"running"`
	JobID     string `json:"job_id,omitempty"`
	Source    string `json:"source,omitempty"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message,omitempty"`
	Processed int    `json:"processed"`
	Scored    int    `json:"scored"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
}

// BenfordResponse pairs a provider's digit report with its anomaly count.
type BenfordResponse struct {
	ProviderID    uint                `json:"provider_id"`
	SampleSize    int                 `json:"sample_size"`
	AnomalyCount  int                 `json:"anomaly_count"`
	Distribution  stats.BenfordReport `json:"distribution"`
	HasEnoughData bool                `json:"has_enough_data"`
}

// ProviderFromModel converts a store.Provider into the DTO representation.
func ProviderFromModel(p store.Provider) ProviderDTO {
	factors := p.RiskFactors()
	if factors == nil {
		factors = []string{}
	}
	return ProviderDTO{
		ID:               p.ID,
		Name:             p.Name,
		LicenseNumber:    p.LicenseNumber,
		LicenseType:      p.LicenseType,
		Address:          p.Address,
		City:             p.City,
		Capacity:         p.Capacity,
		EIN:              p.EIN,
		Revenue:          p.Revenue,
		RegistryStatus:   p.RegistryStatus,
		RiskScore:        p.RiskScore,
		RiskCategory:     p.RiskCategory,
		RiskFactors:      factors,
		BenfordAnomalies: p.BenfordAnomalies,
		ScoredAt:         p.ScoredAt,
		CreatedAt:        p.CreatedAt,
	}
}

// PaymentFromModel converts a store.Payment into a DTO.
func PaymentFromModel(p store.Payment) PaymentDTO {
	return PaymentDTO{Amount: p.Amount, PaidAt: p.PaidAt}
}

// ScoreResponseFromAssessment converts an engine result into the response DTO.
func ScoreResponseFromAssessment(a scoring.Assessment) ScoreResponse {
	factors := a.Factors
	if factors == nil {
		factors = []string{}
	}
	return ScoreResponse{
		Score:    a.Score,
		Category: string(a.Category),
		Factors:  factors,
		Benford:  a.Benford,
	}
}
