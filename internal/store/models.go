package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Provider is a licensed care provider persisted from the licensing feed,
// enriched with registry data and the latest risk assessment.
type Provider struct {
	ID             uint   `gorm:"primaryKey"`
	Name           string `gorm:"size:256;index"`
	LicenseNumber  string `gorm:"size:64;uniqueIndex"`
	LicenseType    string `gorm:"size:128"`
	Address        string `gorm:"size:256"`
	City           string `gorm:"size:128;index"`
	Capacity       int
	EIN            string `gorm:"size:32;index"`
	Revenue        float64
	RegistryStatus string `gorm:"size:32"`
	Classification string `gorm:"size:128"`

	RiskScore        float64 `gorm:"index"`
	RiskCategory     string  `gorm:"size:16;index"`
	RiskFactorsJSON  string  `gorm:"type:text"`
	BenfordAnomalies int
	ScoredAt         *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetRiskFactors persists the triggered factor list as JSON.
func (p *Provider) SetRiskFactors(factors []string) {
	if factors == nil {
		p.RiskFactorsJSON = "[]"
		return
	}
	payload, _ := json.Marshal(factors)
	p.RiskFactorsJSON = string(payload)
}

// RiskFactors returns the decoded factor list.
func (p *Provider) RiskFactors() []string {
	if strings.TrimSpace(p.RiskFactorsJSON) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(p.RiskFactorsJSON), &out); err != nil {
		return nil
	}
	return out
}

// Payment is a single disbursement to a provider.
type Payment struct {
	ID            uint   `gorm:"primaryKey"`
	ProviderID    uint   `gorm:"index"`
	LicenseNumber string `gorm:"size:64;index"`
	Amount        float64
	PaidAt        time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// IngestRun persists ingestion job metadata across restarts.
type IngestRun struct {
	JobID      string `gorm:"primaryKey;size:64"`
	Source     string `gorm:"size:256"`
	Status     string `gorm:"size:32;index"`
	Message    string `gorm:"size:255"`
	Processed  int
	Scored     int
	Skipped    int
	Total      int
	StartedAt  time.Time
	FinishedAt *time.Time
	UpdatedAt  time.Time
	CreatedAt  time.Time
}
