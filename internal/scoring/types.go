package scoring

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"fraudwatch/internal/stats"
)

// Status is the registration status reported by the registry lookup.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusNotFound Status = "Not Found"
	StatusUnknown  Status = "Unknown"
)

// ParseStatus maps free-form registry/CSV status text onto the enum. Any
// unrecognized value becomes Unknown.
func ParseStatus(value string) Status {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.EqualFold(trimmed, string(StatusActive)), strings.EqualFold(trimmed, "found"):
		return StatusActive
	case strings.EqualFold(trimmed, string(StatusInactive)):
		return StatusInactive
	case len(trimmed) >= len("not found") && strings.EqualFold(trimmed[:len("not found")], "not found"):
		return StatusNotFound
	default:
		return StatusUnknown
	}
}

// Record is the funding recipient under assessment. It is treated as
// immutable for the duration of one scoring call.
type Record struct {
	Name           string
	TaxID          string
	Capacity       int
	Revenue        float64
	Status         Status
	Classification string
}

// Payment is a single disbursement associated with a record.
type Payment struct {
	Amount float64
	Date   time.Time
}

// ErrInvalidRecord marks input the engine refuses to score. Callers must
// distinguish it from a computed low score.
var ErrInvalidRecord = errors.New("invalid record")

// Validate rejects malformed numeric input before it reaches the rules.
func (r Record) Validate() error {
	if r.Capacity < 0 {
		return fmt.Errorf("%w: negative capacity %d", ErrInvalidRecord, r.Capacity)
	}
	if r.Revenue < 0 {
		return fmt.Errorf("%w: negative revenue %.2f", ErrInvalidRecord, r.Revenue)
	}
	if math.IsNaN(r.Revenue) || math.IsInf(r.Revenue, 0) {
		return fmt.Errorf("%w: non-numeric revenue", ErrInvalidRecord)
	}
	return nil
}

func validatePayments(payments []Payment) error {
	for i, p := range payments {
		if p.Amount < 0 {
			return fmt.Errorf("%w: negative payment amount %.2f at index %d", ErrInvalidRecord, p.Amount, i)
		}
		if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) {
			return fmt.Errorf("%w: non-numeric payment amount at index %d", ErrInvalidRecord, i)
		}
	}
	return nil
}

// Category is the three-tier banding of the numeric score.
type Category string

const (
	CategoryLow    Category = "Low"
	CategoryMedium Category = "Medium"
	CategoryHigh   Category = "High"
)

// CategoryForScore derives the category from a final score. Boundaries are
// inclusive: 25 is Medium, 50 is High.
func CategoryForScore(score float64) Category {
	switch {
	case score >= 50:
		return CategoryHigh
	case score >= 25:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// Assessment is the engine output: the clamped score, the triggered factors
// in rule-declaration order, the derived category, and the Benford report
// over the payment amounts (nil when the digit sample is empty).
type Assessment struct {
	Score    float64
	Factors  []string
	Category Category
	Benford  stats.BenfordReport
}
