// Package scoring implements the fraud-risk rule engine for funding
// recipients. Scoring is a pure function of the record, its payment history,
// and the injected configuration: rules are evaluated in declaration order,
// triggered point values are summed, the optional classifier probability is
// blended in, and the total is clamped to [0,100].
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"fraudwatch/internal/exclusion"
	"fraudwatch/internal/stats"
)

// Engine evaluates the ordered rule set against a record and its payments.
// An Engine is safe for concurrent use: it holds only immutable references.
type Engine struct {
	cfg        RuleConfig
	exclusions *exclusion.List
	classifier Classifier
}

// Option customizes engine construction.
type Option func(*Engine)

// WithExclusions attaches the maintained exclusion list.
func WithExclusions(list *exclusion.List) Option {
	return func(e *Engine) { e.exclusions = list }
}

// WithClassifier attaches the optional external classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// NewEngine constructs an engine with the supplied policy.
func NewEngine(cfg RuleConfig, opts ...Option) *Engine {
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ruleInput bundles the shared inputs each rule may consume. Detector
// outputs are computed once per scoring call, not per rule.
type ruleInput struct {
	record      Record
	amounts     []float64
	excluded    bool
	cv          float64
	hasOutliers bool
}

// hasPayments reports whether payment-level history was supplied. The
// payment-history rules stay inactive for aggregate-only records.
func (in ruleInput) hasPayments() bool {
	return len(in.amounts) > 0
}

type ruleResult struct {
	triggered bool
	factor    string
	points    float64
}

// ruleTable is the fixed, ordered rule set. Factor strings accumulate in
// this order, never by point value.
var ruleTable = []func(cfg RuleConfig, in ruleInput) ruleResult{
	ruleExcludedEntity,
	ruleInactiveRevenue,
	ruleSparsePayments,
	rulePaymentOutliers,
	ruleIrregularSizing,
	ruleCapacityMismatch,
	rulePerCapita,
	ruleMissingRegistry,
}

// Score assesses the record against the rule set. It returns a validation
// error only for malformed numeric input; every other condition degrades to
// an inactive rule or an absent ML contribution.
func (e *Engine) Score(ctx context.Context, record Record, payments []Payment) (Assessment, error) {
	if err := record.Validate(); err != nil {
		return Assessment{}, err
	}
	if err := validatePayments(payments); err != nil {
		return Assessment{}, err
	}

	amounts := make([]float64, 0, len(payments))
	for _, p := range payments {
		amounts = append(amounts, p.Amount)
	}

	in := ruleInput{
		record:      record,
		amounts:     amounts,
		excluded:    e.exclusions.Contains(record.TaxID),
		cv:          stats.CoefficientOfVariation(amounts),
		hasOutliers: stats.HasOutliers(amounts),
	}

	var score float64
	var factors []string
	for _, rule := range ruleTable {
		res := rule(e.cfg, in)
		if res.triggered {
			score += res.points
			factors = append(factors, res.factor)
		}
	}

	score, factors = e.blendClassifier(ctx, record, amounts, score, factors)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	return Assessment{
		Score:    score,
		Factors:  factors,
		Category: CategoryForScore(score),
		Benford:  stats.AnalyzeBenford(amounts),
	}, nil
}

// blendClassifier adds the scaled classifier probability to the rule score.
// The blend is additive only; classifier absence or failure leaves the rule
// score untouched.
func (e *Engine) blendClassifier(ctx context.Context, record Record, amounts []float64, score float64, factors []string) (float64, []string) {
	if e.classifier == nil || !e.classifier.Enabled() {
		return score, factors
	}

	prob, err := e.classifier.PredictProbability(ctx, FeaturesFor(record, amounts))
	if err != nil {
		logrus.WithError(err).WithField("record", record.Name).Warn("classifier unavailable; scoring without ML contribution")
		return score, factors
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		logrus.WithFields(logrus.Fields{
			"record":      record.Name,
			"probability": prob,
		}).Warn("classifier returned malformed probability; ignoring")
		return score, factors
	}

	score += prob * 100 * e.cfg.MLWeight
	if prob > e.cfg.MLHighProbability {
		factors = append(factors, "Classifier indicates high fraud likelihood")
	}
	return score, factors
}

func ruleExcludedEntity(cfg RuleConfig, in ruleInput) ruleResult {
	if in.hasPayments() && in.excluded && in.record.Revenue > 0 {
		return ruleResult{true, "Excluded entity receiving funds", cfg.ExcludedEntityPoints}
	}
	return ruleResult{}
}

func ruleInactiveRevenue(cfg RuleConfig, in ruleInput) ruleResult {
	if in.hasPayments() && in.record.Status != StatusActive && in.record.Revenue > 0 {
		return ruleResult{true, "Inactive or unregistered entity receiving funds", cfg.InactiveRevenuePoints}
	}
	return ruleResult{}
}

func ruleSparsePayments(cfg RuleConfig, in ruleInput) ruleResult {
	if in.hasPayments() && len(in.amounts) < cfg.SparsePaymentsMaxCount && in.record.Revenue > cfg.SparsePaymentsMinRevenue {
		return ruleResult{true, "High revenue concentrated in very few disbursements", cfg.SparsePaymentsPoints}
	}
	return ruleResult{}
}

func rulePaymentOutliers(cfg RuleConfig, in ruleInput) ruleResult {
	if in.hasOutliers {
		return ruleResult{true, "Statistical outlier in payment amounts", cfg.OutlierPoints}
	}
	return ruleResult{}
}

func ruleIrregularSizing(cfg RuleConfig, in ruleInput) ruleResult {
	if in.cv > cfg.HighVarianceThreshold {
		return ruleResult{true, fmt.Sprintf("Irregular disbursement sizing (CV %.2f)", in.cv), cfg.HighVariancePoints}
	}
	return ruleResult{}
}

func ruleCapacityMismatch(cfg RuleConfig, in ruleInput) ruleResult {
	if in.record.Revenue > cfg.CapacityMismatchMinRevenue && in.record.Capacity < cfg.CapacityMismatchMaxCapacity {
		return ruleResult{true, "High Revenue / Low Capacity Anomaly", cfg.CapacityMismatchPoints}
	}
	return ruleResult{}
}

func rulePerCapita(cfg RuleConfig, in ruleInput) ruleResult {
	if in.record.Capacity > 0 {
		perCapita := in.record.Revenue / float64(in.record.Capacity)
		if perCapita > cfg.PerCapitaThreshold {
			return ruleResult{true, fmt.Sprintf("Excessive Per-Capita Spending ($%.0f/person)", perCapita), cfg.PerCapitaPoints}
		}
	}
	return ruleResult{}
}

func ruleMissingRegistry(cfg RuleConfig, in ruleInput) ruleResult {
	if in.record.Status == StatusNotFound && indicatesCorporateEntity(in.record.Classification, in.record.Name) {
		return ruleResult{true, "Corporate Entity Missing Registry Filings", cfg.MissingRegistryPoints}
	}
	return ruleResult{}
}

var corporateMarkers = map[string]struct{}{
	"inc":          {},
	"incorporated": {},
	"llc":          {},
	"corp":         {},
	"corporation":  {},
	"ltd":          {},
	"co":           {},
}

// indicatesCorporateEntity checks the classification first and falls back to
// the entity name, matching marker tokens rather than raw substrings so
// words like "Princeton" do not trip the "inc" marker.
func indicatesCorporateEntity(values ...string) bool {
	for _, value := range values {
		tokens := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
			return r < 'a' || r > 'z'
		})
		for _, token := range tokens {
			if _, ok := corporateMarkers[token]; ok {
				return true
			}
		}
	}
	return false
}
