package scoring

import (
	"context"

	"fraudwatch/internal/stats"
)

// Features is the numeric vector handed to the external classifier.
type Features struct {
	Revenue      float64 `json:"revenue"`
	Capacity     int     `json:"capacity"`
	PaymentCount int     `json:"payment_count"`
	PaymentMean  float64 `json:"payment_mean"`
	PaymentCV    float64 `json:"payment_cv"`
}

// Classifier is the optional pre-trained probabilistic model consumed as a
// black box. PredictProbability returns the fraud probability in [0,1]. A
// failing or disabled classifier never fails scoring; the engine treats it
// as absence of an ML contribution.
type Classifier interface {
	Enabled() bool
	PredictProbability(ctx context.Context, features Features) (float64, error)
}

// FeaturesFor derives the classifier features from a record and its payment
// amounts.
func FeaturesFor(record Record, amounts []float64) Features {
	features := Features{
		Revenue:      record.Revenue,
		Capacity:     record.Capacity,
		PaymentCount: len(amounts),
		PaymentCV:    stats.CoefficientOfVariation(amounts),
	}
	if len(amounts) > 0 {
		var sum float64
		for _, v := range amounts {
			sum += v
		}
		features.PaymentMean = sum / float64(len(amounts))
	}
	return features
}
