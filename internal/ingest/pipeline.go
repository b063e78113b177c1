package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fraudwatch/internal/registry"
	"fraudwatch/internal/scoring"
	"fraudwatch/internal/store"
)

const defaultWorkers = 4

// Config tunes pipeline behaviour.
type Config struct {
	Workers int
	City    string
}

// Progress is emitted after each provider finishes a pipeline stage.
type Progress struct {
	Stage     string `json:"stage"`
	Provider  string `json:"provider,omitempty"`
	Processed int    `json:"processed"`
	Scored    int    `json:"scored"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
}

// Summary is the final tally of one pipeline run.
type Summary struct {
	Providers int
	Scored    int
	Skipped   int
}

// Pipeline ingests licensing and payment data and scores each provider.
type Pipeline struct {
	db      *store.Database
	engine  *scoring.Engine
	lookup  *registry.Client
	workers int
	city    string
}

// NewPipeline wires the pipeline. The registry client may be nil, in which
// case providers keep Unknown registration status.
func NewPipeline(db *store.Database, engine *scoring.Engine, lookup *registry.Client, cfg Config) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		db:      db,
		engine:  engine,
		lookup:  lookup,
		workers: workers,
		city:    cfg.City,
	}
}

// Run parses both feeds and processes every provider through registry
// enrichment, persistence, and scoring. Payments may be nil when only the
// licensing feed is available. Records failing input validation are skipped
// and counted, never silently scored as zero.
func (p *Pipeline) Run(ctx context.Context, providers io.Reader, payments io.Reader, onProgress func(Progress)) (Summary, error) {
	rows, err := ParseProviders(providers, p.city)
	if err != nil {
		return Summary{}, err
	}

	var paymentRows []PaymentRow
	if payments != nil {
		paymentRows, err = ParsePayments(payments)
		if err != nil {
			return Summary{}, err
		}
	}
	grouped := GroupPayments(paymentRows)

	total := len(rows)
	var (
		mu        sync.Mutex
		processed int
		scored    int
		skipped   int
	)
	emit := func(stage, provider string) {
		if onProgress == nil {
			return
		}
		onProgress(Progress{
			Stage:     stage,
			Provider:  provider,
			Processed: processed,
			Scored:    scored,
			Skipped:   skipped,
			Total:     total,
		})
	}

	mu.Lock()
	emit("started", "")
	mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.workers)

	for _, row := range rows {
		row := row
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			didScore, err := p.processProvider(groupCtx, row, grouped)

			mu.Lock()
			defer mu.Unlock()
			processed++
			switch {
			case err != nil && errors.Is(err, scoring.ErrInvalidRecord):
				skipped++
				logrus.WithError(err).WithField("license", row.LicenseNumber).Warn("skipping provider with invalid input")
				emit("skipped", row.LicenseNumber)
				return nil
			case err != nil:
				emit("error", row.LicenseNumber)
				return err
			case didScore:
				scored++
			}
			emit("progress", row.LicenseNumber)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Summary{Providers: processed, Scored: scored, Skipped: skipped}, err
	}

	mu.Lock()
	emit("completed", "")
	summary := Summary{Providers: processed, Scored: scored, Skipped: skipped}
	mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"providers": summary.Providers,
		"scored":    summary.Scored,
		"skipped":   summary.Skipped,
	}).Info("ingest run finished")
	return summary, nil
}

func (p *Pipeline) processProvider(ctx context.Context, row ProviderRow, grouped map[string][]PaymentRow) (bool, error) {
	status := scoring.StatusUnknown
	ein := ""
	revenue := 0.0
	if p.lookup != nil {
		result, err := p.lookup.Lookup(ctx, row.Name)
		if err != nil {
			// enrichment failures degrade to Unknown status; scoring proceeds
			logrus.WithError(err).WithField("provider", row.Name).Warn("registry lookup failed")
		} else if result.Checked {
			status = result.Status
			ein = result.EIN
			revenue = result.Revenue
		}
	}

	provider := &store.Provider{
		Name:           row.Name,
		LicenseNumber:  row.LicenseNumber,
		LicenseType:    row.LicenseType,
		Address:        row.Address,
		City:           row.City,
		Capacity:       row.Capacity,
		EIN:            ein,
		Revenue:        revenue,
		RegistryStatus: string(status),
		Classification: row.LicenseType,
	}
	if err := p.db.UpsertProvider(provider); err != nil {
		return false, fmt.Errorf("upsert provider %s: %w", row.LicenseNumber, err)
	}

	key := strings.ToUpper(strings.TrimSpace(row.LicenseNumber))
	history := grouped[key]
	stored := make([]store.Payment, 0, len(history))
	scoringPayments := make([]scoring.Payment, 0, len(history))
	for _, h := range history {
		stored = append(stored, store.Payment{
			LicenseNumber: key,
			Amount:        h.Amount,
			PaidAt:        h.PaidAt,
		})
		scoringPayments = append(scoringPayments, scoring.Payment{Amount: h.Amount, Date: h.PaidAt})
	}
	if len(stored) > 0 {
		if err := p.db.ReplacePayments(provider.ID, stored); err != nil {
			return false, fmt.Errorf("replace payments for %s: %w", row.LicenseNumber, err)
		}
	}

	record := scoring.Record{
		Name:           row.Name,
		TaxID:          ein,
		Capacity:       row.Capacity,
		Revenue:        revenue,
		Status:         status,
		Classification: row.LicenseType,
	}
	assessment, err := p.engine.Score(ctx, record, scoringPayments)
	if err != nil {
		return false, err
	}

	err = p.db.SaveAssessment(
		provider.ID,
		assessment.Score,
		string(assessment.Category),
		assessment.Factors,
		assessment.Benford.AnomalousDigits(),
	)
	if err != nil {
		return false, fmt.Errorf("save assessment for %s: %w", row.LicenseNumber, err)
	}
	return true, nil
}
