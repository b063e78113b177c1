package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fraudwatch/internal/exclusion"
	"fraudwatch/internal/ingest"
	"fraudwatch/internal/registry"
	"fraudwatch/internal/riskml"
	"fraudwatch/internal/scoring"
	"fraudwatch/internal/store"
)

func main() {
	var (
		dbPath        = flag.String("db", filepath.FromSlash("data/fraudwatch.db"), "Path to SQLite database")
		providersPath = flag.String("providers", "", "Licensing CSV file (required)")
		paymentsPath  = flag.String("payments", "", "Disbursement CSV file")
		policyPath    = flag.String("policy", "", "Rule policy JSON file (defaults built in)")
		exclusionPath = flag.String("exclusions", "", "Exclusion list JSON file")
		city          = flag.String("city", "", "Only ingest providers in this city")
		workers       = flag.Int("workers", 4, "Concurrent scoring workers")
		registryURL   = flag.String("registry-url", "", "Nonprofit registry search endpoint")
		registryState = flag.String("registry-state", "", "Registry state filter")
		noRegistry    = flag.Bool("no-registry", false, "Skip registry enrichment")
		classifierURL = flag.String("classifier-url", "", "Risk classifier endpoint (env CLASSIFIER_URL)")
	)
	flag.Parse()

	if strings.TrimSpace(*providersPath) == "" {
		logrus.Fatal("-providers is required")
	}

	if err := os.MkdirAll(filepath.Dir(*dbPath), 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	db, err := store.Open(*dbPath, true)
	if err != nil {
		logrus.Fatalf("open database: %v", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	ruleConfig, err := scoring.LoadRuleConfig(*policyPath)
	if err != nil {
		logrus.Fatalf("load rule config: %v", err)
	}
	exclusions, err := exclusion.Load(*exclusionPath)
	if err != nil {
		logrus.Fatalf("load exclusion list: %v", err)
	}

	opts := []scoring.Option{scoring.WithExclusions(exclusions)}
	classifierEndpoint := strings.TrimSpace(*classifierURL)
	if classifierEndpoint == "" {
		classifierEndpoint = strings.TrimSpace(os.Getenv("CLASSIFIER_URL"))
	}
	if classifierEndpoint != "" {
		classifier, err := riskml.NewClient(riskml.Config{
			BaseURL: classifierEndpoint,
			APIKey:  os.Getenv("CLASSIFIER_API_KEY"),
		})
		if err != nil {
			logrus.Fatalf("classifier client: %v", err)
		}
		opts = append(opts, scoring.WithClassifier(classifier))
		logrus.WithField("endpoint", classifierEndpoint).Info("risk classifier enabled")
	}
	engine := scoring.NewEngine(ruleConfig, opts...)

	var lookup *registry.Client
	if !*noRegistry {
		lookup = registry.NewClient(registry.Config{
			BaseURL: *registryURL,
			State:   *registryState,
		})
	}

	providersFile, err := os.Open(*providersPath)
	if err != nil {
		logrus.Fatalf("open providers csv: %v", err)
	}
	defer providersFile.Close()

	var paymentsFile *os.File
	if strings.TrimSpace(*paymentsPath) != "" {
		paymentsFile, err = os.Open(*paymentsPath)
		if err != nil {
			logrus.Fatalf("open payments csv: %v", err)
		}
		defer paymentsFile.Close()
	}

	pipeline := ingest.NewPipeline(db, engine, lookup, ingest.Config{
		Workers: *workers,
		City:    *city,
	})

	start := time.Now()
	var lastLog time.Time
	onProgress := func(p ingest.Progress) {
		if p.Stage == "progress" && time.Since(lastLog) < 2*time.Second {
			return
		}
		lastLog = time.Now()
		logrus.WithFields(logrus.Fields{
			"processed": p.Processed,
			"scored":    p.Scored,
			"skipped":   p.Skipped,
			"total":     p.Total,
		}).Info("ingest progress")
	}

	var paymentsReader io.Reader
	if paymentsFile != nil {
		paymentsReader = paymentsFile
	}
	summary, err := pipeline.Run(context.Background(), providersFile, paymentsReader, onProgress)
	if err != nil {
		logrus.Fatalf("ingest: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"providers": summary.Providers,
		"scored":    summary.Scored,
		"skipped":   summary.Skipped,
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("ingest complete")
}
