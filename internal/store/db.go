package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM DB handle and exposes repository helpers.
type Database struct {
	gorm *gorm.DB
	mu   sync.Mutex
}

// Open initializes the SQLite-backed database at the provided path.
func Open(path string, silent bool) (*Database, error) {
	cfg := &gorm.Config{}
	if silent {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	db, err := gorm.Open(sqlite.Open(path), cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Provider{}, &Payment{}, &IngestRun{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logrus.WithError(err).Warn("enable WAL mode")
	}
	if err := db.Exec("PRAGMA synchronous=NORMAL").Error; err != nil {
		logrus.WithError(err).Warn("set synchronous pragma")
	}
	if err := applyIndexes(db); err != nil {
		return nil, fmt.Errorf("apply indexes: %w", err)
	}
	return &Database{gorm: db}, nil
}

// GORM exposes the raw gorm.DB handle.
func (d *Database) GORM() *gorm.DB {
	return d.gorm
}

// Close closes the underlying database connection.
func (d *Database) Close() error {
	if d == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func normalizeLicenseKey(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

func applyIndexes(db *gorm.DB) error {
	stmts := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_license_number ON providers(license_number)",
		"CREATE INDEX IF NOT EXISTS idx_providers_risk_score ON providers(risk_score)",
		"CREATE INDEX IF NOT EXISTS idx_providers_risk_category ON providers(risk_category)",
		"CREATE INDEX IF NOT EXISTS idx_providers_city ON providers(city)",
		"CREATE INDEX IF NOT EXISTS idx_payments_provider_id ON payments(provider_id)",
		"CREATE INDEX IF NOT EXISTS idx_payments_license_number ON payments(license_number)",
		"CREATE INDEX IF NOT EXISTS idx_ingest_runs_status_updated ON ingest_runs(status, updated_at)",
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// UpsertProvider inserts a provider or refreshes the licensing fields of an
// existing row keyed by license number. Risk columns are left untouched so
// a re-ingest does not erase a previous assessment.
func (d *Database) UpsertProvider(provider *Provider) error {
	if provider == nil {
		return errors.New("provider is nil")
	}
	provider.LicenseNumber = normalizeLicenseKey(provider.LicenseNumber)
	if provider.LicenseNumber == "" {
		return errors.New("provider license number is empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "license_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "license_type", "address", "city", "capacity",
			"ein", "revenue", "registry_status", "classification", "updated_at",
		}),
	}).Create(provider).Error
}

// SaveAssessment writes the latest risk assessment onto the provider row.
func (d *Database) SaveAssessment(providerID uint, score float64, category string, factors []string, benfordAnomalies int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var stub Provider
	stub.SetRiskFactors(factors)
	now := time.Now()
	return d.gorm.Model(&Provider{}).
		Where("id = ?", providerID).
		Updates(map[string]any{
			"risk_score":        score,
			"risk_category":     category,
			"risk_factors_json": stub.RiskFactorsJSON,
			"benford_anomalies": benfordAnomalies,
			"scored_at":         &now,
		}).Error
}

// ReplacePayments swaps the stored payment history for a provider.
func (d *Database) ReplacePayments(providerID uint, payments []Payment) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gorm.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("provider_id = ?", providerID).Delete(&Payment{}).Error; err != nil {
			return err
		}
		if len(payments) == 0 {
			return nil
		}
		for i := range payments {
			payments[i].ID = 0
			payments[i].ProviderID = providerID
		}
		return tx.CreateInBatches(payments, 250).Error
	})
}

// GetProvider retrieves a provider by ID.
func (d *Database) GetProvider(id uint) (*Provider, error) {
	var provider Provider
	if err := d.gorm.First(&provider, id).Error; err != nil {
		return nil, err
	}
	return &provider, nil
}

// GetProviderByLicense retrieves a provider by its license number.
func (d *Database) GetProviderByLicense(licenseNumber string) (*Provider, error) {
	var provider Provider
	err := d.gorm.Where("license_number = ?", normalizeLicenseKey(licenseNumber)).First(&provider).Error
	if err != nil {
		return nil, err
	}
	return &provider, nil
}

// ListPayments returns the stored payments for a provider ordered by date.
func (d *Database) ListPayments(providerID uint) ([]Payment, error) {
	var payments []Payment
	err := d.gorm.Where("provider_id = ?", providerID).
		Order("paid_at ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// PaymentAmounts returns just the amounts for a provider, in date order.
func (d *Database) PaymentAmounts(providerID uint) ([]float64, error) {
	var amounts []float64
	err := d.gorm.Model(&Payment{}).
		Where("provider_id = ?", providerID).
		Order("paid_at ASC, id ASC").
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, err
	}
	return amounts, nil
}

// CountProviders returns the provider count.
func (d *Database) CountProviders() (int64, error) {
	var count int64
	if err := d.gorm.Model(&Provider{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ProviderQuery encapsulates filters and pagination for listing providers.
type ProviderQuery struct {
	Query    string
	City     string
	Category string
	MinScore float64
	Sort     string
	Offset   int
	Limit    int
}

// ListProviders returns paginated provider rows applying optional filters.
func (d *Database) ListProviders(opts ProviderQuery) ([]Provider, int64, error) {
	base := d.gorm.Model(&Provider{})
	if opts.Query != "" {
		like := fmt.Sprintf("%%%s%%", opts.Query)
		base = base.Where("name LIKE ? OR license_number LIKE ? OR ein LIKE ?", like, like, like)
	}
	if city := strings.TrimSpace(opts.City); city != "" {
		base = base.Where("LOWER(city) = ?", strings.ToLower(city))
	}
	if cat := strings.TrimSpace(opts.Category); cat != "" {
		base = base.Where("risk_category = ?", cat)
	}
	if opts.MinScore > 0 {
		base = base.Where("risk_score >= ?", opts.MinScore)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	queryBuilder := base.Order(orderForSort(opts.Sort)).Offset(opts.Offset)
	if opts.Limit > 0 {
		queryBuilder = queryBuilder.Limit(opts.Limit)
	}

	var rows []Provider
	if err := queryBuilder.Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func orderForSort(sort string) string {
	switch strings.ToLower(strings.TrimSpace(sort)) {
	case "name_asc":
		return "providers.name ASC"
	case "name_desc":
		return "providers.name DESC"
	case "score_asc":
		return "providers.risk_score ASC, providers.id DESC"
	case "capacity_desc":
		return "providers.capacity DESC, providers.id DESC"
	case "revenue_desc":
		return "providers.revenue DESC, providers.id DESC"
	case "created_asc":
		return "providers.created_at ASC"
	case "created_desc":
		return "providers.created_at DESC"
	default:
		return "providers.risk_score DESC, providers.id DESC"
	}
}

// Stats summarizes the scored population.
type Stats struct {
	Providers     int64            `json:"providers"`
	Payments      int64            `json:"payments"`
	MeanRiskScore float64          `json:"mean_risk_score"`
	HighRiskShare float64          `json:"high_risk_share"`
	Categories    map[string]int64 `json:"categories"`
}

// ComputeStats aggregates portfolio-level numbers for the dashboard.
func (d *Database) ComputeStats() (Stats, error) {
	stats := Stats{Categories: map[string]int64{}}
	if err := d.gorm.Model(&Provider{}).Count(&stats.Providers).Error; err != nil {
		return Stats{}, err
	}
	if err := d.gorm.Model(&Payment{}).Count(&stats.Payments).Error; err != nil {
		return Stats{}, err
	}

	var mean *float64
	if err := d.gorm.Model(&Provider{}).
		Where("scored_at IS NOT NULL").
		Select("AVG(risk_score)").Scan(&mean).Error; err != nil {
		return Stats{}, err
	}
	if mean != nil {
		stats.MeanRiskScore = *mean
	}

	type categoryCount struct {
		RiskCategory string
		Total        int64
	}
	var counts []categoryCount
	if err := d.gorm.Model(&Provider{}).
		Where("risk_category <> ''").
		Select("risk_category, COUNT(*) AS total").
		Group("risk_category").
		Scan(&counts).Error; err != nil {
		return Stats{}, err
	}
	var scored int64
	for _, c := range counts {
		stats.Categories[c.RiskCategory] = c.Total
		scored += c.Total
	}
	if scored > 0 {
		stats.HighRiskShare = float64(stats.Categories["High"]) / float64(scored)
	}
	return stats, nil
}

// CreateIngestRun inserts a new ingestion job record.
func (d *Database) CreateIngestRun(jobID, source string) (*IngestRun, error) {
	run := &IngestRun{
		JobID:     jobID,
		Source:    source,
		Status:    "running",
		StartedAt: time.Now(),
	}
	if err := d.gorm.Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateIngestRun refreshes progress counters and status for a job.
func (d *Database) UpdateIngestRun(jobID, status, message string, processed, scored, skipped, total int) error {
	updates := map[string]any{
		"status":    status,
		"message":   message,
		"processed": processed,
		"scored":    scored,
		"skipped":   skipped,
		"total":     total,
	}
	if status == "completed" || status == "failed" || status == "cancelled" {
		now := time.Now()
		updates["finished_at"] = &now
	}
	return d.gorm.Model(&IngestRun{}).Where("job_id = ?", jobID).Updates(updates).Error
}

// GetIngestRun fetches an ingestion job record by ID.
func (d *Database) GetIngestRun(jobID string) (*IngestRun, error) {
	var run IngestRun
	if err := d.gorm.Where("job_id = ?", jobID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestIngestRun returns the most recently updated ingestion job, or nil
// when none exist.
func (d *Database) LatestIngestRun() (*IngestRun, error) {
	var run IngestRun
	err := d.gorm.Order("updated_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
