package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fraudwatch/internal/exclusion"
	"fraudwatch/internal/registry"
	"fraudwatch/internal/riskml"
	"fraudwatch/internal/scoring"
	"fraudwatch/internal/stats"
	"fraudwatch/internal/store"
)

// Config defines server dependencies.
type Config struct {
	DBPath           string
	PolicyPath       string
	ExclusionPath    string
	AllowedOrigins   []string
	SilentDB         bool
	ClassifierConfig riskml.Config
	RegistryConfig   registry.Config
	DisableRegistry  bool
	IngestWorkers    int
	CityFilter       string
}

// Server wires HTTP handlers with persistence and scoring.
type Server struct {
	db             *store.Database
	engine         *scoring.Engine
	ruleConfig     scoring.RuleConfig
	exclusions     *exclusion.List
	registryClient *registry.Client
	classifierOn   bool
	allowedOrigins []string
	policyPath     string
	exclusionPath  string
	ingestWorkers  int
	cityFilter     string

	notifier  *IngestNotifier
	jobMu     sync.Mutex
	activeJob *ingestJob
}

// NewServer constructs the API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("db path required")
	}
	db, err := store.Open(cfg.DBPath, cfg.SilentDB)
	if err != nil {
		return nil, err
	}

	ruleConfig, err := scoring.LoadRuleConfig(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("rule config: %w", err)
	}

	exclusions, err := exclusion.Load(cfg.ExclusionPath)
	if err != nil {
		return nil, fmt.Errorf("exclusion list: %w", err)
	}
	if exclusions.Len() > 0 {
		logrus.WithField("entries", exclusions.Len()).Info("exclusion list loaded")
	}

	opts := []scoring.Option{scoring.WithExclusions(exclusions)}
	classifierOn := false
	if classifier, err := riskml.NewClient(cfg.ClassifierConfig); err == nil {
		opts = append(opts, scoring.WithClassifier(classifier))
		classifierOn = true
		logrus.WithField("endpoint", cfg.ClassifierConfig.BaseURL).Info("risk classifier enabled")
	} else if errors.Is(err, riskml.ErrDisabled) {
		logrus.Info("risk classifier disabled - no endpoint configured")
	} else {
		return nil, fmt.Errorf("classifier client: %w", err)
	}

	var registryClient *registry.Client
	if cfg.DisableRegistry {
		logrus.Info("registry lookup disabled via configuration")
	} else {
		registryClient = registry.NewClient(cfg.RegistryConfig)
		logrus.WithFields(logrus.Fields{
			"ttl":     cfg.RegistryConfig.CacheTTL,
			"timeout": cfg.RegistryConfig.Timeout,
		}).Info("registry lookup enabled")
	}

	return &Server{
		db:             db,
		engine:         scoring.NewEngine(ruleConfig, opts...),
		ruleConfig:     ruleConfig,
		exclusions:     exclusions,
		registryClient: registryClient,
		classifierOn:   classifierOn,
		allowedOrigins: cfg.AllowedOrigins,
		policyPath:     cfg.PolicyPath,
		exclusionPath:  cfg.ExclusionPath,
		ingestWorkers:  cfg.IngestWorkers,
		cityFilter:     cfg.CityFilter,
		notifier:       NewIngestNotifier(),
	}, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	return s.db.Close()
}

// Router configures gin routes.
func (s *Server) Router() (*gin.Engine, error) {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowCredentials = true
	if len(s.allowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.allowedOrigins
	}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept"}
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/api/healthz", s.handleHealth)
	r.GET("/api/config", s.handleConfig)

	api := r.Group("/api")
	{
		api.GET("/providers", s.handleListProviders)
		api.GET("/providers/:id", s.handleGetProvider)
		api.GET("/providers/:id/payments", s.handleProviderPayments)
		api.GET("/providers/:id/benford", s.handleProviderBenford)
		api.GET("/stats", s.handleStats)
		api.GET("/export.csv", s.handleExportCSV)
		api.POST("/score", s.handleScore)
		api.POST("/ingest", s.handleIngest)
		api.GET("/ingest/status", s.handleIngestStatus)
		api.DELETE("/ingest/:jobID", s.handleCancelIngest)
		api.GET("/ingest/stream", s.handleIngestStream)
	}

	return r, nil
}

func (s *Server) renderError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseUintParam(value string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed == 0 {
		return 0, fmt.Errorf("invalid id: %s", value)
	}
	return uint(parsed), nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"policy":             s.ruleConfig,
		"policy_path":        s.policyPath,
		"exclusion_entries":  s.exclusions.Len(),
		"classifier_enabled": s.classifierOn,
		"registry_enabled":   s.registryClient != nil,
		"city_filter":        s.cityFilter,
	})
}

func (s *Server) handleListProviders(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(c.Query("pageSize"))
	if pageSize <= 0 {
		pageSize = 100
	}
	minScore, _ := strconv.ParseFloat(c.Query("minScore"), 64)

	rows, total, err := s.db.ListProviders(store.ProviderQuery{
		Query:    strings.TrimSpace(c.Query("q")),
		City:     strings.TrimSpace(c.Query("city")),
		Category: strings.TrimSpace(c.Query("category")),
		MinScore: minScore,
		Sort:     strings.TrimSpace(c.Query("sort")),
		Offset:   page * pageSize,
		Limit:    pageSize,
	})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	dtos := make([]ProviderDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, ProviderFromModel(row))
	}
	c.JSON(http.StatusOK, ProvidersResponse{Items: dtos, Total: total})
}

func (s *Server) getProviderOr404(c *gin.Context) *store.Provider {
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return nil
	}
	provider, err := s.db.GetProvider(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.renderError(c, http.StatusNotFound, fmt.Errorf("provider %d not found", id))
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return nil
	}
	return provider
}

func (s *Server) handleGetProvider(c *gin.Context) {
	provider := s.getProviderOr404(c)
	if provider == nil {
		return
	}
	c.JSON(http.StatusOK, ProviderFromModel(*provider))
}

func (s *Server) handleProviderPayments(c *gin.Context) {
	provider := s.getProviderOr404(c)
	if provider == nil {
		return
	}
	payments, err := s.db.ListPayments(provider.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, PaymentFromModel(p))
	}
	c.JSON(http.StatusOK, gin.H{"provider_id": provider.ID, "items": dtos})
}

func (s *Server) handleProviderBenford(c *gin.Context) {
	provider := s.getProviderOr404(c)
	if provider == nil {
		return
	}
	amounts, err := s.db.PaymentAmounts(provider.ID)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	report := stats.AnalyzeBenford(amounts)
	resp := BenfordResponse{
		ProviderID:    provider.ID,
		SampleSize:    len(amounts),
		Distribution:  report,
		HasEnoughData: report != nil,
	}
	if report != nil {
		resp.AnomalyCount = report.AnomalousDigits()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c *gin.Context) {
	result, err := s.db.ComputeStats()
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleScore(c *gin.Context) {
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.renderError(c, http.StatusBadRequest, err)
		return
	}

	record := scoring.Record{
		Name:           strings.TrimSpace(req.Name),
		TaxID:          strings.TrimSpace(req.TaxID),
		Capacity:       req.Capacity,
		Revenue:        req.Revenue,
		Status:         scoring.ParseStatus(req.Status),
		Classification: strings.TrimSpace(req.Classification),
	}
	payments := make([]scoring.Payment, 0, len(req.Payments))
	for _, amount := range req.Payments {
		payments = append(payments, scoring.Payment{Amount: amount})
	}

	assessment, err := s.engine.Score(c.Request.Context(), record, payments)
	if err != nil {
		if errors.Is(err, scoring.ErrInvalidRecord) {
			s.renderError(c, http.StatusBadRequest, err)
		} else {
			s.renderError(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.JSON(http.StatusOK, ScoreResponseFromAssessment(assessment))
}

func (s *Server) handleExportCSV(c *gin.Context) {
	rows, _, err := s.db.ListProviders(store.ProviderQuery{Limit: -1})
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=provider-risk-export.csv")
	c.Header("Content-Type", "text/csv")

	writer := csv.NewWriter(c.Writer)
	headers := []string{"name", "license_number", "license_type", "city", "capacity", "ein", "revenue", "registry_status", "risk_score", "risk_category", "risk_factors", "benford_anomalies"}
	if err := writer.Write(headers); err != nil {
		return
	}
	for _, row := range rows {
		dto := ProviderFromModel(row)
		line := []string{
			dto.Name,
			dto.LicenseNumber,
			dto.LicenseType,
			dto.City,
			strconv.Itoa(dto.Capacity),
			dto.EIN,
			fmt.Sprintf("%.2f", dto.Revenue),
			dto.RegistryStatus,
			fmt.Sprintf("%.2f", dto.RiskScore),
			dto.RiskCategory,
			strings.Join(dto.RiskFactors, "|"),
			strconv.Itoa(dto.BenfordAnomalies),
		}
		if err := writer.Write(line); err != nil {
			return
		}
	}
	writer.Flush()
}

func (s *Server) handleIngest(c *gin.Context) {
	providersFile, err := c.FormFile("providers")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			s.renderError(c, http.StatusBadRequest, errors.New("providers csv file is required"))
		} else {
			s.renderError(c, http.StatusBadRequest, err)
		}
		return
	}

	providersPath, cleanupProviders, err := saveFormFile(c, providersFile)
	if err != nil {
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	paymentsPath := ""
	var cleanupPayments func()
	if paymentsFile, err := c.FormFile("payments"); err == nil {
		paymentsPath, cleanupPayments, err = saveFormFile(c, paymentsFile)
		if err != nil {
			cleanupProviders()
			s.renderError(c, http.StatusInternalServerError, err)
			return
		}
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob != nil {
		cleanupProviders()
		if cleanupPayments != nil {
			cleanupPayments()
		}
		s.renderError(c, http.StatusConflict, errors.New("ingest already running"))
		return
	}

	job, err := s.startIngest(providersFile.Filename, providersPath, paymentsPath, func() {
		cleanupProviders()
		if cleanupPayments != nil {
			cleanupPayments()
		}
	})
	if err != nil {
		cleanupProviders()
		if cleanupPayments != nil {
			cleanupPayments()
		}
		s.renderError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusAccepted, StartIngestResponse{
		JobID:     job.id,
		Source:    job.source,
		StartedAt: job.startedAt,
	})
}

func (s *Server) handleIngestStatus(c *gin.Context) {
	s.jobMu.Lock()
	job := s.activeJob
	s.jobMu.Unlock()

	resp := IngestStatusResponse{Running: job != nil}
	if job != nil {
		resp.JobID = job.id
		resp.Source = job.source
	}

	if status := s.notifier.LastStatus(); status != nil {
		resp.State = status.Type
		resp.Message = status.Message
		resp.Processed = status.Processed
		resp.Scored = status.Scored
		resp.Skipped = status.Skipped
		resp.Total = status.Total
		if resp.JobID == "" {
			resp.JobID = status.JobID
		}
	} else if run, err := s.db.LatestIngestRun(); err == nil && run != nil {
		resp.JobID = run.JobID
		resp.Source = run.Source
		resp.State = run.Status
		resp.Message = run.Message
		resp.Processed = run.Processed
		resp.Scored = run.Scored
		resp.Skipped = run.Skipped
		resp.Total = run.Total
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCancelIngest(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("jobID"))
	if jobID == "" {
		s.renderError(c, http.StatusBadRequest, errors.New("job id required"))
		return
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if s.activeJob == nil {
		s.renderError(c, http.StatusNotFound, errors.New("no ingest running"))
		return
	}
	if s.activeJob.id != jobID {
		s.renderError(c, http.StatusNotFound, errors.New("job not found"))
		return
	}

	s.activeJob.cancel()
	logrus.WithField("job", jobID).Info("ingest cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (s *Server) handleIngestStream(c *gin.Context) {
	upgrader := websocket.Upgrader{
		HandshakeTimeout:  5 * time.Second,
		EnableCompression: true,
		CheckOrigin: func(r *http.Request) bool {
			if len(s.allowedOrigins) == 0 {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			for _, allowed := range s.allowedOrigins {
				if strings.EqualFold(origin, allowed) {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("upgrade websocket")
		return
	}

	client := s.notifier.Register(conn)
	logrus.WithField("remote", conn.RemoteAddr().String()).Info("ingest websocket connected")
	defer s.notifier.Unregister(client)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("remote", conn.RemoteAddr().String()).Info("ingest websocket closed")
			} else {
				logrus.WithError(err).Warn("ingest websocket unexpected close")
			}
			break
		}
	}
}
