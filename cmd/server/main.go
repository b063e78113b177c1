package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"fraudwatch/internal/api"
	"fraudwatch/internal/registry"
	"fraudwatch/internal/riskml"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("load .env file")
	}

	baseDir, err := os.Getwd()
	if err != nil {
		logrus.Fatalf("determine working directory: %v", err)
	}

	dataDir := filepath.Join(baseDir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logrus.Fatalf("create data directory: %v", err)
	}

	classifierCfg := riskml.Config{
		BaseURL: os.Getenv("CLASSIFIER_URL"),
		APIKey:  os.Getenv("CLASSIFIER_API_KEY"),
	}
	if timeout := os.Getenv("CLASSIFIER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			classifierCfg.Timeout = d
		}
	}

	registryCfg := registry.Config{
		BaseURL: os.Getenv("REGISTRY_URL"),
		State:   os.Getenv("REGISTRY_STATE"),
	}
	if timeout := os.Getenv("REGISTRY_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			registryCfg.Timeout = d
		}
	}
	if ttl := os.Getenv("REGISTRY_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			registryCfg.CacheTTL = d
		}
	}

	workers := 0
	if v := strings.TrimSpace(os.Getenv("INGEST_WORKERS")); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			workers = val
		}
	}

	var origins []string
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}

	cfg := api.Config{
		DBPath:           filepath.Join(dataDir, "fraudwatch.db"),
		PolicyPath:       strings.TrimSpace(os.Getenv("POLICY_PATH")),
		ExclusionPath:    strings.TrimSpace(os.Getenv("EXCLUSION_LIST_PATH")),
		AllowedOrigins:   origins,
		ClassifierConfig: classifierCfg,
		RegistryConfig:   registryCfg,
		DisableRegistry:  strings.EqualFold(strings.TrimSpace(os.Getenv("DISABLE_REGISTRY")), "true"),
		IngestWorkers:    workers,
		CityFilter:       strings.TrimSpace(os.Getenv("CITY_FILTER")),
	}

	if override := strings.TrimSpace(os.Getenv("FRAUDWATCH_DB_PATH")); override != "" {
		cfg.DBPath = override
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "2000"
	}

	logrus.Infof("starting fraudwatch backend on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
