package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fraudwatch/internal/ingest"
)

const ingestThrottle = 500 * time.Millisecond

// ingestJob tracks the state of a running ingest.
type ingestJob struct {
	id        string
	source    string
	cancel    context.CancelFunc
	startedAt time.Time
}

func saveFormFile(c *gin.Context, header *multipart.FileHeader) (string, func(), error) {
	tmp, err := os.CreateTemp("", "fraudwatch-upload-*.csv")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	if err := tmp.Close(); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	if err := c.SaveUploadedFile(header, path); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("save uploaded file: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}

// startIngest launches a new asynchronous ingest job. The caller must hold
// s.jobMu prior to invoking this function.
func (s *Server) startIngest(sourceName, providersPath, paymentsPath string, cleanup func()) (*ingestJob, error) {
	if s.activeJob != nil {
		return nil, errors.New("ingest already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &ingestJob{
		id:        uuid.NewString(),
		source:    sourceName,
		cancel:    cancel,
		startedAt: time.Now().UTC(),
	}

	if _, err := s.db.CreateIngestRun(job.id, job.source); err != nil {
		job.cancel()
		return nil, fmt.Errorf("create ingest run: %w", err)
	}

	s.activeJob = job
	go s.runIngest(ctx, job, providersPath, paymentsPath, cleanup)
	return job, nil
}

func (s *Server) runIngest(ctx context.Context, job *ingestJob, providersPath, paymentsPath string, cleanup func()) {
	finishStatus := "completed"
	finishMessage := "ingest finished"
	var last ingest.Progress

	defer func() {
		if cleanup != nil {
			cleanup()
		}
		if err := s.db.UpdateIngestRun(job.id, finishStatus, finishMessage,
			last.Processed, last.Scored, last.Skipped, last.Total); err != nil {
			logrus.WithError(err).WithField("job", job.id).Warn("update ingest run")
		}
		s.notifier.Broadcast(IngestEvent{
			Type:      finishStatus,
			JobID:     job.id,
			Processed: last.Processed,
			Scored:    last.Scored,
			Skipped:   last.Skipped,
			Total:     last.Total,
			Message:   finishMessage,
		})
		s.jobMu.Lock()
		s.activeJob = nil
		s.jobMu.Unlock()
	}()

	providersFile, err := os.Open(providersPath)
	if err != nil {
		finishStatus = "failed"
		finishMessage = fmt.Sprintf("open providers file: %v", err)
		logrus.WithError(err).Error("open providers file")
		return
	}
	defer providersFile.Close()

	var paymentsFile *os.File
	if paymentsPath != "" {
		paymentsFile, err = os.Open(paymentsPath)
		if err != nil {
			finishStatus = "failed"
			finishMessage = fmt.Sprintf("open payments file: %v", err)
			logrus.WithError(err).Error("open payments file")
			return
		}
		defer paymentsFile.Close()
	}

	logrus.WithFields(logrus.Fields{
		"job":    job.id,
		"source": job.source,
	}).Info("ingest job started")

	pipeline := ingest.NewPipeline(s.db, s.engine, s.registryClient, ingest.Config{
		Workers: s.ingestWorkers,
		City:    s.cityFilter,
	})

	var lastEmit time.Time
	onProgress := func(p ingest.Progress) {
		last = p
		if p.Stage == "progress" && time.Since(lastEmit) < ingestThrottle {
			return
		}
		lastEmit = time.Now()
		s.notifier.Broadcast(IngestEvent{
			Type:      "progress",
			JobID:     job.id,
			Provider:  p.Provider,
			Processed: p.Processed,
			Scored:    p.Scored,
			Skipped:   p.Skipped,
			Total:     p.Total,
		})
	}

	var paymentsReader io.Reader
	if paymentsFile != nil {
		paymentsReader = paymentsFile
	}

	summary, err := pipeline.Run(ctx, providersFile, paymentsReader, onProgress)
	last.Processed = summary.Providers
	last.Scored = summary.Scored
	last.Skipped = summary.Skipped

	switch {
	case errors.Is(err, context.Canceled):
		finishStatus = "cancelled"
		finishMessage = "ingest cancelled"
		logrus.WithField("job", job.id).Warn("ingest job cancelled")
	case err != nil:
		finishStatus = "failed"
		finishMessage = err.Error()
		logrus.WithError(err).WithField("job", job.id).Error("ingest job failed")
	default:
		logrus.WithFields(logrus.Fields{
			"job":       job.id,
			"providers": summary.Providers,
			"scored":    summary.Scored,
			"skipped":   summary.Skipped,
		}).Info("ingest job completed")
	}
}
