package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-weather-alerts/internal/config"
	"github.com/mr1hm/go-weather-alerts/internal/events"
	"github.com/mr1hm/go-weather-alerts/internal/geocoding"
	"github.com/mr1hm/go-weather-alerts/internal/metrics"
	"github.com/mr1hm/go-weather-alerts/internal/models"
	"github.com/mr1hm/go-weather-alerts/internal/repository"
	"github.com/mr1hm/go-weather-alerts/internal/worker"
)

type Geocoder interface {
	Lookup(ctx context.Context, location string) (models.Coordinates, error)
}

// Manager geo-tags alerts in the background. Submissions return at once;
// a worker resolves the alert's location and records SUCCESS or FAILED.
type Manager struct {
	cfg         config.EnrichmentConfig
	repo        repository.AlertRepository
	geocoder    Geocoder
	broadcaster *events.Broadcaster
	pool        *worker.WorkerPool
}

func NewManager(cfg config.EnrichmentConfig, repo repository.AlertRepository, geocoder Geocoder, broadcaster *events.Broadcaster) *Manager {
	m := &Manager{
		cfg:         cfg,
		repo:        repo,
		geocoder:    geocoder,
		broadcaster: broadcaster,
	}
	m.pool = worker.NewWorkerPool(worker.Config{
		CoreWorkers: cfg.CoreWorkers,
		MaxWorkers:  cfg.MaxWorkers,
		QueueSize:   cfg.QueueCapacity,
		KeepAlive:   cfg.KeepAlive,
	}, m.process)
	return m
}

func (m *Manager) Start(ctx context.Context) {
	slog.Info("starting enrichment workers",
		"core_workers", m.cfg.CoreWorkers,
		"max_workers", m.cfg.MaxWorkers,
		"queue_capacity", m.cfg.QueueCapacity)
	m.pool.Start(ctx)
}

// SubmitEnrichment schedules geo-tagging for alertID. It never blocks and
// never fails the caller: a rejected submission is logged and the alert stays
// PENDING until it is submitted again.
func (m *Manager) SubmitEnrichment(alertID string) {
	_ = m.TrySubmit(alertID)
}

// TrySubmit is SubmitEnrichment for callers that count rejections. It returns
// worker.ErrQueueFull or worker.ErrPoolClosed when the job was not accepted.
func (m *Manager) TrySubmit(alertID string) error {
	err := m.pool.Submit(alertID)
	switch {
	case err == nil:
		metrics.IncSubmission(metrics.SubmitAccepted)
		slog.Debug("enrichment submitted", "alert_id", alertID)
	case errors.Is(err, worker.ErrQueueFull):
		metrics.IncSubmission(metrics.SubmitRejected)
		slog.Warn("enrichment rejected, alert stays pending", "alert_id", alertID, "error", err)
	default:
		metrics.IncSubmission(metrics.SubmitClosed)
		slog.Warn("enrichment not accepted", "alert_id", alertID, "error", err)
	}
	return err
}

// Pending and Workers expose the pool for metrics.
func (m *Manager) Pending() int { return m.pool.Pending() }
func (m *Manager) Workers() int { return m.pool.Workers() }

// Shutdown drains queued and running jobs until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.pool.Shutdown(ctx)
	if err != nil {
		slog.Warn("enrichment shutdown grace period expired, abandoning jobs", "error", err)
		return err
	}
	slog.Info("enrichment manager stopped")
	return nil
}

func (m *Manager) process(ctx context.Context, job worker.Job) error {
	alertID, ok := job.(string)
	if !ok {
		return fmt.Errorf("unexpected enrichment job type %T", job)
	}
	return m.Enrich(ctx, alertID)
}

// Enrich runs one enrichment attempt for alertID on the calling goroutine.
func (m *Manager) Enrich(ctx context.Context, alertID string) error {
	start := time.Now()
	slog.Info("starting geo-tagging", "alert_id", alertID)

	alert, err := m.repo.GetByID(ctx, alertID)
	if errors.Is(err, repository.ErrNotFound) {
		metrics.IncSkipped("not_found")
		slog.Debug("alert gone before geo-tagging", "alert_id", alertID)
		return nil
	}
	if err != nil {
		metrics.IncSkipped("store_error")
		slog.Error("error loading alert for geo-tagging", "alert_id", alertID, "error", err)
		return err
	}

	coords, lookupErr := m.geocoder.Lookup(ctx, alert.LocationName)
	if ctx.Err() != nil {
		// shutdown abandoned the job; the alert stays PENDING
		metrics.IncSkipped("cancelled")
		slog.Warn("geo-tagging abandoned", "alert_id", alertID, "error", ctx.Err())
		return ctx.Err()
	}

	reason := ""
	if lookupErr != nil {
		reason = failureReason(lookupErr)
		alert.MarkGeoTaggingFailed(failureMessage(lookupErr))
	} else {
		alert.MarkGeoTagged(coords)
	}
	alert.UpdatedAt = time.Now().UTC()

	// only the geo-tagging columns are written, and only if the location is
	// still the one that was looked up
	if err := m.repo.SaveGeoTagging(ctx, alert); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.IncSkipped("stale")
			slog.Debug("alert deleted or relocated during geo-tagging", "alert_id", alertID, "location", alert.LocationName)
			return nil
		}
		metrics.IncSkipped("store_error")
		slog.Error("error saving geo-tagging result", "alert_id", alertID, "error", err)
		return err
	}

	metrics.ObserveEnrichment(string(alert.GeoTaggingStatus), reason, time.Since(start))
	m.broadcaster.PublishAlert(alert)

	if lookupErr != nil {
		slog.Warn("geo-tagging failed", "alert_id", alertID, "location", alert.LocationName, "error", lookupErr)
	} else {
		slog.Info("geo-tagging successful", "alert_id", alertID, "lat", coords.Latitude, "lon", coords.Longitude)
	}
	return nil
}

func failureReason(err error) string {
	if kind := geocoding.KindOf(err); kind != "" {
		return string(kind)
	}
	return "Unexpected"
}

func failureMessage(err error) string {
	if geocoding.KindOf(err) != "" {
		return err.Error()
	}
	return "Unexpected error: " + err.Error()
}
