package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mr1hm/go-weather-alerts/internal/events"
	"github.com/mr1hm/go-weather-alerts/internal/models"
	"github.com/mr1hm/go-weather-alerts/internal/repository"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = repository.ErrNotFound
)

const (
	minDescription = 10
	maxDescription = 1000
	minLocation    = 2
	maxLocation    = 255
)

// EnrichmentSubmitter schedules background geo-tagging. Implementations must
// not block and must not fail the caller.
type EnrichmentSubmitter interface {
	SubmitEnrichment(alertID string)
}

type CreateAlertInput struct {
	Description  string
	LocationName string
	Severity     models.Severity
}

// UpdateAlertInput carries a partial update; nil fields are left unchanged.
type UpdateAlertInput struct {
	Description  *string
	LocationName *string
	Severity     *models.Severity
}

// ValidationError lists the offending fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type Service struct {
	repo        repository.AlertRepository
	enrichment  EnrichmentSubmitter
	broadcaster *events.Broadcaster
	now         func() time.Time
}

func NewService(repo repository.AlertRepository, enrichment EnrichmentSubmitter, broadcaster *events.Broadcaster) *Service {
	return &Service{
		repo:        repo,
		enrichment:  enrichment,
		broadcaster: broadcaster,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new PENDING alert and schedules its geo-tagging. The alert is
// returned before any geocoding happens.
func (s *Service) Create(ctx context.Context, in CreateAlertInput) (*models.Alert, error) {
	in.Description = strings.TrimSpace(in.Description)
	in.LocationName = strings.TrimSpace(in.LocationName)
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	now := s.now()
	alert := &models.Alert{
		ID:           uuid.NewString(),
		Description:  in.Description,
		LocationName: in.LocationName,
		Severity:     in.Severity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	alert.ResetGeoTagging()

	if err := s.repo.Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	slog.Info("alert created", "alert_id", alert.ID, "location", alert.LocationName, "severity", alert.Severity)

	s.broadcaster.PublishAlert(alert)
	s.enrichment.SubmitEnrichment(alert.ID)
	return alert, nil
}

func (s *Service) List(ctx context.Context, filter repository.Filter) ([]models.Alert, error) {
	alerts, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Alert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}
	return alert, nil
}

// Update applies a partial update. A changed location resets geo-tagging to
// PENDING and schedules a new lookup once the record is saved.
func (s *Service) Update(ctx context.Context, id string, in UpdateAlertInput) (*models.Alert, error) {
	if err := validateUpdate(in); err != nil {
		return nil, err
	}

	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}

	if in.Description != nil {
		alert.Description = strings.TrimSpace(*in.Description)
	}
	if in.Severity != nil {
		alert.Severity = *in.Severity
	}
	relocated := false
	if in.LocationName != nil {
		location := strings.TrimSpace(*in.LocationName)
		if location != alert.LocationName {
			alert.LocationName = location
			alert.ResetGeoTagging()
			relocated = true
		}
	}
	alert.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert %s: %w", id, err)
	}
	slog.Info("alert updated", "alert_id", id, "relocated", relocated)

	if relocated {
		s.broadcaster.PublishAlert(alert)
		s.enrichment.SubmitEnrichment(alert.ID)
	}
	return alert, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	slog.Info("alert deleted", "alert_id", id)
	return nil
}

// Reenrich resets the alert to PENDING and schedules another lookup.
func (s *Service) Reenrich(ctx context.Context, id string) (*models.Alert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get alert %s: %w", id, err)
	}

	alert.ResetGeoTagging()
	alert.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, alert); err != nil {
		return nil, fmt.Errorf("reset alert %s: %w", id, err)
	}
	slog.Info("geo-tagging requested", "alert_id", id)

	s.broadcaster.PublishAlert(alert)
	s.enrichment.SubmitEnrichment(alert.ID)
	return alert, nil
}

func validateCreate(in CreateAlertInput) error {
	fields := map[string]string{}
	checkLength(fields, "description", in.Description, minDescription, maxDescription)
	checkLength(fields, "locationName", in.LocationName, minLocation, maxLocation)
	if !in.Severity.IsValid() {
		fields["severity"] = "must be one of LOW, MEDIUM, HIGH"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateUpdate(in UpdateAlertInput) error {
	fields := map[string]string{}
	if in.Description != nil {
		checkLength(fields, "description", strings.TrimSpace(*in.Description), minDescription, maxDescription)
	}
	if in.LocationName != nil {
		checkLength(fields, "locationName", strings.TrimSpace(*in.LocationName), minLocation, maxLocation)
	}
	if in.Severity != nil && !in.Severity.IsValid() {
		fields["severity"] = "must be one of LOW, MEDIUM, HIGH"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkLength(fields map[string]string, name, value string, min, max int) {
	n := utf8.RuneCountInString(value)
	if n < min || n > max {
		fields[name] = fmt.Sprintf("must be between %d and %d characters", min, max)
	}
}
