package repository

import (
	"context"
	"errors"

	"github.com/mr1hm/go-weather-alerts/internal/models"
)

var ErrNotFound = errors.New("repository: alert not found")

type Filter struct {
	Limit  int
	Offset int
	Status *models.GeoTaggingStatus
}

type AlertRepository interface {
	Create(ctx context.Context, a *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// Save replaces the stored record in one statement. It returns ErrNotFound
	// when the alert no longer exists, so a deleted alert is never recreated.
	Save(ctx context.Context, a *models.Alert) error
	// SaveGeoTagging writes only the geo-tagging outcome of a, and only while
	// the stored location still equals a.LocationName. It returns ErrNotFound
	// when the alert was deleted or relocated in the meantime.
	SaveGeoTagging(ctx context.Context, a *models.Alert) error
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts Filter) ([]models.Alert, error)
}
