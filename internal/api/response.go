package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-weather-alerts/internal/models"
)

type alertResponse struct {
	ID               string                  `json:"id"`
	Description      string                  `json:"description"`
	LocationName     string                  `json:"locationName"`
	Severity         models.Severity         `json:"severity"`
	Latitude         *float64                `json:"latitude"`
	Longitude        *float64                `json:"longitude"`
	GeoTaggingStatus models.GeoTaggingStatus `json:"geoTaggingStatus"`
	GeoTaggingError  *string                 `json:"geoTaggingError"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

func toAlertResponse(a *models.Alert) alertResponse {
	return alertResponse{
		ID:               a.ID,
		Description:      a.Description,
		LocationName:     a.LocationName,
		Severity:         a.Severity,
		Latitude:         a.Latitude,
		Longitude:        a.Longitude,
		GeoTaggingStatus: a.GeoTaggingStatus,
		GeoTaggingError:  a.GeoTaggingError,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type errorResponse struct {
	Timestamp        time.Time         `json:"timestamp"`
	Status           int               `json:"status"`
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	Path             string            `json:"path"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
}

func writeError(c *gin.Context, status int, message string, fields map[string]string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Timestamp:        time.Now().UTC(),
		Status:           status,
		Error:            http.StatusText(status),
		Message:          message,
		Path:             c.Request.URL.Path,
		ValidationErrors: fields,
	})
}
