package models

import (
	"fmt"
	"time"
)

// MaxGeoTaggingErrorLength bounds the stored failure message.
const MaxGeoTaggingErrorLength = 500

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

type GeoTaggingStatus string

const (
	GeoTaggingPending GeoTaggingStatus = "PENDING"
	GeoTaggingSuccess GeoTaggingStatus = "SUCCESS"
	GeoTaggingFailed  GeoTaggingStatus = "FAILED"
)

func (s GeoTaggingStatus) IsValid() bool {
	switch s {
	case GeoTaggingPending, GeoTaggingSuccess, GeoTaggingFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no enrichment is outstanding for the status.
func (s GeoTaggingStatus) IsTerminal() bool {
	return s == GeoTaggingSuccess || s == GeoTaggingFailed
}

type Alert struct {
	ID               string
	Description      string
	LocationName     string
	Severity         Severity
	Latitude         *float64
	Longitude        *float64
	GeoTaggingStatus GeoTaggingStatus
	GeoTaggingError  *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Coordinates returns the geo-tagged position, if any.
func (a *Alert) Coordinates() (Coordinates, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return Coordinates{}, false
	}
	return Coordinates{Latitude: *a.Latitude, Longitude: *a.Longitude}, true
}

// ResetGeoTagging moves the alert back to PENDING and clears any previous outcome.
// Called on creation and whenever the location name changes.
func (a *Alert) ResetGeoTagging() {
	a.GeoTaggingStatus = GeoTaggingPending
	a.Latitude = nil
	a.Longitude = nil
	a.GeoTaggingError = nil
}

func (a *Alert) MarkGeoTagged(c Coordinates) {
	lat, lon := c.Latitude, c.Longitude
	a.Latitude = &lat
	a.Longitude = &lon
	a.GeoTaggingStatus = GeoTaggingSuccess
	a.GeoTaggingError = nil
}

func (a *Alert) MarkGeoTaggingFailed(reason string) {
	msg := Truncate(reason, MaxGeoTaggingErrorLength)
	a.Latitude = nil
	a.Longitude = nil
	a.GeoTaggingStatus = GeoTaggingFailed
	a.GeoTaggingError = &msg
}

// ValidateGeoTagging checks that status, coordinates and error agree with each other.
func (a *Alert) ValidateGeoTagging() error {
	hasLat, hasLon := a.Latitude != nil, a.Longitude != nil
	if hasLat != hasLon {
		return fmt.Errorf("alert %s: latitude and longitude must be set together", a.ID)
	}
	hasErr := a.GeoTaggingError != nil

	switch a.GeoTaggingStatus {
	case GeoTaggingPending:
		if hasLat || hasErr {
			return fmt.Errorf("alert %s: pending alert carries geo-tagging outcome", a.ID)
		}
	case GeoTaggingSuccess:
		if !hasLat || hasErr {
			return fmt.Errorf("alert %s: successful geo-tagging needs coordinates and no error", a.ID)
		}
	case GeoTaggingFailed:
		if hasLat || !hasErr {
			return fmt.Errorf("alert %s: failed geo-tagging needs an error and no coordinates", a.ID)
		}
		if len([]rune(*a.GeoTaggingError)) > MaxGeoTaggingErrorLength {
			return fmt.Errorf("alert %s: geo-tagging error exceeds %d characters", a.ID, MaxGeoTaggingErrorLength)
		}
	default:
		return fmt.Errorf("alert %s: unknown geo-tagging status %q", a.ID, a.GeoTaggingStatus)
	}
	return nil
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
