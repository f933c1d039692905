package api

import (
	"strings"

	"github.com/mr1hm/go-weather-alerts/internal/models"
)

type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// toGeoJSON maps geo-tagged alerts to point features. Alerts without
// coordinates are left out.
func toGeoJSON(alerts []models.Alert) FeatureCollection {
	features := make([]Feature, 0, len(alerts))

	for i := range alerts {
		a := &alerts[i]
		coords, ok := a.Coordinates()
		if !ok {
			continue
		}
		f := Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "Point",
				Coordinates: []float64{coords.Longitude, coords.Latitude},
			},
			Properties: map[string]any{
				"id":          a.ID,
				"description": a.Description,
				"location":    a.LocationName,
				"severity":    strings.ToLower(string(a.Severity)),
				"created_at":  a.CreatedAt,
			},
		}
		features = append(features, f)
	}

	return FeatureCollection{
		Type:     "FeatureCollection",
		Features: features,
	}
}
