package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mr1hm/go-weather-alerts/internal/alerts"
	"github.com/mr1hm/go-weather-alerts/internal/events"
	"github.com/mr1hm/go-weather-alerts/internal/models"
	"github.com/mr1hm/go-weather-alerts/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type Handler struct {
	svc         *alerts.Service
	broadcaster *events.Broadcaster
}

func NewHandler(svc *alerts.Service, broadcaster *events.Broadcaster) *Handler {
	return &Handler{
		svc:         svc,
		broadcaster: broadcaster,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/alerts")
	api.POST("", h.createAlert)
	api.GET("", h.listAlerts)
	api.GET("/stream", h.streamStatus)
	api.GET("/:id", h.getAlert)
	api.PUT("/:id", h.updateAlert)
	api.DELETE("/:id", h.deleteAlert)
	api.POST("/:id/geotag", h.reenrich)

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

type createAlertRequest struct {
	Description  string `json:"description"`
	LocationName string `json:"locationName"`
	Severity     string `json:"severity"`
}

type updateAlertRequest struct {
	Description  *string `json:"description"`
	LocationName *string `json:"locationName"`
	Severity     *string `json:"severity"`
}

func (h *Handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body: "+err.Error(), nil)
		return
	}

	alert, err := h.svc.Create(c.Request.Context(), alerts.CreateAlertInput{
		Description:  req.Description,
		LocationName: req.LocationName,
		Severity:     parseSeverity(req.Severity),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAlertResponse(alert))
}

func (h *Handler) listAlerts(c *gin.Context) {
	filter := repository.Filter{
		Limit: defaultListLimit,
	}

	if s := c.Query("status"); s != "" {
		status := models.GeoTaggingStatus(strings.ToUpper(s))
		if !status.IsValid() {
			writeError(c, http.StatusBadRequest, "invalid status filter",
				map[string]string{"status": "must be one of PENDING, SUCCESS, FAILED"})
			return
		}
		filter.Status = &status
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= maxListLimit {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}

	// only geo-tagged alerts have a geometry, so pages are cut from those
	geoJSON := strings.EqualFold(c.Query("format"), "geojson")
	if geoJSON {
		success := models.GeoTaggingSuccess
		filter.Status = &success
	}

	list, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if geoJSON {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, toGeoJSON(list))
		return
	}

	resp := make([]alertResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toAlertResponse(&list[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getAlert(c *gin.Context) {
	alert, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) updateAlert(c *gin.Context) {
	var req updateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "malformed request body: "+err.Error(), nil)
		return
	}

	in := alerts.UpdateAlertInput{
		Description:  req.Description,
		LocationName: req.LocationName,
	}
	if req.Severity != nil {
		sev := parseSeverity(*req.Severity)
		in.Severity = &sev
	}

	alert, err := h.svc.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) deleteAlert(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reenrich(c *gin.Context) {
	alert, err := h.svc.Reenrich(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toAlertResponse(alert))
}

// streamStatus pushes geo-tagging status changes as server-sent events until
// the client goes away or the broadcaster closes.
func (h *Handler) streamStatus(c *gin.Context) {
	if h.broadcaster == nil {
		writeError(c, http.StatusServiceUnavailable, "status stream unavailable", nil)
		return
	}

	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)
	slog.Debug("status stream opened", "subscriber", id, "client", c.ClientIP())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	slog.Debug("status stream closed", "subscriber", id)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	var verr *alerts.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, "validation failed", verr.Fields)
	case errors.Is(err, alerts.ErrNotFound):
		writeError(c, http.StatusNotFound, "alert not found: "+c.Param("id"), nil)
	default:
		slog.Error("request failed", "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		writeError(c, http.StatusInternalServerError, "internal server error", nil)
	}
}

func parseSeverity(s string) models.Severity {
	return models.Severity(strings.ToUpper(strings.TrimSpace(s)))
}
