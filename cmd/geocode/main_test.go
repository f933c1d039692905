package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-weather-alerts/internal/config"
	"github.com/mr1hm/go-weather-alerts/internal/models"
	"github.com/mr1hm/go-weather-alerts/internal/repository"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Sofia" {
			w.Write([]byte(`[{"lat":"42.6977","lon":"23.3219"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	dbPath := filepath.Join(t.TempDir(), "alerts.db")
	t.Setenv("GEOCODING_BASE_URL", server.URL)
	t.Setenv("GEOCODING_RATE_LIMIT_MS", "0")
	t.Setenv("DB_PATH", dbPath)
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, dbPath string, alerts ...*models.Alert) {
	t.Helper()
	db, err := repository.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	defer db.Close()
	for _, a := range alerts {
		require.NoError(t, db.Create(context.Background(), a))
	}
}

func failedAlert(id, location string) *models.Alert {
	now := time.Now().UTC().Truncate(time.Second)
	a := &models.Alert{
		ID:           id,
		Description:  "Heavy snowfall expected tonight",
		LocationName: location,
		Severity:     models.SeverityHigh,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.MarkGeoTaggingFailed("TransportError: unexpected status code: 503")
	return a
}

func TestLookupCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "lookup", "Sofia")
	require.NoError(t, err)
	assert.Equal(t, "Sofia: 42.697700, 23.321900\n", out)

	_, err = run(t, "lookup", "Atlantis")
	assert.ErrorContains(t, err, "no coordinates found for location: Atlantis")
}

func TestReenrichCommand(t *testing.T) {
	dbPath := setupEnv(t)
	seed(t, dbPath, failedAlert("a1", "Sofia"))

	out, err := run(t, "reenrich", "a1")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted a1")
	assert.Contains(t, out, "a1 Sofia SUCCESS: 42.697700, 23.321900")

	_, err = run(t, "reenrich", "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRetryCommand(t *testing.T) {
	dbPath := setupEnv(t)
	seed(t, dbPath, failedAlert("a1", "Sofia"), failedAlert("a2", "Atlantis"))

	out, err := run(t, "retry", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 2 alerts, 0 rejected")
	assert.Contains(t, out, "a1 Sofia SUCCESS")
	assert.Contains(t, out, "a2 Atlantis FAILED: no coordinates found for location: Atlantis")

	_, err = run(t, "retry", "--status", "success")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "PENDING or FAILED"))
}

func TestRetryCommand_BatchesToPoolCapacity(t *testing.T) {
	dbPath := setupEnv(t)
	t.Setenv("ENRICHMENT_CORE_WORKERS", "1")
	t.Setenv("ENRICHMENT_MAX_WORKERS", "1")
	t.Setenv("ENRICHMENT_QUEUE_CAPACITY", "1")

	var seeded []*models.Alert
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		seeded = append(seeded, failedAlert(id, "Sofia"))
	}
	seed(t, dbPath, seeded...)

	out, err := run(t, "retry")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 5 alerts, 0 rejected")
	assert.Equal(t, 5, strings.Count(out, "Sofia SUCCESS"))
}

func TestDrainGrace(t *testing.T) {
	cfg = config.Default()
	cfg.Geocoding.RateLimitMs = 1000
	cfg.Geocoding.Timeout = 10 * time.Second
	cfg.Enrichment.MaxWorkers = 5
	cfg.Enrichment.ShutdownGrace = time.Minute

	assert.Equal(t, time.Minute, drainGrace(1))
	assert.Equal(t, 100*time.Second+20*10*time.Second, drainGrace(100))

	cfg.Enrichment.CoreWorkers = 2
	cfg.Enrichment.QueueCapacity = 100
	assert.Equal(t, 103, batchSize())
}
