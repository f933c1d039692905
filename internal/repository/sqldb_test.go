package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-weather-alerts/internal/models"
)

func setupTestDB(t *testing.T) *SQLDB {
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	return db
}

func newAlert(id, location string) *models.Alert {
	now := time.Now().UTC().Truncate(time.Second)
	a := &models.Alert{
		ID:           id,
		Description:  "Heavy snowfall expected tonight",
		LocationName: location,
		Severity:     models.SeverityHigh,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.ResetGeoTagging()
	return a
}

func TestSQLDB_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	if err := db.Create(ctx, newAlert("a1", "Sofia")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := db.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.LocationName != "Sofia" {
		t.Errorf("expected location 'Sofia', got '%s'", got.LocationName)
	}
	if got.GeoTaggingStatus != models.GeoTaggingPending {
		t.Errorf("expected PENDING, got %s", got.GeoTaggingStatus)
	}
	if got.Latitude != nil || got.GeoTaggingError != nil {
		t.Error("pending alert should have no coordinates or error")
	}
}

func TestSQLDB_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetByID(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLDB_SaveRoundTripsGeoTagging(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	a := newAlert("a1", "Sofia")
	db.Create(ctx, a)

	a.MarkGeoTagged(models.Coordinates{Latitude: 42.6977, Longitude: 23.3219})
	if err := db.Save(ctx, a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, _ := db.GetByID(ctx, "a1")
	if got.GeoTaggingStatus != models.GeoTaggingSuccess {
		t.Errorf("expected SUCCESS, got %s", got.GeoTaggingStatus)
	}
	if got.Latitude == nil || *got.Latitude != 42.6977 || *got.Longitude != 23.3219 {
		t.Errorf("unexpected coordinates %v %v", got.Latitude, got.Longitude)
	}
	if err := got.ValidateGeoTagging(); err != nil {
		t.Errorf("stored alert breaks invariant: %v", err)
	}

	a.MarkGeoTaggingFailed("TransportError: connection refused")
	db.Save(ctx, a)

	got, _ = db.GetByID(ctx, "a1")
	if got.Latitude != nil || got.GeoTaggingError == nil {
		t.Fatal("failed alert should have error and no coordinates")
	}
	if *got.GeoTaggingError != "TransportError: connection refused" {
		t.Errorf("unexpected error %q", *got.GeoTaggingError)
	}
}

func TestSQLDB_SaveDoesNotResurrect(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	a := newAlert("a1", "Sofia")
	db.Create(ctx, a)

	if err := db.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	a.MarkGeoTagged(models.Coordinates{Latitude: 1, Longitude: 2})
	if err := db.Save(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound saving deleted alert, got %v", err)
	}

	exists, err := db.Exists(ctx, "a1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("deleted alert should stay deleted")
	}
}

func TestSQLDB_SaveGeoTaggingKeepsOtherFields(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	stale := newAlert("a1", "Sofia")
	db.Create(ctx, stale)

	edited := *stale
	edited.Description = "Blizzard warning upgraded"
	edited.Severity = models.SeverityLow
	if err := db.Save(ctx, &edited); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stale.MarkGeoTagged(models.Coordinates{Latitude: 42.6977, Longitude: 23.3219})
	if err := db.SaveGeoTagging(ctx, stale); err != nil {
		t.Fatalf("SaveGeoTagging failed: %v", err)
	}

	got, err := db.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Description != "Blizzard warning upgraded" || got.Severity != models.SeverityLow {
		t.Errorf("user edit was overwritten: %+v", got)
	}
	if got.GeoTaggingStatus != models.GeoTaggingSuccess || got.Latitude == nil || *got.Latitude != 42.6977 {
		t.Errorf("geo-tagging not stored: %+v", got)
	}
}

func TestSQLDB_SaveGeoTaggingSkipsRelocatedAndDeleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	stale := newAlert("a1", "Sofia")
	db.Create(ctx, stale)

	relocated := *stale
	relocated.LocationName = "Plovdiv"
	db.Save(ctx, &relocated)

	stale.MarkGeoTagged(models.Coordinates{Latitude: 42.6977, Longitude: 23.3219})
	if err := db.SaveGeoTagging(ctx, stale); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for relocated alert, got %v", err)
	}

	got, _ := db.GetByID(ctx, "a1")
	if got.LocationName != "Plovdiv" || got.GeoTaggingStatus != models.GeoTaggingPending {
		t.Errorf("relocated alert was modified: %+v", got)
	}

	db.Delete(ctx, "a1")
	if err := db.SaveGeoTagging(ctx, stale); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted alert, got %v", err)
	}
	if exists, _ := db.Exists(ctx, "a1"); exists {
		t.Error("deleted alert should stay deleted")
	}
}

func TestSQLDB_Exists(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()

	exists, err := db.Exists(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected false for nonexistent ID")
	}

	db.Create(ctx, newAlert("exists_test", "Berlin"))

	exists, err = db.Exists(ctx, "exists_test")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected true for existing ID")
	}
}

func TestSQLDB_DeleteMissing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.Delete(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLDB_DuplicateCreate(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	a := newAlert("dup_test", "Sofia")

	if err := db.Create(ctx, a); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}
	if err := db.Create(ctx, a); err == nil {
		t.Error("expected error for duplicate ID, got nil")
	}
}

func TestSQLDB_ListWithFilters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, loc := range []string{"Sofia", "Plovdiv", "Varna"} {
		a := newAlert(uuid.NewString(), loc)
		a.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if loc == "Varna" {
			a.MarkGeoTaggingFailed("no coordinates found for location: Varna")
		}
		db.Create(ctx, a)
	}

	all, err := db.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(all))
	}
	if all[0].LocationName != "Varna" {
		t.Errorf("expected newest first, got %s", all[0].LocationName)
	}

	failed := models.GeoTaggingFailed
	results, err := db.List(ctx, Filter{Status: &failed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 failed alert, got %d", len(results))
	}

	results, _ = db.List(ctx, Filter{Limit: 2, Offset: 1})
	if len(results) != 2 || results[0].LocationName != "Plovdiv" {
		t.Errorf("unexpected page %+v", results)
	}
}

func TestSQLDB_Rebind(t *testing.T) {
	pg := &SQLDB{driver: DriverPostgres}
	got := pg.rebind("SELECT 1 FROM alerts WHERE id = ? AND severity = ?")
	if got != "SELECT 1 FROM alerts WHERE id = $1 AND severity = $2" {
		t.Errorf("unexpected rebind: %s", got)
	}

	lite := &SQLDB{driver: DriverSQLite}
	if q := lite.rebind("id = ?"); q != "id = ?" {
		t.Errorf("sqlite query should be unchanged, got %s", q)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSQLDB_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := NewPostgresDB(dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	a := newAlert(uuid.NewString(), "Sofia")
	if err := db.Create(ctx, a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer db.Delete(ctx, a.ID)

	a.MarkGeoTagged(models.Coordinates{Latitude: 42.6977, Longitude: 23.3219})
	if err := db.Save(ctx, a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := db.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.GeoTaggingStatus != models.GeoTaggingSuccess {
		t.Errorf("expected SUCCESS, got %s", got.GeoTaggingStatus)
	}
}
