package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mr1hm/go-weather-alerts/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLDB stores alerts through database/sql. SQLite is the default backend;
// PostgreSQL goes through the pgx stdlib driver.
type SQLDB struct {
	db     *sql.DB
	driver string
}

func NewSQLiteDB(path string) (*SQLDB, error) {
	return Open(DriverSQLite, path)
}

func NewPostgresDB(dsn string) (*SQLDB, error) {
	return Open(DriverPostgres, dsn)
}

func Open(driver, dsn string) (*SQLDB, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite, "":
		driver, sqlDriver = DriverSQLite, "sqlite"
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if driver == DriverSQLite {
		// one connection keeps :memory: databases shared and serializes writers
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLDB{
		db:     db,
		driver: driver,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error while migrating database: %w", err)
	}

	return s, nil
}

func (s *SQLDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			location_name TEXT NOT NULL,
			severity TEXT NOT NULL,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			geo_tagging_status TEXT NOT NULL,
			geo_tagging_error TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(geo_tagging_status);
		CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	`

	if s.driver == DriverPostgres {
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				return err
			}
		}
		return nil
	}

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLDB) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks.
func (s *SQLDB) DB() *sql.DB {
	return s.db
}

func (s *SQLDB) Create(ctx context.Context, a *models.Alert) error {
	query := s.rebind(`
		INSERT INTO alerts (id, description, location_name, severity, latitude, longitude,
			geo_tagging_status, geo_tagging_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Description, a.LocationName, string(a.Severity),
		nullFloat(a.Latitude), nullFloat(a.Longitude),
		string(a.GeoTaggingStatus), nullString(a.GeoTaggingError),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("error inserting alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *SQLDB) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := s.rebind(`
		SELECT id, description, location_name, severity, latitude, longitude,
			geo_tagging_status, geo_tagging_error, created_at, updated_at
		FROM alerts WHERE id = ?`)

	a, err := scanAlert(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error fetching alert %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLDB) Save(ctx context.Context, a *models.Alert) error {
	query := s.rebind(`
		UPDATE alerts SET description = ?, location_name = ?, severity = ?,
			latitude = ?, longitude = ?, geo_tagging_status = ?, geo_tagging_error = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query,
		a.Description, a.LocationName, string(a.Severity),
		nullFloat(a.Latitude), nullFloat(a.Longitude),
		string(a.GeoTaggingStatus), nullString(a.GeoTaggingError),
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("error saving alert %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error saving alert %s: %w", a.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLDB) SaveGeoTagging(ctx context.Context, a *models.Alert) error {
	query := s.rebind(`
		UPDATE alerts SET latitude = ?, longitude = ?, geo_tagging_status = ?,
			geo_tagging_error = ?, updated_at = ?
		WHERE id = ? AND location_name = ?`)

	res, err := s.db.ExecContext(ctx, query,
		nullFloat(a.Latitude), nullFloat(a.Longitude),
		string(a.GeoTaggingStatus), nullString(a.GeoTaggingError),
		a.UpdatedAt.UTC(),
		a.ID, a.LocationName,
	)
	if err != nil {
		return fmt.Errorf("error saving geo-tagging for alert %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error saving geo-tagging for alert %s: %w", a.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLDB) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := s.rebind(`SELECT EXISTS(SELECT 1 FROM alerts WHERE id = ?)`)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking alert %s: %w", id, err)
	}
	return exists, nil
}

func (s *SQLDB) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM alerts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("error deleting alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error deleting alert %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLDB) List(ctx context.Context, opts Filter) ([]models.Alert, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT id, description, location_name, severity, latitude, longitude,
		geo_tagging_status, geo_tagging_error, created_at, updated_at FROM alerts`)

	if opts.Status != nil {
		sb.WriteString(" WHERE geo_tagging_status = ?")
		args = append(args, string(*opts.Status))
	}
	sb.WriteString(" ORDER BY created_at DESC, id")
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(sb.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                  models.Alert
		severity, status   string
		lat, lon           sql.NullFloat64
		geoErr             sql.NullString
		createdAt, updated time.Time
	)
	err := row.Scan(&a.ID, &a.Description, &a.LocationName, &severity, &lat, &lon,
		&status, &geoErr, &createdAt, &updated)
	if err != nil {
		return nil, err
	}

	a.Severity = models.Severity(severity)
	a.GeoTaggingStatus = models.GeoTaggingStatus(status)
	if lat.Valid {
		a.Latitude = &lat.Float64
	}
	if lon.Valid {
		a.Longitude = &lon.Float64
	}
	if geoErr.Valid {
		a.GeoTaggingError = &geoErr.String
	}
	a.CreatedAt = createdAt
	a.UpdatedAt = updated
	return &a, nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLDB) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var (
		sb strings.Builder
		n  int
	)
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
