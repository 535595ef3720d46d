package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations. The parent
// directory of a file-path DSN is created if it does not exist.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, NewStoreError("NewSQLiteStore", "", "", "cannot create database directory: "+err.Error(), ErrConnectionFailed)
			}
		}
	}

	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Release Operations
// =============================================================================

// releaseRow represents a release row in the database.
type releaseRow struct {
	ID            string  `db:"id"`
	Project       string  `db:"project"`
	Environment   string  `db:"environment"`
	Sources       string  `db:"sources"`
	Variables     *string `db:"variables"`
	EffectiveSpec string  `db:"effective_spec"`
	CreatedAt     string  `db:"created_at"`
}

func (s *SQLiteStore) CreateRelease(ctx context.Context, release *Release) error {
	row, err := releaseToRow(release)
	if err != nil {
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), ErrInvalidData)
	}

	query := `
		INSERT INTO releases (id, project, environment, sources, variables, effective_spec, created_at)
		VALUES (:id, :project, :environment, :sources, :variables, :effective_spec, :created_at)`

	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateRelease", "release", release.ID, "release already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRelease", "release", release.ID, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) GetRelease(ctx context.Context, id string) (*Release, error) {
	var row releaseRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM releases WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRelease", "release", id, "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRelease", "release", id, err.Error(), err)
	}

	return rowToRelease(&row)
}

func (s *SQLiteStore) GetLatestRelease(ctx context.Context, project, environment string) (*Release, error) {
	var row releaseRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM releases
		WHERE project = ? AND environment = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, project, environment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetLatestRelease", "release", "", "release not found", ErrNotFound)
		}
		return nil, NewStoreError("GetLatestRelease", "release", "", err.Error(), err)
	}

	return rowToRelease(&row)
}

func (s *SQLiteStore) ListReleases(ctx context.Context, project string, opts ListOptions) ([]Release, error) {
	opts = opts.Normalize()

	var rows []releaseRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM releases
		WHERE project = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, project, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListReleases", "release", "", err.Error(), err)
	}

	releases := make([]Release, 0, len(rows))
	for i := range rows {
		release, err := rowToRelease(&rows[i])
		if err != nil {
			return nil, err
		}
		releases = append(releases, *release)
	}

	return releases, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

func releaseToRow(release *Release) (*releaseRow, error) {
	sources, err := json.Marshal(release.Sources)
	if err != nil {
		return nil, fmt.Errorf("cannot encode sources: %w", err)
	}

	row := &releaseRow{
		ID:            release.ID,
		Project:       release.Project,
		Environment:   release.Environment,
		Sources:       string(sources),
		EffectiveSpec: release.EffectiveSpec,
		CreatedAt:     release.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	if len(release.Variables) > 0 {
		variables, err := json.Marshal(release.Variables)
		if err != nil {
			return nil, fmt.Errorf("cannot encode variables: %w", err)
		}
		s := string(variables)
		row.Variables = &s
	}

	return row, nil
}

func rowToRelease(row *releaseRow) (*Release, error) {
	release := &Release{
		ID:            row.ID,
		Project:       row.Project,
		Environment:   row.Environment,
		EffectiveSpec: row.EffectiveSpec,
	}

	if err := json.Unmarshal([]byte(row.Sources), &release.Sources); err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "cannot decode sources", ErrInvalidData)
	}

	if row.Variables != nil {
		if err := json.Unmarshal([]byte(*row.Variables), &release.Variables); err != nil {
			return nil, NewStoreError("rowToRelease", "release", row.ID, "cannot decode variables", ErrInvalidData)
		}
	}

	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, NewStoreError("rowToRelease", "release", row.ID, "cannot parse created_at", ErrInvalidData)
	}
	release.CreatedAt = createdAt

	return release, nil
}
