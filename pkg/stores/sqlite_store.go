package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/openfroyo/cfgport/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// every connection to :memory: opens a distinct database
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	dsn := s.cfg.Path + "?" + strings.Join(pragmas, "&") + "&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return multierr.Append(fmt.Errorf("failed to ping database: %w", err), db.Close())
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginImport records the start of an import run.
func (s *SQLiteStore) BeginImport(ctx context.Context, run engine.ImportRun) error {
	query := `
		INSERT INTO import_runs (id, origin, target, mode, status, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	mode := run.Mode
	if mode == "" {
		mode = engine.ModeFailFast
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Origin,
		run.Target,
		mode,
		engine.RunStatusRunning,
		run.Total,
		startedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create import run: %w", err)
	}

	return nil
}

// RecordResult appends the outcome of one entity to a run.
func (s *SQLiteStore) RecordResult(ctx context.Context, runID string, res engine.Result) error {
	query := `
		INSERT INTO import_results (
			run_id, entity_type, entity_id, applied_id, display_name,
			operation, state, history, error, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	history, err := json.Marshal(res.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	var appliedID, displayName, errMsg *string
	if res.Entity != nil {
		id, name := res.Entity.ID, res.Entity.DisplayName()
		appliedID, displayName = &id, &name
	}
	if res.Err != nil {
		msg := res.Err.Error()
		errMsg = &msg
	}
	op := res.Operation
	if op == "" {
		op = engine.OperationNone
	}

	_, err = s.db.ExecContext(ctx, query,
		runID,
		res.Key.Type,
		res.Key.ID,
		appliedID,
		displayName,
		op,
		res.State,
		string(history),
		errMsg,
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record import result: %w", err)
	}

	return nil
}

// EndImport records the outcome of a run.
func (s *SQLiteStore) EndImport(ctx context.Context, runID string, summary engine.ImportSummary) error {
	query := `
		UPDATE import_runs
		SET status = ?, succeeded = ?, failed = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	if err := summary.Status.Validate(); err != nil {
		return err
	}
	var errMsg *string
	if summary.Error != "" {
		errMsg = &summary.Error
	}

	result, err := s.db.ExecContext(ctx, query,
		summary.Status,
		summary.Succeeded,
		summary.Failed,
		errMsg,
		s.now(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete import run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("import run %s: %w", runID, ErrNotFound)
	}

	return nil
}

const importRunColumns = `id, origin, target, mode, status, total, succeeded, failed, error, started_at, completed_at`

func scanImportRun(row interface{ Scan(...any) error }) (*ImportRunRecord, error) {
	run := &ImportRunRecord{}
	err := row.Scan(
		&run.ID,
		&run.Origin,
		&run.Target,
		&run.Mode,
		&run.Status,
		&run.Total,
		&run.Succeeded,
		&run.Failed,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	return run, err
}

// GetImportRun retrieves a run by ID
func (s *SQLiteStore) GetImportRun(ctx context.Context, id string) (*ImportRunRecord, error) {
	query := `SELECT ` + importRunColumns + ` FROM import_runs WHERE id = ?`

	run, err := scanImportRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import run: %w", err)
	}

	return run, nil
}

// ListImportRuns lists runs, most recent first.
func (s *SQLiteStore) ListImportRuns(ctx context.Context, limit, offset int) ([]*ImportRunRecord, error) {
	query := `
		SELECT ` + importRunColumns + `
		FROM import_runs
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	runs := []*ImportRunRecord{}
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import runs: %w", err)
	}

	return runs, nil
}

// ListImportResults lists the results of a run in the order they were recorded.
func (s *SQLiteStore) ListImportResults(ctx context.Context, runID string) ([]*ImportResultRecord, error) {
	query := `
		SELECT id, run_id, entity_type, entity_id, applied_id, display_name,
		       operation, state, history, error, recorded_at
		FROM import_results
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import results: %w", err)
	}
	defer rows.Close()

	results := []*ImportResultRecord{}
	for rows.Next() {
		res := &ImportResultRecord{}
		var history string
		err := rows.Scan(
			&res.ID,
			&res.RunID,
			&res.EntityType,
			&res.EntityID,
			&res.AppliedID,
			&res.DisplayName,
			&res.Operation,
			&res.State,
			&history,
			&res.Error,
			&res.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import result: %w", err)
		}
		if err := json.Unmarshal([]byte(history), &res.History); err != nil {
			return nil, fmt.Errorf("failed to decode history of result %d: %w", res.ID, err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import results: %w", err)
	}

	return results, nil
}

// DeleteImportRun deletes a run and its results.
func (s *SQLiteStore) DeleteImportRun(ctx context.Context, id string) error {
	query := `DELETE FROM import_runs WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete import run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("import run %s: %w", id, ErrNotFound)
	}

	return nil
}

// SaveExport archives doc under name, replacing any document of the same name.
func (s *SQLiteStore) SaveExport(ctx context.Context, name string, doc *engine.ExportDocument) (*ExportRecord, error) {
	if name == "" {
		return nil, fmt.Errorf("export name is required")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode export document: %w", err)
	}

	now := s.now()
	rec := &ExportRecord{
		ID:        uuid.New().String(),
		Name:      name,
		Entities:  doc.Len(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if doc.Meta != nil {
		rec.Origin = doc.Meta.Origin
		rec.ExportedBy = doc.Meta.ExportedBy
		rec.ExportDate = doc.Meta.ExportDate
	}

	query := `
		INSERT INTO export_documents (
			id, name, origin, exported_by, export_date, entities, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			origin = excluded.origin,
			exported_by = excluded.exported_by,
			export_date = excluded.export_date,
			entities = excluded.entities,
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.Origin,
		rec.ExportedBy,
		rec.ExportDate,
		rec.Entities,
		string(data),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save export %s: %w", name, err)
	}

	// a replaced document keeps its original id and creation time
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM export_documents WHERE name = ?`, name,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back export %s: %w", name, err)
	}

	return rec, nil
}

// LoadExport returns the archived document with the given name.
func (s *SQLiteStore) LoadExport(ctx context.Context, name string) (*engine.ExportDocument, error) {
	query := `SELECT document FROM export_documents WHERE name = ?`

	var data string
	err := s.db.QueryRowContext(ctx, query, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load export: %w", err)
	}

	doc, err := engine.ParseExportDocument([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode export %s: %w", name, err)
	}
	return doc, nil
}

// ListExports lists archived documents by name.
func (s *SQLiteStore) ListExports(ctx context.Context, limit, offset int) ([]*ExportRecord, error) {
	query := `
		SELECT id, name, origin, exported_by, export_date, entities, created_at, updated_at
		FROM export_documents
		ORDER BY name
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer rows.Close()

	records := []*ExportRecord{}
	for rows.Next() {
		rec := &ExportRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.Name,
			&rec.Origin,
			&rec.ExportedBy,
			&rec.ExportDate,
			&rec.Entities,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exports: %w", err)
	}

	return records, nil
}

// DeleteExport deletes an archived document.
func (s *SQLiteStore) DeleteExport(ctx context.Context, name string) error {
	query := `DELETE FROM export_documents WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete export: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("export %s: %w", name, ErrNotFound)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
