package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/cfgport/pkg/engine"
)

// ErrNotFound is returned when a run or archived document does not exist.
var ErrNotFound = errors.New("not found")

// ImportRunRecord is a journaled import run.
type ImportRunRecord struct {
	ID          string            `json:"id"`
	Origin      string            `json:"origin"`
	Target      string            `json:"target"`
	Mode        engine.ImportMode `json:"mode"`
	Status      engine.RunStatus  `json:"status"`
	Total       int               `json:"total"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Error       *string           `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// ImportResultRecord is the journaled outcome of one entity of a run.
type ImportResultRecord struct {
	ID          int64                `json:"id"`
	RunID       string               `json:"run_id"`
	EntityType  engine.EntityType    `json:"entity_type"`
	EntityID    string               `json:"entity_id"`
	AppliedID   *string              `json:"applied_id,omitempty"`   // id on the target after reUuid
	DisplayName *string              `json:"display_name,omitempty"` // name on the target after renaming
	Operation   engine.OperationType `json:"operation"`
	State       engine.ImportState   `json:"state"`
	History     []engine.ImportState `json:"history"`
	Error       *string              `json:"error,omitempty"`
	RecordedAt  time.Time            `json:"recorded_at"`
}

// ExportRecord describes an archived export document.
type ExportRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Origin     string    `json:"origin"`
	ExportedBy string    `json:"exported_by"`
	ExportDate string    `json:"export_date"`
	Entities   int       `json:"entities"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Import journal
	GetImportRun(ctx context.Context, id string) (*ImportRunRecord, error)
	ListImportRuns(ctx context.Context, limit, offset int) ([]*ImportRunRecord, error)
	ListImportResults(ctx context.Context, runID string) ([]*ImportResultRecord, error)
	DeleteImportRun(ctx context.Context, id string) error

	// Export archive
	SaveExport(ctx context.Context, name string, doc *engine.ExportDocument) (*ExportRecord, error)
	LoadExport(ctx context.Context, name string) (*engine.ExportDocument, error)
	ListExports(ctx context.Context, limit, offset int) ([]*ExportRecord, error)
	DeleteExport(ctx context.Context, name string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
