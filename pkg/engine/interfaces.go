package engine

import (
	"context"
	"iter"
	"time"
)

// Reader enumerates and fetches entities from a target system.
type Reader interface {
	// List enumerates every entity of a type in a scope. The sequence is
	// lazy and finite; a transport failure is yielded once and ends it.
	List(ctx context.Context, t EntityType, scope Scope) iter.Seq2[Skeleton, error]

	// Get fetches one entity. A missing entity yields an error matching ErrNotFound.
	Get(ctx context.Context, t EntityType, scope Scope, id string) (Skeleton, error)

	// Find fetches one entity, returning nil without error when it does not exist.
	Find(ctx context.Context, t EntityType, scope Scope, id string) (*Skeleton, error)

	// NodeTypes returns every node type known to the target.
	NodeTypes(ctx context.Context, scope Scope) ([]string, error)

	// ListSubresources returns the children of an entity (e.g. secret store mappings).
	ListSubresources(ctx context.Context, parent Skeleton, scope Scope) ([]Subresource, error)
}

// Writer mutates entities on a target system.
type Writer interface {
	// Create creates an entity. It fails with ErrIDConflict when the id is
	// taken and with ErrNameConflict when the display name is taken.
	Create(ctx context.Context, s Skeleton, scope Scope) (Skeleton, error)

	// Update overwrites an existing entity, guarded by its revision when known.
	Update(ctx context.Context, s Skeleton, scope Scope) (Skeleton, error)

	// Delete removes an entity.
	Delete(ctx context.Context, t EntityType, scope Scope, id string) error

	// PutSubresource creates or overwrites a child of an entity.
	PutSubresource(ctx context.Context, parent Skeleton, scope Scope, sub Subresource) error
}

// Target is a system that can be both read and written.
type Target interface {
	Reader
	Writer
}

// ProgressStatus is the final state reported to a progress indicator.
type ProgressStatus string

const (
	ProgressSuccess ProgressStatus = "success"
	ProgressWarning ProgressStatus = "warning"
	ProgressFailure ProgressStatus = "fail"
)

// Progress receives progress notifications of long-running operations.
type Progress interface {
	Create(total int, message string)
	Update(message string)
	Stop(status ProgressStatus, message string)
}

// Printer receives user-facing warnings.
type Printer interface {
	Warn(message string)
}

// NopProgress discards all notifications.
type NopProgress struct{}

func (NopProgress) Create(int, string)            {}
func (NopProgress) Update(string)                 {}
func (NopProgress) Stop(ProgressStatus, string)   {}

// NopPrinter discards all warnings.
type NopPrinter struct{}

func (NopPrinter) Warn(string) {}

// ImportRun describes one import run for journaling.
type ImportRun struct {
	ID        string
	Origin    string
	Target    string
	Mode      ImportMode
	Total     int
	StartedAt time.Time
}

// ImportSummary is the outcome of a finished import run.
type ImportSummary struct {
	Status    RunStatus
	Succeeded int
	Failed    int
	Error     string
}

// Journal records import runs and their per-entity results.
// Journal failures never fail an import.
type Journal interface {
	BeginImport(ctx context.Context, run ImportRun) error
	RecordResult(ctx context.Context, runID string, res Result) error
	EndImport(ctx context.Context, runID string, summary ImportSummary) error
}
