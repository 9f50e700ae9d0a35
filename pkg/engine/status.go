package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of an import run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently applying entities.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every entity was applied.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run stopped on a failure or applied nothing.
	RunStatusFailed RunStatus = "failed"

	// RunStatusPartial indicates some entities failed while others were applied.
	RunStatusPartial RunStatus = "partial"

	// RunStatusCancelled indicates the consumer stopped the run early.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed,
		RunStatusPartial, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// OperationType is the write that was performed for an entity.
type OperationType string

const (
	// OperationCreate indicates the entity was created.
	OperationCreate OperationType = "create"

	// OperationUpdate indicates an existing entity was overwritten.
	OperationUpdate OperationType = "update"

	// OperationDelete indicates the entity was deleted.
	OperationDelete OperationType = "delete"

	// OperationNone indicates nothing was written.
	OperationNone OperationType = "none"
)

// IsMutating returns true if the operation changed the target.
func (o OperationType) IsMutating() bool {
	return o == OperationCreate || o == OperationUpdate || o == OperationDelete
}

// Validate checks if the operation type is valid.
func (o OperationType) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete, OperationNone:
		return nil
	default:
		return fmt.Errorf("invalid operation type: %s", o)
	}
}

// ImportState is the per-entity state of the import state machine.
//
//	Pending -> Creating -> Created
//	                    -> NameConflict -> Renaming -> Creating
//	                    -> IDConflict -> Updating -> Updated
//	Created|Updated -> ApplyingSubresources -> Done
//	any -> Failed
type ImportState string

const (
	StatePending              ImportState = "pending"
	StateCreating             ImportState = "creating"
	StateCreated              ImportState = "created"
	StateNameConflict         ImportState = "name_conflict"
	StateRenaming             ImportState = "renaming"
	StateIDConflict           ImportState = "id_conflict"
	StateUpdating             ImportState = "updating"
	StateUpdated              ImportState = "updated"
	StateApplyingSubresources ImportState = "applying_subresources"
	StateDone                 ImportState = "done"
	StateFailed               ImportState = "failed"
)

// IsTerminal returns true if no further transitions are possible.
func (s ImportState) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Validate checks if the import state is valid.
func (s ImportState) Validate() error {
	switch s {
	case StatePending, StateCreating, StateCreated, StateNameConflict, StateRenaming,
		StateIDConflict, StateUpdating, StateUpdated, StateApplyingSubresources,
		StateDone, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid import state: %s", s)
	}
}

// validTransitions lists the allowed successors of each non-terminal state.
var validTransitions = map[ImportState][]ImportState{
	StatePending:              {StateCreating, StateIDConflict},
	StateCreating:             {StateCreated, StateNameConflict, StateIDConflict},
	StateNameConflict:         {StateRenaming},
	StateRenaming:             {StateCreating},
	StateIDConflict:           {StateUpdating},
	StateUpdating:             {StateUpdated},
	StateCreated:              {StateApplyingSubresources, StateDone},
	StateUpdated:              {StateApplyingSubresources, StateDone},
	StateApplyingSubresources: {StateDone},
}

// CanTransition reports whether moving from s to next is allowed.
// Every non-terminal state may move to StateFailed.
func (s ImportState) CanTransition(next ImportState) bool {
	if next == StateFailed {
		return !s.IsTerminal()
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ImportMode selects how the orchestrator reacts to a failing entity.
type ImportMode string

const (
	// ModeFailFast stops at the first failure.
	ModeFailFast ImportMode = "fail-fast"

	// ModeBestEffort attempts every entity and reports each failure as it happens.
	ModeBestEffort ImportMode = "best-effort"

	// ModeCollect attempts every entity and folds all failures into one error.
	ModeCollect ImportMode = "collect"
)

// Validate checks if the import mode is valid. The empty mode means fail-fast.
func (m ImportMode) Validate() error {
	switch m {
	case "", ModeFailFast, ModeBestEffort, ModeCollect:
		return nil
	default:
		return fmt.Errorf("invalid import mode: %s", m)
	}
}
