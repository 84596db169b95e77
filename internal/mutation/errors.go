package mutation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/clinforge/relay/backend/internal/entities"
)

// ErrorCode classifies mutation failures for the boundary layer.
type ErrorCode string

const (
	// CodeDuplicateKey reports a uniqueness-rule violation.
	CodeDuplicateKey ErrorCode = "duplicate_key"
	// CodeDependencyConflict reports a delete blocked by live dependents.
	CodeDependencyConflict ErrorCode = "dependency_conflict"
	// CodeNotFound reports a missing target row.
	CodeNotFound ErrorCode = "not_found"
	// CodeInvalidPayload reports a payload the kind does not accept.
	CodeInvalidPayload ErrorCode = "invalid_payload"
	// CodePersistenceFailure reports a storage error; the transaction was
	// rolled back and no event was emitted.
	CodePersistenceFailure ErrorCode = "persistence_failure"
)

// MutationError is the typed failure returned by the pipeline. It carries
// enough structure for the boundary layer to render a precise message.
type MutationError struct {
	Code          ErrorCode
	Kind          entities.Kind
	EntityID      uint
	Columns       []string
	ConflictingID uint
	BlockingKind  entities.Kind
	BlockingCount int64
	Err           error
}

func (e *MutationError) Error() string {
	switch e.Code {
	case CodeDuplicateKey:
		return fmt.Sprintf("%s: %s (%s) conflicts with existing id %d",
			e.Code, e.Kind, strings.Join(e.Columns, ","), e.ConflictingID)
	case CodeDependencyConflict:
		return fmt.Sprintf("%s: %s %d has %d live %s dependent(s)",
			e.Code, e.Kind, e.EntityID, e.BlockingCount, e.BlockingKind)
	case CodeNotFound:
		return fmt.Sprintf("%s: %s %d", e.Code, e.Kind, e.EntityID)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Code, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Kind)
	}
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// AsMutationError unwraps err to a MutationError when present.
func AsMutationError(err error) (*MutationError, bool) {
	var mutErr *MutationError
	if errors.As(err, &mutErr) {
		return mutErr, true
	}
	return nil, false
}
