package services

import (
	"errors"
	"fmt"

	"github.com/psmp-io/psmp/pkg/models"
)

var (
	// ErrNotFound indicates the referenced entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrDuplicateProject indicates a project with the same name exists
	ErrDuplicateProject = errors.New("project name already in use")

	// ErrInvalidTransition indicates a lifecycle transition outside the
	// adjacency set
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrProjectBlocked indicates the operation was refused because the
	// project is blocked on unresolved conflicts
	ErrProjectBlocked = errors.New("project is blocked")

	// ErrInvalidDeclaration indicates an artifact declaration that failed
	// validation
	ErrInvalidDeclaration = errors.New("invalid artifact declaration")

	// ErrConflictNotFound indicates a resolution for a library with no
	// active conflict
	ErrConflictNotFound = errors.New("no active conflict for library")

	// ErrDependencyCycle indicates task dependencies that would form a cycle
	ErrDependencyCycle = errors.New("task dependencies form a cycle")
)

// BlockedError carries the machine-readable blocking report alongside
// ErrProjectBlocked.
type BlockedError struct {
	Report *models.BlockingReport
}

// Error returns formatted error message
func (e *BlockedError) Error() string {
	return fmt.Sprintf("project %s is blocked by %d unresolved conflicts",
		e.Report.ProjectID, e.Report.TotalConflicts)
}

// Unwrap returns ErrProjectBlocked so errors.Is works.
func (e *BlockedError) Unwrap() error {
	return ErrProjectBlocked
}

// DeclarationError wraps declaration validation failures with field context.
type DeclarationError struct {
	Field string
	Err   error
}

// Error returns formatted error message
func (e *DeclarationError) Error() string {
	return fmt.Sprintf("%v: field '%s': %v", ErrInvalidDeclaration, e.Field, e.Err)
}

// Unwrap returns ErrInvalidDeclaration so errors.Is works.
func (e *DeclarationError) Unwrap() error {
	return ErrInvalidDeclaration
}

// NewDeclarationError creates a new declaration error
func NewDeclarationError(field string, err error) *DeclarationError {
	return &DeclarationError{Field: field, Err: err}
}
