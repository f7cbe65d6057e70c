package index

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a path, tag or file that does not resolve,
	// including a tag repeated within one filter path
	ErrNotFound = errors.New("not found")

	// ErrNameConflict indicates a tag or name collision that may not be merged
	ErrNameConflict = errors.New("name conflict")

	// ErrInvalidOperation indicates an operation that makes no sense in its
	// context, such as renaming a multi-tag directory
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrNotSupported indicates a mutation that is deliberately not implemented
	ErrNotSupported = errors.New("operation not supported")

	// ErrPersistence indicates an edit committed in memory whose save failed
	ErrPersistence = errors.New("persistence failure")

	// ErrStorage indicates a failure of the real-storage provider
	ErrStorage = errors.New("storage failure")
)

// Error wraps tag errors with context about the operation and affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "rename", "mkdir")
	Path string // Affected path or name
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// Common operation names for consistent logging and error reporting
const (
	OpLookup    = "lookup"
	OpReadDir   = "readdir"
	OpAddTag    = "add_tag"
	OpRemoveTag = "remove_tag"
	OpRenameTag = "rename_tag"
	OpCreateTag = "create_tag"
	OpDeleteTag = "delete_tag"
	OpMove      = "move"
	OpUnlink    = "unlink"
	OpMkdir     = "mkdir"
	OpRmdir     = "rmdir"
	OpSetTags   = "set_tags"
	OpReconcile = "reconcile"
	OpSave      = "save"
)
