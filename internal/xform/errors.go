package xform

import "idxform/internal/xfmerr"

// Error kinds re-exported from xfmerr for callers that only import
// internal/xform, matching the teacher's blob.Store re-export idiom
// (internal/blob/types.go) so the orchestrator's public error surface
// doesn't require importing an internal sibling package directly.
var (
	ErrSchemaMissing         = xfmerr.ErrSchemaMissing
	ErrUnknownRootClass      = xfmerr.ErrUnknownRootClass
	ErrEndpointSelfReference = xfmerr.ErrEndpointSelfReference
	ErrDanglingReference     = xfmerr.ErrDanglingReference
	ErrDuplicateCodeSpec     = xfmerr.ErrDuplicateCodeSpec
	ErrSequenceOverflow      = xfmerr.ErrSequenceOverflow
	ErrStatementFailure      = xfmerr.ErrStatementFailure
	ErrTriggerRestoreFailure = xfmerr.ErrTriggerRestoreFailure
	ErrCancelled             = xfmerr.ErrCancelled
)
