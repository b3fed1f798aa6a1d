// Package xfmerr defines the stable error kinds from the transform's error
// handling design (spec.md §7), shared by every component so any layer can
// produce them and the orchestrator's top-level caller can discriminate on
// them with errors.Is/errors.As regardless of which component raised them.
package xfmerr

import "errors"

// Sentinel errors identifying each stable error kind. Components wrap one
// of these with fmt.Errorf("...: %w", ...) to attach context; callers use
// errors.Is against the sentinel.
var (
	// ErrSchemaMissing: a RefTypeCache lookup failed for a navigation
	// property. Always fatal.
	ErrSchemaMissing = errors.New("xform: schema metadata missing for navigation property")

	// ErrUnknownRootClass: a relationship endpoint's class-id did not
	// resolve to any known entity kind. Always fatal.
	ErrUnknownRootClass = errors.New("xform: unknown root class for relationship endpoint")

	// ErrEndpointSelfReference: recursive relationship endpoint resolution
	// produced the relationship's own id. Always fatal.
	ErrEndpointSelfReference = errors.New("xform: relationship endpoint resolved to itself")

	// ErrDanglingReference: findTargetEntityId yielded an invalid id for a
	// required reference. Fatal under the "reject" policy, a logged warning
	// under "ignore".
	ErrDanglingReference = errors.New("xform: dangling reference")

	// ErrDuplicateCodeSpec: a codespec with the same name already exists in
	// the target. Never fatal — the existing row is reused.
	ErrDuplicateCodeSpec = errors.New("xform: duplicate codespec name")

	// ErrSequenceOverflow: an id sequence would exceed the configured
	// briefcase limit. Always fatal.
	ErrSequenceOverflow = errors.New("xform: id sequence overflow")

	// ErrStatementFailure: a prepared statement returned an error. Always
	// fatal; wraps the underlying database/sql error.
	ErrStatementFailure = errors.New("xform: statement failure")

	// ErrTriggerRestoreFailure: reinstating a saved trigger's DDL failed
	// during finalize. Always fatal — the target already has committed
	// data, so the operator must investigate by hand.
	ErrTriggerRestoreFailure = errors.New("xform: trigger restore failure")

	// ErrCancelled: the caller's context was cancelled mid-transform.
	ErrCancelled = errors.New("xform: cancelled")
)
