package xform

import (
	"idxform/internal/blob"
	"idxform/internal/observability"
	"idxform/pkg/xid"
)

// DanglingReferencesBehavior controls what happens when an element's
// hydrate UPDATE matches no target row (spec.md §6). A navigation or
// id-long reference whose source id has no remap entry is written as NULL
// by the hydrate statement; that case is neither detected nor counted.
type DanglingReferencesBehavior string

const (
	// DanglingReject fails the transform on the first hydrate UPDATE that
	// matches no target row.
	DanglingReject DanglingReferencesBehavior = "reject"
	// DanglingIgnore logs a warning, counts the row in
	// Report.DanglingReferences, and continues.
	DanglingIgnore DanglingReferencesBehavior = "ignore"
)

// Config holds every option the Orchestrator recognizes: spec.md §6's
// five options verbatim, plus SPEC_FULL.md §6's supplemental fields.
type Config struct {
	// TargetScopeElementId identifies this transform run against the
	// target, preventing two runs from clashing on the same target.
	// Defaults to xid.RootSubjectId.
	TargetScopeElementId xid.Id

	// IncludeSourceProvenance copies the source's external-source aspects
	// through to the target.
	IncludeSourceProvenance bool

	// PreserveElementIdsForFiltering makes P1 assign targetId = sourceId
	// instead of consuming the element-id sequence. The Orchestrator
	// pre-advances the target's sequence above the maximum source id.
	PreserveElementIdsForFiltering bool

	// DanglingReferencesBehavior controls hydrate's response to an UPDATE
	// that matches no target row (see the type's doc). Defaults to
	// DanglingReject.
	DanglingReferencesBehavior DanglingReferencesBehavior

	// WasSourceIModelCopiedToTarget seeds the element remap table with
	// identity for every source element id the target already holds — the
	// starting point of a master/branch workflow, where source began as a
	// full copy of target — so populate only clones elements added since
	// that copy, and enables federationGuid restoration during clone.
	WasSourceIModelCopiedToTarget bool

	// StateDSN, when set, makes Run open this DSN against the pgx driver
	// after a successful commit and save the RemapContext there too,
	// letting a fleet of resumable runs share one remap ledger instead of
	// each keeping its own sqlite state file. Leave empty to skip this.
	StateDSN string

	// ArchiveOversizedGeometry opts into writing geometry streams at or
	// above GeometryBlobArchiveThreshold out to BlobStore instead of
	// inlining them.
	ArchiveOversizedGeometry     bool
	GeometryBlobArchiveThreshold int
	BlobStore                    blob.Store
	// BlobDatabaseID namespaces archived blob keys; defaults to "default".
	BlobDatabaseID string

	// ProcessElementDrivesElement opts into treating ElementDrivesElement
	// relationships identically to ElementRefersToElements. Default false,
	// matching spec.md's "explicitly marked unhandled" default.
	ProcessElementDrivesElement bool

	// ElementIdSequenceLimit/InstanceIdSequenceLimit cap the respective
	// be_Local counters; zero means unbounded. Exceeding either is fatal
	// (ErrSequenceOverflow).
	ElementIdSequenceLimit  uint64
	InstanceIdSequenceLimit uint64

	// GeometryRemapper rewrites embedded ids inside geometry-stream blobs.
	// Defaults to NoopGeometryRemapper.
	GeometryRemapper GeometryRemapper

	// Logger receives structured log output at Debug/Warn/Error. Defaults
	// to observability.Default().
	Logger observability.Logger

	// SpecialHandlerNames lists the special handlers the caller registers
	// through Orchestrator.Cloner(); Run only logs them at Debug.
	SpecialHandlerNames []string
}

// withDefaults returns a copy of cfg with every unset field replaced by its
// documented default.
func (cfg Config) withDefaults() Config {
	if cfg.TargetScopeElementId == xid.InvalidId {
		cfg.TargetScopeElementId = xid.RootSubjectId
	}
	if cfg.DanglingReferencesBehavior == "" {
		cfg.DanglingReferencesBehavior = DanglingReject
	}
	if cfg.GeometryRemapper == nil {
		cfg.GeometryRemapper = NoopGeometryRemapper{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Default()
	}
	if cfg.BlobDatabaseID == "" {
		cfg.BlobDatabaseID = "default"
	}
	return cfg
}
