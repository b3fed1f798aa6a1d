// Package xform implements the Orchestrator of the design (C6): the single
// entry point that drives a source database's Element/Model/Aspect/
// Relationship/CodeSpec rows through RefTypeCache discovery, ClassPlan
// statement execution, and Cloner/RemapContext binding, in the two-pass
// populate-then-hydrate sequence spec.md §4.6 requires.
package xform

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for Config.StateDSN

	"idxform/internal/classplan"
	"idxform/internal/clone"
	"idxform/internal/observability"
	"idxform/internal/remap"
	"idxform/internal/schema"
	"idxform/pkg/xid"
)

const (
	elementTable  = "bis_Element"
	modelTable    = "bis_Model"
	codeSpecTable = "bis_CodeSpec"
)

// Orchestrator ties every other component together against one source/
// target database pair. A single Orchestrator is good for exactly one
// transform run; build a fresh one per run.
type Orchestrator struct {
	source *sql.DB
	target *sql.DB
	cache  *schema.Cache
	rc     *remap.Context
	cloner *clone.Cloner
	cfg    Config

	builder    *classplan.Builder
	plans      map[string]*classplan.Plan
	projection map[string]projectionPlan

	metrics     *observability.Metrics
	archiver    *clone.GeometryArchiver
	elementSeq  *Sequence
	instanceSeq *Sequence

	attachDSN string
	triggers  []triggerDDL

	// repositoryScopedSpecs marks the source CodeSpecId of every CodeSpec
	// whose scope-type is Repository, per spec.md §3's Code invariant.
	repositoryScopedSpecs map[xid.Id]bool
}

type projectionPlan struct {
	sql  string
	cols []string
}

type triggerDDL struct {
	name string
	sql  string
}

// New constructs an Orchestrator. sourceDSN is attached into target's
// connection as schema "source"; source itself is kept only for the
// Go-level reads RemapContext and schema.Discover already performed
// against it before the transform began. cfg is defaulted via
// withDefaults before use.
func New(source, target *sql.DB, sourceDSN string, cache *schema.Cache, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	rc := remap.NewContext(cache)
	rc.SourceDB = source
	rc.TargetDB = target

	o := &Orchestrator{
		source:      source,
		target:      target,
		cache:       cache,
		rc:          rc,
		cloner:      clone.New(cfg.WasSourceIModelCopiedToTarget),
		cfg:         cfg,
		builder:     classplan.NewBuilder(),
		plans:       make(map[string]*classplan.Plan),
		projection:  make(map[string]projectionPlan),
		elementSeq:  NewSequence(target, scopedSequenceName(elementSequenceName, cfg.TargetScopeElementId), cfg.ElementIdSequenceLimit),
		instanceSeq: NewSequence(target, scopedSequenceName(instanceSequenceName, cfg.TargetScopeElementId), cfg.InstanceIdSequenceLimit),
		attachDSN:   sourceDSN,

		repositoryScopedSpecs: make(map[xid.Id]bool),
	}
	if cfg.ArchiveOversizedGeometry {
		o.archiver = clone.NewGeometryArchiver(cfg.BlobStore, cfg.BlobDatabaseID, cfg.GeometryBlobArchiveThreshold)
	}
	// RemapGeom is a process-wide SQL function; re-registering it for a
	// second Orchestrator built against a different GeometryRemapper in the
	// same process is expected to fail and is not fatal here — whichever
	// remapper registered first wins for the life of the process.
	_ = RegisterRemapGeom(cfg.GeometryRemapper)
	return o
}

// Context returns the RemapContext this run builds up, so a caller can
// SaveState it after a partial run or before retrying.
func (o *Orchestrator) Context() *remap.Context { return o.rc }

// Cloner returns the Cloner this run binds rows through, so a caller can
// RegisterSpecialHandler/RegisterOnCloned before calling Run. Config's
// SpecialHandlerNames only documents which names the caller intends to
// register here; the Orchestrator has no way to manufacture a handler
// function from a name alone.
func (o *Orchestrator) Cloner() *clone.Cloner { return o.cloner }

// SaveState persists this run's RemapContext through db, for a caller that
// wants to save to a connection of its own choosing rather than (or in
// addition to) the automatic Config.StateDSN save Run performs on commit.
func (o *Orchestrator) SaveState(ctx context.Context, db *sql.DB) error {
	return o.rc.SaveState(ctx, db)
}

// WithMetrics attaches a Metrics recorder the run updates as it goes. Not
// set by default — callers that don't care about Prometheus output never
// pay for the label lookups.
func (o *Orchestrator) WithMetrics(m *observability.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

// scopedSequenceName namespaces a be_Local sequence row by the run's
// TargetScopeElementId, so two concurrent runs against the same target
// under different scopes don't share a counter.
func scopedSequenceName(base string, scope xid.Id) string {
	if scope == xid.InvalidId {
		return base
	}
	return base + "_" + scope.String()
}

// Run drives the full transform: attach, suspend triggers, import
// codespecs, populate, hydrate, clone aspects and relationships, restore
// triggers, and detach. On any fatal error the target transaction is
// rolled back and the error is returned wrapped with its xfmerr sentinel.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	report := Report{Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	if err := o.init(ctx); err != nil {
		return report, err
	}
	defer func() { _, _ = o.target.ExecContext(context.Background(), `DETACH DATABASE source`) }()

	tx, err := o.target.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("xform: begin transform transaction: %w", ErrStatementFailure)
	}
	commit := false
	defer func() {
		if !commit {
			_ = tx.Rollback()
		}
	}()

	if err := o.suspendTriggers(ctx, tx); err != nil {
		return report, err
	}
	if err := o.importCodeSpecs(ctx, tx, &report); err != nil {
		return report, err
	}
	if err := o.populate(ctx, tx, &report); err != nil {
		return report, err
	}
	if err := o.flushRemapTables(ctx, tx); err != nil {
		return report, err
	}
	if err := o.hydrate(ctx, tx, &report); err != nil {
		return report, err
	}
	if err := o.cloneAspectsAndRelationships(ctx, tx, &report); err != nil {
		return report, err
	}
	if err := o.restoreTriggers(ctx, tx); err != nil {
		return report, err
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("xform: commit transform transaction: %w", ErrStatementFailure)
	}
	commit = true

	if o.cfg.StateDSN != "" {
		if err := o.saveStateToDSN(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// saveStateToDSN opens Config.StateDSN against the pgx driver and persists
// this run's RemapContext there, letting a fleet of resumable runs share one
// remap ledger instead of each keeping its own sqlite state file.
func (o *Orchestrator) saveStateToDSN(ctx context.Context) error {
	db, err := sql.Open("pgx", o.cfg.StateDSN)
	if err != nil {
		return fmt.Errorf("xform: open state DSN: %w", ErrStatementFailure)
	}
	defer func() { _ = db.Close() }()
	if err := o.rc.SaveState(ctx, db); err != nil {
		return fmt.Errorf("xform: save state to DSN: %w", err)
	}
	return nil
}

func (o *Orchestrator) init(ctx context.Context) error {
	o.target.SetMaxOpenConns(1) // ATTACH DATABASE is connection-scoped; pin the pool to one connection for the run.
	if _, err := o.target.ExecContext(ctx, `ATTACH DATABASE ? AS source`, o.attachDSN); err != nil {
		return fmt.Errorf("xform: attach source database: %w", ErrStatementFailure)
	}
	if _, err := o.target.ExecContext(ctx, `PRAGMA defer_foreign_keys = ON`); err != nil {
		return fmt.Errorf("xform: set defer_foreign_keys: %w", ErrStatementFailure)
	}
	if err := EnsureSequenceTable(ctx, o.target); err != nil {
		return err
	}
	if err := remap.EnsureStateSchema(ctx, o.target); err != nil {
		return err
	}
	for _, ddl := range []string{
		`CREATE TEMP TABLE IF NOT EXISTS element_remap (SourceId INTEGER PRIMARY KEY, TargetId INTEGER NOT NULL)`,
		`CREATE TEMP TABLE IF NOT EXISTS aspect_remap (SourceId INTEGER PRIMARY KEY, TargetId INTEGER NOT NULL)`,
		`CREATE TEMP TABLE IF NOT EXISTS codespec_remap (SourceId INTEGER PRIMARY KEY, TargetId INTEGER NOT NULL)`,
		`CREATE TEMP TABLE IF NOT EXISTS font_remap (SourceId INTEGER PRIMARY KEY, TargetId INTEGER NOT NULL)`,
	} {
		if _, err := o.target.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("xform: create temp remap table: %w", ErrStatementFailure)
		}
	}
	if o.cfg.PreserveElementIdsForFiltering {
		var maxSrc uint64
		if err := o.target.QueryRowContext(ctx, `SELECT COALESCE(MAX(ECInstanceId), 0) FROM source.`+elementTable).Scan(&maxSrc); err != nil {
			return fmt.Errorf("xform: scan max source element id: %w", ErrStatementFailure)
		}
		if err := o.elementSeq.Advance(ctx, maxSrc); err != nil {
			return err
		}
	}
	if o.cfg.WasSourceIModelCopiedToTarget {
		if err := o.seedIdentityForCopiedSource(ctx); err != nil {
			return err
		}
	}
	if len(o.cfg.SpecialHandlerNames) > 0 {
		o.cfg.Logger.Debug("xform: special handlers expected to be registered", "names", o.cfg.SpecialHandlerNames)
	}
	return nil
}

// seedIdentityForCopiedSource implements spec.md §6's
// WasSourceIModelCopiedToTarget option: in a master/branch workflow the
// source database started life as a full copy of the target, so every
// source element id the target already holds must remap to itself rather
// than being re-inserted under a freshly sequenced id. populate then skips
// any source element already covered by this seeding — only elements added
// to the branch since the copy get cloned under new target ids.
func (o *Orchestrator) seedIdentityForCopiedSource(ctx context.Context) error {
	rows, err := o.target.QueryContext(ctx,
		`SELECT s.ECInstanceId FROM source.`+elementTable+` s JOIN main.`+elementTable+` t ON t.ECInstanceId = s.ECInstanceId`)
	if err != nil {
		return fmt.Errorf("xform: select copied source elements: %w", ErrStatementFailure)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("xform: scan copied source element: %w", ErrStatementFailure)
		}
		if err := o.rc.Element.Put(xid.Id(id), xid.Id(id)); err != nil {
			return fmt.Errorf("xform: seed identity remap for %s: %w", xid.Id(id), err)
		}
	}
	return rows.Err()
}

func (o *Orchestrator) suspendTriggers(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `SELECT name, sql FROM main.sqlite_master WHERE type = 'trigger'`)
	if err != nil {
		return fmt.Errorf("xform: enumerate target triggers: %w", ErrStatementFailure)
	}
	defer func() { _ = rows.Close() }()

	var triggers []triggerDDL
	for rows.Next() {
		var t triggerDDL
		if err := rows.Scan(&t.name, &t.sql); err != nil {
			return fmt.Errorf("xform: scan trigger row: %w", ErrStatementFailure)
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("xform: iterate triggers: %w", ErrStatementFailure)
	}
	o.triggers = triggers

	for _, t := range triggers {
		if _, err := tx.ExecContext(ctx, `DROP TRIGGER `+t.name); err != nil {
			return fmt.Errorf("xform: suspend trigger %s: %w", t.name, ErrStatementFailure)
		}
	}
	return nil
}

func (o *Orchestrator) restoreTriggers(ctx context.Context, tx *sql.Tx) error {
	for _, t := range o.triggers {
		if _, err := tx.ExecContext(ctx, t.sql); err != nil {
			return fmt.Errorf("xform: restore trigger %s: %w", t.name, ErrTriggerRestoreFailure)
		}
	}
	return nil
}

// importCodeSpecs implements spec.md §4.6 step 3: for every source codespec,
// reuse a same-named target codespec if one exists, otherwise insert a new
// one and record the mapping. A name claimed by two different source
// codespecs is logged, not fatal.
func (o *Orchestrator) importCodeSpecs(ctx context.Context, tx *sql.Tx, report *Report) error {
	rows, err := tx.QueryContext(ctx, `SELECT ECInstanceId, Name, JsonProperties FROM source.`+codeSpecTable+` ORDER BY ECInstanceId ASC`)
	if err != nil {
		return fmt.Errorf("xform: select source codespecs: %w", ErrStatementFailure)
	}
	defer func() { _ = rows.Close() }()

	type srcCodeSpec struct {
		id             xid.Id
		name           string
		jsonProperties sql.NullString
	}
	var specs []srcCodeSpec
	for rows.Next() {
		var id uint64
		var name string
		var jsonProperties sql.NullString
		if err := rows.Scan(&id, &name, &jsonProperties); err != nil {
			return fmt.Errorf("xform: scan source codespec: %w", ErrStatementFailure)
		}
		specs = append(specs, srcCodeSpec{id: xid.Id(id), name: name, jsonProperties: jsonProperties})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("xform: iterate source codespecs: %w", ErrStatementFailure)
	}

	claimedBy := make(map[string]xid.Id)
	for _, spec := range specs {
		if isRepositoryScopedCodeSpec(spec.jsonProperties) {
			o.repositoryScopedSpecs[spec.id] = true
		}

		var existing uint64
		err := tx.QueryRowContext(ctx, `SELECT ECInstanceId FROM main.`+codeSpecTable+` WHERE Name = ?`, spec.name).Scan(&existing)
		switch {
		case err == nil:
			if err := o.rc.CodeSpec.Put(spec.id, xid.Id(existing)); err != nil {
				return fmt.Errorf("xform: record codespec remap: %w", err)
			}
		case err == sql.ErrNoRows:
			tgtID, err := o.elementSeq.Next(ctx)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO main.`+codeSpecTable+` (ECInstanceId, Name, JsonProperties) VALUES (?, ?, ?)`, uint64(tgtID), spec.name, spec.jsonProperties); err != nil {
				return fmt.Errorf("xform: insert codespec %s: %w", spec.name, ErrStatementFailure)
			}
			if err := o.rc.CodeSpec.Put(spec.id, tgtID); err != nil {
				return fmt.Errorf("xform: record codespec remap: %w", err)
			}
			report.CodeSpecsImported++
		default:
			return fmt.Errorf("xform: lookup existing codespec %s: %w", spec.name, ErrStatementFailure)
		}

		if other, ok := claimedBy[spec.name]; ok && other != spec.id {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%v: codespec name %q claimed by both %s and %s", ErrDuplicateCodeSpec, spec.name, other, spec.id))
		}
		claimedBy[spec.name] = spec.id
	}
	return nil
}

// isRepositoryScopedCodeSpec parses a bis_CodeSpec.JsonProperties payload
// for the BIS-style {"scopeSpec":{"type":1}} encoding spec.md §3's
// Repository scope-type invariant refers to. A missing or unparseable
// column means "not repository-scoped".
func isRepositoryScopedCodeSpec(jsonProperties sql.NullString) bool {
	if !jsonProperties.Valid || jsonProperties.String == "" {
		return false
	}
	var parsed struct {
		ScopeSpec struct {
			Type int `json:"type"`
		} `json:"scopeSpec"`
	}
	if err := json.Unmarshal([]byte(jsonProperties.String), &parsed); err != nil {
		return false
	}
	return xid.CodeScopeType(parsed.ScopeSpec.Type) == xid.CodeScopeRepository
}

// populate runs spec.md §4.6 step 4 (P1): stream every element row (plus
// its modeled-element row, if any) in ascending id order, insert it at its
// target position with reference columns left as literal placeholders, and
// record the element remap.
func (o *Orchestrator) populate(ctx context.Context, tx *sql.Tx, report *Report) error {
	done := o.observe("populate")
	defer done()

	rows, err := tx.QueryContext(ctx, `SELECT ECInstanceId, ECClassId FROM source.`+elementTable+` WHERE ECInstanceId NOT IN (?, ?, ?) ORDER BY ECInstanceId ASC`,
		uint64(xid.RootSubjectId), uint64(xid.DictionaryModelId), uint64(xid.RealityDataSourcesId))
	if err != nil {
		return fmt.Errorf("xform: select source elements: %w", ErrStatementFailure)
	}
	defer func() { _ = rows.Close() }()

	type elemRow struct {
		id      xid.Id
		classID xid.Id
	}
	var elems []elemRow
	for rows.Next() {
		var id, classID uint64
		if err := rows.Scan(&id, &classID); err != nil {
			return fmt.Errorf("xform: scan source element: %w", ErrStatementFailure)
		}
		elems = append(elems, elemRow{id: xid.Id(id), classID: xid.Id(classID)})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("xform: iterate source elements: %w", ErrStatementFailure)
	}

	for _, e := range elems {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if o.cfg.WasSourceIModelCopiedToTarget {
			if _, ok := o.rc.Element.Get(e.id); ok {
				continue // already present in target from the master/branch copy
			}
		}
		cls, ok := o.cache.ClassByID(e.classID)
		if !ok {
			return fmt.Errorf("xform: element %s: %w", e.id, ErrSchemaMissing)
		}

		targetID := e.id
		if !o.cfg.PreserveElementIdsForFiltering {
			targetID, err = o.elementSeq.Next(ctx)
			if err != nil {
				return err
			}
		}
		if err := o.populateOne(ctx, tx, *cls, e.id, e.classID, targetID); err != nil {
			return err
		}
		if err := o.rc.Element.Put(e.id, targetID); err != nil {
			return fmt.Errorf("xform: record element remap for %s: %w", e.id, err)
		}
		report.ElementsCloned++
		o.recordRow("populate")

		if err := o.populateModel(ctx, tx, e.id, targetID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) populateModel(ctx context.Context, tx *sql.Tx, srcID, targetID xid.Id) error {
	var classID uint64
	err := tx.QueryRowContext(ctx, `SELECT ECClassId FROM source.`+modelTable+` WHERE ECInstanceId = ?`, uint64(srcID)).Scan(&classID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("xform: lookup source model %s: %w", srcID, ErrStatementFailure)
	}
	cls, ok := o.cache.ClassByID(xid.Id(classID))
	if !ok {
		return fmt.Errorf("xform: model %s: %w", srcID, ErrSchemaMissing)
	}
	return o.populateOne(ctx, tx, *cls, srcID, xid.Id(classID), targetID)
}

func (o *Orchestrator) populateOne(ctx context.Context, tx *sql.Tx, cls schema.Class, srcID, srcClassID, targetID xid.Id) error {
	plan, err := o.planFor(cls)
	if err != nil {
		return err
	}
	row, err := o.fetchRow(ctx, tx, cls, plan, srcID, srcClassID)
	if err != nil {
		return err
	}
	bindings, err := o.cloner.Bind(ctx, o.rc, row, cls, targetID, clone.PhasePopulate)
	if err != nil {
		return fmt.Errorf("xform: bind populate row %s: %w", srcID, err)
	}
	if _, err := tx.ExecContext(ctx, plan.PopulateSQL, namedArgs(bindings)...); err != nil {
		return fmt.Errorf("xform: execute populate for %s (%s): %w", srcID, cls.FQName(), ErrStatementFailure)
	}
	return nil
}

// flushRemapTables copies every CompactRemapTable's runs into its temp SQL
// table, the handoff point between P1 and P2 every hydrate/insert statement
// depends on.
func (o *Orchestrator) flushRemapTables(ctx context.Context, tx *sql.Tx) error {
	tables := []struct {
		name string
		t    *remap.Table
	}{
		{"element_remap", o.rc.Element},
		{"aspect_remap", o.rc.Aspect},
		{"codespec_remap", o.rc.CodeSpec},
		{"font_remap", o.rc.Font},
	}
	for _, rt := range tables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM temp.`+rt.name); err != nil {
			return fmt.Errorf("xform: clear temp.%s: %w", rt.name, ErrStatementFailure)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO temp.`+rt.name+` (SourceId, TargetId) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("xform: prepare temp.%s insert: %w", rt.name, ErrStatementFailure)
		}
		for _, run := range rt.t.Runs() {
			for i := uint64(0); i < run.Length; i++ {
				src := uint64(run.From) + i
				tgt := uint64(run.To) + i
				if _, err := stmt.ExecContext(ctx, src, tgt); err != nil {
					_ = stmt.Close()
					return fmt.Errorf("xform: populate temp.%s: %w", rt.name, ErrStatementFailure)
				}
			}
		}
		_ = stmt.Close()
		if o.metrics != nil {
			o.metrics.RemapRuns.WithLabelValues(rt.name).Set(float64(rt.t.Len()))
		}
	}
	return nil
}

// hydrate runs spec.md §4.6 step 5 (P2): re-stream the same element/model
// rows and rewrite every reference column through the now-populated temp
// remap tables.
func (o *Orchestrator) hydrate(ctx context.Context, tx *sql.Tx, report *Report) error {
	done := o.observe("hydrate")
	defer done()

	rows, err := tx.QueryContext(ctx, `SELECT ECInstanceId, ECClassId FROM source.`+elementTable+` WHERE ECInstanceId NOT IN (?, ?, ?) ORDER BY ECInstanceId ASC`,
		uint64(xid.RootSubjectId), uint64(xid.DictionaryModelId), uint64(xid.RealityDataSourcesId))
	if err != nil {
		return fmt.Errorf("xform: select source elements for hydrate: %w", ErrStatementFailure)
	}
	defer func() { _ = rows.Close() }()

	type elemRow struct{ id, classID xid.Id }
	var elems []elemRow
	for rows.Next() {
		var id, classID uint64
		if err := rows.Scan(&id, &classID); err != nil {
			return fmt.Errorf("xform: scan source element for hydrate: %w", ErrStatementFailure)
		}
		elems = append(elems, elemRow{id: xid.Id(id), classID: xid.Id(classID)})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("xform: iterate source elements for hydrate: %w", ErrStatementFailure)
	}

	for _, e := range elems {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		cls, ok := o.cache.ClassByID(e.classID)
		if !ok {
			return fmt.Errorf("xform: hydrate element %s: %w", e.id, ErrSchemaMissing)
		}
		if err := o.hydrateOne(ctx, tx, *cls, e.id, report); err != nil {
			return err
		}

		var modelClassID uint64
		err := tx.QueryRowContext(ctx, `SELECT ECClassId FROM source.`+modelTable+` WHERE ECInstanceId = ?`, uint64(e.id)).Scan(&modelClassID)
		if err == nil {
			modelCls, ok := o.cache.ClassByID(xid.Id(modelClassID))
			if !ok {
				return fmt.Errorf("xform: hydrate model %s: %w", e.id, ErrSchemaMissing)
			}
			if err := o.hydrateOne(ctx, tx, *modelCls, e.id, report); err != nil {
				return err
			}
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("xform: lookup source model %s for hydrate: %w", e.id, ErrStatementFailure)
		}
	}
	return nil
}

func (o *Orchestrator) hydrateOne(ctx context.Context, tx *sql.Tx, cls schema.Class, srcID xid.Id, report *Report) error {
	plan, err := o.planFor(cls)
	if err != nil {
		return err
	}
	if plan.HydrateSQL == "" {
		return nil
	}
	proj, err := o.projectionFor(cls)
	if err != nil {
		return err
	}

	prow, err := o.scanProjection(ctx, tx, proj, srcID)
	if err != nil {
		return err
	}
	jsonStr, err := projectRowJSON(cls, prow)
	if err != nil {
		return err
	}

	codeArgs, targetJSON, err := o.resolveCode(srcID, prow, report)
	if err != nil {
		return err
	}
	if err := o.cloner.InvokeOnCloned(ctx, o.rc, cls.FQName(), jsonStr, targetJSON); err != nil {
		return err
	}

	args := []any{sql.Named("json", jsonStr), sql.Named("p_ECInstanceId", uint64(srcID))}
	args = append(args, codeArgs...)
	for _, p := range cls.Properties {
		if p.Kind != schema.PropGeometryStream {
			continue // only geometry streams get rewritten through RemapGeom during hydrate
		}
		raw, err := o.scanBinary(ctx, tx, cls, plan, srcID, p.Column)
		if err != nil {
			return err
		}
		if o.archiver != nil {
			raw, err = o.archiver.Archive(ctx, srcID, raw)
			if err != nil {
				return err
			}
		}
		args = append(args, sql.Named("b_"+bindParam(p.Column), raw))
	}

	res, err := tx.ExecContext(ctx, plan.HydrateSQL, args...)
	if err != nil {
		return fmt.Errorf("xform: execute hydrate for %s (%s): %w", srcID, cls.FQName(), ErrStatementFailure)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if o.cfg.DanglingReferencesBehavior == DanglingReject {
			return fmt.Errorf("xform: hydrate %s (%s) matched no target row: %w", srcID, cls.FQName(), ErrDanglingReference)
		}
		o.cfg.Logger.Warn("xform: hydrate matched no target row", "source_id", srcID, "class", cls.FQName())
		report.DanglingReferences++
		if o.metrics != nil {
			o.metrics.DanglingReferences.Inc()
		}
	}
	return nil
}

// resolveCode computes an element's final CodeSpecId/CodeScopeId/CodeValue/
// FederationGuid bindings, applying every post-clone adjustment spec.md
// §3/§4.5 requires: the Repository scope-type override (or a warning when it
// can't be honored across databases), code canonicalization, and
// federationGuid restoration. It returns the four named bind parameters for
// hydrateOne's UPDATE, plus a JSON rendering of the resolved values for the
// onCloned hook's targetJSON argument.
func (o *Orchestrator) resolveCode(srcID xid.Id, prow map[string]any, report *Report) ([]any, string, error) {
	srcSpec := idFromRaw(prow["CodeSpecId"])
	srcScope := idFromRaw(prow["CodeScopeId"])
	codeValue, _ := prow["CodeValue"].(string)
	fedGuid, _ := prow["FederationGuid"].(string)

	var targetSpec, targetScope xid.Id
	if srcSpec.Valid() {
		if resolved, ok := o.rc.FindTargetCodeSpecId(srcSpec); ok {
			targetSpec = resolved
		}
	}
	if targetSpec.Valid() {
		repositoryScoped := o.repositoryScopedSpecs[srcSpec]
		resolvedScope, flagged := o.cloner.ResolveCodeScope(o.rc, repositoryScoped, srcScope)
		targetScope = resolvedScope
		if flagged {
			report.Warnings = append(report.Warnings, fmt.Sprintf("element %s: repository-scoped code preserved its source scope %s across an inter-database transform", srcID, srcScope))
		}
	}

	code := clone.CanonicalizeCode(xid.Code{Spec: targetSpec, Scope: targetScope, Value: codeValue})
	resolvedGuid, _ := o.cloner.RestoreFederationGuid(fedGuid)

	args := []any{
		sql.Named("p_code_spec", uint64(code.Spec)),
		sql.Named("p_code_scope", uint64(code.Scope)),
		sql.Named("p_code_value", code.Value),
		sql.Named("p_federation_guid", resolvedGuid),
	}
	targetJSONBytes, err := json.Marshal(map[string]any{
		"codeSpecId":     code.Spec.String(),
		"codeScopeId":    code.Scope.String(),
		"codeValue":      code.Value,
		"federationGuid": resolvedGuid,
	})
	if err != nil {
		return nil, "", fmt.Errorf("xform: marshal resolved code json: %w", err)
	}
	return args, string(targetJSONBytes), nil
}

// idFromRaw converts a raw scanned column value (int64/float64/nil, per
// scanColumns) into an xid.Id, the same conversion hexOrNil applies before
// JSON-encoding an id column.
func idFromRaw(v any) xid.Id {
	switch t := v.(type) {
	case int64:
		return xid.Id(uint64(t))
	case float64:
		return xid.Id(uint64(t))
	default:
		return xid.InvalidId
	}
}

// cloneAspectsAndRelationships runs spec.md §4.6 steps 6-7: every aspect and
// relationship class gets a single INSERT per row, fully bound (no
// placeholder pass needed, since their own row never needs to exist before
// their endpoints are resolved).
func (o *Orchestrator) cloneAspectsAndRelationships(ctx context.Context, tx *sql.Tx, report *Report) error {
	done := o.observe("insert")
	defer done()

	for _, cls := range o.cache.Classes() {
		if !cls.IsAspect && !cls.IsRelation {
			continue
		}
		if cls.IsRelation && strings.Contains(cls.Name.Name, "DrivesElement") && !o.cfg.ProcessElementDrivesElement {
			continue
		}
		if cls.IsAspect && strings.Contains(cls.Name.Name, "ExternalSource") && !o.cfg.IncludeSourceProvenance {
			continue
		}
		if err := o.cloneInstancesOf(ctx, tx, *cls, report); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) cloneInstancesOf(ctx context.Context, tx *sql.Tx, cls schema.Class, report *Report) error {
	plan, err := o.planFor(cls)
	if err != nil {
		return err
	}
	proj, err := o.projectionFor(cls)
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx, `SELECT ECInstanceId FROM source.`+cls.Table+` ORDER BY ECInstanceId ASC`)
	if err != nil {
		return fmt.Errorf("xform: select %s rows: %w", cls.FQName(), ErrStatementFailure)
	}
	var ids []xid.Id
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return fmt.Errorf("xform: scan %s row: %w", cls.FQName(), ErrStatementFailure)
		}
		ids = append(ids, xid.Id(id))
	}
	rowsErr := rows.Err()
	_ = rows.Close()
	if rowsErr != nil {
		return fmt.Errorf("xform: iterate %s rows: %w", cls.FQName(), ErrStatementFailure)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		prow, err := o.scanProjection(ctx, tx, proj, id)
		if err != nil {
			return err
		}
		jsonStr, err := projectRowJSON(cls, prow)
		if err != nil {
			return err
		}
		binaries, err := o.scanBinaries(ctx, tx, cls, plan, id)
		if err != nil {
			return err
		}

		targetID, err := o.instanceSeq.Next(ctx)
		if err != nil {
			return err
		}

		bindings, err := o.cloner.Bind(ctx, o.rc, clone.SourceRow{SourceID: id, SourceClassID: cls.ClassID, JSON: jsonStr, Binaries: binaries}, cls, targetID, clone.PhaseInsert)
		if err != nil {
			return fmt.Errorf("xform: bind %s row %s: %w", cls.FQName(), id, err)
		}
		if _, err := tx.ExecContext(ctx, plan.InsertSQL, namedArgs(bindings)...); err != nil {
			return fmt.Errorf("xform: execute insert for %s %s: %w", cls.FQName(), id, ErrStatementFailure)
		}

		if cls.IsAspect {
			if err := o.rc.Aspect.Put(id, targetID); err != nil {
				return fmt.Errorf("xform: record aspect remap for %s: %w", id, err)
			}
			report.AspectsCloned++
		} else {
			report.RelationshipsCloned++
		}
		o.recordRow("insert")
	}
	return nil
}

func (o *Orchestrator) planFor(cls schema.Class) (*classplan.Plan, error) {
	if plan, ok := o.plans[cls.FQName()]; ok {
		return plan, nil
	}
	plan, err := o.builder.Build(cls)
	if err != nil {
		return nil, fmt.Errorf("xform: build class plan for %s: %w", cls.FQName(), err)
	}
	for _, w := range plan.Warnings {
		o.cfg.Logger.Warn(w)
	}
	o.plans[cls.FQName()] = plan
	return plan, nil
}

func (o *Orchestrator) projectionFor(cls schema.Class) (projectionPlan, error) {
	if p, ok := o.projection[cls.FQName()]; ok {
		return p, nil
	}
	sqlText, cols := buildProjectionSQL(cls, "source."+cls.Table)
	p := projectionPlan{sql: sqlText, cols: cols}
	o.projection[cls.FQName()] = p
	return p, nil
}

func (o *Orchestrator) scanProjection(ctx context.Context, tx *sql.Tx, proj projectionPlan, id xid.Id) (map[string]any, error) {
	rows, err := tx.QueryContext(ctx, proj.sql, uint64(id))
	if err != nil {
		return nil, fmt.Errorf("xform: project row %s: %w", id, ErrStatementFailure)
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, fmt.Errorf("xform: project row %s: no such source row: %w", id, ErrStatementFailure)
	}
	out, err := scanColumns(rows, proj.cols)
	if err != nil {
		return nil, err
	}
	return out, rows.Err()
}

func (o *Orchestrator) fetchRow(ctx context.Context, tx *sql.Tx, cls schema.Class, plan *classplan.Plan, srcID, srcClassID xid.Id) (clone.SourceRow, error) {
	proj, err := o.projectionFor(cls)
	if err != nil {
		return clone.SourceRow{}, err
	}
	prow, err := o.scanProjection(ctx, tx, proj, srcID)
	if err != nil {
		return clone.SourceRow{}, err
	}
	jsonStr, err := projectRowJSON(cls, prow)
	if err != nil {
		return clone.SourceRow{}, err
	}
	binaries, err := o.scanBinaries(ctx, tx, cls, plan, srcID)
	if err != nil {
		return clone.SourceRow{}, err
	}
	return clone.SourceRow{SourceID: srcID, SourceClassID: srcClassID, JSON: jsonStr, Binaries: binaries}, nil
}

func (o *Orchestrator) scanBinaries(ctx context.Context, tx *sql.Tx, cls schema.Class, plan *classplan.Plan, id xid.Id) (map[string][]byte, error) {
	if plan.SelectBinariesSQL == "" {
		return nil, nil
	}
	dest := make([]any, len(plan.BinaryColumns))
	ptrs := make([]any, len(plan.BinaryColumns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := tx.QueryRowContext(ctx, plan.SelectBinariesSQL, uint64(id)).Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("xform: select binaries for %s (%s): %w", id, cls.FQName(), ErrStatementFailure)
	}
	out := make(map[string][]byte, len(plan.BinaryColumns))
	for i, col := range plan.BinaryColumns {
		b, _ := dest[i].([]byte)
		out[col] = b
	}
	return out, nil
}

func (o *Orchestrator) scanBinary(ctx context.Context, tx *sql.Tx, cls schema.Class, plan *classplan.Plan, id xid.Id, col string) ([]byte, error) {
	binaries, err := o.scanBinaries(ctx, tx, cls, plan, id)
	if err != nil {
		return nil, err
	}
	return binaries[col], nil
}

func (o *Orchestrator) observe(pass string) func() {
	if o.metrics == nil {
		return func() {}
	}
	return o.metrics.ObservePass(pass)
}

func (o *Orchestrator) recordRow(pass string) {
	if o.metrics == nil {
		return
	}
	o.metrics.RowsCloned.WithLabelValues(pass).Inc()
}

func namedArgs(bindings []clone.Binding) []any {
	out := make([]any, len(bindings))
	for i, b := range bindings {
		out[i] = sql.Named(b.Name, b.Value)
	}
	return out
}

func bindParam(col string) string { return strings.ReplaceAll(col, ".", "_") }
