package remap

import (
	"context"
	"database/sql"
	"fmt"

	"idxform/internal/schema"
	"idxform/internal/xfmerr"
	"idxform/pkg/xid"
)

// ClassRule renames a source class to a target class during clone, used
// when a schema has been renamed or merged between source and target.
type ClassRule struct {
	Source xid.ClassName
	Target xid.ClassName
}

// CodeSpecRule records a pre-resolved codespec mapping, populated during
// codespec import (orchestrator step 3) before any element is cloned.
type CodeSpecRule struct {
	SourceID xid.Id
	TargetID xid.Id
}

// Context is the RemapContext of the design: it owns one CompactRemapTable
// per entity kind plus the class/codespec rename rules, and resolves
// EntityRef values — including the polymorphic findTargetEntityId dispatch
// over relationship endpoints — against them.
type Context struct {
	Element  *Table
	Aspect   *Table
	CodeSpec *Table
	Font     *Table

	ClassRules    map[string]ClassRule
	CodeSpecRules map[string]CodeSpecRule

	// Cache supplies RootKind resolution for relationship endpoints
	// (spec.md §4.4's CASE-over-class-id dispatch).
	Cache *schema.Cache

	// SourceDB provides access to the source's relationship link tables
	// when a navigation property's target kind is itself a relationship.
	SourceDB *sql.DB
	// TargetDB is queried to find an already-inserted target relationship
	// row by its remapped endpoint pair.
	TargetDB *sql.DB
	// LinkTables lists the relationship link tables to search, tried in
	// order; defaults to {"bis_ElementRefersToElements"}.
	LinkTables []string

	// classIDCache memoizes FindTargetClassId, since the same handful of
	// navigation rel-classes recur across every row of a class.
	classIDCache map[xid.Id]xid.Id
}

// NewContext constructs a RemapContext with the base identity remaps
// installed: invalid→invalid and every well-known root id maps to itself,
// exactly as spec.md §3's invariants require.
func NewContext(cache *schema.Cache) *Context {
	c := &Context{
		Element:       NewTable(),
		Aspect:        NewTable(),
		CodeSpec:      NewTable(),
		Font:          NewTable(),
		ClassRules:    make(map[string]ClassRule),
		CodeSpecRules: make(map[string]CodeSpecRule),
		Cache:         cache,
		LinkTables:    []string{"bis_ElementRefersToElements"},
	}
	for _, id := range xid.WellKnownIds() {
		_ = c.Element.Put(id, id)
	}
	return c
}

// FindTargetElementId resolves a source element id through the element
// remap table. Models share this table because they share their modeled
// element's primary key.
func (c *Context) FindTargetElementId(src xid.Id) (xid.Id, bool) {
	if !src.Valid() {
		return xid.InvalidId, true
	}
	return c.Element.Get(src)
}

// FindTargetAspectId resolves a source aspect id through the aspect remap
// table.
func (c *Context) FindTargetAspectId(src xid.Id) (xid.Id, bool) {
	if !src.Valid() {
		return xid.InvalidId, true
	}
	return c.Aspect.Get(src)
}

// FindTargetCodeSpecId resolves a source codespec id through the codespec
// remap table.
func (c *Context) FindTargetCodeSpecId(src xid.Id) (xid.Id, bool) {
	if !src.Valid() {
		return xid.InvalidId, true
	}
	return c.CodeSpec.Get(src)
}

// FindTargetFontId resolves a source font id through the externally
// populated font remap table (spec.md §9 Open Question ii).
func (c *Context) FindTargetFontId(src xid.Id) (xid.Id, bool) {
	if !src.Valid() {
		return xid.InvalidId, true
	}
	return c.Font.Get(src)
}

// SeedFontRemap installs a single font id mapping. The orchestrator never
// calls this itself; it exists for callers that run their own font-import
// step ahead of the transform.
func (c *Context) SeedFontRemap(src, tgt xid.Id) error {
	return c.Font.Put(src, tgt)
}

// FindTargetEntityId is the polymorphic dispatch of spec.md §4.4: it
// resolves any EntityRef — of whatever kind — to its target-database
// counterpart, recursing through relationship endpoints when needed.
func (c *Context) FindTargetEntityId(ctx context.Context, ref xid.EntityRef) (xid.EntityRef, error) {
	return c.resolve(ctx, ref, make(map[xid.EntityRef]bool))
}

func (c *Context) resolve(ctx context.Context, ref xid.EntityRef, seen map[xid.EntityRef]bool) (xid.EntityRef, error) {
	if ref.Invalid() {
		return xid.EntityRef{Kind: ref.Kind, ID: xid.InvalidId}, nil
	}
	if seen[ref] {
		return xid.EntityRef{}, fmt.Errorf("%w: %s", xfmerr.ErrEndpointSelfReference, ref)
	}
	seen[ref] = true

	switch ref.Kind {
	case xid.KindElement:
		tgt, ok := c.FindTargetElementId(ref.ID)
		if !ok {
			return xid.EntityRef{Kind: xid.KindElement, ID: xid.InvalidId}, nil
		}
		return xid.EntityRef{Kind: xid.KindElement, ID: tgt}, nil
	case xid.KindModel:
		tgt, ok := c.FindTargetElementId(ref.ID)
		if !ok {
			return xid.EntityRef{Kind: xid.KindModel, ID: xid.InvalidId}, nil
		}
		return xid.EntityRef{Kind: xid.KindModel, ID: tgt}, nil
	case xid.KindAspect:
		tgt, ok := c.FindTargetAspectId(ref.ID)
		if !ok {
			return xid.EntityRef{Kind: xid.KindAspect, ID: xid.InvalidId}, nil
		}
		return xid.EntityRef{Kind: xid.KindAspect, ID: tgt}, nil
	case xid.KindCodeSpec:
		tgt, ok := c.FindTargetCodeSpecId(ref.ID)
		if !ok {
			return xid.EntityRef{Kind: xid.KindCodeSpec, ID: xid.InvalidId}, nil
		}
		return xid.EntityRef{Kind: xid.KindCodeSpec, ID: tgt}, nil
	case xid.KindRelationship:
		return c.resolveRelationship(ctx, ref, seen)
	default:
		return xid.EntityRef{}, fmt.Errorf("%w: unrecognized entity kind %q", xfmerr.ErrUnknownRootClass, ref.Kind)
	}
}

// resolveRelationship implements spec.md §4.4(iii): read the relationship's
// raw endpoints from the source link table, recursively remap each
// endpoint, then look up the existing target relationship row by the
// remapped pair.
func (c *Context) resolveRelationship(ctx context.Context, ref xid.EntityRef, seen map[xid.EntityRef]bool) (xid.EntityRef, error) {
	if c.SourceDB == nil || c.TargetDB == nil {
		return xid.EntityRef{}, fmt.Errorf("xform: relationship endpoint resolution requires source and target databases")
	}

	srcEndpoint, tgtEndpoint, err := c.readSourceEndpoints(ctx, ref.ID)
	if err != nil {
		return xid.EntityRef{}, err
	}

	// Each endpoint gets its own copy of the ancestor chain: seen marks a
	// cycle only along one recursion path, not across sibling branches, so
	// a relationship whose two endpoints are the same entity (a self-cycle)
	// resolves both endpoints successfully instead of the second branch
	// tripping over the first's visit.
	remappedSrc, err := c.resolve(ctx, srcEndpoint, cloneSeen(seen))
	if err != nil {
		return xid.EntityRef{}, err
	}
	remappedTgt, err := c.resolve(ctx, tgtEndpoint, cloneSeen(seen))
	if err != nil {
		return xid.EntityRef{}, err
	}
	if remappedSrc.Invalid() || remappedTgt.Invalid() {
		return xid.EntityRef{Kind: xid.KindRelationship, ID: xid.InvalidId}, nil
	}

	relID, err := c.findExistingRelationship(ctx, remappedSrc.ID, remappedTgt.ID)
	if err != nil {
		return xid.EntityRef{}, err
	}
	return xid.EntityRef{Kind: xid.KindRelationship, ID: relID}, nil
}

func cloneSeen(seen map[xid.EntityRef]bool) map[xid.EntityRef]bool {
	out := make(map[xid.EntityRef]bool, len(seen))
	for k, v := range seen {
		out[k] = v
	}
	return out
}

func (c *Context) readSourceEndpoints(ctx context.Context, relID xid.Id) (xid.EntityRef, xid.EntityRef, error) {
	var lastErr error
	for _, table := range c.LinkTables {
		var srcID, srcClassID, tgtID, tgtClassID uint64
		q := fmt.Sprintf(`SELECT SourceECInstanceId, SourceECClassId, TargetECInstanceId, TargetECClassId FROM %s WHERE ECInstanceId = ?`, table)
		err := c.SourceDB.QueryRowContext(ctx, q, uint64(relID)).Scan(&srcID, &srcClassID, &tgtID, &tgtClassID)
		if err != nil {
			lastErr = err
			continue
		}
		srcKind, ok := c.Cache.RootKind(xid.Id(srcClassID))
		if !ok {
			return xid.EntityRef{}, xid.EntityRef{}, fmt.Errorf("%w: relationship %s source endpoint class %v", xfmerr.ErrUnknownRootClass, relID, srcClassID)
		}
		tgtKind, ok := c.Cache.RootKind(xid.Id(tgtClassID))
		if !ok {
			return xid.EntityRef{}, xid.EntityRef{}, fmt.Errorf("%w: relationship %s target endpoint class %v", xfmerr.ErrUnknownRootClass, relID, tgtClassID)
		}
		return xid.EntityRef{Kind: srcKind, ID: xid.Id(srcID)}, xid.EntityRef{Kind: tgtKind, ID: xid.Id(tgtID)}, nil
	}
	return xid.EntityRef{}, xid.EntityRef{}, fmt.Errorf("xform: relationship %s not found in any link table: %w", relID, lastErr)
}

func (c *Context) findExistingRelationship(ctx context.Context, srcID, tgtID xid.Id) (xid.Id, error) {
	for _, table := range c.LinkTables {
		var relID uint64
		q := fmt.Sprintf(`SELECT ECInstanceId FROM %s WHERE SourceECInstanceId = ? AND TargetECInstanceId = ?`, table)
		err := c.TargetDB.QueryRowContext(ctx, q, uint64(srcID), uint64(tgtID)).Scan(&relID)
		if err == nil {
			return xid.Id(relID), nil
		}
		if err != sql.ErrNoRows {
			return xid.InvalidId, fmt.Errorf("%w: lookup relationship by endpoints: %v", xfmerr.ErrStatementFailure, err)
		}
	}
	return xid.InvalidId, nil
}

// ResolveClass applies any registered class rename rule, falling back to
// identity when the source class has no rule.
func (c *Context) ResolveClass(src xid.ClassName) xid.ClassName {
	if rule, ok := c.ClassRules[src.FQName()]; ok {
		return rule.Target
	}
	return src
}

// FindTargetClassId translates a source database's ECClassId to its
// target-database counterpart by matching (schema name, class name) —
// applying any registered rename rule along the way — the same join
// buildInsert's own ECClassId column performs in SQL. Used by the Cloner
// to translate a navigation property's RelECClassId, which (unlike a row's
// own ECClassId) is bound in Go rather than via a SQL subquery.
func (c *Context) FindTargetClassId(ctx context.Context, srcClassID xid.Id) (xid.Id, error) {
	if !srcClassID.Valid() {
		return xid.InvalidId, nil
	}
	if c.Cache == nil || c.TargetDB == nil {
		// A Context built without full schema/database wiring (e.g. a unit
		// test exercising the Cloner in isolation) can't perform the
		// translation; every real transform sets both before any Bind call.
		return srcClassID, nil
	}
	if cached, ok := c.classIDCache[srcClassID]; ok {
		return cached, nil
	}

	src, ok := c.Cache.ClassByID(srcClassID)
	if !ok {
		return xid.InvalidId, fmt.Errorf("%w: class id %v", xfmerr.ErrSchemaMissing, srcClassID)
	}
	name := c.ResolveClass(src.Name)

	var tgtID uint64
	err := c.TargetDB.QueryRowContext(ctx,
		`SELECT tc.Id FROM ec_Class tc JOIN ec_Schema ts ON ts.Id = tc.SchemaId WHERE tc.Name = ? AND ts.Name = ?`,
		name.Name, name.Schema,
	).Scan(&tgtID)
	switch {
	case err == nil:
		if c.classIDCache == nil {
			c.classIDCache = make(map[xid.Id]xid.Id)
		}
		c.classIDCache[srcClassID] = xid.Id(tgtID)
		return xid.Id(tgtID), nil
	case err == sql.ErrNoRows:
		return xid.InvalidId, nil
	default:
		return xid.InvalidId, fmt.Errorf("%w: resolve target class id for %s: %v", xfmerr.ErrStatementFailure, name.FQName(), err)
	}
}
