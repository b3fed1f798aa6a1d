// Package clone implements the Cloner of the design (C5): given a source
// row's materialized data plus the class metadata that describes it, it
// produces the bound parameter values a ClassPlan statement needs, applying
// the four-rule dispatch over special handlers, navigation properties,
// Id-typed longs, and plain copy-as-is columns.
package clone

import (
	"context"
	"encoding/json"
	"fmt"

	"idxform/internal/remap"
	"idxform/internal/schema"
	"idxform/internal/xfmerr"
	"idxform/pkg/xid"
)

// SourceRow is the materialized data the Orchestrator hands to the Cloner
// for one source instance: its JSON projection (for scalar properties and
// special-handler input), any binary columns fetched separately via the
// class's selectBinaries statement, and the source row's own ECClassId,
// which the insert phase binds as the class-id translation parameter.
type SourceRow struct {
	SourceID      xid.Id
	SourceClassID xid.Id
	JSON          string
	Binaries      map[string][]byte
}

// SpecialHandler resolves one property's cloned value directly from the
// source row, bypassing the generic navigation/id-long/copy-as-is dispatch.
// Handlers exist for properties whose clone behavior is not a mechanical
// function of their declared PropertyKind — code.spec/code.scope,
// modelSelector, displayStyle, categorySelector, baseModel in the schema
// this module targets.
type SpecialHandler func(ctx context.Context, rc *remap.Context, row SourceRow) (any, error)

// OnClonedHook runs before an element's hydrate UPDATE is bound, keyed by
// fully qualified class name. It receives the source and target JSON
// renderings as strings: it can inspect them or fail the row by returning
// an error, but it cannot change the values that get bound.
type OnClonedHook func(ctx context.Context, rc *remap.Context, sourceJSON, targetJSON string) error

// Binding is one bound parameter: Name matches the classplan convention
// ("p_...", "b_...", "n_...") minus its leading colon.
type Binding struct {
	Name  string
	Value any
}

// Phase selects which ClassPlan statement the caller is binding for; the
// populate phase binds only scalars/binaries/points (references are
// literal placeholders in the SQL text), while the insert phase binds
// every column, including resolved references.
type Phase int

const (
	PhasePopulate Phase = iota
	PhaseInsert
)

// Cloner dispatches the four property-lowering rules of spec.md §4.5 and
// applies the post-clone adjustments for elements.
type Cloner struct {
	handlers map[string]SpecialHandler
	onCloned map[string]OnClonedHook
	sameDB   bool // WasSourceIModelCopiedToTarget / intra-database transform
}

// New constructs a Cloner. sameDB controls whether federationGuid is
// restored verbatim from the source (only meaningful when source and
// target are the same logical database, per spec.md §4.5).
func New(sameDB bool) *Cloner {
	return &Cloner{
		handlers: make(map[string]SpecialHandler),
		onCloned: make(map[string]OnClonedHook),
		sameDB:   sameDB,
	}
}

// RegisterSpecialHandler installs a handler for a named property, keyed by
// its JSON-path-style name (e.g. "code.spec", "modelSelector").
func (c *Cloner) RegisterSpecialHandler(property string, handler SpecialHandler) {
	if handler == nil {
		return
	}
	c.handlers[property] = handler
}

// RegisterOnCloned installs a per-class hook invoked before an element's
// hydrate UPDATE is bound; see OnClonedHook for what the hook can do.
func (c *Cloner) RegisterOnCloned(classFQName string, hook OnClonedHook) {
	if hook == nil {
		return
	}
	c.onCloned[classFQName] = hook
}

// OnClonedFor looks up the registered hook for a class, if any.
func (c *Cloner) OnClonedFor(classFQName string) (OnClonedHook, bool) {
	hook, ok := c.onCloned[classFQName]
	return hook, ok
}

// Bind produces the bound parameter list for class's populate or insert
// statement against the given source row, resolving every reference
// through rc and falling back to copy-as-is for plain scalars.
func (c *Cloner) Bind(ctx context.Context, rc *remap.Context, row SourceRow, class schema.Class, targetID xid.Id, phase Phase) ([]Binding, error) {
	var raw map[string]any
	if row.JSON != "" {
		if err := json.Unmarshal([]byte(row.JSON), &raw); err != nil {
			return nil, fmt.Errorf("clone: %s: decode source json: %w", class.FQName(), err)
		}
	}

	bindings := []Binding{{Name: "p_ECInstanceId", Value: uint64(targetID)}}
	if phase == PhaseInsert {
		bindings = append(bindings, Binding{Name: "p_SourceECClassId", Value: uint64(row.SourceClassID)})
	}

	for _, p := range class.Properties {
		if handler, ok := c.handlers[p.Name]; ok {
			val, err := handler(ctx, rc, row)
			if err != nil {
				return nil, fmt.Errorf("clone: %s.%s: special handler: %w", class.FQName(), p.Name, err)
			}
			bindings = append(bindings, Binding{Name: "p_" + bindParamName(p.Column), Value: val})
			continue
		}

		switch p.Kind {
		case schema.PropNavigation:
			if phase != PhaseInsert {
				continue // populate leaves references as literal placeholders
			}
			b, err := c.bindNavigation(ctx, rc, raw, class, p)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, b...)
		case schema.PropIdLong:
			if phase != PhaseInsert {
				continue
			}
			b, err := c.bindIdLong(ctx, rc, raw, class, p)
			if err != nil {
				return nil, err
			}
			bindings = append(bindings, b)
		case schema.PropBinary, schema.PropGeometryStream:
			bindings = append(bindings, Binding{Name: "b_" + bindParamName(p.Column), Value: row.Binaries[p.Column]})
		case schema.PropPoint2d, schema.PropPoint3d:
			bindings = append(bindings, bindPoint(raw, p)...)
		case schema.PropPrimitive:
			bindings = append(bindings, Binding{Name: "p_" + bindParamName(p.Column), Value: raw[p.Name]})
		case schema.PropUnsupported:
			// already warned at plan-build time; nothing to bind.
		}
	}

	return bindings, nil
}

func (c *Cloner) bindNavigation(ctx context.Context, rc *remap.Context, raw map[string]any, class schema.Class, p schema.Property) ([]Binding, error) {
	ref, ok := extractRef(raw, p.Name)
	if !ok {
		return []Binding{
			{Name: "p_" + bindParamName(p.Column+"_id"), Value: uint64(xid.InvalidId)},
			{Name: "p_" + bindParamName(p.Column+"_relclass"), Value: uint64(0)},
		}, nil
	}
	if p.NavKind == 0 {
		return nil, fmt.Errorf("clone: %s.%s: %w", class.FQName(), p.Name, xfmerr.ErrSchemaMissing)
	}
	target, err := rc.FindTargetEntityId(ctx, xid.EntityRef{Kind: p.NavKind, ID: ref.id})
	if err != nil {
		return nil, fmt.Errorf("clone: %s.%s: %w", class.FQName(), p.Name, err)
	}
	// ref.relClassID is the source database's raw ec_Class id; translate it
	// through the class catalog the same way buildInsert's own ECClassId
	// column does, or the CASE-over-class-id root-kind dispatch downstream
	// would be interpreting the wrong database's ids.
	relClassID, err := rc.FindTargetClassId(ctx, xid.Id(ref.relClassID))
	if err != nil {
		return nil, fmt.Errorf("clone: %s.%s: %w", class.FQName(), p.Name, err)
	}
	return []Binding{
		{Name: "p_" + bindParamName(p.Column+"_id"), Value: uint64(target.ID)},
		{Name: "p_" + bindParamName(p.Column+"_relclass"), Value: uint64(relClassID)},
	}, nil
}

func (c *Cloner) bindIdLong(ctx context.Context, rc *remap.Context, raw map[string]any, class schema.Class, p schema.Property) (Binding, error) {
	v, ok := raw[p.Name]
	if !ok || v == nil {
		return Binding{Name: "p_" + bindParamName(p.Column), Value: uint64(xid.InvalidId)}, nil
	}
	s, _ := v.(string)
	src, err := xid.ParseHex(s)
	if err != nil {
		return Binding{}, fmt.Errorf("clone: %s.%s: %w", class.FQName(), p.Name, err)
	}
	target, ok := rc.FindTargetElementId(src)
	if !ok {
		target = xid.InvalidId
	}
	return Binding{Name: "p_" + bindParamName(p.Column), Value: uint64(target)}, nil
}

func bindPoint(raw map[string]any, p schema.Property) []Binding {
	obj, _ := raw[p.Name].(map[string]any)
	var out []Binding
	for _, axis := range []string{"x", "y", "z"} {
		if p.Kind == schema.PropPoint2d && axis == "z" {
			continue
		}
		col := p.Column + "." + axis
		var val any
		if obj != nil {
			val = obj[axis]
		}
		out = append(out, Binding{Name: "n_" + bindParamName(col), Value: val})
	}
	return out
}

// resolvedRef is a navigation reference extracted from the source JSON,
// carrying the rel-class id supplied on the wire (in object form) so the
// insert statement's class-id translation has something to bind.
type resolvedRef struct {
	id         xid.Id
	relClassID uint64
}

func extractRef(raw map[string]any, name string) (resolvedRef, bool) {
	v, ok := raw[name]
	if !ok || v == nil {
		return resolvedRef{}, false
	}
	switch t := v.(type) {
	case string:
		id, err := xid.ParseHex(t)
		if err != nil || !id.Valid() {
			return resolvedRef{}, false
		}
		return resolvedRef{id: id}, true
	case map[string]any:
		idStr, _ := t["id"].(string)
		id, err := xid.ParseHex(idStr)
		if err != nil || !id.Valid() {
			return resolvedRef{}, false
		}
		var relClassID uint64
		if rc, ok := t["relClassId"].(string); ok {
			if parsed, err := xid.ParseHex(rc); err == nil {
				relClassID = uint64(parsed)
			}
		}
		return resolvedRef{id: id, relClassID: relClassID}, true
	default:
		return resolvedRef{}, false
	}
}

func bindParamName(col string) string {
	out := make([]byte, 0, len(col))
	for i := 0; i < len(col); i++ {
		if col[i] == '.' {
			out = append(out, '_')
			continue
		}
		out = append(out, col[i])
	}
	return string(out)
}
