package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"idxform/pkg/xid"
)

// Key addresses one property inside the three-level (schema, class,
// property) namespace the design calls for.
type Key struct {
	Schema   string
	Class    string
	Property string
}

// Cache is the RefTypeCache of the design: a memoized answer to "what
// entity kind does this navigation property point to", plus the full
// class metadata table-driven descriptors the rest of the transform reuse
// so schema catalog tables are scanned exactly once per run.
type Cache struct {
	navKind   map[Key]xid.Kind
	classes   map[string]*Class
	classesByID map[xid.Id]*Class
	order     []string // class FQNames sorted by name after discovery, for deterministic iteration
}

// ClassByID resolves a class by its source-database ECClassId, used by the
// relationship-endpoint CASE lookup in RemapContext.
func (c *Cache) ClassByID(id xid.Id) (*Class, bool) {
	cls, ok := c.classesByID[id]
	return cls, ok
}

// RootKind reports the entity kind for a class id, or false if the class
// id does not resolve to any known root kind — the UnknownRootClass
// condition of spec.md ยง7.
func (c *Cache) RootKind(id xid.Id) (xid.Kind, bool) {
	cls, ok := c.classesByID[id]
	if !ok {
		return 0, false
	}
	switch {
	case cls.IsElement:
		return xid.KindElement, true
	case cls.IsModel:
		return xid.KindModel, true
	case cls.IsAspect:
		return xid.KindAspect, true
	case cls.IsRelation:
		return xid.KindRelationship, true
	case cls.IsCodeSpec:
		return xid.KindCodeSpec, true
	default:
		return 0, false
	}
}

// Lookup resolves the entity kind a navigation property targets. The
// second return value is false when the property was never discovered —
// callers must treat that as the fatal SchemaMissing condition (ยง7).
func (c *Cache) Lookup(schemaName, className, property string) (xid.Kind, bool) {
	k, ok := c.navKind[Key{Schema: schemaName, Class: className, Property: property}]
	return k, ok
}

// Class returns the discovered metadata for a fully qualified class name.
func (c *Cache) Class(fq string) (*Class, bool) {
	cls, ok := c.classes[fq]
	return cls, ok
}

// Classes returns every discovered class, ordered by fully qualified name.
func (c *Cache) Classes() []*Class {
	out := make([]*Class, 0, len(c.order))
	for _, fq := range c.order {
		out = append(out, c.classes[fq])
	}
	return out
}

// ElementClasses returns the subset of discovered classes backing Element
// rows, used by the orchestrator's populate/hydrate passes.
func (c *Cache) ElementClasses() []*Class {
	var out []*Class
	for _, cls := range c.Classes() {
		if cls.IsElement {
			out = append(out, cls)
		}
	}
	return out
}

// catalog row shapes used only during Discover; these mirror the
// minimal ec_Schema/ec_Class/ec_Property metadata tables every source
// database is assumed to expose (schema import itself is out of scope,
// per spec.md ยง1 — Discover only reads what import already produced).
type schemaRow struct {
	id   xid.Id
	name string
}

type classRow struct {
	id        xid.Id
	schemaID  xid.Id
	name      string
	table     string
	rootKind  string
}

type propertyRow struct {
	classID     xid.Id
	name        string
	kind        string
	column      string
	navTargetID xid.Id
}

// Discover walks the source database's schema catalog once, classifying
// every concrete class and every navigation property's target kind. It is
// the only place in the transform that performs "runtime reflection over
// schemas" (spec.md ยง9's design note); everything downstream consumes the
// resulting Cache as a plain table-driven descriptor.
func Discover(ctx context.Context, db *sql.DB) (*Cache, error) {
	schemas, err := loadSchemas(ctx, db)
	if err != nil {
		return nil, err
	}
	classes, err := loadClasses(ctx, db, schemas)
	if err != nil {
		return nil, err
	}
	properties, err := loadProperties(ctx, db)
	if err != nil {
		return nil, err
	}

	byID := make(map[xid.Id]*classRow, len(classes))
	for i := range classes {
		byID[classes[i].id] = &classes[i]
	}

	cache := &Cache{
		navKind:     make(map[Key]xid.Kind),
		classes:     make(map[string]*Class),
		classesByID: make(map[xid.Id]*Class),
	}

	for _, cr := range classes {
		sr, ok := schemas[cr.schemaID]
		if !ok {
			return nil, fmt.Errorf("schema: class %q references unknown schema id %v", cr.name, cr.schemaID)
		}
		cls := &Class{
			Name:       xid.ClassName{Schema: sr.name, Name: cr.name},
			Table:      cr.table,
			ClassID:    cr.id,
			IsElement:  cr.rootKind == string(xid.KindElement),
			IsModel:    cr.rootKind == string(xid.KindModel),
			IsAspect:   cr.rootKind == string(xid.KindAspect),
			IsRelation: cr.rootKind == string(xid.KindRelationship),
			IsCodeSpec: cr.rootKind == string(xid.KindCodeSpec),
		}
		cache.classes[cls.FQName()] = cls
		cache.classesByID[cr.id] = cls
		cache.order = append(cache.order, cls.FQName())
	}
	sort.Strings(cache.order)

	for _, pr := range properties {
		cr, ok := byID[pr.classID]
		if !ok {
			continue
		}
		sr := schemas[cr.schemaID]
		cls := cache.classes[xid.ClassName{Schema: sr.name, Name: cr.name}.FQName()]
		prop := Property{Name: pr.name, Kind: parsePropertyKind(pr.kind), Column: pr.column}
		if prop.Kind == PropNavigation {
			target, ok := byID[pr.navTargetID]
			if !ok || target.rootKind == "" {
				return nil, fmt.Errorf("schema: navigation property %s.%s.%s targets unresolvable class", sr.name, cr.name, pr.name)
			}
			prop.NavKind = xid.Kind(target.rootKind[0])
			cache.navKind[Key{Schema: sr.name, Class: cr.name, Property: pr.name}] = prop.NavKind
		}
		cls.Properties = append(cls.Properties, prop)
	}

	return cache, nil
}

func parsePropertyKind(s string) PropertyKind {
	switch s {
	case "primitive":
		return PropPrimitive
	case "id-long":
		return PropIdLong
	case "point2d":
		return PropPoint2d
	case "point3d":
		return PropPoint3d
	case "binary":
		return PropBinary
	case "navigation":
		return PropNavigation
	case "geometry-stream":
		return PropGeometryStream
	default:
		return PropUnsupported
	}
}

func loadSchemas(ctx context.Context, db *sql.DB) (map[xid.Id]schemaRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT Id, Name FROM ec_Schema`)
	if err != nil {
		return nil, fmt.Errorf("schema: select ec_Schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[xid.Id]schemaRow)
	for rows.Next() {
		var id uint64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("schema: scan ec_Schema: %w", err)
		}
		out[xid.Id(id)] = schemaRow{id: xid.Id(id), name: name}
	}
	return out, rows.Err()
}

func loadClasses(ctx context.Context, db *sql.DB, schemas map[xid.Id]schemaRow) ([]classRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT Id, SchemaId, Name, TableName, RootKind FROM ec_Class`)
	if err != nil {
		return nil, fmt.Errorf("schema: select ec_Class: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []classRow
	for rows.Next() {
		var id, schemaID uint64
		var name, table, rootKind string
		if err := rows.Scan(&id, &schemaID, &name, &table, &rootKind); err != nil {
			return nil, fmt.Errorf("schema: scan ec_Class: %w", err)
		}
		if _, ok := schemas[xid.Id(schemaID)]; !ok {
			return nil, fmt.Errorf("schema: class %q references unknown schema id %d", name, schemaID)
		}
		out = append(out, classRow{id: xid.Id(id), schemaID: xid.Id(schemaID), name: name, table: table, rootKind: rootKind})
	}
	return out, rows.Err()
}

func loadProperties(ctx context.Context, db *sql.DB) ([]propertyRow, error) {
	rows, err := db.QueryContext(ctx, `SELECT ClassId, Name, Kind, Column, COALESCE(NavTargetClassId, 0) FROM ec_Property`)
	if err != nil {
		return nil, fmt.Errorf("schema: select ec_Property: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []propertyRow
	for rows.Next() {
		var classID uint64
		var name, kind, column string
		var navTarget uint64
		if err := rows.Scan(&classID, &name, &kind, &column, &navTarget); err != nil {
			return nil, fmt.Errorf("schema: scan ec_Property: %w", err)
		}
		out = append(out, propertyRow{classID: xid.Id(classID), name: name, kind: kind, column: column, navTargetID: xid.Id(navTarget)})
	}
	return out, rows.Err()
}
