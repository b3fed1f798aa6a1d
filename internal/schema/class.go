// Package schema discovers the source database's class hierarchy at
// runtime — schemas, classes, and properties — and memoizes the one fact
// the rest of the transform needs from it at speed: for every navigation
// property, which entity kind it points to (the RefTypeCache of the
// design, C1).
package schema

import "idxform/pkg/xid"

// PropertyKind enumerates the property shapes the transform knows how to
// lower into SQL bindings. Compound kinds the transform does not support
// (arrays, structs, struct arrays) are tagged PropUnsupported and skipped
// with a warning rather than failing the class.
type PropertyKind int

const (
	PropPrimitive PropertyKind = iota
	PropIdLong
	PropPoint2d
	PropPoint3d
	PropBinary
	PropNavigation
	PropGeometryStream
	PropUnsupported
)

// String renders a human-readable property kind name for logs.
func (k PropertyKind) String() string {
	switch k {
	case PropPrimitive:
		return "primitive"
	case PropIdLong:
		return "id-long"
	case PropPoint2d:
		return "point2d"
	case PropPoint3d:
		return "point3d"
	case PropBinary:
		return "binary"
	case PropNavigation:
		return "navigation"
	case PropGeometryStream:
		return "geometry-stream"
	default:
		return "unsupported"
	}
}

// Property describes one column (or column group) of a concrete class, as
// discovered from the source's property catalog.
type Property struct {
	Name string
	Kind PropertyKind
	// Column is the storage column name for primitive/binary/id-long/
	// geometry-stream properties. Navigation and point properties expand
	// into derived column names instead (see NavIdColumn/NavRelClassColumn/PointColumns).
	Column string
	// NavKind is populated for PropNavigation properties: the entity kind
	// the reference resolves to, as recorded by RefTypeCache.
	NavKind xid.Kind
	// NavFlat marks a navigation property whose id/rel-class columns are
	// named "<Column>ECInstanceId"/"<Column>ECClassId" rather than the
	// usual "<Column>.Id"/"<Column>.RelECClassId" struct-column
	// convention — the shape relationship endpoints (Source/Target) use.
	NavFlat bool
}

// NavIdColumn is the storage column holding a navigation property's id half.
func (p Property) NavIdColumn() string {
	if p.NavFlat {
		return p.Column + "ECInstanceId"
	}
	return p.Column + ".Id"
}

// NavRelClassColumn is the storage column holding a navigation property's
// relationship-class-id half.
func (p Property) NavRelClassColumn() string {
	if p.NavFlat {
		return p.Column + "ECClassId"
	}
	return p.Column + ".RelECClassId"
}

// PointColumns expands a 2D/3D point property into its component columns.
func (p Property) PointColumns() []string {
	switch p.Kind {
	case PropPoint2d:
		return []string{p.Column + ".x", p.Column + ".y"}
	case PropPoint3d:
		return []string{p.Column + ".x", p.Column + ".y", p.Column + ".z"}
	default:
		return nil
	}
}

// Class is the concrete, fully resolved metadata for one ECClass-equivalent
// table: its qualified name, storage table, entity kind, and ordered
// property list.
type Class struct {
	Name       xid.ClassName
	Table      string
	ClassID    xid.Id
	IsElement  bool
	IsModel    bool
	IsAspect   bool
	IsRelation bool
	IsCodeSpec bool
	Properties []Property
}

// FQName renders the class's fully qualified "Schema:Class" name.
func (c Class) FQName() string { return c.Name.FQName() }

// NavigationProperties returns the subset of Properties that are
// navigation references.
func (c Class) NavigationProperties() []Property {
	var out []Property
	for _, p := range c.Properties {
		if p.Kind == PropNavigation {
			out = append(out, p)
		}
	}
	return out
}
