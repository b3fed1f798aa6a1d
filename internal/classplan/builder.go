// Package classplan precomputes the SQL statement text for each concrete
// class, once per class, so the Orchestrator's hot loop executes a single
// prepared statement per row instead of re-deriving column lists on every
// call (the ClassPlan of the design, C3).
package classplan

import (
	"fmt"
	"strings"

	"idxform/internal/schema"
	"idxform/pkg/xid"
)

// Plan holds the four precomputed statements for one class. A class that
// doesn't participate in a given phase leaves that field empty — elements
// have no InsertSQL, aspects and relationships have no PopulateSQL or
// HydrateSQL.
type Plan struct {
	Class             schema.Class
	SelectBinariesSQL string
	PopulateSQL       string
	HydrateSQL        string
	InsertSQL         string
	// BinaryColumns lists the columns SelectBinariesSQL projects, in the
	// order they're returned, so the Cloner can zip scanned values back
	// onto the right bind parameter.
	BinaryColumns []string
	// Warnings carries one message per PropUnsupported property skipped
	// while building this plan, for the caller to log.
	Warnings []string
}

// Builder constructs Plans for discovered classes. It holds no state beyond
// the naming conventions below and is safe to reuse across classes.
type Builder struct{}

// NewBuilder constructs a class plan Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build derives the four SQL statements for a class from its discovered
// property metadata, following spec.md §4.3's property-lowering rules.
func (b *Builder) Build(class schema.Class) (*Plan, error) {
	plan := &Plan{Class: class}

	binCols, binSQL := buildSelectBinaries(class)
	plan.BinaryColumns = binCols
	plan.SelectBinariesSQL = binSQL

	switch {
	case class.IsElement || class.IsModel:
		populate, warnings, err := buildPopulate(class)
		if err != nil {
			return nil, err
		}
		plan.PopulateSQL = populate
		plan.Warnings = append(plan.Warnings, warnings...)

		// buildHydrate reports the same unsupported properties buildPopulate
		// already did, so only populate's warnings are kept.
		hydrate, _, err := buildHydrate(class)
		if err != nil {
			return nil, err
		}
		plan.HydrateSQL = hydrate

	case class.IsAspect || class.IsRelation:
		insert, warnings, err := buildInsert(class)
		if err != nil {
			return nil, err
		}
		plan.InsertSQL = insert
		plan.Warnings = append(plan.Warnings, warnings...)

	case class.IsCodeSpec:
		plan.InsertSQL = fmt.Sprintf(`INSERT INTO %s (ECInstanceId, Name) VALUES (:p_ECInstanceId, :p_Name)`, class.Table)
	}

	return plan, nil
}

// buildSelectBinaries produces the statement that pulls binary (and
// geometry-stream) columns out by id, for phases that need them bound from
// a separate fetch rather than the row's JSON projection.
func buildSelectBinaries(class schema.Class) ([]string, string) {
	var cols []string
	for _, p := range class.Properties {
		if p.Kind == schema.PropBinary || p.Kind == schema.PropGeometryStream {
			cols = append(cols, p.Column)
		}
	}
	if len(cols) == 0 {
		return nil, ""
	}
	// Binary/geometry columns are always fetched from the source side of
	// the attached connection — the target row doesn't exist yet when
	// populate needs them, and hydrate re-reads the original source blob
	// to feed RemapGeom rather than the (already-copied) target column.
	return cols, fmt.Sprintf(`SELECT %s FROM source.%s WHERE ECInstanceId = ?`, strings.Join(cols, ", "), class.Table)
}

// buildPopulate produces the P1 INSERT: placeholder values for every
// reference column so the row exists at its final primary-key position
// without needing any reference already remapped, plus real values for
// every scalar and binary column.
func buildPopulate(class schema.Class) (string, []string, error) {
	var cols []string
	var vals []string
	var warnings []string

	cols = append(cols, "ECInstanceId")
	vals = append(vals, ":p_ECInstanceId")

	for _, p := range class.Properties {
		switch p.Kind {
		case schema.PropNavigation:
			cols = append(cols, p.NavIdColumn(), p.NavRelClassColumn())
			vals = append(vals, "0x1", "0")
		case schema.PropIdLong:
			cols = append(cols, p.Column)
			vals = append(vals, "0x1")
		case schema.PropPoint2d, schema.PropPoint3d:
			for _, c := range p.PointColumns() {
				cols = append(cols, c)
				vals = append(vals, fmt.Sprintf(":n_%s", bindName(c)))
			}
		case schema.PropBinary, schema.PropGeometryStream:
			cols = append(cols, p.Column)
			vals = append(vals, fmt.Sprintf(":b_%s", bindName(p.Column)))
		case schema.PropPrimitive:
			cols = append(cols, p.Column)
			vals = append(vals, fmt.Sprintf(":p_%s", bindName(p.Column)))
		case schema.PropUnsupported:
			warnings = append(warnings, fmt.Sprintf("classplan: %s.%s: unsupported compound property type, skipped", class.FQName(), p.Name))
		default:
			return "", warnings, fmt.Errorf("classplan: %s.%s: unrecognized property kind %v", class.FQName(), p.Name, p.Kind)
		}
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, class.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	return stmt, warnings, nil
}

// buildHydrate produces the P2 UPDATE: every reference column rewritten
// through an inline remap subquery, the geometry stream passed through
// RemapGeom, and the code/federationGuid columns bound from values the
// Orchestrator resolves; scalar columns keep what populate wrote. It runs
// once every CompactRemapTable has been flushed to its temp table so every
// remap expression can resolve.
func buildHydrate(class schema.Class) (string, []string, error) {
	var sets []string
	var warnings []string

	for _, p := range class.Properties {
		switch p.Kind {
		case schema.PropNavigation:
			remapTable := navRemapTempTable(p.NavKind)
			sets = append(sets, fmt.Sprintf("%s = (SELECT TargetId FROM %s WHERE SourceId = JSON_EXTRACT(:json, '$.%s.Id'))", p.NavIdColumn(), remapTable, p.Name))
			sets = append(sets, fmt.Sprintf("%s = (SELECT tc.Id FROM source.ec_Class sc JOIN main.ec_Class tc ON tc.Name = sc.Name AND tc.SchemaId = (SELECT Id FROM main.ec_Schema WHERE Name = (SELECT Name FROM source.ec_Schema WHERE Id = sc.SchemaId)) WHERE sc.Id = JSON_EXTRACT(:json, '$.%s.RelECClassId'))", p.NavRelClassColumn(), p.Name))
		case schema.PropIdLong:
			sets = append(sets, fmt.Sprintf("%s = (SELECT TargetId FROM temp.element_remap WHERE SourceId = JSON_EXTRACT(:json, '$.%s'))", p.Column, p.Name))
		case schema.PropGeometryStream:
			sets = append(sets, fmt.Sprintf("%s = CAST(RemapGeom(:b_%s, 'temp.font_remap', 'temp.element_remap') AS BLOB)", p.Column, bindName(p.Column)))
		case schema.PropPoint2d, schema.PropPoint3d, schema.PropBinary, schema.PropPrimitive:
			// Scalars and already-placed binaries are set in P1 (populate)
			// and need no hydration; only CodeValue (below) and reference
			// columns change between passes.
		case schema.PropUnsupported:
			warnings = append(warnings, fmt.Sprintf("classplan: %s.%s: unsupported compound property type, skipped", class.FQName(), p.Name))
		default:
			return "", warnings, fmt.Errorf("classplan: %s.%s: unrecognized property kind %v", class.FQName(), p.Name, p.Kind)
		}
	}
	// CodeSpecId, CodeScopeId, CodeValue, and FederationGuid are universal
	// Element columns outside class.Properties (every Element carries a
	// Code and a federationGuid, per spec.md §3/§4.5); the Orchestrator
	// resolves and canonicalizes all four in Go (they need the Repository-
	// scope override and the same-database federationGuid check, neither of
	// which is expressible as a plain remap subquery) and binds the result
	// directly, the same convention buildInsert uses for already-resolved
	// references.
	sets = append(sets, "CodeSpecId = :p_code_spec", "CodeScopeId = :p_code_scope", "CodeValue = :p_code_value", "FederationGuid = :p_federation_guid")

	stmt := fmt.Sprintf(
		`UPDATE %s SET %s WHERE ECInstanceId = (SELECT TargetId FROM temp.element_remap WHERE SourceId = :p_ECInstanceId)`,
		class.Table, strings.Join(sets, ", "),
	)
	return stmt, warnings, nil
}

// buildInsert produces the full INSERT used for aspects and relationships:
// every reference column binds the id the Cloner has already resolved, plus
// a class-id translation subquery joining source and target catalogs.
// Codespecs use the fixed INSERT written in Build instead.
func buildInsert(class schema.Class) (string, []string, error) {
	var cols []string
	var vals []string
	var warnings []string

	cols = append(cols, "ECInstanceId", "ECClassId")
	vals = append(vals, ":p_ECInstanceId",
		fmt.Sprintf("(SELECT tc.Id FROM source.ec_Class sc JOIN main.ec_Class tc ON tc.Name = sc.Name AND tc.SchemaId = (SELECT Id FROM main.ec_Schema WHERE Name = (SELECT Name FROM source.ec_Schema WHERE Id = sc.SchemaId)) WHERE sc.Id = :p_SourceECClassId)"))

	for _, p := range class.Properties {
		switch p.Kind {
		case schema.PropNavigation:
			// The Cloner already resolves the target id and rel-class id
			// through RemapContext before binding (bindNavigation); no
			// remap subquery here, or the already-remapped target id would
			// get looked up a second time as if it were a raw source id.
			cols = append(cols, p.NavIdColumn(), p.NavRelClassColumn())
			vals = append(vals, fmt.Sprintf(":p_%s", bindName(p.Column+"_id")), fmt.Sprintf(":p_%s", bindName(p.Column+"_relclass")))
		case schema.PropIdLong:
			// Likewise already resolved by the Cloner's bindIdLong.
			cols = append(cols, p.Column)
			vals = append(vals, fmt.Sprintf(":p_%s", bindName(p.Column)))
		case schema.PropPoint2d, schema.PropPoint3d:
			for _, c := range p.PointColumns() {
				cols = append(cols, c)
				vals = append(vals, fmt.Sprintf(":n_%s", bindName(c)))
			}
		case schema.PropBinary, schema.PropGeometryStream:
			cols = append(cols, p.Column)
			vals = append(vals, fmt.Sprintf(":b_%s", bindName(p.Column)))
		case schema.PropPrimitive:
			cols = append(cols, p.Column)
			vals = append(vals, fmt.Sprintf(":p_%s", bindName(p.Column)))
		case schema.PropUnsupported:
			warnings = append(warnings, fmt.Sprintf("classplan: %s.%s: unsupported compound property type, skipped", class.FQName(), p.Name))
		default:
			return "", warnings, fmt.Errorf("classplan: %s.%s: unrecognized property kind %v", class.FQName(), p.Name, p.Kind)
		}
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, class.Table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	return stmt, warnings, nil
}

// navRemapTempTable picks the temp remap table a navigation property's
// target kind resolves through. Kinds without a temp table of their own
// (models and relationships) fall back to the element table.
func navRemapTempTable(k xid.Kind) string {
	switch k {
	case xid.KindAspect:
		return "temp.aspect_remap"
	case xid.KindCodeSpec:
		return "temp.codespec_remap"
	default:
		return "temp.element_remap"
	}
}

// bindName derives a SQL bind-parameter-safe identifier from a column name
// that may contain a navigation-property "." separator (e.g. "Parent.Id").
func bindName(col string) string {
	return strings.ReplaceAll(col, ".", "_")
}
