package xform

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"idxform/internal/schema"
	"idxform/pkg/xid"
)

// buildProjectionSQL lists every non-binary column a class's scalar,
// navigation, and point properties need, plus ECInstanceId and, for
// elements and models, the CodeValue/CodeSpecId/CodeScopeId/FederationGuid
// columns. This stands in for the host's
// "$ -> json" row projection primitive (spec.md §6): instead of a single
// opaque projection operator, the module reads the columns it already
// knows about from the class's own metadata and assembles the nested JSON
// shape the ClassPlan hydrate statement expects.
func buildProjectionSQL(class schema.Class, table string) (string, []string) {
	cols := []string{"ECInstanceId"}
	if class.IsElement || class.IsModel {
		// Code and federationGuid are intrinsic Element columns (spec.md
		// §3/§4.5); aspects and relationships carry neither.
		cols = append(cols, "CodeValue", "CodeSpecId", "CodeScopeId", "FederationGuid")
	}
	for _, p := range class.Properties {
		switch p.Kind {
		case schema.PropNavigation:
			cols = append(cols, p.NavIdColumn(), p.NavRelClassColumn())
		case schema.PropPoint2d, schema.PropPoint3d:
			cols = append(cols, p.PointColumns()...)
		case schema.PropIdLong, schema.PropPrimitive:
			cols = append(cols, p.Column)
		case schema.PropBinary, schema.PropGeometryStream, schema.PropUnsupported:
			// fetched separately (selectBinaries) or skipped entirely.
		}
	}
	return fmt.Sprintf(`SELECT %s FROM %s WHERE ECInstanceId = ?`, strings.Join(cols, ", "), table), cols
}

// scanColumns scans one row into a column-name-keyed map, using `any` scan
// targets so callers don't need to know each column's static type ahead of
// time — modernc.org/sqlite returns plain int64/float64/string/[]byte/nil
// values, which is all projectRowJSON needs to handle.
func scanColumns(rows *sql.Rows, cols []string) (map[string]any, error) {
	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("xform: scan projection row: %w", err)
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = dest[i]
	}
	return out, nil
}

// projectRowJSON assembles the nested JSON object a class's hydrate
// statement expects from a flat column-name-keyed scan, converting
// raw 64-bit id columns to hex strings so xid.ParseHex round-trips them the
// same way the Cloner's navigation/id-long dispatch reads them.
func projectRowJSON(class schema.Class, row map[string]any) (string, error) {
	out := map[string]any{}
	if v, ok := row["CodeValue"]; ok {
		out["CodeValue"] = v
	}
	if v, ok := row["CodeSpecId"]; ok {
		out["CodeSpecId"] = hexOrNil(v)
	}
	if v, ok := row["CodeScopeId"]; ok {
		out["CodeScopeId"] = hexOrNil(v)
	}
	if v, ok := row["FederationGuid"]; ok {
		out["FederationGuid"] = v
	}

	for _, p := range class.Properties {
		switch p.Kind {
		case schema.PropNavigation:
			idVal := hexOrNil(row[p.NavIdColumn()])
			relVal := hexOrNil(row[p.NavRelClassColumn()])
			if idVal == nil {
				continue
			}
			out[p.Name] = map[string]any{"id": idVal, "relClassId": relVal}
		case schema.PropIdLong:
			out[p.Name] = hexOrNil(row[p.Column])
		case schema.PropPoint2d, schema.PropPoint3d:
			pt := map[string]any{}
			for _, c := range p.PointColumns() {
				axis := c[strings.LastIndex(c, ".")+1:]
				pt[axis] = row[c]
			}
			out[p.Name] = pt
		case schema.PropPrimitive:
			out[p.Name] = row[p.Column]
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("xform: marshal row projection: %w", err)
	}
	return string(b), nil
}

// hexOrNil renders an integer-ish scanned value as a hex id string, or nil
// when the column held SQL NULL — matching how xid.ParseHex and the
// Cloner's extractRef distinguish "no reference" from "invalid reference".
func hexOrNil(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case int64:
		return xid.Id(uint64(t)).String()
	case float64:
		return xid.Id(uint64(t)).String()
	default:
		return v
	}
}
