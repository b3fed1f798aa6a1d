package xform

import (
	"database/sql/driver"
	"fmt"

	"modernc.org/sqlite"
)

// GeometryRemapper rewrites the embedded element/font ids inside an opaque
// geometry-stream blob. The orchestrator never interprets geometry itself
// (spec.md's Non-goals); it only arranges for RemapGeom, the SQL function
// hydrate statements call, to delegate to whichever remapper the caller
// supplies.
type GeometryRemapper interface {
	RemapGeometry(stream []byte, fontRemapTable, elementRemapTable string) ([]byte, error)
}

// NoopGeometryRemapper returns the stream unchanged, used when the caller
// has no geometry codec of its own — geometry streams still move across
// databases, just without embedded-id rewriting.
type NoopGeometryRemapper struct{}

// RemapGeometry implements GeometryRemapper by returning stream unchanged.
func (NoopGeometryRemapper) RemapGeometry(stream []byte, _, _ string) ([]byte, error) {
	return stream, nil
}

// RegisterRemapGeom installs the RemapGeom(blob, fontRemapTable,
// elementRemapTable) SQL function spec.md §6 requires every hydrate
// statement to be able to call, delegating to remapper. It must run once
// before any connection that will execute a hydrate statement is opened,
// matching modernc.org/sqlite's process-wide function registration model.
func RegisterRemapGeom(remapper GeometryRemapper) error {
	if remapper == nil {
		remapper = NoopGeometryRemapper{}
	}
	return sqlite.RegisterDeterministicScalarFunction("RemapGeom", 3, func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		blob, ok := args[0].([]byte)
		if !ok {
			if args[0] == nil {
				return nil, nil
			}
			return nil, fmt.Errorf("xform: RemapGeom: first argument must be a BLOB")
		}
		fontTable, _ := args[1].(string)
		elementTable, _ := args[2].(string)
		out, err := remapper.RemapGeometry(blob, fontTable, elementTable)
		if err != nil {
			return nil, fmt.Errorf("xform: RemapGeom: %w", err)
		}
		return out, nil
	})
}
