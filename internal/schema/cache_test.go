package schema

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"idxform/pkg/xid"
)

func openCatalog(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ddl := []string{
		`CREATE TABLE ec_Schema (Id INTEGER PRIMARY KEY, Name TEXT)`,
		`CREATE TABLE ec_Class (Id INTEGER PRIMARY KEY, SchemaId INTEGER, Name TEXT, TableName TEXT, RootKind TEXT)`,
		`CREATE TABLE ec_Property (ClassId INTEGER, Name TEXT, Kind TEXT, Column TEXT, NavTargetClassId INTEGER)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return db
}

func seedBasicCatalog(t *testing.T, db *sql.DB) {
	t.Helper()
	exec := func(q string, args ...any) {
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatalf("seed %q: %v", q, err)
		}
	}
	exec(`INSERT INTO ec_Schema (Id, Name) VALUES (1, 'BisCore')`)
	exec(`INSERT INTO ec_Class (Id, SchemaId, Name, TableName, RootKind) VALUES
		(10, 1, 'PhysicalElement', 'bis_Element', 'e'),
		(11, 1, 'PhysicalModel', 'bis_Model', 'm'),
		(12, 1, 'ExternalSourceAspect', 'bis_ElementMultiAspect', 'a'),
		(13, 1, 'ElementRefersToElements', 'bis_ElementRefersToElements', 'r'),
		(14, 1, 'CodeSpec', 'bis_CodeSpec', 'c')`)
	exec(`INSERT INTO ec_Property (ClassId, Name, Kind, Column, NavTargetClassId) VALUES
		(10, 'Parent', 'navigation', 'Parent', 10),
		(10, 'CodeValue', 'primitive', 'CodeValue', NULL),
		(10, 'Origin', 'point3d', 'Origin', NULL),
		(10, 'GeometryStream', 'geometry-stream', 'GeometryStream', NULL),
		(12, 'Element', 'navigation', 'Element', 10),
		(13, 'TargetId', 'id-long', 'TargetECInstanceId', NULL)`)
}

func TestDiscoverClassifiesNavigationProperties(t *testing.T) {
	db := openCatalog(t)
	seedBasicCatalog(t, db)

	cache, err := Discover(context.Background(), db)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	kind, ok := cache.Lookup("BisCore", "PhysicalElement", "Parent")
	if !ok {
		t.Fatalf("expected Parent navigation property to be discovered")
	}
	if kind != xid.KindElement {
		t.Fatalf("Parent should resolve to Element kind, got %v", kind)
	}

	kind, ok = cache.Lookup("BisCore", "ExternalSourceAspect", "Element")
	if !ok || kind != xid.KindElement {
		t.Fatalf("ExternalSourceAspect.Element should resolve to Element kind, got %v ok=%v", kind, ok)
	}

	if _, ok := cache.Lookup("BisCore", "PhysicalElement", "DoesNotExist"); ok {
		t.Fatalf("expected missing property to report not found")
	}
}

func TestDiscoverBuildsClassMetadata(t *testing.T) {
	db := openCatalog(t)
	seedBasicCatalog(t, db)

	cache, err := Discover(context.Background(), db)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	cls, ok := cache.Class("BisCore:PhysicalElement")
	if !ok {
		t.Fatalf("expected PhysicalElement class")
	}
	if !cls.IsElement {
		t.Fatalf("expected PhysicalElement to be classified as Element")
	}
	if len(cls.NavigationProperties()) != 1 {
		t.Fatalf("expected 1 navigation property, got %d", len(cls.NavigationProperties()))
	}

	elementClasses := cache.ElementClasses()
	if len(elementClasses) != 1 || elementClasses[0].FQName() != "BisCore:PhysicalElement" {
		t.Fatalf("unexpected element classes: %+v", elementClasses)
	}

	rel, ok := cache.Class("BisCore:ElementRefersToElements")
	if !ok || !rel.IsRelation {
		t.Fatalf("expected ElementRefersToElements to be classified as a relationship")
	}
}

func TestDiscoverRejectsUnresolvableNavigationTarget(t *testing.T) {
	db := openCatalog(t)
	if _, err := db.Exec(`INSERT INTO ec_Schema (Id, Name) VALUES (1, 'BisCore')`); err != nil {
		t.Fatalf("seed schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ec_Class (Id, SchemaId, Name, TableName, RootKind) VALUES (10, 1, 'Widget', 'bis_Widget', 'e')`); err != nil {
		t.Fatalf("seed class: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ec_Property (ClassId, Name, Kind, Column, NavTargetClassId) VALUES (10, 'Bad', 'navigation', 'Bad', 999)`); err != nil {
		t.Fatalf("seed property: %v", err)
	}
	if _, err := Discover(context.Background(), db); err == nil {
		t.Fatalf("expected Discover to fail on unresolvable navigation target")
	}
}
