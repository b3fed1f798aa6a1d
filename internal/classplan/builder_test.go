package classplan

import (
	"strings"
	"testing"

	"idxform/internal/schema"
	"idxform/pkg/xid"
)

func physicalElementClass() schema.Class {
	return schema.Class{
		Name:      xid.ClassName{Schema: "BisCore", Name: "PhysicalElement"},
		Table:     "bis_Element",
		ClassID:   10,
		IsElement: true,
		Properties: []schema.Property{
			{Name: "Parent", Kind: schema.PropNavigation, Column: "Parent", NavKind: xid.KindElement},
			{Name: "CategoryId", Kind: schema.PropIdLong, Column: "CategoryId"},
			{Name: "Origin", Kind: schema.PropPoint3d, Column: "Origin"},
			{Name: "GeometryStream", Kind: schema.PropGeometryStream, Column: "GeometryStream"},
			{Name: "UserLabel", Kind: schema.PropPrimitive, Column: "UserLabel"},
			{Name: "Tags", Kind: schema.PropUnsupported, Column: "Tags"},
		},
	}
}

func TestBuildPopulateUsesPlaceholdersForReferences(t *testing.T) {
	plan, err := NewBuilder().Build(physicalElementClass())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(plan.PopulateSQL, "INSERT INTO bis_Element") {
		t.Fatalf("populate SQL missing insert into target table: %s", plan.PopulateSQL)
	}
	if !strings.Contains(plan.PopulateSQL, "Parent.Id") || !strings.Contains(plan.PopulateSQL, "0x1") {
		t.Fatalf("populate SQL should placeholder navigation id as 0x1: %s", plan.PopulateSQL)
	}
	if !strings.Contains(plan.PopulateSQL, "Parent.RelECClassId") {
		t.Fatalf("populate SQL missing navigation rel-class column: %s", plan.PopulateSQL)
	}
	if !strings.Contains(plan.PopulateSQL, "Origin.x") || !strings.Contains(plan.PopulateSQL, "Origin.z") {
		t.Fatalf("populate SQL should expand 3d point columns: %s", plan.PopulateSQL)
	}
	if len(plan.Warnings) != 1 || !strings.Contains(plan.Warnings[0], "Tags") {
		t.Fatalf("expected one warning for unsupported Tags property, got %v", plan.Warnings)
	}
}

func TestBuildHydrateRewritesReferencesThroughTempTables(t *testing.T) {
	plan, err := NewBuilder().Build(physicalElementClass())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(plan.HydrateSQL, "UPDATE bis_Element SET") {
		t.Fatalf("hydrate SQL missing update clause: %s", plan.HydrateSQL)
	}
	if !strings.Contains(plan.HydrateSQL, "temp.element_remap") {
		t.Fatalf("hydrate SQL should reference temp.element_remap for the navigation/long columns: %s", plan.HydrateSQL)
	}
	if !strings.Contains(plan.HydrateSQL, "RemapGeom") {
		t.Fatalf("hydrate SQL missing RemapGeom for geometry stream: %s", plan.HydrateSQL)
	}
	if !strings.Contains(plan.HydrateSQL, "CodeValue = :p_code_value") {
		t.Fatalf("hydrate SQL missing CodeValue rehydration: %s", plan.HydrateSQL)
	}
}

func TestBuildSelectBinariesCoversBinaryAndGeometryColumns(t *testing.T) {
	plan, err := NewBuilder().Build(physicalElementClass())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.BinaryColumns) != 1 || plan.BinaryColumns[0] != "GeometryStream" {
		t.Fatalf("expected GeometryStream as the only binary column, got %v", plan.BinaryColumns)
	}
	if !strings.Contains(plan.SelectBinariesSQL, "SELECT GeometryStream FROM source.bis_Element WHERE ECInstanceId = ?") {
		t.Fatalf("unexpected selectBinaries SQL: %s", plan.SelectBinariesSQL)
	}
}

func TestBuildInsertForAspectTranslatesClassId(t *testing.T) {
	aspect := schema.Class{
		Name:     xid.ClassName{Schema: "BisCore", Name: "ExternalSourceAspect"},
		Table:    "bis_ElementMultiAspect",
		ClassID:  20,
		IsAspect: true,
		Properties: []schema.Property{
			{Name: "Element", Kind: schema.PropNavigation, Column: "Element", NavKind: xid.KindElement},
			{Name: "Identifier", Kind: schema.PropPrimitive, Column: "Identifier"},
		},
	}
	plan, err := NewBuilder().Build(aspect)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(plan.InsertSQL, "INSERT INTO bis_ElementMultiAspect") {
		t.Fatalf("unexpected aspect insert SQL: %s", plan.InsertSQL)
	}
	if !strings.Contains(plan.InsertSQL, "source.ec_Class sc JOIN main.ec_Class tc") {
		t.Fatalf("aspect insert SQL missing class-id translation subquery: %s", plan.InsertSQL)
	}
	if plan.PopulateSQL != "" || plan.HydrateSQL != "" {
		t.Fatalf("aspects should have no populate/hydrate SQL, got populate=%q hydrate=%q", plan.PopulateSQL, plan.HydrateSQL)
	}
	if !strings.Contains(plan.InsertSQL, ":p_Element_id") {
		t.Fatalf("aspect insert SQL should bind the Cloner's already-resolved navigation id directly: %s", plan.InsertSQL)
	}
	if strings.Contains(plan.InsertSQL, "temp.element_remap WHERE SourceId = :p_Element_id") {
		t.Fatalf("aspect insert SQL must not re-remap the already-resolved navigation id: %s", plan.InsertSQL)
	}
}

func TestBuildInsertBindsIdLongDirectlyWithoutRemapSubquery(t *testing.T) {
	relationship := schema.Class{
		Name:      xid.ClassName{Schema: "BisCore", Name: "ElementRefersToElements"},
		Table:     "bis_ElementRefersToElements",
		ClassID:   40,
		IsRelation: true,
		Properties: []schema.Property{
			{Name: "SourceECInstanceId", Kind: schema.PropIdLong, Column: "SourceECInstanceId"},
			{Name: "TargetECInstanceId", Kind: schema.PropIdLong, Column: "TargetECInstanceId"},
		},
	}
	plan, err := NewBuilder().Build(relationship)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(plan.InsertSQL, ":p_SourceECInstanceId") || !strings.Contains(plan.InsertSQL, ":p_TargetECInstanceId") {
		t.Fatalf("relationship insert SQL should bind the Cloner's already-resolved endpoint ids directly: %s", plan.InsertSQL)
	}
	if strings.Contains(plan.InsertSQL, "SELECT TargetId FROM temp.element_remap") {
		t.Fatalf("relationship insert SQL must not re-remap already-resolved endpoint ids: %s", plan.InsertSQL)
	}
}

func TestBuildInsertForCodeSpec(t *testing.T) {
	codeSpec := schema.Class{
		Name:       xid.ClassName{Schema: "BisCore", Name: "CodeSpec"},
		Table:      "bis_CodeSpec",
		ClassID:    30,
		IsCodeSpec: true,
	}
	plan, err := NewBuilder().Build(codeSpec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(plan.InsertSQL, "INSERT INTO bis_CodeSpec") || !strings.Contains(plan.InsertSQL, ":p_Name") {
		t.Fatalf("unexpected codespec insert SQL: %s", plan.InsertSQL)
	}
}
