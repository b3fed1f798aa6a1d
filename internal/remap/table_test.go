package remap

import (
	"testing"

	"idxform/pkg/xid"
)

func TestTablePutExtendsContiguousRun(t *testing.T) {
	tbl := NewTable()
	if err := tbl.Put(0x20, 0x1000); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tbl.Put(0x21, 0x1001); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := tbl.Put(0x22, 0x1002); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := tbl.Len(); got != 1 {
		t.Fatalf("expected contiguous inserts to collapse into 1 run, got %d", got)
	}
	if got := tbl.Count(); got != 3 {
		t.Fatalf("expected 3 mapped ids, got %d", got)
	}
}

func TestTablePutStartsNewRunOnGap(t *testing.T) {
	tbl := NewTable()
	mustPut(t, tbl, 0x20, 0x1000)
	mustPut(t, tbl, 0x30, 0x2000) // non-contiguous source
	if got := tbl.Len(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestTablePutStartsNewRunOnDiscontinuousTarget(t *testing.T) {
	tbl := NewTable()
	mustPut(t, tbl, 0x20, 0x1000)
	mustPut(t, tbl, 0x21, 0x2000) // contiguous source but not target
	if got := tbl.Len(); got != 2 {
		t.Fatalf("expected 2 runs, got %d", got)
	}
}

func TestTableGet(t *testing.T) {
	tbl := NewTable()
	mustPut(t, tbl, 0x20, 0x1000)
	mustPut(t, tbl, 0x21, 0x1001)
	mustPut(t, tbl, 0x22, 0x1002)
	mustPut(t, tbl, 0x50, 0x9000)

	cases := []struct {
		src  xid.Id
		want xid.Id
		ok   bool
	}{
		{0x20, 0x1000, true},
		{0x21, 0x1001, true},
		{0x22, 0x1002, true},
		{0x50, 0x9000, true},
		{0x1f, 0, false},
		{0x23, 0, false},
		{0x51, 0, false},
	}
	for _, tc := range cases {
		got, ok := tbl.Get(tc.src)
		if ok != tc.ok {
			t.Fatalf("Get(%v) ok = %v, want %v", tc.src, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Fatalf("Get(%v) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestTablePutOverlapIsFatal(t *testing.T) {
	tbl := NewTable()
	mustPut(t, tbl, 0x20, 0x1000)
	mustPut(t, tbl, 0x21, 0x1001)
	if err := tbl.Put(0x20, 0x2000); err == nil {
		t.Fatalf("expected overlap error")
	}
}

func TestTablePutDoesNotFalselyFlagOverlapAfterOutOfOrderSeeding(t *testing.T) {
	tbl := NewTable()
	// mirrors NewContext's well-known-id seeding order: 0x1, 0xe, 0x10.
	mustPut(t, tbl, 0x1, 0x1)
	mustPut(t, tbl, 0xe, 0xe)
	mustPut(t, tbl, 0x10, 0x10)

	// a real element id below the last-seeded well-known id's run must not
	// be rejected: it doesn't actually overlap any existing run.
	if err := tbl.Put(0x5, 0x2000); err != nil {
		t.Fatalf("put(0x5, 0x2000) should not overlap, got %v", err)
	}
	got, ok := tbl.Get(0x5)
	if !ok || got != 0x2000 {
		t.Fatalf("Get(0x5) = %v, %v; want 0x2000, true", got, ok)
	}

	// ids genuinely inside an existing run are still rejected.
	if err := tbl.Put(0xe, 0x3000); err == nil {
		t.Fatalf("expected overlap error for id already covered by the 0xe run")
	}
}

func TestTableRunsReturnsCopy(t *testing.T) {
	tbl := NewTable()
	mustPut(t, tbl, 0x20, 0x1000)
	runs := tbl.Runs()
	runs[0].Length = 99
	if tbl.Runs()[0].Length == 99 {
		t.Fatalf("Runs() must return a defensive copy")
	}
}

func mustPut(t *testing.T, tbl *Table, src, tgt xid.Id) {
	t.Helper()
	if err := tbl.Put(src, tgt); err != nil {
		t.Fatalf("put(%v, %v): %v", src, tgt, err)
	}
}
