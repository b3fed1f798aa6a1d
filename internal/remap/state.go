package remap

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"idxform/pkg/xid"
)

// dialectPlaceholders reports whether db's driver wants positional ($1, $2,
// ...) bind parameters instead of sqlite/mysql-style "?". Config.StateDSN
// points SaveState/LoadState at a pgx-opened *sql.DB, which insists on the
// former. The pgx driver is recognized by its package path.
func dialectPlaceholders(db *sql.DB) bool {
	t := reflect.TypeOf(db.Driver())
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return strings.Contains(t.PkgPath(), "pgx")
}

// insertRunSQL renders the parametrized INSERT for one state table, in
// whichever placeholder style db's driver requires.
func insertRunSQL(table string, positional bool) string {
	if positional {
		return fmt.Sprintf(`INSERT INTO %s (Source, Target, Length) VALUES ($1, $2, $3)`, table)
	}
	return fmt.Sprintf(`INSERT INTO %s (Source, Target, Length) VALUES (?, ?, ?)`, table)
}

// stateTables names the four remap tables in the state-file layout of
// spec.md §6, in the fixed order SaveState/LoadState use.
var stateTables = []struct {
	name  string
	table func(*Context) *Table
}{
	{"ElementIdRemaps", func(c *Context) *Table { return c.Element }},
	{"AspectIdRemaps", func(c *Context) *Table { return c.Aspect }},
	{"CodeSpecIdRemaps", func(c *Context) *Table { return c.CodeSpec }},
	{"FontIdRemaps", func(c *Context) *Table { return c.Font }},
}

// EnsureStateSchema creates the four state tables if they do not already
// exist, following the teacher's "CREATE TABLE IF NOT EXISTS" idiom for a
// snapshot store.
func EnsureStateSchema(ctx context.Context, db *sql.DB) error {
	for _, st := range stateTables {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			Source INTEGER NOT NULL,
			Target INTEGER NOT NULL,
			Length INTEGER NOT NULL
		)`, st.name)
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("remap: create state table %s: %w", st.name, err)
		}
	}
	return nil
}

// SaveState persists all four remap tables into the four named state
// tables, replacing any previous contents. Used to make an in-progress
// transform resumable after a crash (spec.md §5's "Partial-commit
// recovery" and §6's state-file layout).
func (c *Context) SaveState(ctx context.Context, db *sql.DB) (retErr error) {
	if err := EnsureStateSchema(ctx, db); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remap: begin save state: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	positional := dialectPlaceholders(db)
	for _, st := range stateTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, st.name)); err != nil {
			return fmt.Errorf("remap: clear state table %s: %w", st.name, err)
		}
		stmt, err := tx.PrepareContext(ctx, insertRunSQL(st.name, positional))
		if err != nil {
			return fmt.Errorf("remap: prepare insert into %s: %w", st.name, err)
		}
		for _, run := range st.table(c).Runs() {
			if _, err := stmt.ExecContext(ctx, uint64(run.From), uint64(run.To), run.Length); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("remap: insert run into %s: %w", st.name, err)
			}
		}
		_ = stmt.Close()
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remap: commit save state: %w", err)
	}
	return nil
}

// LoadState restores the four remap tables from a previously saved state
// file, replacing whatever this Context currently holds.
func (c *Context) LoadState(ctx context.Context, db *sql.DB) error {
	if err := EnsureStateSchema(ctx, db); err != nil {
		return err
	}
	for _, st := range stateTables {
		rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT Source, Target, Length FROM %s ORDER BY Source ASC`, st.name))
		if err != nil {
			return fmt.Errorf("remap: select state table %s: %w", st.name, err)
		}
		var runs []Run
		for rows.Next() {
			var src, tgt, length uint64
			if err := rows.Scan(&src, &tgt, &length); err != nil {
				_ = rows.Close()
				return fmt.Errorf("remap: scan state table %s: %w", st.name, err)
			}
			runs = append(runs, Run{From: xid.Id(src), To: xid.Id(tgt), Length: length})
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("remap: iterate state table %s: %w", st.name, err)
		}
		_ = rows.Close()
		st.table(c).replaceRuns(runs)
	}
	return nil
}
