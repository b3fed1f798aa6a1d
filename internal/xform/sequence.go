package xform

import (
	"context"
	"database/sql"
	"fmt"

	"idxform/pkg/xid"
)

// Sequence wraps a single be_Local counter row, following spec.md §6's
// "identifier sequences in be_Local keyed by name" primitive. The row is
// read once, on first use, and its value cached; each later advance writes
// the new value back with a plain UPDATE.
type Sequence struct {
	db     *sql.DB
	name   string
	limit  uint64
	cached uint64
	loaded bool
}

// NewSequence constructs a sequence bound to a be_Local row name, capped at
// limit (the "briefcase" ceiling from spec.md §7's SequenceOverflow kind).
func NewSequence(db *sql.DB, name string, limit uint64) *Sequence {
	return &Sequence{db: db, name: name, limit: limit}
}

// EnsureSequenceTable creates be_Local if the target doesn't already carry
// it, matching the teacher's "CREATE TABLE IF NOT EXISTS" idiom.
func EnsureSequenceTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS be_Local (Name TEXT PRIMARY KEY, Val INTEGER NOT NULL)`)
	if err != nil {
		return fmt.Errorf("xform: create be_Local: %w", err)
	}
	return nil
}

func (s *Sequence) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	var v uint64
	err := s.db.QueryRowContext(ctx, `SELECT Val FROM be_Local WHERE Name = ?`, s.name).Scan(&v)
	switch {
	case err == sql.ErrNoRows:
		v = 0
		if _, err := s.db.ExecContext(ctx, `INSERT INTO be_Local (Name, Val) VALUES (?, ?)`, s.name, v); err != nil {
			return fmt.Errorf("xform: seed sequence %s: %w", s.name, err)
		}
	case err != nil:
		return fmt.Errorf("xform: load sequence %s: %w", s.name, err)
	}
	s.cached = v
	s.loaded = true
	return nil
}

// Next allocates and returns the next id in the sequence, persisting the
// advance immediately so a crash mid-transform leaves no gap smaller than
// one allocation.
func (s *Sequence) Next(ctx context.Context) (xid.Id, error) {
	if err := s.load(ctx); err != nil {
		return xid.InvalidId, err
	}
	next := s.cached + 1
	if s.limit > 0 && next > s.limit {
		return xid.InvalidId, fmt.Errorf("xform: sequence %s would exceed limit %#x: %w", s.name, s.limit, ErrSequenceOverflow)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE be_Local SET Val = ? WHERE Name = ?`, next, s.name); err != nil {
		return xid.InvalidId, fmt.Errorf("xform: advance sequence %s: %w", s.name, ErrStatementFailure)
	}
	s.cached = next
	return xid.Id(next), nil
}

// Advance bumps the sequence's cached value up to at least floor, used by
// Config.PreserveElementIdsForFiltering to pre-advance the target's
// element-id sequence above the maximum source id before P1 begins.
func (s *Sequence) Advance(ctx context.Context, floor uint64) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	if floor <= s.cached {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE be_Local SET Val = ? WHERE Name = ?`, floor, s.name); err != nil {
		return fmt.Errorf("xform: advance sequence %s to floor: %w", s.name, ErrStatementFailure)
	}
	s.cached = floor
	return nil
}

const (
	elementSequenceName  = "bis_elementidsequence"
	instanceSequenceName = "ec_instanceidsequence"
)
