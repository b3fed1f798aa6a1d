package xform

import "time"

// Report summarizes a completed (or failed) transform run, returned by
// Orchestrator.Run alongside any error.
type Report struct {
	ElementsCloned      uint64
	AspectsCloned       uint64
	RelationshipsCloned uint64
	CodeSpecsImported   uint64
	DanglingReferences  uint64
	Warnings            []string
	Started             time.Time
	Finished            time.Time
}

// Duration reports the wall-clock time the run took.
func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }
