// Command xform runs a single bulk identity-remapping transform from a
// source engineering-model database into a target database, driving
// internal/xform.Orchestrator end to end.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"idxform/internal/schema"
	"idxform/internal/xform"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "xform:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("xform", flag.ContinueOnError)
	sourcePath := fs.String("source", "", "path to the source database file (required)")
	targetPath := fs.String("target", "", "path to the target database file (required)")
	preserveIds := fs.Bool("preserve-element-ids", false, "assign target element ids verbatim from the source instead of a fresh sequence")
	danglingReject := fs.Bool("reject-dangling", true, "fail the run on the first dangling reference instead of counting and continuing")
	provenance := fs.Bool("include-source-provenance", false, "copy ExternalSourceAspect rows through to the target")
	drivesElement := fs.Bool("process-element-drives-element", false, "treat ElementDrivesElement relationships like ElementRefersToElements")
	stateDSN := fs.String("state-dsn", "", "Postgres DSN to additionally save the remap ledger to (opened via the pgx driver)")
	timeout := fs.Duration("timeout", 0, "abort the run after this long (0 disables the deadline)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sourcePath == "" || *targetPath == "" {
		fs.Usage()
		return fmt.Errorf("both -source and -target are required")
	}

	source, err := sql.Open("sqlite", *sourcePath)
	if err != nil {
		return fmt.Errorf("open source %s: %w", *sourcePath, err)
	}
	defer func() { _ = source.Close() }()

	target, err := sql.Open("sqlite", *targetPath)
	if err != nil {
		return fmt.Errorf("open target %s: %w", *targetPath, err)
	}
	defer func() { _ = target.Close() }()

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	cache, err := schema.Discover(ctx, source)
	if err != nil {
		return fmt.Errorf("discover source schema: %w", err)
	}

	dangling := xform.DanglingIgnore
	if *danglingReject {
		dangling = xform.DanglingReject
	}
	cfg := xform.Config{
		PreserveElementIdsForFiltering: *preserveIds,
		DanglingReferencesBehavior:     dangling,
		IncludeSourceProvenance:        *provenance,
		ProcessElementDrivesElement:    *drivesElement,
		StateDSN:                       *stateDSN,
	}

	orch := xform.New(source, target, *sourcePath, cache, cfg)
	started := time.Now()
	report, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("run transform: %w", err)
	}

	fmt.Printf("elements=%d aspects=%d relationships=%d codespecs=%d dangling=%d warnings=%d elapsed=%s\n",
		report.ElementsCloned, report.AspectsCloned, report.RelationshipsCloned,
		report.CodeSpecsImported, report.DanglingReferences, len(report.Warnings), time.Since(started))
	for _, w := range report.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	return nil
}
