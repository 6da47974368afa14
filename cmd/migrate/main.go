// Command migrate drives the Chinook SQLite to DynamoDB migration through a
// fixed command set: init, migrate, resume, status, validate and reset.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/NixM0nk3y/chinook-migrate/config"
	"github.com/NixM0nk3y/chinook-migrate/dynamo"
	"github.com/NixM0nk3y/chinook-migrate/engine"
	"github.com/NixM0nk3y/chinook-migrate/source"
	"github.com/NixM0nk3y/chinook-migrate/state"
)

const usage = `usage: migrate <command> [flags]

Commands:
  init      Initialize migration configuration
  migrate   Start or continue the migration
  resume    Resume an interrupted migration
  status    Show migration status
  validate  Reconcile source and target record counts
  reset     Reset migration state (destructive)

Examples:
  migrate init --source ./Chinook_Sqlite.sqlite
  migrate migrate
  migrate resume
  migrate status
  migrate validate --source ./Chinook_Sqlite.sqlite
  migrate reset --confirm
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {

	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "init":
		err = cmdInit(rest)
	case "migrate":
		err = cmdMigrate(rest)
	case "resume":
		err = cmdResume(rest)
	case "status":
		err = cmdStatus(rest)
	case "validate":
		err = cmdValidate(rest)
	case "reset":
		err = cmdReset(rest)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n%s", cmd, usage)
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func cmdInit(args []string) error {

	fs := flag.NewFlagSet("init", flag.ExitOnError)
	sourcePath := fs.String("source", "", "path to the source SQLite database (required)")
	region := fs.String("region", "us-east-1", "AWS region")
	batchSize := fs.Int("batch-size", 25, "DynamoDB batch size")
	fs.Parse(args)

	if *sourcePath == "" {
		return errors.New("--source is required")
	}
	abs := config.AbsSource(*sourcePath)
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("source database not found: %s", abs)
	}

	cfg := config.Default()
	cfg.SourceDB = abs
	cfg.AWSRegion = *region
	cfg.BatchSize = *batchSize

	if err := cfg.Save(config.DefaultFile); err != nil {
		return err
	}
	if err := state.NewStore(state.DefaultFile).Initialize(); err != nil {
		return err
	}

	fmt.Println("Migration configuration initialized")
	fmt.Printf("  Source database: %s\n", cfg.SourceDB)
	fmt.Printf("  AWS region:      %s\n", cfg.AWSRegion)
	fmt.Printf("  Batch size:      %d\n", cfg.BatchSize)
	return nil
}

func cmdMigrate(args []string) error {

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	sourcePath := fs.String("source", "", "override the source SQLite database path")
	force := fs.Bool("force", false, "recreate target tables even if present")
	table := fs.String("table", "", "migrate one logical table only")
	fs.Parse(args)

	eng, src, err := buildEngine(*sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := eng.Run(context.Background(), engine.RunOptions{
		Force: *force,
		Table: *table,
	}); err != nil {
		return err
	}

	fmt.Println("Migration completed successfully")
	return nil
}

func cmdResume(args []string) error {

	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	fs.Parse(args)

	st := state.NewStore(state.DefaultFile).Load()
	switch st.Status {
	case state.StatusCompleted:
		fmt.Println("Nothing to resume: migration already completed")
		return nil
	case state.StatusNotStarted:
		return errors.New("nothing to resume: run the migrate command first")
	}

	eng, src, err := buildEngine("")
	if err != nil {
		return err
	}
	defer src.Close()

	if err := eng.Resume(context.Background()); err != nil {
		return err
	}

	fmt.Println("Migration resumed and completed successfully")
	return nil
}

func cmdStatus(args []string) error {

	fs := flag.NewFlagSet("status", flag.ExitOnError)
	fs.Parse(args)

	st := state.NewStore(state.DefaultFile).Load()
	sum := st.Summarize()

	fmt.Println("Migration Status:")
	fmt.Printf("  Overall status: %s\n", st.Status)
	if st.StartTime != nil {
		fmt.Printf("  Started:        %s\n", st.StartTime.Format("2006-01-02 15:04:05 MST"))
	}
	if st.LastUpdate != nil {
		fmt.Printf("  Last update:    %s\n", st.LastUpdate.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Printf("  Tables:         %d/%d completed\n", sum.CompletedTables, sum.TotalTables)
	if sum.TotalRecords > 0 {
		fmt.Printf("  Records:        %d/%d (%.1f%%)\n", sum.MigratedRecords, sum.TotalRecords,
			float64(sum.MigratedRecords)/float64(sum.TotalRecords)*100)
	}
	if sum.ErrorCount > 0 {
		fmt.Printf("  Errors:         %d\n", sum.ErrorCount)
	}

	fmt.Println("\nTable Progress:")
	for _, table := range config.LogicalTables {
		ts, ok := st.Tables[table]
		if !ok {
			continue
		}
		if ts.TotalRecords > 0 {
			pct := float64(ts.RecordsMigrated) / float64(ts.TotalRecords) * 100
			fmt.Printf("  %s: %s (%d/%d records, %.1f%%)\n",
				table, ts.Status, ts.RecordsMigrated, ts.TotalRecords, pct)
		} else {
			fmt.Printf("  %s: %s\n", table, ts.Status)
		}
		for _, entity := range []string{"artists", "albums", "tracks"} {
			ep, ok := ts.Entities[entity]
			if !ok {
				continue
			}
			fmt.Printf("    %s: %d/%d\n", entity, ep.Migrated, ep.Total)
		}
	}

	if len(st.Errors) > 0 {
		fmt.Println("\nRecent Errors:")
		for _, e := range st.Errors {
			if e.Table != "" {
				fmt.Printf("  [%s] %s: %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Table, e.Message)
			} else {
				fmt.Printf("  [%s] %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Message)
			}
		}
	}
	return nil
}

func cmdValidate(args []string) error {

	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	sourcePath := fs.String("source", "", "override the source SQLite database path")
	fs.Parse(args)

	eng, src, err := buildEngine(*sourcePath)
	if err != nil {
		return err
	}
	defer src.Close()

	results, err := eng.Validate(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("Validation Results:")
	for _, table := range config.LogicalTables {
		r := results[table]
		match := "MISMATCH"
		if r.CountMatch {
			match = "ok"
		}
		fmt.Printf("  %s: %s (source=%d target=%d)\n", table, match, r.SourceCount, r.TargetCount)
	}
	return nil
}

func cmdReset(args []string) error {

	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "confirm the reset")
	force := fs.Bool("force", false, "reset without confirmation")
	fs.Parse(args)

	if !*confirm && !*force {
		return errors.New("reset discards all migration progress; re-run with --confirm or --force")
	}

	if err := state.NewStore(state.DefaultFile).Reset(); err != nil {
		return err
	}

	fmt.Println("Migration state reset")
	return nil
}

// buildEngine loads configuration, opens the source database and the target
// store, and assembles the engine. An empty sourceOverride keeps the
// configured source path.
func buildEngine(sourceOverride string) (*engine.Engine, *source.DB, error) {

	cfg, err := config.Load(config.DefaultFile)
	if err != nil {
		return nil, nil, fmt.Errorf("no configuration found, run the init command first: %w", err)
	}

	if sourceOverride != "" {
		cfg.SourceDB = config.AbsSource(sourceOverride)
	}
	if err := cfg.ValidateSource(); err != nil {
		return nil, nil, err
	}

	src, err := source.Open(cfg.SourceDB)
	if err != nil {
		return nil, nil, err
	}

	target, err := dynamo.New(cfg.AWSRegion)
	if err != nil {
		src.Close()
		return nil, nil, err
	}

	states := state.NewStore(state.DefaultFile)

	return engine.New(cfg, states, src, target), src, nil
}
