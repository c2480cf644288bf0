// Package main is the migration CLI for the pipeline's sidecar schema. The
// migration files are embedded, so the binary runs standalone in a deploy
// step: up, down, status and version, plus a guarded drop.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

// Set at build time via -ldflags.
var (
	Version   = "1.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const name = "migrator"

func main() {
	help := flag.Bool("help", false, "show usage")
	showVersion := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s (commit %s, built %s)\n", name, Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	if *help || flag.NArg() == 0 {
		printUsage()
		os.Exit(0)
	}

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}

	defer func() {
		_ = runner.Close()
	}()

	if err := executeCommand(flag.Arg(0), runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

// executeCommand dispatches one CLI command to the runner. Unknown commands
// error without touching the database.
func executeCommand(command string, runner MigrationRunner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "version":
		return runner.Version()
	case "drop":
		return confirmDrop(runner)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// confirmDrop asks on stdin before dropping; anything but y cancels.
func confirmDrop(runner MigrationRunner) error {
	fmt.Print("This drops every table in the schema. Continue? (y/N): ")

	var answer string

	_, _ = fmt.Scanln(&answer)

	if answer != "y" && answer != "Y" {
		fmt.Println("Cancelled.")

		return nil
	}

	return runner.Drop()
}

func printUsage() {
	fmt.Printf(`%s v%s - sidecar schema migrations

Usage:
    %s [flags] <command>

Commands:
    up       apply all pending migrations
    down     roll back the last migration
    status   show applied and pending migrations
    version  show the current schema version
    drop     drop all tables (asks for confirmation)

Flags:
    --help     show this message
    --version  show version information

Environment:
    DATABASE_URL     PostgreSQL connection string (required)
    MIGRATION_TABLE  version tracking table (default: schema_migrations)
`, name, Version, name)
}
