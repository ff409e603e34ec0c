// Package main is the migration CLI for the pipeline's two storage
// backends: the Postgres metadata store and the ClickHouse columnar store.
//
// Usage:
//
//	migrate up                         run all pending migrations
//	migrate down                       roll back 1 migration
//	migrate down -steps 5              roll back 5 migrations
//	migrate -db postgres up            migrate only the metadata store
//	migrate -db clickhouse up          migrate only the columnar store
//	migrate status                     show schema version for both
//	migrate goto -version 5            migrate to a specific version
//	migrate force -version 3           force a version without running migrations
//	migrate drop                       drop all tables (destructive)
//	migrate steps -steps 2             run 2 migration steps (negative rolls back)
//	migrate info                       show detailed status for both backends
//	migrate create -name add_spans -db clickhouse
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"brokle/internal/config"
	"brokle/internal/migration"
)

type migrateFlags struct {
	Database string
	Steps    int
	Version  int
	Name     string
	DryRun   bool
}

func parseFlags(args []string) (*migrateFlags, string, error) {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" || arg == "help" {
			return nil, "help", nil
		}
	}
	if len(args) == 0 {
		return nil, "", fmt.Errorf("no command specified")
	}

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	flags := &migrateFlags{}
	fs.StringVar(&flags.Database, "db", "all", "database to target: all, postgres, clickhouse")
	fs.IntVar(&flags.Steps, "steps", 0, "number of migration steps (0 = all)")
	fs.IntVar(&flags.Version, "version", 0, "target version for goto/force")
	fs.StringVar(&flags.Name, "name", "", "migration name for create")
	fs.BoolVar(&flags.DryRun, "dry-run", false, "show what would run without executing")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		return nil, "", fmt.Errorf("no command specified")
	}
	command := remaining[0]

	if len(remaining) > 1 {
		if err := fs.Parse(remaining[1:]); err != nil {
			return nil, "", err
		}
	}

	return flags, command, nil
}

func main() {
	flags, command, err := parseFlags(os.Args[1:])
	if err != nil {
		log.Fatalf("error parsing flags: %v", err)
	}

	if command == "help" || command == "" {
		printUsage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	manager, err := migration.NewManager(cfg)
	if err != nil {
		log.Fatalf("failed to initialize migration manager: %v", err)
	}
	defer manager.Shutdown()

	ctx := context.Background()

	switch command {
	case "up":
		if err := runMigrations(ctx, manager, flags.Database, "up", flags.Steps, flags.DryRun); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		fmt.Println("migrations completed")

	case "down":
		steps := flags.Steps
		if steps == 0 {
			steps = 1
		}
		if !confirmDestructive(fmt.Sprintf("roll back %d migration(s)", steps)) {
			fmt.Println("cancelled")
			return
		}
		if err := runMigrations(ctx, manager, flags.Database, "down", steps, flags.DryRun); err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		fmt.Println("rollback completed")

	case "status":
		if err := showStatus(ctx, manager, flags.Database); err != nil {
			log.Fatalf("failed to show status: %v", err)
		}

	case "goto":
		if flags.Version == 0 {
			log.Fatal("-version is required for goto")
		}
		if !confirmDestructive(fmt.Sprintf("migrate to version %d", flags.Version)) {
			fmt.Println("cancelled")
			return
		}
		if err := gotoVersion(manager, flags.Database, uint(flags.Version)); err != nil {
			log.Fatalf("goto failed: %v", err)
		}
		fmt.Printf("migrated to version %d\n", flags.Version)

	case "force":
		if flags.Version == 0 {
			log.Fatal("-version is required for force")
		}
		if !confirmDestructive(fmt.Sprintf("force schema version to %d (dangerous)", flags.Version)) {
			fmt.Println("cancelled")
			return
		}
		if err := forceVersion(manager, flags.Database, flags.Version); err != nil {
			log.Fatalf("force failed: %v", err)
		}
		fmt.Printf("forced version to %d\n", flags.Version)

	case "drop":
		if !confirmDestructive("drop all tables (permanent data loss)") {
			fmt.Println("cancelled")
			return
		}
		if err := dropTables(manager, flags.Database); err != nil {
			log.Fatalf("drop failed: %v", err)
		}
		fmt.Println("tables dropped")

	case "steps":
		if flags.Steps == 0 {
			log.Fatal("-steps is required for steps")
		}
		if flags.Steps < 0 && !confirmDestructive(fmt.Sprintf("roll back %d migration steps", -flags.Steps)) {
			fmt.Println("cancelled")
			return
		}
		if err := runSteps(manager, flags.Database, flags.Steps); err != nil {
			log.Fatalf("steps failed: %v", err)
		}
		fmt.Printf("ran %d migration steps\n", flags.Steps)

	case "info":
		if err := showDetailedInfo(manager); err != nil {
			log.Fatalf("failed to get migration info: %v", err)
		}

	case "create":
		if flags.Name == "" {
			log.Fatal("-name is required for create")
		}
		if err := createMigration(manager, flags.Database, flags.Name); err != nil {
			log.Fatalf("create failed: %v", err)
		}

	default:
		fmt.Printf("unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func confirmDestructive(operation string) bool {
	fmt.Printf("about to %s. This cannot be undone.\n", operation)
	fmt.Print("type 'yes' to confirm: ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes"
}

func runMigrations(ctx context.Context, manager *migration.Manager, database, direction string, steps int, dryRun bool) error {
	switch database {
	case "postgres":
		if direction == "up" {
			return manager.MigratePostgresUp(ctx, steps, dryRun)
		}
		return manager.MigratePostgresDown(ctx, steps, dryRun)
	case "clickhouse":
		if direction == "up" {
			return manager.MigrateClickHouseUp(ctx, steps, dryRun)
		}
		return manager.MigrateClickHouseDown(ctx, steps, dryRun)
	case "all":
		if direction == "up" {
			if err := manager.MigratePostgresUp(ctx, steps, dryRun); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			return manager.MigrateClickHouseUp(ctx, steps, dryRun)
		}
		if err := manager.MigrateClickHouseDown(ctx, steps, dryRun); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		return manager.MigratePostgresDown(ctx, steps, dryRun)
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func showStatus(ctx context.Context, manager *migration.Manager, database string) error {
	switch database {
	case "postgres":
		return manager.ShowPostgresStatus(ctx)
	case "clickhouse":
		return manager.ShowClickHouseStatus(ctx)
	case "all":
		if err := manager.ShowPostgresStatus(ctx); err != nil {
			fmt.Printf("error getting postgres status: %v\n", err)
		}
		if err := manager.ShowClickHouseStatus(ctx); err != nil {
			fmt.Printf("error getting clickhouse status: %v\n", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func gotoVersion(manager *migration.Manager, database string, version uint) error {
	switch database {
	case "postgres":
		return manager.GotoPostgres(version)
	case "clickhouse":
		return manager.GotoClickHouse(version)
	case "all":
		if err := manager.GotoPostgres(version); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return manager.GotoClickHouse(version)
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func forceVersion(manager *migration.Manager, database string, version int) error {
	switch database {
	case "postgres":
		return manager.ForcePostgres(version)
	case "clickhouse":
		return manager.ForceClickHouse(version)
	case "all":
		if err := manager.ForcePostgres(version); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return manager.ForceClickHouse(version)
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func dropTables(manager *migration.Manager, database string) error {
	switch database {
	case "postgres":
		return manager.DropPostgres()
	case "clickhouse":
		return manager.DropClickHouse()
	case "all":
		if err := manager.DropClickHouse(); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
		return manager.DropPostgres()
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func runSteps(manager *migration.Manager, database string, steps int) error {
	switch database {
	case "postgres":
		return manager.StepsPostgres(steps)
	case "clickhouse":
		return manager.StepsClickHouse(steps)
	case "all":
		if err := manager.StepsPostgres(steps); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return manager.StepsClickHouse(steps)
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func showDetailedInfo(manager *migration.Manager) error {
	info, err := manager.GetMigrationInfo()
	if err != nil {
		return err
	}

	fmt.Println("postgres:")
	fmt.Printf("  status: %s\n", info.Postgres.Status)
	fmt.Printf("  version: %d dirty=%v\n", info.Postgres.CurrentVersion, info.Postgres.IsDirty)
	fmt.Printf("  path: %s\n", info.Postgres.MigrationsPath)
	if info.Postgres.Error != "" {
		fmt.Printf("  error: %s\n", info.Postgres.Error)
	}

	fmt.Println("clickhouse:")
	fmt.Printf("  status: %s\n", info.ClickHouse.Status)
	fmt.Printf("  version: %d dirty=%v\n", info.ClickHouse.CurrentVersion, info.ClickHouse.IsDirty)
	fmt.Printf("  path: %s\n", info.ClickHouse.MigrationsPath)
	if info.ClickHouse.Error != "" {
		fmt.Printf("  error: %s\n", info.ClickHouse.Error)
	}

	fmt.Printf("overall: %s\n", info.Overall)
	return nil
}

func createMigration(manager *migration.Manager, database, name string) error {
	switch database {
	case "postgres":
		return manager.CreatePostgresMigration(name)
	case "clickhouse":
		return manager.CreateClickHouseMigration(name)
	case "all":
		if err := manager.CreatePostgresMigration(name); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		return manager.CreateClickHouseMigration(name)
	default:
		return fmt.Errorf("unknown database: %s", database)
	}
}

func printUsage() {
	fmt.Println("migrate <command> [flags]")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  up                    run all pending migrations")
	fmt.Println("  down                  roll back 1 migration (-steps for more)")
	fmt.Println("  status                show schema version for both backends")
	fmt.Println("  goto -version N       migrate to a specific version")
	fmt.Println("  force -version N      force a version without running migrations")
	fmt.Println("  drop                  drop all tables (destructive)")
	fmt.Println("  steps -steps N        run N migration steps (negative rolls back)")
	fmt.Println("  info                  show detailed status for both backends")
	fmt.Println("  create -name NAME     scaffold a new migration file pair")
	fmt.Println()
	fmt.Println("flags:")
	fmt.Println("  -db string       all, postgres, or clickhouse (default: all)")
	fmt.Println("  -steps int       number of migration steps")
	fmt.Println("  -version int     target version for goto/force")
	fmt.Println("  -name string     migration name for create")
	fmt.Println("  -dry-run         show what would run without executing")
}
