package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/clickhouse"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"brokle/internal/config"
)

// postgresMigrationsPath and clickhouseMigrationsPath are fixed relative to
// the process's working directory; this pipeline has exactly two schemas
// and neither needs a configurable location.
const (
	postgresMigrationsPath   = "migrations/postgres"
	clickhouseMigrationsPath = "migrations/clickhouse"
)

// Manager drives golang-migrate against the metadata store (Postgres) and
// the columnar store (ClickHouse), per spec.md §6's two storage backends.
type Manager struct {
	config           *config.Config
	logger           *logrus.Logger
	postgresRunner   *migrate.Migrate
	clickhouseRunner *migrate.Migrate
	postgresConn     *sql.DB
}

// NewManager opens both migration runners against METADATA_STORE_URL and
// COLUMNAR_STORE_URL.
func NewManager(cfg *config.Config) (*Manager, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	// The migration CLI should only print errors and warnings, regardless
	// of LOG_LEVEL, to keep its output readable.
	logger.SetLevel(logrus.WarnLevel)

	m := &Manager{config: cfg, logger: logger}

	if err := m.initPostgresRunner(); err != nil {
		return nil, fmt.Errorf("failed to initialize postgres runner: %w", err)
	}
	if err := m.initClickHouseRunner(); err != nil {
		return nil, fmt.Errorf("failed to initialize clickhouse runner: %w", err)
	}

	return m, nil
}

func (m *Manager) initPostgresRunner() error {
	conn, err := sql.Open("postgres", m.config.MetadataStore.URL)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	m.postgresConn = conn

	driver, err := postgres.WithInstance(conn, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	runner, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", postgresMigrationsPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create postgres migration runner: %w", err)
	}

	m.postgresRunner = runner
	return nil
}

func (m *Manager) initClickHouseRunner() error {
	runner, err := migrate.New(
		fmt.Sprintf("file://%s", clickhouseMigrationsPath),
		m.config.ColumnarStore.URL,
	)
	if err != nil {
		return fmt.Errorf("failed to create clickhouse migration runner: %w", err)
	}

	m.clickhouseRunner = runner
	return nil
}

func (m *Manager) getMigrationsPath(dbType DatabaseType) string {
	switch dbType {
	case PostgresDB:
		return postgresMigrationsPath
	case ClickHouseDB:
		return clickhouseMigrationsPath
	default:
		return "migrations"
	}
}

// MigratePostgresUp applies pending postgres migrations. steps<=0 applies all.
func (m *Manager) MigratePostgresUp(ctx context.Context, steps int, dryRun bool) error {
	if dryRun {
		m.logger.Info("dry run: would apply postgres migrations up")
		return nil
	}
	var err error
	if steps > 0 {
		err = m.postgresRunner.Steps(steps)
	} else {
		err = m.postgresRunner.Up()
	}
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("postgres migrate up: %w", err)
	}
	return nil
}

// MigratePostgresDown rolls back postgres migrations. steps<=0 rolls back all.
func (m *Manager) MigratePostgresDown(ctx context.Context, steps int, dryRun bool) error {
	if dryRun {
		m.logger.Info("dry run: would roll back postgres migrations")
		return nil
	}
	var err error
	if steps > 0 {
		err = m.postgresRunner.Steps(-steps)
	} else {
		err = m.postgresRunner.Down()
	}
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("postgres migrate down: %w", err)
	}
	return nil
}

// MigrateClickHouseUp applies pending clickhouse migrations. steps<=0 applies all.
func (m *Manager) MigrateClickHouseUp(ctx context.Context, steps int, dryRun bool) error {
	if dryRun {
		m.logger.Info("dry run: would apply clickhouse migrations up")
		return nil
	}
	var err error
	if steps > 0 {
		err = m.clickhouseRunner.Steps(steps)
	} else {
		err = m.clickhouseRunner.Up()
	}
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("clickhouse migrate up: %w", err)
	}
	return nil
}

// MigrateClickHouseDown rolls back clickhouse migrations. steps<=0 rolls back all.
func (m *Manager) MigrateClickHouseDown(ctx context.Context, steps int, dryRun bool) error {
	if dryRun {
		m.logger.Info("dry run: would roll back clickhouse migrations")
		return nil
	}
	var err error
	if steps > 0 {
		err = m.clickhouseRunner.Steps(-steps)
	} else {
		err = m.clickhouseRunner.Down()
	}
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("clickhouse migrate down: %w", err)
	}
	return nil
}

// ShowPostgresStatus prints the current postgres schema version.
func (m *Manager) ShowPostgresStatus(ctx context.Context) error {
	version, dirty, err := m.postgresRunner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get postgres version: %w", err)
	}

	fmt.Printf("postgres: version=%d dirty=%t migrations=%d path=%s\n",
		version, dirty, m.countMigrations(postgresMigrationsPath), postgresMigrationsPath)
	return nil
}

// ShowClickHouseStatus prints the current clickhouse schema version.
func (m *Manager) ShowClickHouseStatus(ctx context.Context) error {
	version, dirty, err := m.clickhouseRunner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get clickhouse version: %w", err)
	}

	fmt.Printf("clickhouse: version=%d dirty=%t migrations=%d path=%s\n",
		version, dirty, m.countMigrations(clickhouseMigrationsPath), clickhouseMigrationsPath)
	return nil
}

// GetMigrationInfo returns a structured snapshot of both schemas' status.
func (m *Manager) GetMigrationInfo() (*MigrationInfo, error) {
	info := &MigrationInfo{}

	pgVersion, pgDirty, err := m.postgresRunner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		info.Postgres.Status = "error"
		info.Postgres.Error = err.Error()
	} else {
		info.Postgres = MigrationStatus{
			Database:        PostgresDB,
			CurrentVersion:  pgVersion,
			IsDirty:         pgDirty,
			MigrationsPath:  postgresMigrationsPath,
			TotalMigrations: m.countMigrations(postgresMigrationsPath),
			Status:          m.getHealthStatus(nil, pgDirty),
		}
	}

	chVersion, chDirty, err := m.clickhouseRunner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		info.ClickHouse.Status = "error"
		info.ClickHouse.Error = err.Error()
	} else {
		info.ClickHouse = MigrationStatus{
			Database:        ClickHouseDB,
			CurrentVersion:  chVersion,
			IsDirty:         chDirty,
			MigrationsPath:  clickhouseMigrationsPath,
			TotalMigrations: m.countMigrations(clickhouseMigrationsPath),
			Status:          m.getHealthStatus(nil, chDirty),
		}
	}

	switch {
	case info.Postgres.Status == "error" || info.ClickHouse.Status == "error":
		info.Overall = "error"
	case info.Postgres.Status == "dirty" || info.ClickHouse.Status == "dirty":
		info.Overall = "dirty"
	default:
		info.Overall = "healthy"
	}

	return info, nil
}

// HealthCheck reports both schemas' status for monitoring, per spec.md §6.
func (m *Manager) HealthCheck() map[string]interface{} {
	health := make(map[string]interface{})

	pgVersion, pgDirty, pgErr := m.postgresRunner.Version()
	if pgErr == migrate.ErrNilVersion {
		pgErr = nil
	}
	health["postgres"] = map[string]interface{}{
		"status":          m.getHealthStatus(pgErr, pgDirty),
		"current_version": pgVersion,
		"dirty":           pgDirty,
	}

	chVersion, chDirty, chErr := m.clickhouseRunner.Version()
	if chErr == migrate.ErrNilVersion {
		chErr = nil
	}
	health["clickhouse"] = map[string]interface{}{
		"status":          m.getHealthStatus(chErr, chDirty),
		"current_version": chVersion,
		"dirty":           chDirty,
	}

	if pgErr == nil && chErr == nil && !pgDirty && !chDirty {
		health["overall_status"] = "healthy"
	} else {
		health["overall_status"] = "unhealthy"
	}

	return health
}

func (m *Manager) getHealthStatus(err error, dirty bool) string {
	if err != nil {
		return "error"
	}
	if dirty {
		return "dirty"
	}
	return "healthy"
}

// GotoPostgres migrates postgres to a specific schema version.
func (m *Manager) GotoPostgres(version uint) error {
	current, _, err := m.postgresRunner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return err
	}
	steps := int(version) - int(current)
	if steps == 0 {
		return nil
	}
	return m.postgresRunner.Steps(steps)
}

// GotoClickHouse migrates clickhouse to a specific schema version.
func (m *Manager) GotoClickHouse(version uint) error {
	current, _, err := m.clickhouseRunner.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return err
	}
	steps := int(version) - int(current)
	if steps == 0 {
		return nil
	}
	return m.clickhouseRunner.Steps(steps)
}

// ForcePostgres sets the postgres schema version without running migrations.
func (m *Manager) ForcePostgres(version int) error {
	return m.postgresRunner.Force(version)
}

// ForceClickHouse sets the clickhouse schema version without running migrations.
func (m *Manager) ForceClickHouse(version int) error {
	return m.clickhouseRunner.Force(version)
}

// DropPostgres drops every table in the metadata store.
func (m *Manager) DropPostgres() error {
	return m.postgresRunner.Drop()
}

// DropClickHouse drops every table in the columnar store.
func (m *Manager) DropClickHouse() error {
	return m.clickhouseRunner.Drop()
}

// StepsPostgres runs n postgres migration steps (negative rolls back).
func (m *Manager) StepsPostgres(n int) error {
	return m.postgresRunner.Steps(n)
}

// StepsClickHouse runs n clickhouse migration steps (negative rolls back).
func (m *Manager) StepsClickHouse(n int) error {
	return m.clickhouseRunner.Steps(n)
}

// CreatePostgresMigration scaffolds a timestamped up/down pair for the metadata store.
func (m *Manager) CreatePostgresMigration(name string) error {
	return m.createMigrationFiles(postgresMigrationsPath, name, "")
}

// CreateClickHouseMigration scaffolds a timestamped up/down pair for the columnar store.
func (m *Manager) CreateClickHouseMigration(name string) error {
	return m.createMigrationFiles(clickhouseMigrationsPath, name, "ClickHouse ")
}

func (m *Manager) createMigrationFiles(migrationsPath, name, label string) error {
	if err := os.MkdirAll(migrationsPath, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	upFile := filepath.Join(migrationsPath, fmt.Sprintf("%s_%s.up.sql", timestamp, name))
	downFile := filepath.Join(migrationsPath, fmt.Sprintf("%s_%s.down.sql", timestamp, name))

	if err := os.WriteFile(upFile, []byte(fmt.Sprintf("-- %sMigration: %s\n", label, name)), 0644); err != nil {
		return fmt.Errorf("failed to create up migration file: %w", err)
	}
	if err := os.WriteFile(downFile, []byte(fmt.Sprintf("-- %sRollback: %s\n", label, name)), 0644); err != nil {
		return fmt.Errorf("failed to create down migration file: %w", err)
	}

	fmt.Printf("migration files created:\n  up:   %s\n  down: %s\n", upFile, downFile)
	return nil
}

// Shutdown releases both migration runners and the raw postgres connection.
func (m *Manager) Shutdown() error {
	var lastErr error

	if m.postgresRunner != nil {
		if _, err := m.postgresRunner.Close(); err != nil {
			m.logger.WithError(err).Error("failed to close postgres migration runner")
			lastErr = err
		}
	}
	if m.clickhouseRunner != nil {
		if _, err := m.clickhouseRunner.Close(); err != nil {
			m.logger.WithError(err).Error("failed to close clickhouse migration runner")
			lastErr = err
		}
	}
	if m.postgresConn != nil {
		if err := m.postgresConn.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

func (m *Manager) countMigrations(migrationsPath string) int {
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return 0
	}

	count := 0
	filepath.WalkDir(migrationsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".up.sql") {
			count++
		}
		return nil
	})

	return count
}
