package migration

// DatabaseType identifies which of the pipeline's two storage backends a
// migration status or path applies to.
type DatabaseType string

const (
	PostgresDB   DatabaseType = "postgres"
	ClickHouseDB DatabaseType = "clickhouse"
)

// MigrationStatus is a point-in-time snapshot of one backend's schema version.
type MigrationStatus struct {
	Database        DatabaseType `json:"database"`
	CurrentVersion  uint         `json:"current_version"`
	IsDirty         bool         `json:"is_dirty"`
	Status          string       `json:"status"` // "healthy", "dirty", "error"
	Error           string       `json:"error,omitempty"`
	MigrationsPath  string       `json:"migrations_path"`
	TotalMigrations int          `json:"total_migrations"`
}

// MigrationInfo reports both backends' status together.
type MigrationInfo struct {
	Postgres   MigrationStatus `json:"postgres"`
	ClickHouse MigrationStatus `json:"clickhouse"`
	Overall    string          `json:"overall_status"`
}
