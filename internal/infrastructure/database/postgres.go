package database

import (
	"database/sql"
	"fmt"
	"log/slog"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"brokle/internal/config"
)

// PostgresDB represents the PostgreSQL connection backing the metadata
// store (the project_api_keys table of API key verifier hashes).
type PostgresDB struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	logger *slog.Logger
}

// NewPostgresDB connects to the Postgres instance addressed by METADATA_STORE_URL.
func NewPostgresDB(cfg *config.Config, logger *slog.Logger) (*PostgresDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.MetadataStore.URL), &gorm.Config{
		Logger:                 gormLogger.Default,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get SQL DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	logger.Info("connected to metadata store postgres")

	return &PostgresDB{DB: db, SqlDB: sqlDB, logger: logger}, nil
}

// Close closes the database connection.
func (p *PostgresDB) Close() error {
	p.logger.Info("closing metadata store postgres connection")
	return p.SqlDB.Close()
}

// Health checks database health, used by DatabaseContainer.HealthCheck.
func (p *PostgresDB) Health() error {
	return p.SqlDB.Ping()
}
