package migration

import (
	"fmt"

	"github.com/BaSui01/callflow/config"
)

// NewMigratorFromConfig creates a migrator for the configured database
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database)
}

// NewMigratorFromDatabaseConfig creates a migrator from database configuration
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	cfg, err := ConfigFromDatabase(dbCfg)
	if err != nil {
		return nil, err
	}
	return NewMigrator(cfg)
}

// ConfigFromDatabase derives the migrator config from database settings
func ConfigFromDatabase(dbCfg config.DatabaseConfig) (*Config, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, err
	}

	sslMode := ""
	if dbType == DatabaseTypePostgres {
		sslMode = dbCfg.SSLMode
	}
	return &Config{
		DatabaseType: dbType,
		DatabaseURL:  BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, sslMode),
		TableName:    "schema_migrations",
	}, nil
}

// NewMigratorFromURL creates a new migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
