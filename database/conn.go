/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/uptrace/bun"

	"github.com/tomoncle/crudkit/utils"
)

var (
	globalMu      sync.RWMutex
	globalFactory *BaseDatabaseFactory
	globalConfig  *Config
)

// GetDB returns the global Bun database instance.
func GetDB() *bun.DB {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetDB()
	}
	return nil
}

// GetExecutor returns the global statement executor. It is nil until InitDB
// succeeds.
func GetExecutor() *BunExecutor {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetExecutor()
	}
	return nil
}

// GetDatabaseManager returns the global database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetManager()
	}
	return nil
}

// GetDatabaseFactory returns the global database factory.
func GetDatabaseFactory() *BaseDatabaseFactory {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalFactory
}

// GetConfig returns the configuration passed to InitDB.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// InitDB initializes the global database using the provided configuration.
func InitDB(cfg *Config, hooks ...QueryHook) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	return InitDatabaseWithOptions(cfg, cfg.DataMigrateConfig.EnableMigrateOnStartup, hooks...)
}

// InitDatabaseWithOptions initializes the global database and optionally runs
// the registered and on-disk migrations.
func InitDatabaseWithOptions(cfg *Config, runMigrations bool, hooks ...QueryHook) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	if cfg.LogConfig.Format != "" {
		utils.ConfigureConsoleLogFormat(cfg.LogConfig.Format)
	}
	if cfg.LogConfig.Level != "" {
		utils.ConfigureLogLevel(cfg.LogConfig.Level)
	}

	factory := NewDatabaseFactory()
	manager, err := factory.CreateFromConfig(&cfg.ConnectionConfig, hooks...)
	if err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}

	var migrations []Migration
	if runMigrations {
		if migrations, err = CollectMigrations(cfg); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	if err := factory.InitializeDatabase(ctx, migrations, WithLedgerTable(cfg.DataMigrateConfig.LedgerTable)); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	globalMu.Lock()
	previous := globalFactory
	globalFactory = factory
	globalConfig = cfg
	globalMu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return manager.GetDB(), nil
}

// CollectMigrations merges the registered migrations with the SQL files in
// cfg.DataMigrateConfig.Dir. Files win over registered migrations of the same
// version.
func CollectMigrations(cfg *Config) ([]Migration, error) {
	registered := RegisteredMigrations()
	dir := cfg.DataMigrateConfig.Dir
	if dir == "" {
		return registered, nil
	}
	fromFiles, err := LoadMigrations(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations from %s: %w", dir, err)
	}
	return MergeMigrations(registered, fromFiles), nil
}

// CloseDB closes the global database connection.
func CloseDB() error {
	globalMu.Lock()
	f := globalFactory
	globalFactory = nil
	globalMu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}

// GetHealthStatus returns the current database health status.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetHealthStatus(ctx)
	}
	return &HealthStatus{
		Healthy:   false,
		Connected: false,
		LastError: "Database not initialized",
	}
}

// GetDatabaseStats returns global database statistics.
func GetDatabaseStats() *DBStats {
	if f := GetDatabaseFactory(); f != nil {
		return f.GetStats()
	}
	return &DBStats{}
}

// RunMigrations applies the configured migrations on the global database.
func RunMigrations(ctx context.Context) error {
	f, cfg := GetDatabaseFactory(), GetConfig()
	if f == nil || f.GetManager() == nil || cfg == nil {
		return fmt.Errorf("database not initialized")
	}
	migrations, err := CollectMigrations(cfg)
	if err != nil {
		return err
	}
	return f.GetManager().RunMigrations(ctx, migrations, WithLedgerTable(cfg.DataMigrateConfig.LedgerTable))
}

// MigrationStatuses reports the configured migrations against the global
// database's ledger.
func MigrationStatuses(ctx context.Context) ([]MigrationStatus, error) {
	exec, cfg := GetExecutor(), GetConfig()
	if exec == nil || cfg == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	migrations, err := CollectMigrations(cfg)
	if err != nil {
		return nil, err
	}
	mm := NewMigrationManager(exec, GetLogger(), WithLedgerTable(cfg.DataMigrateConfig.LedgerTable))
	return mm.Status(ctx, migrations)
}
