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
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

type defaultDatabaseManager struct {
	config          *ConnectionConfig
	db              *bun.DB
	sqlDB           *sql.DB
	executor        *BunExecutor
	hooks           []QueryHook
	logger          Logger
	mu              sync.RWMutex
	connected       bool
	lastError       error
	lastHealthCheck time.Time
	healthStatus    *HealthStatus
	reconnectTries  atomic.Int32

	healthMu   sync.Mutex
	healthStop chan struct{}
	healthWG   sync.WaitGroup
}

// NewDatabaseManager returns an AbstractDatabaseManager backed by Bun. A nil
// config means DefaultConnectionConfig.
func NewDatabaseManager(config *ConnectionConfig, hooks ...QueryHook) AbstractDatabaseManager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	return &defaultDatabaseManager{
		config:       config,
		hooks:        hooks,
		healthStatus: &HealthStatus{},
	}
}

func (dm *defaultDatabaseManager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.connected && dm.db != nil {
		return nil
	}

	var err error
	dm.sqlDB, dm.db, err = dm.createConnection()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	dm.configureConnectionPool()

	ctxTimeout, cancel := context.WithTimeout(ctx, dm.config.ConnectTimeout)
	defer cancel()

	if err := dm.db.PingContext(ctxTimeout); err != nil {
		dm.lastError = err
		_ = dm.db.Close()
		dm.db, dm.sqlDB = nil, nil
		return fmt.Errorf("database connection test failed: %w", err)
	}

	if dm.executor == nil {
		dm.executor = NewExecutor(dm.db, dm.executorHooks()...)
		dm.executor.SetLogger(dm.log())
	} else {
		dm.executor.setDB(dm.db)
	}

	dm.connected = true
	dm.lastError = nil
	dm.reconnectTries.Store(0)

	if dm.config.HealthCheckInterval > 0 {
		dm.startHealthCheck()
	}

	dm.log().Info("Database connected successfully", "type", dm.config.Type, "host", dm.config.Host, "dbname", dm.config.DBName)
	return nil
}

func (dm *defaultDatabaseManager) log() Logger {
	return SafeLog(dm.logger)
}

func (dm *defaultDatabaseManager) executorHooks() []QueryHook {
	hooks := make([]QueryHook, 0, len(dm.hooks)+2)
	if dm.config.EnableQueryLog {
		hooks = append(hooks, NewConsoleHook(WithConsoleVerbose(true)))
	}
	if dm.config.SlowQueryTime > 0 {
		hooks = append(hooks, NewSlowQueryHook(dm.config.SlowQueryTime, dm.logger))
	}
	return append(hooks, dm.hooks...)
}

func (dm *defaultDatabaseManager) createConnection() (*sql.DB, *bun.DB, error) {
	var sqlDB *sql.DB
	var db *bun.DB
	var err error

	if dm.config.ConnectTimeout <= 0 {
		dm.config.ConnectTimeout = 30 * time.Second
	}

	switch dm.config.Type {
	case "mysql":
		sqlDB, db, err = dm.createMySQLConnection()
	case "postgres", "postgresql":
		sqlDB, db, err = dm.createPostgreSQLConnection()
	case "sqlite", "sqlite3":
		sqlDB, db, err = dm.createSQLiteConnection()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", dm.config.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	// bun only sees transaction control; statements are logged by the executor hooks.
	if dm.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	return sqlDB, db, nil
}

func (dm *defaultDatabaseManager) createMySQLConnection() (*sql.DB, *bun.DB, error) {
	charset := dm.config.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=UTC&timeout=%s&readTimeout=%s&writeTimeout=%s",
		dm.config.Username,
		dm.config.Password,
		dm.config.Host,
		dm.config.Port,
		dm.config.DBName,
		charset,
		dm.config.ConnectTimeout,
		dm.config.ReadTimeout,
		dm.config.WriteTimeout,
	)

	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, mysqldialect.New()), nil
}

func (dm *defaultDatabaseManager) createPostgreSQLConnection() (*sql.DB, *bun.DB, error) {
	sslMode := dm.config.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		dm.config.Username,
		dm.config.Password,
		dm.config.Host,
		dm.config.Port,
		dm.config.DBName,
		sslMode,
		int(dm.config.ConnectTimeout.Seconds()),
	)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, pgdialect.New()), nil
}

func (dm *defaultDatabaseManager) createSQLiteConnection() (*sql.DB, *bun.DB, error) {
	sqlDB, err := sql.Open(sqliteshim.ShimName, sqliteDSN(dm.config.DBName))
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

// sqliteDSN keeps URIs and ":memory:" as they are and maps a bare name to
// "<name>.db".
func sqliteDSN(name string) string {
	switch {
	case name == ":memory:", strings.HasPrefix(name, "file:"), strings.HasSuffix(name, ".db"):
		return name
	default:
		return fmt.Sprintf("%s.db", name)
	}
}

func isSQLiteMemory(name string) bool {
	return name == ":memory:" || strings.Contains(name, "mode=memory")
}

func (dm *defaultDatabaseManager) configureConnectionPool() {
	if dm.sqlDB == nil {
		return
	}

	// An in-memory SQLite database lives as long as its one connection.
	if (dm.config.Type == "sqlite" || dm.config.Type == "sqlite3") && isSQLiteMemory(dm.config.DBName) {
		dm.sqlDB.SetMaxOpenConns(1)
		dm.sqlDB.SetMaxIdleConns(1)
		dm.sqlDB.SetConnMaxLifetime(0)
		dm.sqlDB.SetConnMaxIdleTime(0)
		return
	}

	dm.sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	dm.sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	dm.sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	dm.sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

// Disconnect stops the health check and closes the pool. It returns once the
// health-check goroutine has exited.
func (dm *defaultDatabaseManager) Disconnect() error {
	dm.stopHealthCheck()
	return dm.closeConnection()
}

func (dm *defaultDatabaseManager) closeConnection() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db == nil {
		return nil
	}

	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	dm.connected = false
	if dm.executor != nil {
		dm.executor.setDB(nil)
	}

	if err != nil {
		dm.log().Error("Failed to close database connection", "error", err)
	} else {
		dm.log().Info("Database connection closed")
	}
	return err
}

// Reconnect replaces the pool. Executors handed out earlier switch to the
// new pool.
func (dm *defaultDatabaseManager) Reconnect(ctx context.Context) error {
	dm.log().Info("Attempting to reconnect to the database")

	if err := dm.closeConnection(); err != nil {
		dm.log().Warn("Error disconnecting existing connection", "error", err)
	}
	return dm.Connect(ctx)
}

func (dm *defaultDatabaseManager) Ping(ctx context.Context) error {
	dm.mu.RLock()
	db := dm.db
	dm.mu.RUnlock()

	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

func (dm *defaultDatabaseManager) GetDB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *defaultDatabaseManager) GetSQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

// GetExecutor returns the statement executor, nil before the first Connect.
func (dm *defaultDatabaseManager) GetExecutor() *BunExecutor {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.executor
}

func (dm *defaultDatabaseManager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{
		LastCheckTime: start,
		Connected:     dm.connected,
	}

	if dm.db == nil {
		status.Healthy = false
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := dm.db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)

	if err != nil {
		status.Healthy = false
		status.Connected = false
		status.LastError = err.Error()
		dm.lastError = err
	} else {
		status.Healthy = true
		status.Connected = true
		dm.lastError = nil
	}

	if dm.sqlDB != nil {
		stats := dm.sqlDB.Stats()
		status.ActiveConns = stats.InUse
		status.IdleConns = stats.Idle
		status.MaxOpenConns = stats.MaxOpenConnections
	}

	dm.healthStatus = status
	dm.lastHealthCheck = start
	return status
}

func (dm *defaultDatabaseManager) startHealthCheck() {
	dm.healthMu.Lock()
	defer dm.healthMu.Unlock()
	if dm.healthStop != nil {
		return
	}

	stop := make(chan struct{})
	dm.healthStop = stop
	dm.healthWG.Add(1)
	go func() {
		defer dm.healthWG.Done()
		ticker := time.NewTicker(dm.config.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
				status := dm.HealthCheck(ctx)
				cancel()
				if !status.Healthy && dm.config.EnableReconnect {
					dm.handleReconnect(stop)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (dm *defaultDatabaseManager) stopHealthCheck() {
	dm.healthMu.Lock()
	stop := dm.healthStop
	dm.healthStop = nil
	dm.healthMu.Unlock()

	if stop != nil {
		close(stop)
		dm.healthWG.Wait()
	}
}

func (dm *defaultDatabaseManager) handleReconnect(stop <-chan struct{}) {
	tries := dm.reconnectTries.Load()
	if int(tries) >= dm.config.MaxReconnectTries {
		dm.log().Error("Max reconnect attempts reached, stopping", "tries", tries)
		return
	}

	tries = dm.reconnectTries.Add(1)
	dm.log().Info("Starting database reconnect", "try", tries)

	select {
	case <-time.After(dm.config.ReconnectInterval):
	case <-stop:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dm.config.ConnectTimeout)
	defer cancel()

	if err := dm.Reconnect(ctx); err != nil {
		dm.log().Error("Reconnect failed", "error", err, "try", tries)
		return
	}
	dm.log().Info("Reconnect succeeded")
}

func (dm *defaultDatabaseManager) GetStats() *DBStats {
	dm.mu.RLock()
	sqlDB := dm.sqlDB
	dm.mu.RUnlock()

	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}

// RunMigrations creates the ledger and applies migrations in version order.
func (dm *defaultDatabaseManager) RunMigrations(ctx context.Context, migrations []Migration, opts ...MigrationOption) error {
	exec := dm.GetExecutor()
	if exec == nil || exec.Bun() == nil {
		return fmt.Errorf("database not initialized")
	}
	return NewMigrationManager(exec, dm.logger, opts...).RunMigrations(ctx, migrations)
}

func (dm *defaultDatabaseManager) SetLogger(logger Logger) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.logger = logger
	if dm.executor != nil {
		dm.executor.SetLogger(SafeLog(logger))
	}
}
