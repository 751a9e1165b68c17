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

// Package crudkit wires the database, repository and metrics packages into
// table-level services over one global connection.
//
//	cfg, _ := database.LoadConfig("crudkit.yaml")
//	if err := crudkit.Open(cfg, nil); err != nil { ... }
//	defer crudkit.Close()
//
//	users := crudkit.NewService[User, CreateUser, UpdateUser]("users", MapUser)
//	u, err := users.Save(ctx, CreateUser{Name: "alice"})
package crudkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/metrics"
)

var (
	metricsMu     sync.RWMutex
	globalMetrics *metrics.Metrics
)

// Open initializes the global database from cfg and, when enabled, applies
// the configured migrations. With metrics enabled the collectors are
// registered on reg (the default registerer when nil) the first time, then
// attached to every statement and to every service.
func Open(cfg *database.Config, reg prometheus.Registerer, hooks ...database.QueryHook) error {
	if cfg == nil {
		return fmt.Errorf("database configuration cannot be empty")
	}

	if cfg.MetricsConfig.Enabled {
		metricsMu.Lock()
		if globalMetrics == nil {
			globalMetrics = metrics.NewMetrics(reg, cfg.MetricsConfig.Namespace)
		}
		hooks = append(hooks, globalMetrics)
		metricsMu.Unlock()
	}

	if _, err := database.InitDB(cfg, hooks...); err != nil {
		return err
	}
	return nil
}

// Close closes the global database.
func Close() error {
	return database.CloseDB()
}

// Metrics returns the collectors registered by Open, or nil when metrics are
// disabled.
func Metrics() *metrics.Metrics {
	return currentMetrics()
}

func currentMetrics() *metrics.Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if cfg := database.GetConfig(); cfg == nil || !cfg.MetricsConfig.Enabled {
		return nil
	}
	return globalMetrics
}

// WithTx runs fn in a transaction on the global database. The transaction
// commits when fn returns nil and rolls back otherwise.
func WithTx(ctx context.Context, fn func(tx database.Tx) error) (err error) {
	exec := database.GetExecutor()
	if exec == nil {
		return errNotInitialized
	}

	tx, err := exec.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				database.GetLogger().Error("Failed to rollback transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
