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
	"fmt"
	"sync"
)

var defaultRegistry = NewMigrationRegistry()

// MigrationRegistry collects migrations contributed by packages at init time.
type MigrationRegistry struct {
	mutex      sync.RWMutex
	migrations map[string]Migration
}

func NewMigrationRegistry() *MigrationRegistry {
	return &MigrationRegistry{migrations: make(map[string]Migration)}
}

// Register adds migration. Registering a version twice panics, as two
// packages claiming the same version is a programming error.
func (r *MigrationRegistry) Register(migration Migration) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, dup := r.migrations[migration.Version]; dup {
		panic(fmt.Sprintf("database: migration version %s registered twice", migration.Version))
	}
	r.migrations[migration.Version] = migration
}

// Migrations returns the registered migrations in version order.
func (r *MigrationRegistry) Migrations() []Migration {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]Migration, 0, len(r.migrations))
	for _, m := range r.migrations {
		result = append(result, m)
	}
	return SortMigrations(result)
}

// RegisterMigration adds a migration to the default registry.
func RegisterMigration(migration Migration) {
	defaultRegistry.Register(migration)
}

// RegisteredMigrations returns the default registry's migrations in version
// order.
func RegisteredMigrations() []Migration {
	return defaultRegistry.Migrations()
}

// MergeMigrations joins migration sets. On a version clash the later set
// wins.
func MergeMigrations(sets ...[]Migration) []Migration {
	byVersion := make(map[string]Migration)
	for _, set := range sets {
		for _, m := range set {
			byVersion[m.Version] = m
		}
	}
	merged := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		merged = append(merged, m)
	}
	return SortMigrations(merged)
}
