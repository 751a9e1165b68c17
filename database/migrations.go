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
	"sort"
	"strings"
	"time"

	"github.com/tomoncle/crudkit/errs"
)

// DefaultLedgerTable records applied migrations.
const DefaultLedgerTable = "schema_migrations"

// MigrationFunc is a migration body executed within the migration transaction.
type MigrationFunc func(ctx context.Context, tx Executor) error

// Migration is one versioned schema change. Up takes precedence over SQL.
type Migration struct {
	Version     string
	Name        string
	Description string
	SQL         string
	Up          MigrationFunc
}

// MigrationStatus pairs a known migration with its ledger state.
type MigrationStatus struct {
	Migration Migration
	Applied   bool
}

type MigrationOption func(*MigrationManager)

// WithLedgerTable overrides DefaultLedgerTable. The name is interpolated
// into statements and must be a trusted identifier.
func WithLedgerTable(name string) MigrationOption {
	return func(mm *MigrationManager) {
		if name != "" {
			mm.table = name
		}
	}
}

// MigrationManager applies migrations at most once each, tracking them in a
// ledger table.
type MigrationManager struct {
	db     DB
	logger Logger
	table  string
}

func NewMigrationManager(db DB, logger Logger, opts ...MigrationOption) *MigrationManager {
	mm := &MigrationManager{
		db:     db,
		logger: SafeLog(logger),
		table:  DefaultLedgerTable,
	}
	for _, opt := range opts {
		opt(mm)
	}
	return mm
}

// LedgerTable returns the name of the ledger table.
func (mm *MigrationManager) LedgerTable() string {
	return mm.table
}

// CreateLedgerTable creates the ledger if it does not exist yet.
func (mm *MigrationManager) CreateLedgerTable(ctx context.Context) error {
	_, err := mm.db.Execute(ctx, Command{SQL: fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (version VARCHAR(255) PRIMARY KEY, applied_at TIMESTAMP NOT NULL)",
		mm.table,
	)})
	if err != nil {
		return errs.Wrapf(err, errs.CodeMigrationFailed, "failed to create ledger table %s", mm.table)
	}
	return nil
}

// RunMigration applies sql under version unless the ledger already has it.
func (mm *MigrationManager) RunMigration(ctx context.Context, sql, version string) error {
	return mm.runMigration(ctx, Migration{Version: version, SQL: sql})
}

// RunMigrations creates the ledger and applies migrations in ascending
// version order, stopping at the first failure.
func (mm *MigrationManager) RunMigrations(ctx context.Context, migrations []Migration) error {
	if _, ok := os.LookupEnv("CRUDKIT_DEBUG_MIGRATION"); !ok {
		EnableQuerySilent(true)
		defer EnableQuerySilent(false)
	}

	if err := mm.CreateLedgerTable(ctx); err != nil {
		return err
	}

	sorted := SortMigrations(migrations)
	for _, migration := range sorted {
		if err := mm.runMigration(ctx, migration); err != nil {
			return err
		}
	}

	mm.logger.Info("Database migrations completed!", "count", len(sorted))
	return nil
}

func (mm *MigrationManager) isApplied(ctx context.Context, exec Executor, version string) (bool, error) {
	res, err := exec.Execute(ctx, Command{
		SQL:    fmt.Sprintf("SELECT version FROM %s WHERE version = $1", mm.table),
		Params: []any{version},
	})
	if err != nil {
		return false, err
	}
	return len(res.Rows) > 0, nil
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration Migration) error {
	applied, err := mm.isApplied(ctx, mm.db, migration.Version)
	if err != nil {
		return mm.fail(migration, err)
	}
	if applied {
		mm.logger.Debug("Migration already applied", "version", migration.Version)
		return nil
	}

	tx, err := mm.db.Begin(ctx)
	if err != nil {
		return mm.fail(migration, err)
	}
	var committed bool
	defer func() {
		if !committed {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				mm.logger.Error("Failed to rollback transaction", "version", migration.Version, "error", rollbackErr)
			}
		}
	}()

	if err := mm.apply(ctx, tx, migration); err != nil {
		return mm.fail(migration, err)
	}

	_, err = tx.Execute(ctx, Command{
		SQL:    fmt.Sprintf("INSERT INTO %s (version, applied_at) VALUES ($1, $2)", mm.table),
		Params: []any{migration.Version, time.Now().UTC()},
	})
	if err != nil {
		return mm.fail(migration, err)
	}

	if err := tx.Commit(); err != nil {
		return mm.fail(migration, err)
	}
	committed = true

	mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	return nil
}

func (mm *MigrationManager) apply(ctx context.Context, tx Tx, migration Migration) error {
	if migration.Up != nil {
		return migration.Up(ctx, tx)
	}
	for _, stmt := range SplitStatements(migration.SQL) {
		if _, err := tx.Execute(ctx, Command{SQL: stmt}); err != nil {
			return err
		}
	}
	return nil
}

func (mm *MigrationManager) fail(migration Migration, cause error) error {
	mm.logger.Error("Migration failed", "version", migration.Version, "error", cause)
	return errs.Wrapf(cause, errs.CodeMigrationFailed, "migration %s failed", migration.Version)
}

// AppliedVersions lists ledger versions by application time, ties broken by
// version.
func (mm *MigrationManager) AppliedVersions(ctx context.Context) ([]string, error) {
	res, err := mm.db.Execute(ctx, Command{
		SQL: fmt.Sprintf("SELECT version FROM %s ORDER BY applied_at ASC, version ASC", mm.table),
	})
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeFetchFailed, "failed to read applied migrations")
	}
	versions := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		versions = append(versions, row.String("version"))
	}
	return versions, nil
}

// Status reports, for each migration in version order, whether the ledger
// has it. Versions in the ledger with no matching migration are ignored.
func (mm *MigrationManager) Status(ctx context.Context, migrations []Migration) ([]MigrationStatus, error) {
	if err := mm.CreateLedgerTable(ctx); err != nil {
		return nil, err
	}
	applied, err := mm.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(applied))
	for _, v := range applied {
		set[v] = struct{}{}
	}

	sorted := SortMigrations(migrations)
	out := make([]MigrationStatus, 0, len(sorted))
	for _, m := range sorted {
		_, ok := set[m.Version]
		out = append(out, MigrationStatus{Migration: m, Applied: ok})
	}
	return out, nil
}

// SortMigrations returns a copy of migrations ordered by version.
func SortMigrations(migrations []Migration) []Migration {
	sorted := append([]Migration(nil), migrations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return compareVersions(sorted[i].Version, sorted[j].Version) < 0
	})
	return sorted
}

// compareVersions orders numeric versions by value, so "2" runs before "10".
// Numeric versions come before all others, which compare as strings.
func compareVersions(a, b string) int {
	na, nb := isNumeric(a), isNumeric(b)
	switch {
	case na && nb:
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			return len(ta) - len(tb)
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	case na:
		return -1
	case nb:
		return 1
	}
	return strings.Compare(a, b)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
