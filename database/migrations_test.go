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
	"errors"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/crudkit/errs"
)

func TestCreateLedgerTableStatement(t *testing.T) {
	db := &scriptedDB{}
	mm := NewMigrationManager(db, NopLogger{})

	require.NoError(t, mm.CreateLedgerTable(context.Background()))
	assert.Equal(t, []string{
		"CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(255) PRIMARY KEY, applied_at TIMESTAMP NOT NULL)",
	}, db.statements())

	custom := NewMigrationManager(db, nil, WithLedgerTable("app_versions"))
	assert.Equal(t, "app_versions", custom.LedgerTable())
}

func TestRunMigrationAppliesOnce(t *testing.T) {
	db := &scriptedDB{}
	mm := NewMigrationManager(db, NopLogger{})
	ctx := context.Background()
	body := "CREATE TABLE a (id INT);\nCREATE INDEX a_id ON a (id);"

	require.NoError(t, mm.RunMigration(ctx, body, "001"))
	assert.Equal(t, []string{
		"SELECT version FROM schema_migrations WHERE version = $1",
		"CREATE TABLE a (id INT)",
		"CREATE INDEX a_id ON a (id)",
		"INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)",
	}, db.statements())
	assert.Equal(t, 1, db.committed)

	require.NoError(t, mm.RunMigration(ctx, body, "001"))
	assert.Len(t, db.statements(), 5)
	assert.Equal(t, 1, db.began)
	assert.Equal(t, []string{"001"}, db.ledger)
}

func TestRunMigrationFailureRollsBack(t *testing.T) {
	db := &scriptedDB{failOn: "CREATE TABL b"}
	mm := NewMigrationManager(db, NopLogger{})

	err := mm.RunMigration(context.Background(), "CREATE TABLE a (id INT);\nCREATE TABL b (id INT);", "002")
	require.Error(t, err)
	assert.Equal(t, errs.CodeMigrationFailed, errs.CodeOf(err))
	assert.Contains(t, err.Error(), "002")
	assert.Equal(t, 1, db.rolledBack)
	assert.Zero(t, db.committed)
	assert.Empty(t, db.ledger)
}

func TestRunMigrationsInVersionOrder(t *testing.T) {
	db := &scriptedDB{}
	mm := NewMigrationManager(db, NopLogger{})

	var order []string
	up := func(v string) MigrationFunc {
		return func(ctx context.Context, tx Executor) error {
			order = append(order, v)
			return nil
		}
	}
	migrations := []Migration{
		{Version: "003", Up: up("003")},
		{Version: "001", Up: up("001")},
		{Version: "002", Up: up("002")},
	}

	require.NoError(t, mm.RunMigrations(context.Background(), migrations))
	assert.Equal(t, []string{"001", "002", "003"}, order)
	assert.Equal(t, []string{"001", "002", "003"}, db.ledger)
}

func TestRunMigrationsStopsAtFirstFailure(t *testing.T) {
	db := &scriptedDB{}
	mm := NewMigrationManager(db, NopLogger{})
	boom := errors.New("boom")

	migrations := []Migration{
		{Version: "001", SQL: "CREATE TABLE a (id INT);"},
		{Version: "002", Up: func(context.Context, Executor) error { return boom }},
		{Version: "003", SQL: "CREATE TABLE c (id INT);"},
	}
	err := mm.RunMigrations(context.Background(), migrations)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"001"}, db.ledger)
	assert.NotContains(t, db.statements(), "CREATE TABLE c (id INT)")
}

func TestMigrationStatus(t *testing.T) {
	db := &scriptedDB{ledger: []string{"001", "legacy"}}
	mm := NewMigrationManager(db, NopLogger{})

	statuses, err := mm.Status(context.Background(), []Migration{{Version: "002"}, {Version: "001"}})
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "001", statuses[0].Migration.Version)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, "002", statuses[1].Migration.Version)
	assert.False(t, statuses[1].Applied)
}

func TestMigrationsOnSQLite(t *testing.T) {
	mgr := openSQLiteManager(t)
	exec := mgr.GetExecutor()
	mm := NewMigrationManager(exec, NopLogger{})
	ctx := context.Background()

	require.NoError(t, mm.CreateLedgerTable(ctx))
	require.NoError(t, mm.CreateLedgerTable(ctx))

	require.NoError(t, mm.RunMigration(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT);", "001"))
	require.NoError(t, mm.RunMigration(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT);", "001"))
	require.NoError(t, mm.RunMigration(ctx, "ALTER TABLE widgets ADD COLUMN color TEXT;", "002"))

	err := mm.RunMigration(ctx, "CREATE TABLE gadgets (id INTEGER);\nCREATE TABLE widgets (id INTEGER);", "003")
	require.Error(t, err)
	assert.Equal(t, errs.CodeMigrationFailed, errs.CodeOf(err))

	versions, err := mm.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)

	// the failed migration left nothing behind
	res, err := exec.Execute(ctx, Command{SQL: "SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1", Params: []any{"gadgets"}})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)

	_, err = exec.Execute(ctx, Command{SQL: "INSERT INTO widgets (name, color) VALUES ($1, $2)", Params: []any{"w", "red"}})
	require.NoError(t, err)
}

func TestManagerRunMigrationsWithCustomLedger(t *testing.T) {
	mgr := openSQLiteManager(t)
	ctx := context.Background()
	migrations := []Migration{
		{Version: "001", SQL: "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);"},
		{Version: "002", Up: func(ctx context.Context, tx Executor) error {
			_, err := tx.Execute(ctx, Command{SQL: "INSERT INTO notes (body) VALUES ($1)", Params: []any{"seed"}})
			return err
		}},
	}

	require.NoError(t, mgr.RunMigrations(ctx, migrations, WithLedgerTable("app_migrations")))
	require.NoError(t, mgr.RunMigrations(ctx, migrations, WithLedgerTable("app_migrations")))

	res, err := mgr.GetExecutor().Execute(ctx, Command{SQL: "SELECT COUNT(*) AS n FROM notes"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0].Int("n"))

	versions, err := NewMigrationManager(mgr.GetExecutor(), nil, WithLedgerTable("app_migrations")).AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_add_users.sql":   {Data: []byte("CREATE TABLE users (id INT);")},
		"migrations/001_init.sql":        {Data: []byte("CREATE TABLE meta (k TEXT);")},
		"migrations/README.md":           {Data: []byte("ignored")},
		"migrations/nested/010_more.sql": {Data: []byte("SELECT 1;")},
		"migrations/seed.sql":            {Data: []byte("INSERT INTO meta VALUES ('a');")},
	}

	migrations, err := LoadMigrations(fsys, "migrations")
	require.NoError(t, err)
	require.Len(t, migrations, 4)

	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "init", migrations[0].Name)
	assert.Equal(t, "migrations/001_init.sql", migrations[0].Description)
	assert.Equal(t, "002", migrations[1].Version)
	assert.Equal(t, "add_users", migrations[1].Name)
	assert.Equal(t, "010", migrations[2].Version)
	assert.Equal(t, "seed", migrations[3].Version)
}

func TestLoadMigrationsDuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1;")},
		"m/001_b.sql": {Data: []byte("SELECT 2;")},
	}
	_, err := LoadMigrations(fsys, "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate migration version 001")
}

func TestSplitStatements(t *testing.T) {
	script := `-- schema
CREATE TABLE users (
    id INT,
    name TEXT
);

-- seed
INSERT INTO users VALUES (1, 'a');
INSERT INTO users VALUES (2, 'b')`

	assert.Equal(t, []string{
		"CREATE TABLE users ( id INT, name TEXT )",
		"INSERT INTO users VALUES (1, 'a')",
		"INSERT INTO users VALUES (2, 'b')",
	}, SplitStatements(script))

	assert.Empty(t, SplitStatements("-- only a comment\n\n"))
}

func TestSplitStatementsInlineComments(t *testing.T) {
	script := "CREATE TABLE a (id INTEGER); -- first table\n" +
		"CREATE TABLE b (id INTEGER); /* second; table */\n" +
		"INSERT INTO a VALUES (1) -- trailing; note\n;"

	assert.Equal(t, []string{
		"CREATE TABLE a (id INTEGER)",
		"CREATE TABLE b (id INTEGER)",
		"INSERT INTO a VALUES (1)",
	}, SplitStatements(script))
}

func TestSplitStatementsKeepsQuotedBodies(t *testing.T) {
	fn := "CREATE FUNCTION touch() RETURNS trigger AS $$\n" +
		"BEGIN\n" +
		"  NEW.updated_at = NOW();\n" +
		"  RETURN NEW;\n" +
		"END;\n" +
		"$$ LANGUAGE plpgsql"
	tagged := "DO $body$ BEGIN PERFORM 1; END $body$"
	script := fn + ";\n" + tagged + ";\n" +
		"INSERT INTO notes (body) VALUES ('line one;\nline -- two');\n" +
		"SELECT \"semi;colon\" FROM t WHERE id = $1;"

	assert.Equal(t, []string{
		fn,
		tagged,
		"INSERT INTO notes (body) VALUES ('line one;\nline -- two')",
		"SELECT \"semi;colon\" FROM t WHERE id = $1",
	}, SplitStatements(script))
}

func TestSQLiteMigrationWithInlineComments(t *testing.T) {
	mgr := openSQLiteManager(t)
	exec := mgr.GetExecutor()
	mm := NewMigrationManager(exec, NopLogger{})
	ctx := context.Background()

	require.NoError(t, mm.CreateLedgerTable(ctx))
	body := "CREATE TABLE a (id INTEGER); -- first table\nCREATE TABLE b (id INTEGER);\n"
	require.NoError(t, mm.RunMigration(ctx, body, "001"))

	for _, table := range []string{"a", "b"} {
		_, err := exec.Execute(ctx, Command{SQL: "SELECT * FROM " + table})
		assert.NoError(t, err, table)
	}
}

func TestSortMigrationsNumerically(t *testing.T) {
	sorted := SortMigrations([]Migration{
		{Version: "seed"},
		{Version: "10"},
		{Version: "0002"},
		{Version: "1000"},
		{Version: "999"},
		{Version: "1"},
	})

	var versions []string
	for _, m := range sorted {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []string{"1", "0002", "10", "999", "1000", "seed"}, versions)
}

func TestLoadMigrationsOrdersByNumber(t *testing.T) {
	fsys := fstest.MapFS{
		"m/2_users.sql":  {Data: []byte("CREATE TABLE users (id INT);")},
		"m/10_posts.sql": {Data: []byte("CREATE TABLE posts (user_id INT REFERENCES users (id));")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "users", migrations[0].Name)
	assert.Equal(t, "posts", migrations[1].Name)
}

func TestMigrationRegistry(t *testing.T) {
	r := NewMigrationRegistry()
	r.Register(Migration{Version: "002", Name: "b"})
	r.Register(Migration{Version: "001", Name: "a"})

	got := r.Migrations()
	require.Len(t, got, 2)
	assert.Equal(t, "001", got[0].Version)
	assert.Equal(t, "002", got[1].Version)

	assert.Panics(t, func() { r.Register(Migration{Version: "001"}) })
}

func TestMergeMigrations(t *testing.T) {
	merged := MergeMigrations(
		[]Migration{{Version: "001", Name: "registered"}, {Version: "003", Name: "c"}},
		[]Migration{{Version: "001", Name: "file"}, {Version: "002", Name: "b"}},
	)
	require.Len(t, merged, 3)
	assert.Equal(t, "file", merged[0].Name)
	assert.Equal(t, "002", merged[1].Version)
	assert.Equal(t, "003", merged[2].Version)
}
