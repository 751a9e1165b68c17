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
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/goleak"

	"github.com/tomoncle/crudkit/types"
)

type recordingHook struct {
	mu     sync.Mutex
	events []QueryEvent
}

func (h *recordingHook) BeforeQuery(ctx context.Context, _ *QueryEvent) context.Context {
	return ctx
}

func (h *recordingHook) AfterQuery(_ context.Context, event *QueryEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, *event)
}

type panickingHook struct{}

func (panickingHook) BeforeQuery(context.Context, *QueryEvent) context.Context { panic("before") }
func (panickingHook) AfterQuery(context.Context, *QueryEvent)                  { panic("after") }

func TestExecutorOnSQLite(t *testing.T) {
	mgr := openSQLiteManager(t)
	exec := mgr.GetExecutor()
	ctx := context.Background()

	assert.Equal(t, dialect.SQLite, exec.DialectName())
	assert.True(t, exec.SupportsReturning())

	hook := &recordingHook{}
	exec.AddQueryHook(panickingHook{})
	exec.AddQueryHook(hook)

	_, err := exec.Execute(ctx, Command{SQL: "CREATE TABLE items (id INTEGER PRIMARY KEY, label TEXT, price REAL, seen TIMESTAMP)"})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	res, err := exec.Execute(ctx, Command{
		SQL:    "INSERT INTO items (label, price, seen) VALUES ($1, $2, $3) RETURNING id, label",
		Params: []any{"pen", 1.5, now},
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(1), res.Rows[0].Int("id"))
	assert.Equal(t, "pen", res.Rows[0].String("label"))

	_, err = exec.Execute(ctx, Command{SQL: "INSERT INTO items (label) VALUES ($1)", Params: []any{types.Null()}})
	require.NoError(t, err)

	res, err = exec.Execute(ctx, Command{SQL: "SELECT * FROM items ORDER BY id"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, int64(2), res.RowCount)
	assert.Equal(t, 1.5, res.Rows[0].Float("price"))
	assert.True(t, res.Rows[0].Time("seen").Equal(now))
	assert.True(t, res.Rows[1].Get("label").IsNull())
	assert.Nil(t, res.Rows[1].NullableString("label"))

	res, err = exec.Execute(ctx, Command{SQL: "UPDATE items SET price = $1 WHERE price IS NULL", Params: []any{2.0}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowCount)
	assert.Empty(t, res.Rows)

	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Len(t, hook.events, 5)
	assert.Equal(t, "CREATE", hook.events[0].Operation())
	assert.Equal(t, "INSERT", hook.events[1].Operation())
	assert.Equal(t, int64(1), hook.events[4].RowCount)
}

func TestExecutorTransaction(t *testing.T) {
	mgr := openSQLiteManager(t)
	exec := mgr.GetExecutor()
	ctx := context.Background()
	hook := &recordingHook{}
	exec.AddQueryHook(hook)

	_, err := exec.Execute(ctx, Command{SQL: "CREATE TABLE t (v INTEGER)"})
	require.NoError(t, err)

	tx, err := exec.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, Command{SQL: "INSERT INTO t (v) VALUES ($1)", Params: []any{1}})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	tx, err = exec.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Execute(ctx, Command{SQL: "INSERT INTO t (v) VALUES ($1)", Params: []any{2}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res, err := exec.Execute(ctx, Command{SQL: "SELECT v FROM t"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(2), res.Rows[0].Int("v"))

	hook.mu.Lock()
	defer hook.mu.Unlock()
	assert.True(t, hook.events[1].InTx)
	assert.False(t, hook.events[len(hook.events)-1].InTx)
}

func TestExecutorReportsDriverErrors(t *testing.T) {
	exec := openSQLiteManager(t).GetExecutor()
	_, err := exec.Execute(context.Background(), Command{SQL: "SELECT * FROM missing_table"})
	require.Error(t, err)
	ok, kind := IsSqlError(err)
	assert.True(t, ok)
	assert.Equal(t, NoTableErr, kind)
}

func TestExecutorNotConnected(t *testing.T) {
	exec := NewExecutor(nil)
	_, err := exec.Execute(context.Background(), Command{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = exec.Begin(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, dialect.Invalid, exec.DialectName())
	assert.False(t, exec.SupportsReturning())
}

func TestExecutorSurvivesReconnect(t *testing.T) {
	mgr := openSQLiteManager(t)
	exec := mgr.GetExecutor()
	ctx := context.Background()

	require.NoError(t, mgr.Reconnect(ctx))
	assert.Same(t, exec, mgr.GetExecutor())

	res, err := exec.Execute(ctx, Command{SQL: "SELECT 1 AS one"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows[0].Int("one"))

	require.NoError(t, mgr.Disconnect())
	_, err = exec.Execute(ctx, Command{SQL: "SELECT 1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManagerHealthAndStats(t *testing.T) {
	mgr := openSQLiteManager(t)

	status := mgr.HealthCheck(context.Background())
	assert.True(t, status.Healthy)
	assert.True(t, status.Connected)
	assert.Equal(t, 1, status.MaxOpenConns)

	stats := mgr.GetStats()
	assert.Equal(t, 1, stats.MaxOpenConns)
	require.NoError(t, mgr.Ping(context.Background()))
}

func TestManagerHealthCheckStopsOnDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = "file:health_check?mode=memory&cache=shared"
	cfg.HealthCheckInterval = 5 * time.Millisecond
	cfg.SlowQueryTime = 0

	mgr := NewDatabaseManager(cfg)
	mgr.SetLogger(NopLogger{})
	require.NoError(t, mgr.Connect(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mgr.Disconnect())

	status := mgr.HealthCheck(context.Background())
	assert.False(t, status.Healthy)
}

func TestManagerRejectsUnknownType(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.Type = "oracle"
	cfg.DBName = "x"
	mgr := NewDatabaseManager(cfg)
	mgr.SetLogger(NopLogger{})
	assert.Error(t, mgr.Connect(context.Background()))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "file:x?mode=memory", sqliteDSN("file:x?mode=memory"))
	assert.Equal(t, "data/app.db", sqliteDSN("data/app.db"))
	assert.Equal(t, "app.db", sqliteDSN("app"))
	assert.True(t, isSQLiteMemory("file:x?mode=memory&cache=shared"))
	assert.False(t, isSQLiteMemory("app.db"))
}

func TestConsoleHookOutput(t *testing.T) {
	t.Setenv("CRUDKIT_TEST_DEBUG", "2")
	var buf bytes.Buffer
	hook := NewConsoleHook(WithConsoleWriter(&buf), WithConsoleEnv("CRUDKIT_TEST_DEBUG"))

	hook.AfterQuery(context.Background(), &QueryEvent{
		Query:     "SELECT * FROM users WHERE id = $1",
		Params:    []any{1},
		StartTime: time.Now(),
	})
	assert.Contains(t, buf.String(), "[SQL]")
	assert.Contains(t, buf.String(), "SELECT * FROM users WHERE id = $1")

	buf.Reset()
	t.Setenv("CRUDKIT_TEST_DEBUG", "0")
	hook.AfterQuery(context.Background(), &QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Empty(t, buf.String())
}

func TestSlowQueryHook(t *testing.T) {
	t.Setenv("CRUDKIT_SLOW_QUERY", "1")
	var buf bytes.Buffer
	hook := NewSlowQueryHook(time.Millisecond, nil)
	hook.writer = &buf

	hook.AfterQuery(context.Background(), &QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Empty(t, buf.String())

	hook.AfterQuery(context.Background(), &QueryEvent{Query: "SELECT 2", StartTime: time.Now().Add(-time.Second)})
	assert.Contains(t, buf.String(), "[SQL_SLOW]")
	assert.Contains(t, buf.String(), "SELECT 2")
}
