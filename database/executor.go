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
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/tomoncle/crudkit/types"
)

// Command is a single parameterized statement. SQL uses $1..$n placeholders
// matching Params in order.
type Command struct {
	SQL    string
	Params []any
}

// Result carries the rows a statement returned and the number of rows it
// returned or affected.
type Result struct {
	Rows     []types.Row
	RowCount int64

	// LastInsertID is the driver's generated key for an INSERT without a
	// result set, or 0 when the driver does not report one.
	LastInsertID int64
}

// Executor runs parameterized statements.
type Executor interface {
	Execute(ctx context.Context, cmd Command) (*Result, error)
}

// DB is an Executor that can open transactions.
type DB interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
}

// Tx is an Executor bound to one transaction. Statements on a Tx must be
// issued sequentially.
type Tx interface {
	Executor
	Commit() error
	Rollback() error
}

type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ErrNotConnected is returned when the executor has no open bun.DB.
var ErrNotConnected = errors.New("database not connected")

// BunExecutor runs commands on the connection pool behind a bun.DB. Statements
// go straight to database/sql so that placeholders are bound by the driver
// instead of being interpolated. The manager swaps the bun.DB on reconnect,
// so holders of an executor keep working.
type BunExecutor struct {
	db      atomic.Pointer[bun.DB]
	hooksMu sync.RWMutex
	hooks   []QueryHook
	logger  Logger
}

var (
	_ DB = (*BunExecutor)(nil)
	_ Tx = (*bunTx)(nil)
)

// NewExecutor wraps db. On dialects without numbered placeholders (MySQL)
// statements are rebound from $k to ? before execution.
func NewExecutor(db *bun.DB, hooks ...QueryHook) *BunExecutor {
	e := &BunExecutor{
		hooks:  hooks,
		logger: GetLogger(),
	}
	e.db.Store(db)
	return e
}

func (e *BunExecutor) setDB(db *bun.DB) {
	e.db.Store(db)
}

// AddQueryHook registers a hook called around every statement.
func (e *BunExecutor) AddQueryHook(hook QueryHook) {
	e.hooksMu.Lock()
	defer e.hooksMu.Unlock()
	e.hooks = append(e.hooks, hook)
}

// SetLogger sets the logger used to report failing hooks.
func (e *BunExecutor) SetLogger(logger Logger) {
	e.logger = logger
}

// Bun returns the underlying bun.DB, nil once the manager disconnected.
func (e *BunExecutor) Bun() *bun.DB { return e.db.Load() }

// DialectName returns the name of the configured dialect.
func (e *BunExecutor) DialectName() dialect.Name {
	db := e.Bun()
	if db == nil {
		return dialect.Invalid
	}
	return db.Dialect().Name()
}

// SupportsReturning reports whether INSERT/UPDATE ... RETURNING is available.
func (e *BunExecutor) SupportsReturning() bool {
	db := e.Bun()
	return db != nil && db.HasFeature(feature.InsertReturning)
}

func (e *BunExecutor) Execute(ctx context.Context, cmd Command) (*Result, error) {
	db := e.Bun()
	if db == nil {
		return nil, ErrNotConnected
	}
	return e.execute(ctx, db.DB, db.Dialect().Name(), cmd, false)
}

func (e *BunExecutor) Begin(ctx context.Context) (Tx, error) {
	db := e.Bun()
	if db == nil {
		return nil, ErrNotConnected
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &bunTx{tx: tx, dialect: db.Dialect().Name(), exec: e}, nil
}

func (e *BunExecutor) execute(ctx context.Context, conn sqlConn, name dialect.Name, cmd Command, inTx bool) (*Result, error) {
	query, args := cmd.SQL, cmd.Params
	if name == dialect.MySQL {
		query, args = Rebind(query, args)
	}

	event := &QueryEvent{
		Query:     cmd.SQL,
		Params:    cmd.Params,
		InTx:      inTx,
		StartTime: time.Now(),
	}
	ctx = e.beforeQuery(ctx, event)

	var (
		res *Result
		err error
	)
	if ReturnsRows(query) {
		res, err = queryRows(ctx, conn, query, args)
	} else {
		res, err = execStatement(ctx, conn, query, args)
	}

	event.Err = err
	if res != nil {
		event.RowCount = res.RowCount
	}
	e.afterQuery(ctx, event)
	return res, err
}

func (e *BunExecutor) snapshotHooks() []QueryHook {
	e.hooksMu.RLock()
	defer e.hooksMu.RUnlock()
	return append([]QueryHook(nil), e.hooks...)
}

func (e *BunExecutor) beforeQuery(ctx context.Context, event *QueryEvent) context.Context {
	for _, h := range e.snapshotHooks() {
		ctx = e.guardBefore(ctx, h, event)
	}
	return ctx
}

func (e *BunExecutor) afterQuery(ctx context.Context, event *QueryEvent) {
	for _, h := range e.snapshotHooks() {
		e.guardAfter(ctx, h, event)
	}
}

// Hooks are observers: a panicking hook is logged and skipped.
func (e *BunExecutor) guardBefore(ctx context.Context, h QueryHook, event *QueryEvent) (out context.Context) {
	out = ctx
	defer func() {
		if r := recover(); r != nil {
			out = ctx
			e.reportHookPanic(r)
		}
	}()
	return h.BeforeQuery(ctx, event)
}

func (e *BunExecutor) guardAfter(ctx context.Context, h QueryHook, event *QueryEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.reportHookPanic(r)
		}
	}()
	h.AfterQuery(ctx, event)
}

func (e *BunExecutor) reportHookPanic(r any) {
	if e.logger != nil {
		SafeLog(e.logger).Warn("Query hook panicked", "panic", fmt.Sprint(r))
	}
}

type bunTx struct {
	tx      bun.Tx
	dialect dialect.Name
	exec    *BunExecutor
}

func (t *bunTx) Execute(ctx context.Context, cmd Command) (*Result, error) {
	return t.exec.execute(ctx, t.tx.Tx, t.dialect, cmd, true)
}

func (t *bunTx) Commit() error { return t.tx.Commit() }

func (t *bunTx) Rollback() error { return t.tx.Rollback() }

func queryRows(ctx context.Context, conn sqlConn, query string, args []any) (*Result, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Rows: make([]types.Row, 0)}
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(types.Row, len(cols))
		for i, col := range cols {
			v, err := types.ValueOf(dest[i])
			if err != nil {
				v = types.TextValue(fmt.Sprint(dest[i]))
			}
			row[col] = v
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res.RowCount = int64(len(res.Rows))
	return res, nil
}

func execStatement(ctx context.Context, conn sqlConn, query string, args []any) (*Result, error) {
	r, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	res := &Result{Rows: make([]types.Row, 0)}
	if n, err := r.RowsAffected(); err == nil {
		res.RowCount = n
	}
	if id, err := r.LastInsertId(); err == nil {
		res.LastInsertID = id
	}
	return res, nil
}

var returningRe = regexp.MustCompile(`(?i)\bRETURNING\b`)

// ReturnsRows reports whether a statement produces a result set.
func ReturnsRows(query string) bool {
	switch Operation(query) {
	case "SELECT", "WITH", "VALUES", "SHOW", "PRAGMA", "EXPLAIN", "TABLE":
		return true
	}
	return returningRe.MatchString(query)
}

// Operation returns the leading keyword of a statement in upper case.
func Operation(query string) string {
	query = strings.TrimLeft(query, " \t\r\n(")
	end := strings.IndexAny(query, " \t\r\n(;")
	if end < 0 {
		end = len(query)
	}
	return strings.ToUpper(query[:end])
}
