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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tomoncle/crudkit/types"
)

// scriptedDB records commands and keeps the migration ledger in memory, so
// migration flows can be checked without a database.
type scriptedDB struct {
	mu       sync.Mutex
	commands []string
	ledger   []string
	failOn   string

	began      int
	committed  int
	rolledBack int
}

func (s *scriptedDB) Execute(ctx context.Context, cmd Command) (*Result, error) {
	return s.exec(cmd, nil)
}

func (s *scriptedDB) exec(cmd Command, tx *scriptedTx) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd.SQL)

	if s.failOn != "" && strings.Contains(cmd.SQL, s.failOn) {
		return nil, fmt.Errorf("syntax error near %q", s.failOn)
	}

	switch {
	case strings.HasPrefix(cmd.SQL, "SELECT version FROM") && len(cmd.Params) == 1:
		for _, v := range s.ledger {
			if v == cmd.Params[0] {
				return &Result{Rows: []types.Row{{"version": types.TextValue(v)}}, RowCount: 1}, nil
			}
		}
		return &Result{}, nil
	case strings.HasPrefix(cmd.SQL, "SELECT version FROM"):
		res := &Result{}
		for _, v := range s.ledger {
			res.Rows = append(res.Rows, types.Row{"version": types.TextValue(v)})
		}
		res.RowCount = int64(len(res.Rows))
		return res, nil
	case strings.HasPrefix(cmd.SQL, "INSERT INTO schema_migrations") && tx != nil:
		tx.pending = append(tx.pending, cmd.Params[0].(string))
	}
	return &Result{RowCount: 1}, nil
}

func (s *scriptedDB) Begin(context.Context) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.began++
	return &scriptedTx{db: s}, nil
}

func (s *scriptedDB) statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

type scriptedTx struct {
	db      *scriptedDB
	pending []string
	done    bool
}

func (t *scriptedTx) Execute(_ context.Context, cmd Command) (*Result, error) {
	if t.done {
		return nil, sql.ErrTxDone
	}
	return t.db.exec(cmd, t)
}

func (t *scriptedTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.committed++
	t.db.ledger = append(t.db.ledger, t.pending...)
	return nil
}

func (t *scriptedTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rolledBack++
	return nil
}

// openSQLiteManager connects a manager to a private in-memory SQLite
// database that lives until the test ends.
func openSQLiteManager(t *testing.T, mutate ...func(*ConnectionConfig)) AbstractDatabaseManager {
	t.Helper()

	cfg := DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	cfg.HealthCheckInterval = 0
	cfg.SlowQueryTime = 0
	for _, fn := range mutate {
		fn(cfg)
	}

	mgr := NewDatabaseManager(cfg)
	mgr.SetLogger(NopLogger{})
	require.NoError(t, mgr.Connect(context.Background()))
	t.Cleanup(func() { _ = mgr.Disconnect() })
	return mgr
}
