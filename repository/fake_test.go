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

package repository

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/types"
)

// recordingDB is an in-memory database.DB that records every command and
// answers through respond.
type recordingDB struct {
	mu          sync.Mutex
	commands    []database.Command
	respond     func(cmd database.Command) (*database.Result, error)
	noReturning bool
	dialectName dialect.Name

	began      int
	committed  int
	rolledBack int
}

func (f *recordingDB) Execute(_ context.Context, cmd database.Command) (*database.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return &database.Result{}, nil
	}
	return respond(cmd)
}

func (f *recordingDB) Begin(context.Context) (database.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.began++
	return &recordingTx{db: f}, nil
}

func (f *recordingDB) SupportsReturning() bool { return !f.noReturning }

func (f *recordingDB) DialectName() dialect.Name { return f.dialectName }

func (f *recordingDB) sqls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.commands))
	for i, c := range f.commands {
		out[i] = c.SQL
	}
	return out
}

func (f *recordingDB) last() database.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

type recordingTx struct {
	db   *recordingDB
	done bool
}

func (t *recordingTx) Execute(ctx context.Context, cmd database.Command) (*database.Result, error) {
	if t.done {
		return nil, sql.ErrTxDone
	}
	return t.db.Execute(ctx, cmd)
}

func (t *recordingTx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mu.Lock()
	t.db.committed++
	t.db.mu.Unlock()
	return nil
}

func (t *recordingTx) Rollback() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	t.db.mu.Lock()
	t.db.rolledBack++
	t.db.mu.Unlock()
	return nil
}

func rows(rs ...types.Row) *database.Result {
	return &database.Result{Rows: rs, RowCount: int64(len(rs))}
}

func affected(n int64) *database.Result {
	return &database.Result{RowCount: n}
}

func isSelect(cmd database.Command) bool {
	return strings.HasPrefix(cmd.SQL, "SELECT")
}

func isCount(cmd database.Command) bool {
	return strings.Contains(cmd.SQL, "COUNT(*)")
}

type user struct {
	ID        int64
	Name      string
	Email     *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func mapUser(row types.Row) (*user, error) {
	return &user{
		ID:        row.Int("id"),
		Name:      row.String("name"),
		Email:     row.NullableString("email"),
		Active:    row.Bool("active"),
		CreatedAt: row.Time("created_at"),
		UpdatedAt: row.Time("updated_at"),
	}, nil
}

type createUser struct {
	Name  string  `validate:"required"`
	Email *string `validate:"omitempty,email"`
}

func (c createUser) Fields() types.Fields {
	return types.NewFields("name", c.Name, "email", c.Email)
}

type updateUser struct {
	Name  *string `validate:"omitempty,min=1"`
	Email *string `validate:"omitempty,email"`
}

func (u updateUser) Fields() types.Fields {
	return types.NewFields("name", u.Name, "email", u.Email)
}

func userRow(id int64, name string) types.Row {
	return types.Row{
		"id":     types.IntValue(id),
		"name":   types.TextValue(name),
		"email":  types.Null(),
		"active": types.BoolValue(true),
	}
}

func strPtr(s string) *string { return &s }

func newUserRepo(db database.DB, opts ...Option) *Repository[user, createUser, updateUser] {
	opts = append([]Option{WithLogger(database.NopLogger{})}, opts...)
	return New[user, createUser, updateUser](db, "users", mapUser, opts...)
}
