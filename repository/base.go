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
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/uptrace/bun/dialect"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/errs"
	"github.com/tomoncle/crudkit/query"
	"github.com/tomoncle/crudkit/types"
)

// Operation names reported to observers.
const (
	OpFindAll    = "find_all"
	OpFindByID   = "find_by_id"
	OpCount      = "count"
	OpExists     = "exists"
	OpPage       = "page"
	OpCreate     = "create"
	OpBulkCreate = "bulk_create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpSoftDelete = "soft_delete"
)

// Repository maps one table to entities of type E, created from C payloads
// and partially updated from U payloads. The table name and all column names
// are interpolated into SQL and must be static identifiers.
type Repository[E any, C Payload, U Payload] struct {
	db     database.DB
	table  string
	mapRow RowMapper[E]
	opts   options
}

var _ Interface[struct{}, Payload, Payload] = (*Repository[struct{}, Payload, Payload])(nil)

type dialectAware interface {
	DialectName() dialect.Name
}

type returningAware interface {
	SupportsReturning() bool
}

// New returns a repository for table. mapRow converts returned rows into
// entities.
func New[E any, C Payload, U Payload](db database.DB, table string, mapRow RowMapper[E], opts ...Option) *Repository[E, C, U] {
	o := newOptions(opts)
	if !o.nowExplicit {
		if d, ok := db.(dialectAware); ok && d.DialectName() == dialect.SQLite {
			o.nowExpr = sqliteNowExpr
		}
	}
	return &Repository[E, C, U]{db: db, table: table, mapRow: mapRow, opts: o}
}

func (r *Repository[E, C, U]) Table() string { return r.table }

func (r *Repository[E, C, U]) FindAll(ctx context.Context, conds types.Fields) (entities []*E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpFindAll, start, len(entities), err) }()

	where, params := query.BuildWhere(conds)
	stmt := "SELECT * FROM " + r.table
	if where != "" {
		stmt += " " + where
	}

	res, err := r.db.Execute(ctx, database.Command{SQL: stmt, Params: params})
	if err != nil {
		return nil, r.fail(err, errs.CodeFetchFailed, "failed to fetch %s", r.table)
	}
	entities, err = r.mapRows(res.Rows)
	if err != nil {
		return nil, r.fail(err, errs.CodeFetchFailed, "failed to map %s rows", r.table)
	}
	return entities, nil
}

// FindByID returns nil, nil when no row has the id.
func (r *Repository[E, C, U]) FindByID(ctx context.Context, id any) (entity *E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpFindByID, start, countOf(entity), err) }()

	row, err := r.selectByID(ctx, r.db, id)
	if err != nil {
		return nil, r.fail(err, errs.CodeFetchFailed, "failed to fetch %s by id", r.table)
	}
	if row == nil {
		return nil, nil
	}
	entity, err = r.mapRow(row)
	if err != nil {
		return nil, r.fail(err, errs.CodeFetchFailed, "failed to map %s row", r.table)
	}
	return entity, nil
}

func (r *Repository[E, C, U]) Count(ctx context.Context, conds types.Fields) (total int64, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpCount, start, 1, err) }()
	return r.count(ctx, conds)
}

func (r *Repository[E, C, U]) count(ctx context.Context, conds types.Fields) (int64, error) {
	stmt, params := query.From(r.table).Select("COUNT(*) AS total").WhereFields(conds).Build()
	res, err := r.db.Execute(ctx, database.Command{SQL: stmt, Params: params})
	if err != nil {
		return 0, r.fail(err, errs.CodeFetchFailed, "failed to count %s", r.table)
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return res.Rows[0].Int("total"), nil
}

func (r *Repository[E, C, U]) Exists(ctx context.Context, conds types.Fields) (found bool, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpExists, start, boolCount(found), err) }()

	stmt, params := query.From(r.table).Select("1").WhereFields(conds).Limit(1).Build()
	res, err := r.db.Execute(ctx, database.Command{SQL: stmt, Params: params})
	if err != nil {
		return false, r.fail(err, errs.CodeFetchFailed, "failed to check %s existence", r.table)
	}
	return len(res.Rows) > 0, nil
}

// Page returns one page of rows matching the request's conditions, with the
// total count and derived page metadata.
func (r *Repository[E, C, U]) Page(ctx context.Context, req *types.PageRequest) (page *types.Pagination[E], err error) {
	start := time.Now()
	defer func() {
		n := 0
		if page != nil {
			n = len(page.Items)
		}
		r.observe(ctx, OpPage, start, n, err)
	}()

	if req == nil {
		req = types.NewDefaultPageRequest(1, 0)
	}
	conds := req.GetConditions()
	page = types.NewDefaultPagination[E](req.GetPage(), req.GetPageSize())

	total, err := r.count(ctx, conds)
	if err != nil {
		return nil, err
	}
	page.SetTotal(total)
	if total == 0 {
		return page, nil
	}

	b := query.From(r.table).WhereFields(conds)
	for _, o := range req.GetOrders() {
		dir := o.Direction
		if !dir.IsValid() {
			dir = types.Asc
		}
		b = b.OrderBy(o.Field, dir)
	}
	stmt, params := b.Limit(req.GetPageSize()).Offset(req.GetOffset()).Build()

	res, err := r.db.Execute(ctx, database.Command{SQL: stmt, Params: params})
	if err != nil {
		return nil, r.fail(err, errs.CodeFetchFailed, "failed to fetch %s page", r.table)
	}
	if page.Items, err = r.mapRows(res.Rows); err != nil {
		return nil, r.fail(err, errs.CodeFetchFailed, "failed to map %s rows", r.table)
	}
	return page, nil
}

// Create inserts data, stamping created_at and updated_at, and returns the
// stored row.
func (r *Repository[E, C, U]) Create(ctx context.Context, data C) (entity *E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpCreate, start, countOf(entity), err) }()

	if err := r.validate(data); err != nil {
		return nil, err
	}
	if r.supportsReturning() {
		return r.create(ctx, r.db, data)
	}

	// INSERT and read-back are two statements here; keep them atomic.
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, r.fail(err, errs.CodeCreateFailed, "failed to begin create on %s", r.table)
	}
	var committed bool
	defer func() {
		if !committed {
			r.rollback(tx)
		}
	}()

	if entity, err = r.create(ctx, tx, data); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, r.fail(err, errs.CodeCreateFailed, "failed to commit create on %s", r.table)
	}
	committed = true
	return entity, nil
}

// CreateWithTx is Create on a caller-owned transaction.
func (r *Repository[E, C, U]) CreateWithTx(ctx context.Context, tx database.Tx, data C) (entity *E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpCreate, start, countOf(entity), err) }()

	if err := r.validate(data); err != nil {
		return nil, err
	}
	return r.create(ctx, tx, data)
}

// BulkCreate validates every item, then creates them one after another in a
// single transaction. Any failure rolls the whole batch back.
func (r *Repository[E, C, U]) BulkCreate(ctx context.Context, items []C) (entities []*E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpBulkCreate, start, len(entities), err) }()

	for i, item := range items {
		if err := r.validate(item); err != nil {
			return nil, r.fail(err, errs.CodeBulkCreateFailed, "bulk create %s: item %d is invalid", r.table, i)
		}
	}
	if len(items) == 0 {
		return make([]*E, 0), nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, r.fail(err, errs.CodeBulkCreateFailed, "failed to begin bulk create on %s", r.table)
	}
	var committed bool
	defer func() {
		if !committed {
			r.rollback(tx)
		}
	}()

	created := make([]*E, 0, len(items))
	for i, item := range items {
		entity, err := r.create(ctx, tx, item)
		if err != nil {
			return nil, r.fail(err, errs.CodeBulkCreateFailed, "bulk create %s failed at item %d", r.table, i)
		}
		created = append(created, entity)
	}

	if err := tx.Commit(); err != nil {
		return nil, r.fail(err, errs.CodeBulkCreateFailed, "failed to commit bulk create on %s", r.table)
	}
	committed = true

	r.opts.logger.Debug("Bulk create committed", "table", r.table, "count", len(created))
	return created, nil
}

// Update applies the defined fields of data and advances updated_at. An
// empty partial only advances updated_at. It returns nil, nil when no row
// has the id.
func (r *Repository[E, C, U]) Update(ctx context.Context, id any, data U) (entity *E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpUpdate, start, countOf(entity), err) }()

	if err := r.validate(data); err != nil {
		return nil, err
	}
	return r.update(ctx, r.db, id, data)
}

// UpdateWithTx is Update on a caller-owned transaction.
func (r *Repository[E, C, U]) UpdateWithTx(ctx context.Context, tx database.Tx, id any, data U) (entity *E, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpUpdate, start, countOf(entity), err) }()

	if err := r.validate(data); err != nil {
		return nil, err
	}
	return r.update(ctx, tx, id, data)
}

// Delete removes the row and reports whether one existed.
func (r *Repository[E, C, U]) Delete(ctx context.Context, id any) (deleted bool, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpDelete, start, boolCount(deleted), err) }()
	return r.delete(ctx, r.db, id)
}

// DeleteWithTx is Delete on a caller-owned transaction.
func (r *Repository[E, C, U]) DeleteWithTx(ctx context.Context, tx database.Tx, id any) (deleted bool, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpDelete, start, boolCount(deleted), err) }()
	return r.delete(ctx, tx, id)
}

// SoftDelete clears the active column and advances updated_at. It reports
// whether a row matched.
func (r *Repository[E, C, U]) SoftDelete(ctx context.Context, id any) (deleted bool, err error) {
	start := time.Now()
	defer func() { r.observe(ctx, OpSoftDelete, start, boolCount(deleted), err) }()

	stmt := fmt.Sprintf("UPDATE %s SET %s = false, updated_at = %s WHERE %s = $1",
		r.table, r.opts.activeCol, r.opts.nowExpr, r.opts.idColumn)
	res, err := r.db.Execute(ctx, database.Command{SQL: stmt, Params: []any{id}})
	if err != nil {
		return false, r.fail(err, errs.CodeDeleteFailed, "failed to soft delete %s", r.table)
	}
	return res.RowCount > 0, nil
}

func (r *Repository[E, C, U]) create(ctx context.Context, exec database.Executor, data C) (*E, error) {
	fields := data.Fields()
	if r.opts.idGen != nil && !fields.Has(r.opts.idColumn) {
		fields = fields.Set(r.opts.idColumn, r.opts.idGen())
	}
	if err := r.checkUnique(ctx, exec, fields, nil); err != nil {
		return nil, err
	}

	ins := query.BuildInsert(fields)
	cols := "created_at, updated_at"
	vals := r.opts.nowExpr + ", " + r.opts.nowExpr
	if !ins.Empty() {
		cols = ins.Columns + ", " + cols
		vals = ins.Placeholders + ", " + vals
	}

	returning := r.supportsReturning()
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table, cols, vals)
	if returning {
		stmt += " RETURNING *"
	}

	res, err := exec.Execute(ctx, database.Command{SQL: stmt, Params: ins.Values})
	if err != nil {
		return nil, r.writeFail(err, errs.CodeCreateFailed, "failed to create %s", r.table)
	}

	var row types.Row
	if returning {
		if len(res.Rows) > 0 {
			row = res.Rows[0]
		}
	} else if id, ok := r.insertedID(fields, res); ok {
		if row, err = r.selectByID(ctx, exec, id); err != nil {
			return nil, r.fail(err, errs.CodeCreateFailed, "failed to read back created %s", r.table)
		}
	}
	if row == nil {
		return nil, r.fail(errs.New(errs.CodeUnexpectedResult, "insert returned no row"),
			errs.CodeCreateFailed, "failed to create %s", r.table)
	}

	entity, err := r.mapRow(row)
	if err != nil {
		return nil, r.fail(err, errs.CodeCreateFailed, "failed to map created %s row", r.table)
	}
	r.opts.logger.Debug("Entity created", "table", r.table)
	return entity, nil
}

// insertedID is the id written by the payload or the id generator, else the
// key generated by the store.
func (r *Repository[E, C, U]) insertedID(fields types.Fields, res *database.Result) (any, bool) {
	if id, ok := fields.Get(r.opts.idColumn); ok && !types.IsAbsent(id) && !types.IsNull(id) {
		return types.Deref(id), true
	}
	if res != nil && res.LastInsertID > 0 {
		return res.LastInsertID, true
	}
	return nil, false
}

func (r *Repository[E, C, U]) update(ctx context.Context, exec database.Executor, id any, data U) (*E, error) {
	fields := data.Fields()
	if err := r.checkUnique(ctx, exec, fields, id); err != nil {
		return nil, err
	}

	upd := query.BuildUpdate(fields)
	params := make([]any, 0, len(upd.Params)+1)
	params = append(append(params, upd.Params...), id)

	returning := r.supportsReturning()
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		r.table, upd.With("updated_at = "+r.opts.nowExpr), r.opts.idColumn, query.Placeholder(len(params)))
	if returning {
		stmt += " RETURNING *"
	}

	res, err := exec.Execute(ctx, database.Command{SQL: stmt, Params: params})
	if err != nil {
		return nil, r.writeFail(err, errs.CodeUpdateFailed, "failed to update %s", r.table)
	}

	var row types.Row
	if returning {
		if len(res.Rows) > 0 {
			row = res.Rows[0]
		}
	} else if row, err = r.selectByID(ctx, exec, id); err != nil {
		return nil, r.fail(err, errs.CodeUpdateFailed, "failed to read back updated %s", r.table)
	}
	if row == nil {
		return nil, nil
	}

	entity, err := r.mapRow(row)
	if err != nil {
		return nil, r.fail(err, errs.CodeUpdateFailed, "failed to map updated %s row", r.table)
	}
	return entity, nil
}

func (r *Repository[E, C, U]) delete(ctx context.Context, exec database.Executor, id any) (bool, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", r.table, r.opts.idColumn)
	res, err := exec.Execute(ctx, database.Command{SQL: stmt, Params: []any{id}})
	if err != nil {
		return false, r.fail(err, errs.CodeDeleteFailed, "failed to delete %s", r.table)
	}
	return res.RowCount > 0, nil
}

func (r *Repository[E, C, U]) selectByID(ctx context.Context, exec database.Executor, id any) (types.Row, error) {
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", r.table, r.opts.idColumn)
	res, err := exec.Execute(ctx, database.Command{SQL: stmt, Params: []any{id}})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// checkUnique looks for another row holding any of the unique column values
// in fields. excludeID skips the row being updated.
func (r *Repository[E, C, U]) checkUnique(ctx context.Context, exec database.Executor, fields types.Fields, excludeID any) error {
	for _, col := range r.opts.unique {
		if !fields.Has(col) {
			continue
		}
		raw, _ := fields.Get(col)
		v := types.Deref(raw)
		if types.IsNull(v) {
			continue
		}

		b := query.From(r.table).Select("1").Where(col+" = ?", v)
		if excludeID != nil {
			b = b.Where(r.opts.idColumn+" <> ?", excludeID)
		}
		stmt, params := b.Limit(1).Build()

		res, err := exec.Execute(ctx, database.Command{SQL: stmt, Params: params})
		if err != nil {
			return r.fail(err, errs.CodeFetchFailed, "failed to check unique %s.%s", r.table, col)
		}
		if len(res.Rows) > 0 {
			r.opts.logger.Warn("Unique value already taken", "table", r.table, "column", col)
			return errs.New(errs.CodeConflict, fmt.Sprintf("%s.%s already exists", r.table, col))
		}
	}
	return nil
}

// validate rejects nil payloads and checks `validate` struct tags on struct
// payloads.
func (r *Repository[E, C, U]) validate(payload any) error {
	rv := reflect.ValueOf(payload)
	if !rv.IsValid() {
		return errs.New(errs.CodeValidationFailed, fmt.Sprintf("%s payload is nil", r.table))
	}
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return errs.New(errs.CodeValidationFailed, fmt.Sprintf("%s payload is nil", r.table))
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || r.opts.validate == nil {
		return nil
	}
	if err := r.opts.validate.Struct(rv.Interface()); err != nil {
		r.opts.logger.Debug("Payload validation failed", "table", r.table, "error", err)
		return errs.Wrapf(err, errs.CodeValidationFailed, "invalid %s payload", r.table)
	}
	return nil
}

func (r *Repository[E, C, U]) supportsReturning() bool {
	if ra, ok := r.db.(returningAware); ok {
		return ra.SupportsReturning()
	}
	return true
}

func (r *Repository[E, C, U]) mapRows(rows []types.Row) ([]*E, error) {
	out := make([]*E, 0, len(rows))
	for _, row := range rows {
		entity, err := r.mapRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

func (r *Repository[E, C, U]) rollback(tx database.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.opts.logger.Error("Failed to rollback transaction", "table", r.table, "error", err)
	}
}

// writeFail turns unique violations reported by the driver into CONFLICT.
func (r *Repository[E, C, U]) writeFail(cause error, code, format string, args ...any) error {
	if database.IsDuplicateKey(cause) {
		r.opts.logger.Warn("Unique constraint violated", "table", r.table, "error", cause)
		return errs.Wrapf(cause, errs.CodeConflict, "%s already exists", r.table)
	}
	return r.fail(cause, code, format, args...)
}

func (r *Repository[E, C, U]) fail(cause error, code, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	r.opts.logger.Error(msg, "table", r.table, "code", code, "error", cause)
	return errs.Wrap(cause, code, msg)
}

func (r *Repository[E, C, U]) observe(ctx context.Context, op string, start time.Time, rows int, err error) {
	if len(r.opts.observers) == 0 {
		return
	}
	event := OperationEvent{
		Table:     r.table,
		Operation: op,
		Duration:  time.Since(start),
		Rows:      rows,
		Err:       err,
	}
	for _, o := range r.opts.observers {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.opts.logger.Warn("Repository observer panicked", "table", r.table, "panic", fmt.Sprint(rec))
				}
			}()
			o.ObserveOperation(ctx, event)
		}()
	}
}

func countOf[E any](entity *E) int {
	if entity == nil {
		return 0
	}
	return 1
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
