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

package crudkit

import (
	"context"
	"sync"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/errs"
	"github.com/tomoncle/crudkit/query"
	"github.com/tomoncle/crudkit/repository"
	"github.com/tomoncle/crudkit/types"
)

type Service[E any, C repository.Payload, U repository.Payload] interface {
	// Get returns a single entity by its identifier, nil when missing.
	Get(ctx context.Context, id any) (*E, error)

	// All returns all entities.
	All(ctx context.Context) ([]*E, error)

	// List returns entities whose columns equal the given conditions.
	List(ctx context.Context, conds types.Fields) ([]*E, error)

	// Count returns the number of entities matching conds.
	Count(ctx context.Context, conds types.Fields) (int64, error)

	// Exists reports whether any entity matches conds.
	Exists(ctx context.Context, conds types.Fields) (bool, error)

	// Find runs a query built with Select and maps the rows to entities.
	Find(ctx context.Context, b query.Builder) ([]*E, error)

	// Query executes a raw query and maps the results to entities.
	Query(ctx context.Context, sql string, params ...any) ([]*E, error)

	// Page returns a paginated list of entities.
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[E], error)

	// Save inserts a new entity.
	Save(ctx context.Context, data C) (*E, error)

	// SaveAll inserts entities atomically.
	SaveAll(ctx context.Context, items []C) ([]*E, error)

	// Update applies a partial update, returning nil when the id is unknown.
	Update(ctx context.Context, id any, data U) (*E, error)

	// Delete removes an entity by its identifier.
	Delete(ctx context.Context, id any) (bool, error)

	// SoftDelete marks an entity inactive.
	SoftDelete(ctx context.Context, id any) (bool, error)

	// SaveWithTx inserts an entity within an existing transaction.
	SaveWithTx(ctx context.Context, tx database.Tx, data C) (*E, error)

	// UpdateWithTx updates an entity within a transaction.
	UpdateWithTx(ctx context.Context, tx database.Tx, id any, data U) (*E, error)

	// DeleteWithTx removes an entity within a transaction.
	DeleteWithTx(ctx context.Context, tx database.Tx, id any) (bool, error)

	// Select returns a query builder over the service's table.
	Select() query.Builder
}

type baseServiceImpl[E any, C repository.Payload, U repository.Payload] struct {
	table  string
	mapRow repository.RowMapper[E]
	opts   []repository.Option

	mu   sync.Mutex
	exec *database.BunExecutor
	repo *repository.Repository[E, C, U]
}

// NewService returns a default Service implementation using the generic
// repository backed by the global database connection. The repository is
// created on first use, so services may be declared before Open.
func NewService[E any, C repository.Payload, U repository.Payload](table string, mapRow repository.RowMapper[E], opts ...repository.Option) Service[E, C, U] {
	return &baseServiceImpl[E, C, U]{table: table, mapRow: mapRow, opts: opts}
}

var errNotInitialized = errs.New(errs.CodeConnectionFailed, "database not initialized")

func (s *baseServiceImpl[E, C, U]) baseRepo() (*repository.Repository[E, C, U], error) {
	exec := database.GetExecutor()
	if exec == nil {
		return nil, errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Open may have replaced the global database since the last call.
	if s.repo != nil && s.exec == exec {
		return s.repo, nil
	}
	opts := s.opts
	if m := currentMetrics(); m != nil {
		opts = append([]repository.Option{repository.WithObserver(m)}, opts...)
	}
	s.exec = exec
	s.repo = repository.New[E, C, U](exec, s.table, s.mapRow, opts...)
	return s.repo, nil
}

func (s *baseServiceImpl[E, C, U]) Get(ctx context.Context, id any) (*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindByID(ctx, id)
}

func (s *baseServiceImpl[E, C, U]) All(ctx context.Context) ([]*E, error) {
	return s.List(ctx, types.Fields{})
}

func (s *baseServiceImpl[E, C, U]) List(ctx context.Context, conds types.Fields) ([]*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.FindAll(ctx, conds)
}

func (s *baseServiceImpl[E, C, U]) Count(ctx context.Context, conds types.Fields) (int64, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return 0, err
	}
	return repo.Count(ctx, conds)
}

func (s *baseServiceImpl[E, C, U]) Exists(ctx context.Context, conds types.Fields) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.Exists(ctx, conds)
}

func (s *baseServiceImpl[E, C, U]) Find(ctx context.Context, b query.Builder) ([]*E, error) {
	if err := b.Err(); err != nil {
		return nil, errs.Wrapf(err, errs.CodeFetchFailed, "invalid query on %s", s.table)
	}
	sql, params := b.Build()
	return s.Query(ctx, sql, params...)
}

func (s *baseServiceImpl[E, C, U]) Query(ctx context.Context, sql string, params ...any) ([]*E, error) {
	exec := database.GetExecutor()
	if exec == nil {
		return nil, errNotInitialized
	}
	res, err := exec.Execute(ctx, database.Command{SQL: sql, Params: params})
	if err != nil {
		return nil, errs.Wrapf(err, errs.CodeFetchFailed, "failed to query %s", s.table)
	}
	out := make([]*E, 0, len(res.Rows))
	for _, row := range res.Rows {
		entity, err := s.mapRow(row)
		if err != nil {
			return nil, errs.Wrapf(err, errs.CodeFetchFailed, "failed to map %s row", s.table)
		}
		out = append(out, entity)
	}
	return out, nil
}

func (s *baseServiceImpl[E, C, U]) Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[E], error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Page(ctx, page)
}

func (s *baseServiceImpl[E, C, U]) Save(ctx context.Context, data C) (*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Create(ctx, data)
}

func (s *baseServiceImpl[E, C, U]) SaveAll(ctx context.Context, items []C) ([]*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.BulkCreate(ctx, items)
}

func (s *baseServiceImpl[E, C, U]) Update(ctx context.Context, id any, data U) (*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.Update(ctx, id, data)
}

func (s *baseServiceImpl[E, C, U]) Delete(ctx context.Context, id any) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.Delete(ctx, id)
}

func (s *baseServiceImpl[E, C, U]) SoftDelete(ctx context.Context, id any) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.SoftDelete(ctx, id)
}

func (s *baseServiceImpl[E, C, U]) SaveWithTx(ctx context.Context, tx database.Tx, data C) (*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.CreateWithTx(ctx, tx, data)
}

func (s *baseServiceImpl[E, C, U]) UpdateWithTx(ctx context.Context, tx database.Tx, id any, data U) (*E, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return nil, err
	}
	return repo.UpdateWithTx(ctx, tx, id, data)
}

func (s *baseServiceImpl[E, C, U]) DeleteWithTx(ctx context.Context, tx database.Tx, id any) (bool, error) {
	repo, err := s.baseRepo()
	if err != nil {
		return false, err
	}
	return repo.DeleteWithTx(ctx, tx, id)
}

func (s *baseServiceImpl[E, C, U]) Select() query.Builder {
	return query.From(s.table)
}
