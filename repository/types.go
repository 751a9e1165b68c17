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
	"time"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/types"
)

// Payload is a create or update input. Fields returns the columns to write;
// nil pointer values are absent and never written.
type Payload interface {
	Fields() types.Fields
}

// RowMapper converts a returned row into an entity. Columns may hold Null.
type RowMapper[E any] func(row types.Row) (*E, error)

// OperationEvent describes one finished repository operation.
type OperationEvent struct {
	Table     string
	Operation string
	Duration  time.Duration
	Rows      int
	Err       error
}

// Observer receives an event per operation. Observers must not block; a
// panicking observer is recovered and ignored.
type Observer interface {
	ObserveOperation(ctx context.Context, event OperationEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event OperationEvent)

func (f ObserverFunc) ObserveOperation(ctx context.Context, event OperationEvent) {
	f(ctx, event)
}

// CrudRepository defines basic CRUD operations for a generic entity type.
type CrudRepository[E any, C Payload, U Payload] interface {
	FindAll(ctx context.Context, conds types.Fields) ([]*E, error)

	FindByID(ctx context.Context, id any) (*E, error)

	Count(ctx context.Context, conds types.Fields) (int64, error)

	Exists(ctx context.Context, conds types.Fields) (bool, error)

	Create(ctx context.Context, data C) (*E, error)

	BulkCreate(ctx context.Context, items []C) ([]*E, error)

	Update(ctx context.Context, id any, data U) (*E, error)

	Delete(ctx context.Context, id any) (bool, error)

	SoftDelete(ctx context.Context, id any) (bool, error)
}

// TransactionRepository defines operations executed within a caller-owned
// transaction. The caller commits or rolls back.
type TransactionRepository[E any, C Payload, U Payload] interface {
	CreateWithTx(ctx context.Context, tx database.Tx, data C) (*E, error)
	UpdateWithTx(ctx context.Context, tx database.Tx, id any, data U) (*E, error)
	DeleteWithTx(ctx context.Context, tx database.Tx, id any) (bool, error)
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[E any] interface {
	Page(ctx context.Context, page *types.PageRequest) (*types.Pagination[E], error)
}

// Interface combines CRUD, pagination, and transactional operations.
type Interface[E any, C Payload, U Payload] interface {
	CrudRepository[E, C, U]
	PageQueryRepository[E]
	TransactionRepository[E, C, U]
	Table() string
}
