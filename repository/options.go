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
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tomoncle/crudkit/database"
)

const (
	defaultIDColumn     = "id"
	defaultActiveColumn = "active"
	defaultNowExpr      = "NOW()"
	sqliteNowExpr       = "CURRENT_TIMESTAMP"
)

type options struct {
	logger      database.Logger
	observers   []Observer
	validate    *validator.Validate
	unique      []string
	idGen       func() string
	idColumn    string
	activeCol   string
	nowExpr     string
	nowExplicit bool
}

// Option configures a Repository.
type Option func(*options)

func WithLogger(logger database.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver adds an observer notified after every operation.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observers = append(o.observers, observer)
		}
	}
}

// WithValidator replaces the validator used on struct payloads.
func WithValidator(v *validator.Validate) Option {
	return func(o *options) { o.validate = v }
}

// WithUniqueColumns makes Create and Update check each column for an
// existing row holding the same value before writing, failing with CONFLICT.
func WithUniqueColumns(cols ...string) Option {
	return func(o *options) { o.unique = append(o.unique, cols...) }
}

// WithIDGenerator fills the id column on create when the payload has none.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.idGen = gen }
}

func WithIDColumn(col string) Option {
	return func(o *options) { o.idColumn = col }
}

// WithActiveColumn names the boolean column cleared by SoftDelete.
func WithActiveColumn(col string) Option {
	return func(o *options) { o.activeCol = col }
}

// WithTimestampExpr sets the SQL expression written to created_at and
// updated_at. The default is NOW(), or CURRENT_TIMESTAMP on SQLite.
func WithTimestampExpr(expr string) Option {
	return func(o *options) {
		o.nowExpr = expr
		o.nowExplicit = true
	}
}

// UUIDGenerator returns random (version 4) UUID strings.
func UUIDGenerator() string {
	return uuid.NewString()
}

var defaultValidate = validator.New(validator.WithRequiredStructEnabled())

func newOptions(opts []Option) options {
	o := options{
		idColumn:  defaultIDColumn,
		activeCol: defaultActiveColumn,
		nowExpr:   defaultNowExpr,
		validate:  defaultValidate,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = database.GetLogger()
	}
	o.logger = database.SafeLog(o.logger)
	return o
}
