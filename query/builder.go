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

package query

import (
	"strconv"
	"strings"

	"github.com/tomoncle/crudkit/errs"
	"github.com/tomoncle/crudkit/types"
)

// Builder accumulates the parts of a SELECT statement. It is an immutable
// value: every method returns a new Builder and leaves the receiver as it was,
// so a partially built query can be shared and extended independently.
type Builder struct {
	fields    []string
	table     string
	joins     []string
	wheres    []string
	orders    []string
	params    []any
	limit     int
	offset    int
	hasLimit  bool
	hasOffset bool
	err       error
}

// New returns an empty builder selecting *.
func New() Builder {
	return Builder{}
}

// From is shorthand for New().From(table).
func From(table string) Builder {
	return New().From(table)
}

func (b Builder) clone() Builder {
	out := b
	out.fields = append([]string(nil), b.fields...)
	out.joins = append([]string(nil), b.joins...)
	out.wheres = append([]string(nil), b.wheres...)
	out.orders = append([]string(nil), b.orders...)
	out.params = append([]any(nil), b.params...)
	return out
}

// Select replaces the selected fields. No fields means *.
func (b Builder) Select(fields ...string) Builder {
	out := b.clone()
	out.fields = append([]string(nil), fields...)
	return out
}

func (b Builder) From(table string) Builder {
	out := b.clone()
	out.table = table
	return out
}

// Join adds an INNER JOIN.
func (b Builder) Join(table, on string) Builder {
	out := b.clone()
	out.joins = append(out.joins, "INNER JOIN "+table+" ON "+on)
	return out
}

func (b Builder) LeftJoin(table, on string) Builder {
	out := b.clone()
	out.joins = append(out.joins, "LEFT JOIN "+table+" ON "+on)
	return out
}

// Where adds a predicate ANDed with the others. Without a value the condition
// is used verbatim and must be a static, trusted predicate. With a value, the
// first "?" becomes the next $k placeholder bound to it. More than one value,
// or a value without a "?", leaves the predicate out and is reported by Err.
func (b Builder) Where(cond string, value ...any) Builder {
	out := b.clone()
	switch {
	case len(value) == 0:
		out.wheres = append(out.wheres, cond)
	case len(value) > 1:
		out.setErr(errs.New(errs.CodeValidationFailed,
			"where "+strconv.Quote(cond)+": takes one value, got "+strconv.Itoa(len(value))))
	default:
		i := strings.IndexByte(cond, '?')
		if i < 0 {
			out.setErr(errs.New(errs.CodeValidationFailed,
				"where "+strconv.Quote(cond)+": value has no ? placeholder"))
			return out
		}
		out.params = append(out.params, value[0])
		out.wheres = append(out.wheres, cond[:i]+Placeholder(len(out.params))+cond[i+1:])
	}
	return out
}

func (b *Builder) setErr(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Err reports the first misuse recorded while building, such as a Where value
// that could not be bound.
func (b Builder) Err() error {
	return b.err
}

// WhereFields adds one equality predicate per defined, non-null field.
func (b Builder) WhereFields(conds types.Fields) Builder {
	out := b
	conds.Range(func(col string, v any) {
		if types.IsNull(v) {
			return
		}
		out = out.Where(col+" = ?", v)
	})
	return out
}

func (b Builder) OrderBy(field string, dir types.Direction) Builder {
	out := b.clone()
	out.orders = append(out.orders, field+" "+dir.String())
	return out
}

// Limit sets the row limit. An explicit 0 is emitted as LIMIT 0; a negative
// value clears the limit.
func (b Builder) Limit(n int) Builder {
	out := b.clone()
	out.limit, out.hasLimit = n, n >= 0
	return out
}

// Offset sets the row offset with the same policy as Limit.
func (b Builder) Offset(n int) Builder {
	out := b.clone()
	out.offset, out.hasOffset = n, n >= 0
	return out
}

// Build assembles the statement. It does not consume the builder and returns
// the same result on every call.
func (b Builder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.fields) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.fields, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)
	if len(b.joins) > 0 {
		sb.WriteString(" ")
		sb.WriteString(strings.Join(b.joins, " "))
	}
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
	if b.hasLimit {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(b.limit))
	}
	if b.hasOffset {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(b.offset))
	}
	params := make([]any, len(b.params))
	copy(params, b.params)
	return sb.String(), params
}
