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

	"github.com/tomoncle/crudkit/types"
)

// Placeholder returns the positional placeholder for index k ($1, $2, ...).
func Placeholder(k int) string {
	return "$" + strconv.Itoa(k)
}

// BuildWhere turns equality conditions into a WHERE clause numbered from $1.
// Absent and NULL values are dropped; an empty result yields "" and no params.
func BuildWhere(conds types.Fields) (string, []any) {
	return BuildWhereFrom(1, conds)
}

// BuildWhereFrom is BuildWhere with placeholder numbering starting at start.
func BuildWhereFrom(start int, conds types.Fields) (string, []any) {
	if start < 1 {
		start = 1
	}
	var clauses []string
	params := make([]any, 0, conds.Len())
	conds.Range(func(col string, v any) {
		if types.IsNull(v) {
			return
		}
		clauses = append(clauses, col+" = "+Placeholder(start+len(params)))
		params = append(params, v)
	})
	if len(clauses) == 0 {
		return "", []any{}
	}
	return "WHERE " + strings.Join(clauses, " AND "), params
}

// InsertClause holds the column list, placeholder list and values of an
// INSERT. Values[i] always binds to placeholder $i+1.
type InsertClause struct {
	Columns      string
	Placeholders string
	Values       []any
}

// BuildInsert drops absent values and keeps the remaining order.
func BuildInsert(data types.Fields) InsertClause {
	var cols, phs []string
	values := make([]any, 0, data.Len())
	data.Range(func(col string, v any) {
		values = append(values, v)
		cols = append(cols, col)
		phs = append(phs, Placeholder(len(values)))
	})
	return InsertClause{
		Columns:      strings.Join(cols, ", "),
		Placeholders: strings.Join(phs, ", "),
		Values:       values,
	}
}

// Empty reports whether no column survived filtering.
func (c InsertClause) Empty() bool { return len(c.Values) == 0 }

// UpdateClause holds the SET assignments of an UPDATE and their params.
type UpdateClause struct {
	Set    string
	Params []any
}

// BuildUpdate drops absent values and numbers the assignments from $1.
func BuildUpdate(data types.Fields) UpdateClause {
	var sets []string
	params := make([]any, 0, data.Len())
	data.Range(func(col string, v any) {
		params = append(params, v)
		sets = append(sets, col+" = "+Placeholder(len(params)))
	})
	return UpdateClause{Set: strings.Join(sets, ", "), Params: params}
}

// Empty reports whether the partial update carried no defined field.
func (c UpdateClause) Empty() bool { return len(c.Params) == 0 }

// With appends extra assignments (e.g. "updated_at = NOW()") after the
// parameterized ones. It is how an empty partial still yields a statement.
func (c UpdateClause) With(assignments ...string) string {
	parts := make([]string, 0, len(assignments)+1)
	if c.Set != "" {
		parts = append(parts, c.Set)
	}
	parts = append(parts, assignments...)
	return strings.Join(parts, ", ")
}
