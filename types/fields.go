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

package types

import "reflect"

// Fields is an ordered column to value mapping. Iteration follows the order in
// which columns were first set.
//
// A nil pointer value marks the column as absent: it is kept in the mapping
// but dropped by every clause builder. Non-nil pointers are dereferenced. An
// untyped nil or Null() is an explicit SQL NULL.
type Fields struct {
	cols []string
	vals map[string]any
}

// NewFields builds Fields from alternating column/value pairs.
func NewFields(pairs ...any) Fields {
	var f Fields
	for i := 0; i+1 < len(pairs); i += 2 {
		col, ok := pairs[i].(string)
		if !ok {
			continue
		}
		f = f.Set(col, pairs[i+1])
	}
	return f
}

// Set returns Fields with col assigned. Re-setting a column keeps its position.
func (f Fields) Set(col string, v any) Fields {
	out := f.clone()
	if _, ok := out.vals[col]; !ok {
		out.cols = append(out.cols, col)
	}
	out.vals[col] = v
	return out
}

func (f Fields) clone() Fields {
	out := Fields{
		cols: make([]string, len(f.cols), len(f.cols)+1),
		vals: make(map[string]any, len(f.vals)+1),
	}
	copy(out.cols, f.cols)
	for k, v := range f.vals {
		out.vals[k] = v
	}
	return out
}

// Len is the number of columns, absent ones included.
func (f Fields) Len() int { return len(f.cols) }

// Columns returns the column names in order.
func (f Fields) Columns() []string {
	cols := make([]string, len(f.cols))
	copy(cols, f.cols)
	return cols
}

// Get returns the raw value stored for col.
func (f Fields) Get(col string) (any, bool) {
	v, ok := f.vals[col]
	return v, ok
}

// Has reports whether col holds a defined (non-absent) value.
func (f Fields) Has(col string) bool {
	v, ok := f.vals[col]
	return ok && !IsAbsent(v)
}

// Range calls fn for every defined column in order with the dereferenced value.
func (f Fields) Range(fn func(col string, v any)) {
	for _, col := range f.cols {
		v := f.vals[col]
		if IsAbsent(v) {
			continue
		}
		fn(col, Deref(v))
	}
}

// Defined returns the number of columns holding a defined value.
func (f Fields) Defined() int {
	n := 0
	f.Range(func(string, any) { n++ })
	return n
}

// IsAbsent reports whether v is a nil pointer.
func IsAbsent(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

// IsNull reports whether v is an explicit SQL NULL.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	if val, ok := v.(Value); ok {
		return val.IsNull()
	}
	return false
}

// Deref unwraps non-nil pointers so drivers receive plain scalars.
func Deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}
