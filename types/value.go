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

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind tags the scalar variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindTime
	KindBool
)

var _ BaseEnum = KindNull

var kindNames = [...]string{"null", "int", "float", "text", "time", "bool"}

func (k Kind) IsValid() bool { return k >= KindNull && k <= KindBool }

func (k Kind) Number() int {
	if !k.IsValid() {
		return IllegalValue
	}
	return int(k)
}

func (k Kind) String() string { return k.Name() }

func (k Kind) Name() string {
	if !k.IsValid() {
		return IllegalName
	}
	return kindNames[k]
}

func (k Kind) Desc() string {
	if !k.IsValid() {
		return IllegalDesc
	}
	return kindNames[k] + " scalar"
}

// Value is a tagged scalar read from a result row.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	t    time.Time
	b    bool
}

func Null() Value { return Value{} }
func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }
func TextValue(v string) Value { return Value{kind: KindText, s: v} }
func TimeValue(v time.Time) Value { return Value{kind: KindTime, t: v} }
func BoolValue(v bool) Value { return Value{kind: KindBool, b: v} }

// ValueOf converts a driver-level value into a Value. []byte is treated as text.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case int64:
		return IntValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case uint32:
		return IntValue(int64(x)), nil
	case float64:
		return FloatValue(x), nil
	case float32:
		return FloatValue(float64(x)), nil
	case string:
		return TextValue(x), nil
	case []byte:
		return TextValue(string(x)), nil
	case time.Time:
		return TimeValue(x), nil
	case bool:
		return BoolValue(x), nil
	default:
		return Null(), fmt.Errorf("unsupported scalar type %T", v)
	}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindTime:
		return v.t
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Value implements driver.Valuer so a Value can be passed back as a parameter.
func (v Value) Value() (driver.Value, error) {
	return v.Interface(), nil
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindText:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v.Interface())
	}
}

// AsString returns the text form of a non-null value.
func (v Value) AsString() (string, bool) {
	if v.kind == KindNull {
		return "", false
	}
	return v.String(), true
}

func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindText:
		n, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsBool accepts booleans, integers (non-zero is true) and the usual text forms.
func (v Value) AsBool() (bool, bool) {
	switch v.kind {
	case KindBool:
		return v.b, true
	case KindInt:
		return v.i != 0, true
	case KindText:
		b, err := strconv.ParseBool(strings.TrimSpace(v.s))
		return b, err == nil
	default:
		return false, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AsTime returns timestamps as-is and parses text in the formats drivers emit.
func (v Value) AsTime() (time.Time, bool) {
	switch v.kind {
	case KindTime:
		return v.t, true
	case KindText:
		s := strings.TrimSpace(v.s)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case KindInt:
		return time.Unix(v.i, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// Row is a single result row keyed by column name.
type Row map[string]Value

// Get returns the value of col, or Null when the column is missing.
func (r Row) Get(col string) Value {
	if v, ok := r[col]; ok {
		return v
	}
	return Null()
}

func (r Row) String(col string) string {
	s, _ := r.Get(col).AsString()
	return s
}

func (r Row) Int(col string) int64 {
	n, _ := r.Get(col).AsInt()
	return n
}

func (r Row) Float(col string) float64 {
	f, _ := r.Get(col).AsFloat()
	return f
}

func (r Row) Bool(col string) bool {
	b, _ := r.Get(col).AsBool()
	return b
}

func (r Row) Time(col string) time.Time {
	t, _ := r.Get(col).AsTime()
	return t
}

// NullableString returns nil for NULL columns.
func (r Row) NullableString(col string) *string {
	s, ok := r.Get(col).AsString()
	if !ok {
		return nil
	}
	return &s
}

// NullableTime returns nil for NULL or unparsable columns.
func (r Row) NullableTime(col string) *time.Time {
	t, ok := r.Get(col).AsTime()
	if !ok {
		return nil
	}
	return &t
}
