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
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/crudkit/types"
)

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// assertContiguous checks that placeholders are $1..$n with n == len(params).
func assertContiguous(t *testing.T, sql string, params []any) {
	t.Helper()
	matches := placeholderRe.FindAllStringSubmatch(sql, -1)
	require.Len(t, matches, len(params), "placeholder count must equal param count in %q", sql)
	seen := map[int]bool{}
	for _, m := range matches {
		k, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		assert.False(t, seen[k], "placeholder $%d repeated", k)
		seen[k] = true
	}
	for k := 1; k <= len(params); k++ {
		assert.True(t, seen[k], "placeholder $%d missing", k)
	}
}

func TestBuildWhereDropsAbsentAndNull(t *testing.T) {
	var missing *string
	conds := types.NewFields("email", missing, "deleted_at", nil, "role", types.Null())

	sql, params := BuildWhere(conds)
	assert.Equal(t, "", sql)
	assert.Empty(t, params)
	assert.NotNil(t, params)
}

func TestBuildWhereEmptyFields(t *testing.T) {
	sql, params := BuildWhere(types.Fields{})
	assert.Equal(t, "", sql)
	assert.Empty(t, params)
}

func TestBuildWhereKeepsFieldOrder(t *testing.T) {
	role := "admin"
	var skip *int
	conds := types.NewFields("role", &role, "age", skip, "active", true, "team_id", 7)

	sql, params := BuildWhere(conds)
	assert.Equal(t, "WHERE role = $1 AND active = $2 AND team_id = $3", sql)
	assert.Equal(t, []any{"admin", true, 7}, params)
	assertContiguous(t, sql, params)
}

func TestBuildWhereFromOffsetsNumbering(t *testing.T) {
	sql, params := BuildWhereFrom(3, types.NewFields("a", 1, "b", 2))
	assert.Equal(t, "WHERE a = $3 AND b = $4", sql)
	assert.Equal(t, []any{1, 2}, params)
}

func TestBuildInsertAlignsTriples(t *testing.T) {
	name := "Ada"
	var bio *string
	data := types.NewFields("email", "ada@example.com", "bio", bio, "name", &name, "avatar_url", nil)

	ins := BuildInsert(data)
	assert.Equal(t, "email, name, avatar_url", ins.Columns)
	assert.Equal(t, "$1, $2, $3", ins.Placeholders)
	assert.Equal(t, []any{"ada@example.com", "Ada", nil}, ins.Values)
	assert.Len(t, ins.Values, data.Defined())
	assert.False(t, ins.Empty())
}

func TestBuildUpdatePartial(t *testing.T) {
	var email *string
	name := "Grace"
	upd := BuildUpdate(types.NewFields("email", email, "name", &name, "role", "user"))

	assert.Equal(t, "name = $1, role = $2", upd.Set)
	assert.Equal(t, []any{"Grace", "user"}, upd.Params)
	assert.Equal(t, "name = $1, role = $2, updated_at = NOW()", upd.With("updated_at = NOW()"))
	assertContiguous(t, upd.Set, upd.Params)
}

func TestBuildUpdateEmptyStillAdvancesTimestamp(t *testing.T) {
	var email *string
	upd := BuildUpdate(types.NewFields("email", email))

	assert.True(t, upd.Empty())
	assert.Empty(t, upd.Params)
	assert.Equal(t, "updated_at = NOW()", upd.With("updated_at = NOW()"))
}

func TestFieldsResetKeepsPosition(t *testing.T) {
	f := types.NewFields("a", 1, "b", 2).Set("a", 3)
	ins := BuildInsert(f)
	assert.Equal(t, "a, b", ins.Columns)
	assert.Equal(t, []any{3, 2}, ins.Values)
}
