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

package database

import (
	"strconv"
	"strings"
)

// Rebind rewrites $k placeholders to ? and orders args by placeholder
// appearance, so "$2 ... $1 ... $2" binds args[1], args[0], args[1].
// Placeholders inside quoted literals and identifiers are left alone. A
// placeholder with no matching arg is kept verbatim and lets the driver
// report the mismatch.
func Rebind(query string, args []any) (string, []any) {
	if !strings.Contains(query, "$") {
		return query, args
	}

	var (
		b     strings.Builder
		out   = make([]any, 0, len(args))
		quote byte
	)
	b.Grow(len(query))

	for i := 0; i < len(query); i++ {
		c := query[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
			b.WriteByte(c)
			continue
		case '$':
			j := i + 1
			for j < len(query) && query[j] >= '0' && query[j] <= '9' {
				j++
			}
			if j > i+1 {
				n, err := strconv.Atoi(query[i+1 : j])
				if err == nil && n >= 1 && n <= len(args) {
					b.WriteByte('?')
					out = append(out, args[n-1])
					i = j - 1
					continue
				}
			}
		}
		b.WriteByte(c)
	}
	return b.String(), out
}
