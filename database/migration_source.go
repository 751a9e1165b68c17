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
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
)

var migrationFileRe = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// LoadMigrations reads every *.sql file below dir in fsys. A file named
// "NNN_name.sql" becomes version "NNN" called "name"; other files use their
// base name as the version. Two files sharing a version are an error.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	if dir == "" {
		dir = "."
	}

	var migrations []Migration
	seen := make(map[string]string)

	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", p, err)
		}

		version, name := parseMigrationFileName(d.Name())
		if prev, dup := seen[version]; dup {
			return fmt.Errorf("duplicate migration version %s: %s and %s", version, prev, p)
		}
		seen[version] = p

		migrations = append(migrations, Migration{
			Version:     version,
			Name:        name,
			Description: p,
			SQL:         string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return SortMigrations(migrations), nil
}

func parseMigrationFileName(filename string) (version, name string) {
	if m := migrationFileRe.FindStringSubmatch(filename); len(m) == 3 {
		return m[1], m[2]
	}
	stem := strings.TrimSuffix(filename, path.Ext(filename))
	return stem, stem
}

// SplitStatements splits a SQL script into statements at ';'. Separators
// inside quoted strings, quoted identifiers and dollar-quoted bodies do not
// end a statement. "--" and "/* */" comments are dropped, whitespace outside
// quotes collapses to a single space and the trailing ';' is removed.
func SplitStatements(content string) []string {
	var statements []string
	var current strings.Builder
	space := false

	write := func(s string) {
		if space && current.Len() > 0 {
			current.WriteByte(' ')
		}
		space = false
		current.WriteString(s)
	}
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
		space = false
	}

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			space = true
			i++
		case strings.HasPrefix(content[i:], "--"):
			end := strings.IndexByte(content[i:], '\n')
			if end < 0 {
				end = len(content) - i
			}
			space = true
			i += end
		case strings.HasPrefix(content[i:], "/*"):
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				i = len(content)
			} else {
				i += end + 4
			}
			space = true
		case c == '\'' || c == '"' || c == '`':
			end := quotedEnd(content, i)
			write(content[i:end])
			i = end
		case c == '$':
			tag := dollarTag(content[i:])
			if tag == "" {
				write("$")
				i++
				continue
			}
			end := len(content)
			if j := strings.Index(content[i+len(tag):], tag); j >= 0 {
				end = i + len(tag) + j + len(tag)
			}
			write(content[i:end])
			i = end
		case c == ';':
			flush()
			i++
		default:
			write(content[i : i+1])
			i++
		}
	}
	flush()

	return statements
}

// quotedEnd returns the index just past the quote opened at content[start].
// A doubled quote character is an escaped quote.
func quotedEnd(content string, start int) int {
	q := content[start]
	for i := start + 1; i < len(content); i++ {
		if content[i] != q {
			continue
		}
		if i+1 < len(content) && content[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(content)
}

// dollarTag returns the PostgreSQL dollar-quote opener ("$$" or "$tag$") at
// the start of s, or "" when s starts with something else, such as "$1".
func dollarTag(s string) string {
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 1 && c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	if i < len(s) && s[i] == '$' {
		return s[:i+1]
	}
	return ""
}
