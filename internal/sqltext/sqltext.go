// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqltext provides the two textual operations the query core performs on
// SQL: splitting a batch on ';' and locating canonical ":name" parameter markers.
//
// SQL is treated as opaque text. The scanner only knows enough to skip regions
// where ';' and ':' carry no meaning: quoted strings and identifiers, line and
// block comments, PostgreSQL dollar-quoted bodies and "::" casts.
package sqltext

import "strings"

// Sigil prefixes a canonical parameter marker.
const Sigil = ':'

// Marker is one occurrence of a canonical parameter marker.
type Marker struct {
	Name  string
	Start int // offset of the sigil
	End   int // offset just past the name
}

// scan walks sql and calls visit for every byte offset that lies outside
// quoted strings, comments and dollar-quoted bodies. visit returns how many
// bytes it consumed (0 or 1 means advance by one).
func scan(sql string, visit func(i int) int) {
	n := len(sql)
	for i := 0; i < n; {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
			continue
		case c == '-' && i+1 < n && sql[i+1] == '-':
			if j := strings.IndexByte(sql[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = n
			}
			continue
		case c == '/' && i+1 < n && sql[i+1] == '*':
			if j := strings.Index(sql[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = n
			}
			continue
		case c == '$':
			if tag, ok := dollarTag(sql, i); ok {
				if j := strings.Index(sql[i+len(tag):], tag); j >= 0 {
					i += len(tag) + j + len(tag)
				} else {
					i = n
				}
				continue
			}
		}
		step := visit(i)
		if step < 1 {
			step = 1
		}
		i += step
	}
}

// skipQuoted returns the offset just past the literal opened at i.
// A doubled quote character inside the literal is an escaped quote.
func skipQuoted(sql string, i int, q byte) int {
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != q {
			continue
		}
		if j+1 < len(sql) && sql[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(sql)
}

// dollarTag recognizes $$ or $tag$ at offset i.
func dollarTag(sql string, i int) (string, bool) {
	j := i + 1
	for j < len(sql) && isIdent(sql[j], j > i+1) {
		j++
	}
	if j < len(sql) && sql[j] == '$' {
		// $1 is a positional parameter, not a tag.
		if j > i+1 && sql[i+1] >= '0' && sql[i+1] <= '9' {
			return "", false
		}
		return sql[i : j+1], true
	}
	return "", false
}

func isIdent(c byte, allowDigit bool) bool {
	switch {
	case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return allowDigit
	}
	return false
}

// Split breaks sql into statements on ';' and returns the non-blank ones,
// trimmed, in source order.
func Split(sql string) []string {
	var out []string
	start := 0
	scan(sql, func(i int) int {
		if sql[i] == ';' {
			if stmt := strings.TrimSpace(sql[start:i]); stmt != "" && !onlyComments(stmt) {
				out = append(out, stmt)
			}
			start = i + 1
		}
		return 1
	})
	if stmt := strings.TrimSpace(sql[start:]); stmt != "" && !onlyComments(stmt) {
		out = append(out, stmt)
	}
	return out
}

// onlyComments reports whether s contains nothing but comments and whitespace.
func onlyComments(s string) bool {
	empty := true
	scan(s, func(i int) int {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
		default:
			empty = false
		}
		return 1
	})
	return empty
}

// IsMulti reports whether sql holds more than one non-blank statement.
func IsMulti(sql string) bool {
	return len(Split(sql)) > 1
}

// Markers returns every canonical marker in sql in source order.
func Markers(sql string) []Marker {
	var out []Marker
	scan(sql, func(i int) int {
		if sql[i] != Sigil {
			return 1
		}
		// "::" is a cast; skip both colons.
		if i+1 < len(sql) && sql[i+1] == Sigil {
			return 2
		}
		if i > 0 && sql[i-1] == Sigil {
			return 1
		}
		j := i + 1
		for j < len(sql) && isIdent(sql[j], j > i+1) {
			j++
		}
		if j == i+1 {
			return 1
		}
		out = append(out, Marker{Name: sql[i+1 : j], Start: i, End: j})
		return j - i
	})
	return out
}

// Names returns the distinct marker names in order of first appearance.
func Names(sql string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range Markers(sql) {
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		out = append(out, m.Name)
	}
	return out
}

// Rewrite replaces every marker with the string returned by repl.
func Rewrite(sql string, repl func(name string) string) string {
	markers := Markers(sql)
	if len(markers) == 0 {
		return sql
	}
	var b strings.Builder
	b.Grow(len(sql))
	last := 0
	for _, m := range markers {
		b.WriteString(sql[last:m.Start])
		b.WriteString(repl(m.Name))
		last = m.End
	}
	b.WriteString(sql[last:])
	return b.String()
}
