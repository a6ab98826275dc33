package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalizer computes stable cache fingerprints for generated queries. Two
// queries that normalize to the same text against the same data source share a
// cache entry. String literals are replaced with a placeholder; numeric
// literals are preserved unless NormalizeNumbers is set, so queries differing
// only by a numeric threshold stay cache-distinct and cannot return stale
// results for a different threshold.
type Normalizer struct {
	NormalizeNumbers bool
}

var sqlKeywords = map[string]struct{}{
	"select": {}, "from": {}, "where": {}, "group": {}, "by": {}, "order": {},
	"having": {}, "limit": {}, "offset": {}, "join": {}, "inner": {}, "left": {},
	"right": {}, "outer": {}, "full": {}, "on": {}, "as": {}, "and": {}, "or": {},
	"not": {}, "in": {}, "is": {}, "null": {}, "like": {}, "between": {},
	"case": {}, "when": {}, "then": {}, "else": {}, "end": {}, "union": {},
	"all": {}, "distinct": {}, "count": {}, "sum": {}, "avg": {}, "min": {},
	"max": {}, "asc": {}, "desc": {}, "with": {}, "insert": {}, "update": {},
	"delete": {}, "into": {}, "values": {}, "set": {},
}

// Fingerprint hashes the normalized query together with the data source id.
func (n Normalizer) Fingerprint(dataSourceID, query string) string {
	h := sha256.New()
	h.Write([]byte(dataSourceID))
	h.Write([]byte{0})
	h.Write([]byte(n.Normalize(query)))
	return hex.EncodeToString(h.Sum(nil))
}

// Normalize strips comments, replaces string literals with a placeholder,
// collapses whitespace and upper-cases SQL keywords.
func (n Normalizer) Normalize(query string) string {
	stripped := n.replaceLiterals(stripComments(query))

	fields := strings.Fields(stripped)
	for i, f := range fields {
		if _, ok := sqlKeywords[strings.ToLower(f)]; ok {
			fields[i] = strings.ToUpper(f)
		}
	}
	return strings.Join(fields, " ")
}

// stripComments removes -- line comments and /* */ block comments.
func stripComments(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); {
		if i+1 < len(q) && q[i] == '-' && q[i+1] == '-' {
			for i < len(q) && q[i] != '\n' {
				i++
			}
			continue
		}
		if i+1 < len(q) && q[i] == '/' && q[i+1] == '*' {
			i += 2
			for i+1 < len(q) && !(q[i] == '*' && q[i+1] == '/') {
				i++
			}
			if i+1 < len(q) {
				i += 2
			} else {
				i = len(q)
			}
			b.WriteByte(' ')
			continue
		}
		// keep quoted strings intact so the literal pass sees them whole
		if q[i] == '\'' {
			j := i + 1
			for j < len(q) && q[j] != '\'' {
				j++
			}
			if j < len(q) {
				j++
			}
			b.WriteString(q[i:j])
			i = j
			continue
		}
		b.WriteByte(q[i])
		i++
	}
	return b.String()
}

// replaceLiterals swaps single-quoted string literals (and, when enabled,
// bare numeric literals) for a '?' placeholder.
func (n Normalizer) replaceLiterals(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); {
		if q[i] == '\'' {
			j := i + 1
			for j < len(q) && q[j] != '\'' {
				j++
			}
			if j < len(q) {
				j++
			}
			b.WriteByte('?')
			i = j
			continue
		}
		if n.NormalizeNumbers && isDigit(q[i]) && (i == 0 || !isIdentChar(q[i-1])) {
			j := i
			for j < len(q) && (isDigit(q[j]) || q[j] == '.') {
				j++
			}
			b.WriteByte('?')
			i = j
			continue
		}
		b.WriteByte(q[i])
		i++
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentChar(c byte) bool {
	return c == '_' || isDigit(c) || unicode.IsLetter(rune(c))
}
