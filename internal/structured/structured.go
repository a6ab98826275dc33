// Package structured parses and repairs model-produced text into typed values.
// Model output is frequently wrapped in prose or markdown fencing and often
// carries JSON defects (comments, trailing commas); this package applies only
// structurally unambiguous fixes and never guesses at string content.
package structured

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType enumerates the types a contract field may require.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
)

// Field is one required field of an output contract.
type Field struct {
	Name string
	Type FieldType
}

// Contract declares the shape a model response must conform to.
type Contract struct {
	Name     string
	Required []Field
}

// Diagnostic explains why a parse failed, or that it succeeded cleanly.
type Diagnostic struct {
	ParseError    string   `json:"parse_error,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
	WrongTypes    []string `json:"wrong_types,omitempty"`
}

// OK reports whether the diagnostic carries no failure information.
func (d Diagnostic) OK() bool {
	return d.ParseError == "" && len(d.MissingFields) == 0 && len(d.WrongTypes) == 0
}

func (d Diagnostic) String() string {
	if d.OK() {
		return "ok"
	}
	var parts []string
	if d.ParseError != "" {
		parts = append(parts, "parse: "+d.ParseError)
	}
	if len(d.MissingFields) > 0 {
		parts = append(parts, "missing: "+strings.Join(d.MissingFields, ","))
	}
	if len(d.WrongTypes) > 0 {
		parts = append(parts, "wrong type: "+strings.Join(d.WrongTypes, ","))
	}
	return strings.Join(parts, "; ")
}

// Parse extracts a single JSON object from raw model text, repairs mechanical
// defects, and validates it against the contract. It never panics: the caller
// always receives either a validated value or a diagnosable failure.
func Parse(raw string, contract Contract) (map[string]interface{}, Diagnostic) {
	candidate := ExtractObject(raw)
	if candidate == "" {
		return nil, Diagnostic{ParseError: "no JSON object found in response"}
	}

	var value map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		repaired := Repair(candidate)
		if err2 := json.Unmarshal([]byte(repaired), &value); err2 != nil {
			return nil, Diagnostic{ParseError: err.Error()}
		}
	}

	diag := validate(value, contract)
	if !diag.OK() {
		return nil, diag
	}
	return value, Diagnostic{}
}

// ParseString is a convenience for contracts with a single required string
// field; it returns that field's value directly.
func ParseString(raw string, fieldName string) (string, Diagnostic) {
	value, diag := Parse(raw, Contract{
		Name:     fieldName,
		Required: []Field{{Name: fieldName, Type: TypeString}},
	})
	if !diag.OK() {
		return "", diag
	}
	s, _ := value[fieldName].(string)
	return s, Diagnostic{}
}

// ExtractObject returns the first balanced top-level JSON object in text,
// unwrapping markdown code fences first. Braces inside string literals are
// ignored.
func ExtractObject(text string) string {
	text = stripFences(text)

	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// Repair removes // and /* */ comments and trailing commas outside string
// literals. It deliberately avoids risky rewrites such as single-to-double
// quote conversion that could corrupt valid string content.
func Repair(text string) string {
	text = stripJSONComments(text)
	return stripTrailingCommas(text)
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if idx := strings.Index(trimmed, "```"); idx >= 0 {
		rest := trimmed[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			lang := strings.TrimSpace(rest[:nl])
			if lang == "" || strings.EqualFold(lang, "json") {
				body := rest[nl+1:]
				if end := strings.Index(body, "```"); end >= 0 {
					return body[:end]
				}
				return body
			}
		}
	}
	return trimmed
}

func stripJSONComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			i++
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			i++
			continue
		}
		if c == '/' && i+1 < len(text) && text[i+1] == '/' {
			for i < len(text) && text[i] != '\n' {
				i++
			}
			continue
		}
		if c == '/' && i+1 < len(text) && text[i+1] == '*' {
			i += 2
			for i+1 < len(text) && !(text[i] == '*' && text[i+1] == '/') {
				i++
			}
			if i+1 < len(text) {
				i += 2
			} else {
				i = len(text)
			}
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func validate(value map[string]interface{}, contract Contract) Diagnostic {
	var diag Diagnostic
	for _, f := range contract.Required {
		v, ok := value[f.Name]
		if !ok || v == nil {
			diag.MissingFields = append(diag.MissingFields, f.Name)
			continue
		}
		if !matchesType(v, f.Type) {
			diag.WrongTypes = append(diag.WrongTypes, fmt.Sprintf("%s (want %s)", f.Name, f.Type))
		}
	}
	return diag
}

func matchesType(v interface{}, t FieldType) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeBool:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return true
	}
}
