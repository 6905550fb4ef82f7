package compiler

import (
	"regexp"
	"sort"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// reserved lists names that can never be bound as handler parameters.
var reserved = map[string]bool{
	"event": true, "context": true,
	"await": true, "break": true, "case": true, "catch": true, "class": true,
	"const": true, "continue": true, "debugger": true, "default": true,
	"delete": true, "do": true, "else": true, "enum": true, "export": true,
	"extends": true, "false": true, "finally": true, "for": true,
	"function": true, "if": true, "import": true, "in": true,
	"instanceof": true, "let": true, "new": true, "null": true,
	"return": true, "static": true, "super": true, "switch": true,
	"this": true, "throw": true, "true": true, "try": true, "typeof": true,
	"var": true, "void": true, "while": true, "with": true, "yield": true,
	"arguments": true, "eval": true, "undefined": true,
}

// Scan returns the names that occur in src as whole words, sorted. A word
// boundary is any character that cannot be part of a JavaScript identifier.
// The scan is textual: names inside comments and string literals count.
func Scan(src string, names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		re := regexp.MustCompile(`(^|[^A-Za-z0-9_$])` + regexp.QuoteMeta(name) + `($|[^A-Za-z0-9_$])`)
		if re.MatchString(src) {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// validBinding reports whether name can be bound as a handler parameter.
func validBinding(name string) bool {
	return identPattern.MatchString(name) && !reserved[name]
}
