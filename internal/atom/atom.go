// File path: internal/atom/atom.go

// Package atom holds the domain model for code atoms: types, ports,
// signatures, snapshots, and the validation rules writes must pass.
package atom

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxCodeBytes caps an atom's code body. Oversized atoms must be split.
const MaxCodeBytes = 2048

// Type categorises an atom. Exactly one core atom's entry point boots the
// bundle; features and utils are plain library code.
type Type string

const (
	TypeCore    Type = "core"
	TypeFeature Type = "feature"
	TypeUtil    Type = "util"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Port is one typed input or output of an atom.
type Port struct {
	Name        string `json:"name" db:"name"`
	Type        string `json:"type" db:"type"`
	Description string `json:"description,omitempty" db:"description"`
	Optional    bool   `json:"optional,omitempty" db:"optional"`
}

// Summary is the code-structure view of an atom: interface and wiring, no
// source body.
type Summary struct {
	Name      string   `json:"name"`
	Type      Type     `json:"type"`
	Inputs    []Port   `json:"inputs"`
	Outputs   []Port   `json:"outputs"`
	DependsOn []string `json:"depends_on"`
}

// Atom is the full record as read back from storage.
type Atom struct {
	Name        string   `json:"name"`
	Type        Type     `json:"type"`
	Code        string   `json:"code"`
	Description string   `json:"description,omitempty"`
	Inputs      []Port   `json:"inputs"`
	Outputs     []Port   `json:"outputs"`
	Version     int      `json:"version"`
	DependsOn   []string `json:"depends_on"`
}

// SearchResult is an atom annotated with its similarity to a query. Version
// is not meaningful for search hits and is left at the zero sentinel.
type SearchResult struct {
	Atom
	Similarity float64 `json:"similarity"`
}

// ValidationError is a caller mistake: bad name, oversized code, missing
// dependency, blocked delete. The message always names the offender(s).
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ValidateName enforces the snake_case identity pattern.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return validationErrorf("invalid atom name %q: must match [a-z][a-z0-9_]*", name)
	}
	return nil
}

// ValidateType restricts atoms to the known categories.
func ValidateType(t Type) error {
	switch t {
	case TypeCore, TypeFeature, TypeUtil:
		return nil
	default:
		return validationErrorf("invalid atom type %q: must be core, feature, or util", string(t))
	}
}

// ValidateCodeSize enforces MaxCodeBytes, naming the overage.
func ValidateCodeSize(code string) error {
	if size := len(code); size > MaxCodeBytes {
		return validationErrorf("code is %d bytes (limit: %d), break this into smaller atoms", size, MaxCodeBytes)
	}
	return nil
}

// FormatPort renders a single port as "name: type" with a trailing "?" when
// optional.
func FormatPort(p Port) string {
	if p.Optional {
		return fmt.Sprintf("%s: %s?", p.Name, p.Type)
	}
	return fmt.Sprintf("%s: %s", p.Name, p.Type)
}

// FormatSignature renders the caller-facing signature string, e.g.
// "(x: number, y: number) => number".
func FormatSignature(inputs, outputs []Port) string {
	in := make([]string, 0, len(inputs))
	for _, p := range inputs {
		in = append(in, FormatPort(p))
	}
	var out string
	switch len(outputs) {
	case 0:
		out = "void"
	case 1:
		out = outputs[0].Type
	default:
		parts := make([]string, 0, len(outputs))
		for _, p := range outputs {
			parts = append(parts, FormatPort(p))
		}
		out = "{ " + strings.Join(parts, ", ") + " }"
	}
	return fmt.Sprintf("(%s) => %s", strings.Join(in, ", "), out)
}

// EmbeddingText derives the text submitted to the embedding collaborator:
// name, compact signature, description, then the code body.
func EmbeddingText(name string, inputs, outputs []Port, description, code string) string {
	sig := make([]string, 0, len(inputs))
	for _, p := range inputs {
		sig = append(sig, p.Name+":"+p.Type)
	}
	out := make([]string, 0, len(outputs))
	for _, p := range outputs {
		out = append(out, p.Name+":"+p.Type)
	}
	return fmt.Sprintf("%s(%s) => %s: %s\n%s",
		name, strings.Join(sig, ", "), strings.Join(out, ", "), description, code)
}
