// Package converter holds the format-specific transformations behind each tool kind.
package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aliskhannn/toolbox/internal/artifact"
	"github.com/aliskhannn/toolbox/internal/model"
)

// ErrInvalidInput marks requests rejected before anything is staged.
var ErrInvalidInput = errors.New("invalid input")

// InputError is a rejected request. Message is safe to show to the user.
// It matches ErrInvalidInput.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return ErrInvalidInput.Error() + ": " + e.Message
}

func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// invalid returns an *InputError with a user facing message.
func invalid(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// Input is an uploaded file together with the options sent by the client.
type Input struct {
	SourcePath string       // where the upload layer stored the file
	Filename   string       // original client file name
	Size       int64        // size in bytes
	Params     model.Params // raw form options
}

// Staged is the validated and normalized form of an Input.
type Staged struct {
	Params      model.Params
	DisplayName string
}

// Converter is implemented once per tool kind.
type Converter interface {
	// Kind returns the tool kind handled by the converter.
	Kind() model.Kind
	// Prepare validates an upload and normalizes its options. Errors wrap ErrInvalidInput.
	Prepare(in Input) (Staged, error)
	// Convert reads src and writes the result to dst using the staged params.
	// dst does not carry a meaningful extension; the format comes from params.
	Convert(ctx context.Context, src, dst string, params model.Params) error
}

// Registry maps kinds to their converter.
type Registry struct {
	byKind map[model.Kind]Converter
}

// NewRegistry builds a Registry. A later converter replaces an earlier one of the same kind.
func NewRegistry(cs ...Converter) *Registry {
	r := &Registry{byKind: make(map[model.Kind]Converter, len(cs))}
	for _, c := range cs {
		r.byKind[c.Kind()] = c
	}

	return r
}

// Lookup returns the converter registered for kind.
func (r *Registry) Lookup(kind model.Kind) (Converter, bool) {
	c, ok := r.byKind[kind]
	return c, ok
}

// Kinds returns the registered kinds in the canonical order.
func (r *Registry) Kinds() []model.Kind {
	out := make([]model.Kind, 0, len(r.byKind))
	for _, k := range model.Kinds {
		if _, ok := r.byKind[k]; ok {
			out = append(out, k)
		}
	}

	return out
}

// extension returns the lower-case extension of name without the dot.
func extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// baseName returns name without directory and extension.
func baseName(name string) string {
	base := artifact.SafeBase(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// oneOf reports whether v is one of allowed.
func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}

	return false
}

// listed formats a set of options for error messages.
func listed(allowed []string) string {
	sorted := append([]string(nil), allowed...)
	sort.Strings(sorted)

	return strings.ToUpper(strings.Join(sorted, ", "))
}
