// Package segment turns an ordered list of (type, value) entries into
// timeline placements by running the clip-producing operation configured
// for each segment type.
package segment

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Static errors for the operation registry.
var (
	// ErrUnknownOperation is returned when a configured operation name is not registered.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrDuplicateOperation is returned when a name is registered twice.
	ErrDuplicateOperation = errors.New("operation already registered")
)

// Request is the input of a clip-producing operation.
type Request struct {
	// Text is the entry value: dialog to speak, a query, a URL, a key.
	Text string
	// OutputPath is where the operation must write a WAV file.
	OutputPath string
	// Args are the operation arguments from the segment type configuration.
	Args map[string]any
}

// Result describes a produced clip.
type Result struct {
	// Title names the produced audio, e.g. the track name of fetched music.
	Title string
	// URL is the origin of fetched audio, if any.
	URL string
	// Metadata carries operation-specific details.
	Metadata map[string]any
}

// Operation produces the audio for one entry. Returning a nil Result and
// a nil error means no audio was produced and the entry is skipped.
type Operation interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, req Request) (*Result, error)

// Generate calls f.
func (f OperationFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Registry maps operation names to operations.
type Registry struct {
	ops map[string]Operation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Operation)}
}

// Register adds op under name.
func (r *Registry) Register(name string, op Operation) error {
	if _, ok := r.ops[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, name)
	}
	r.ops[name] = op
	return nil
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (Operation, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	return op, nil
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
