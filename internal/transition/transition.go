// Package transition resolves placement overrides from the type of the
// previously placed segment and the type of the segment about to be placed.
package transition

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/showrunner/internal/timeline"
)

// Wildcard matches any segment type on either axis.
const Wildcard = "any"

// ErrAmbiguousTransition is returned when the same from/to pair is declared
// in more than one element of a map.
var ErrAmbiguousTransition = errors.New("ambiguous transition")

// Map is a list of from-type dictionaries, each mapping to-types to the
// options used when placing a segment of that to-type right after a
// segment of that from-type. Keys are compared case-insensitively and
// "any" matches every type.
//
//	- music:
//	    any: {fade_in: 500}
//	- any:
//	    applause: {overlay_duration: 300}
type Map []map[string]map[string]timeline.Options

// Lookup returns every options value that matches the pair, in map order.
// Within one element an exact from-key is tried before the wildcard, and
// for each from-key an exact to-key is tried before the wildcard.
func (m Map) Lookup(from, to string) []timeline.Options {
	from = strings.ToLower(from)
	to = strings.ToLower(to)

	var out []timeline.Options
	for _, element := range m {
		for _, nested := range candidates(element, from) {
			out = append(out, candidates(nested, to)...)
		}
	}
	return out
}

// Resolve returns the first match for the pair and the number of matches.
// No match yields zero options, which leaves placement defaults in place.
func (m Map) Resolve(from, to string) (timeline.Options, int) {
	matches := m.Lookup(from, to)
	if len(matches) == 0 {
		return timeline.Options{}, 0
	}
	return matches[0], len(matches)
}

// candidates returns the values of keys matching want, exact key first.
func candidates[V any](dict map[string]V, want string) []V {
	var exact, wild []V
	for key, v := range dict {
		k := strings.ToLower(key)
		switch {
		case k == want:
			exact = append(exact, v)
		case k == Wildcard:
			wild = append(wild, v)
		}
	}
	return append(exact, wild...)
}

// Validate rejects maps that declare the same literal from/to pair in
// more than one element.
func (m Map) Validate() error {
	seen := make(map[[2]string]int)
	for i, element := range m {
		for from, nested := range element {
			for to := range nested {
				key := [2]string{strings.ToLower(from), strings.ToLower(to)}
				if prev, ok := seen[key]; ok && prev != i {
					return fmt.Errorf("%w: %s -> %s declared in entries %d and %d",
						ErrAmbiguousTransition, from, to, prev, i)
				}
				seen[key] = i
			}
		}
	}
	return nil
}

// LastTyper reports the type of the most recently placed entry on a track.
type LastTyper interface {
	LastType(label timeline.Label) string
}

// Resolver binds a transition map to the timeline it reads from.
type Resolver struct {
	transitions Map
	placed      LastTyper
	logger      *slog.Logger
}

// NewResolver creates a Resolver. A nil logger uses slog.Default.
func NewResolver(m Map, placed LastTyper, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{transitions: m, placed: placed, logger: logger}
}

// Entry returns the options for placing a segment of type to after the
// last foreground entry. Several matches use the first and log a warning.
func (r *Resolver) Entry(to string) timeline.Options {
	from := r.placed.LastType(timeline.Foreground)
	opts, n := r.transitions.Resolve(from, to)
	if n > 1 {
		r.logger.Warn("multiple transitions match, using the first",
			slog.String("from", from),
			slog.String("to", to),
			slog.Int("matches", n),
		)
	}
	if n > 0 {
		r.logger.Debug("resolved transition",
			slog.String("from", from),
			slog.String("to", to),
		)
	}
	return opts
}
