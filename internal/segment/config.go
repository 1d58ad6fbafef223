package segment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/showrunner/internal/transition"
)

// Defaults applied to an unset Config field.
const (
	DefaultTypeKey           = "speaker"
	DefaultValueKey          = "dialog"
	DefaultAnnounceOperation = "speech"
	DefaultApplauseOperation = "applause"
	DefaultApplauseDuration  = 3000

	// DefaultType is the segment type used for entries whose type is not configured.
	DefaultType = "default"
)

// ErrUnknownSegmentType is returned in strict mode for an entry whose
// type is not configured when no default type exists.
var ErrUnknownSegmentType = errors.New("unknown segment type")

// TypeConfig configures how entries of one segment type are produced and placed.
type TypeConfig struct {
	// Operation is the registered operation name.
	Operation string `yaml:"segment_type" validate:"required"`
	// Arguments are passed to the operation.
	Arguments map[string]any `yaml:"arguments"`
	// IntroName places a spoken announcement of the produced title before the entry.
	IntroName bool `yaml:"intro_name"`
	// IntroPrompt is sent to the announcer, followed by the entry value and title.
	IntroPrompt string `yaml:"intro_prompt"`
	// IntroApplause places applause before the entry.
	IntroApplause bool `yaml:"intro_applause"`
	// BackgroundMusic places the entry on the background track.
	BackgroundMusic bool `yaml:"background_music"`
}

// TypeMap is a set of segment types that keeps their declaration order.
// Names are case-insensitive.
type TypeMap struct {
	names []string
	types map[string]TypeConfig
}

// Set adds or replaces a segment type. A new name goes last.
func (m *TypeMap) Set(name string, cfg TypeConfig) {
	if m.types == nil {
		m.types = make(map[string]TypeConfig)
	}
	key := strings.ToLower(name)
	if _, ok := m.types[key]; !ok {
		m.names = append(m.names, key)
	}
	m.types[key] = cfg
}

// Get returns the configuration for name.
func (m TypeMap) Get(name string) (TypeConfig, bool) {
	cfg, ok := m.types[strings.ToLower(name)]
	return cfg, ok
}

// Names returns the lower-cased type names in declaration order.
func (m TypeMap) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Len returns the number of types.
func (m TypeMap) Len() int {
	return len(m.names)
}

// UnmarshalYAML decodes a mapping of type name to TypeConfig, keeping key order.
func (m *TypeMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: segment_type_map must be a mapping", node.Line)
	}
	*m = TypeMap{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if _, ok := m.Get(key.Value); ok {
			return fmt.Errorf("line %d: duplicate segment type %q", key.Line, key.Value)
		}
		var cfg TypeConfig
		if err := value.Decode(&cfg); err != nil {
			return fmt.Errorf("segment type %q: %w", key.Value, err)
		}
		m.Set(key.Value, cfg)
	}
	return nil
}

// MarshalYAML encodes the map in declaration order.
func (m TypeMap) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range m.names {
		var value yaml.Node
		if err := value.Encode(m.types[name]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, &value)
	}
	return node, nil
}

// Config configures one driver run.
type Config struct {
	// Name prefixes every produced file.
	Name string `yaml:"name" validate:"required"`
	// OutputFolder receives the produced clips.
	OutputFolder string `yaml:"output_folder" validate:"required"`
	// TypeKey and ValueKey name the fields of raw entry records.
	TypeKey  string `yaml:"segment_type_key"`
	ValueKey string `yaml:"segment_value_key"`

	SegmentTypes TypeMap        `yaml:"segment_type_map"`
	Transitions  transition.Map `yaml:"segment_transition_map"`

	// SingleBackground skips background entries once one has been placed.
	SingleBackground bool `yaml:"single_background"`
	// Strict fails the run on an entry type that is neither configured nor
	// covered by a default type. Otherwise the entry is skipped.
	Strict bool `yaml:"strict"`

	AnnounceOperation string `yaml:"announce_operation"`
	ApplauseOperation string `yaml:"applause_operation"`
	// ApplauseDuration is the length of intro applause in ms.
	ApplauseDuration int `yaml:"applause_duration_ms" validate:"gte=0"`
}

// WithDefaults fills unset keys with their default values.
func (c Config) WithDefaults() Config {
	if c.TypeKey == "" {
		c.TypeKey = DefaultTypeKey
	}
	if c.ValueKey == "" {
		c.ValueKey = DefaultValueKey
	}
	if c.AnnounceOperation == "" {
		c.AnnounceOperation = DefaultAnnounceOperation
	}
	if c.ApplauseOperation == "" {
		c.ApplauseOperation = DefaultApplauseOperation
	}
	if c.ApplauseDuration == 0 {
		c.ApplauseDuration = DefaultApplauseDuration
	}
	return c
}

var validate = validator.New()

// Validate checks the configuration against the registry so a bad
// operation name fails before any clip is produced.
func (c Config) Validate(reg *Registry) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("segment config %q: %w", c.Name, err)
	}
	if c.SegmentTypes.Len() == 0 {
		return fmt.Errorf("segment config %q: segment_type_map is empty", c.Name)
	}

	var announce, applause bool
	for _, name := range c.SegmentTypes.Names() {
		tc, _ := c.SegmentTypes.Get(name)
		if err := validate.Struct(tc); err != nil {
			return fmt.Errorf("segment type %q: %w", name, err)
		}
		if _, err := reg.Lookup(tc.Operation); err != nil {
			return fmt.Errorf("segment type %q: %w", name, err)
		}
		announce = announce || tc.IntroName
		applause = applause || tc.IntroApplause
	}
	if announce {
		if _, err := reg.Lookup(c.AnnounceOperation); err != nil {
			return fmt.Errorf("announce_operation: %w", err)
		}
	}
	if applause {
		if _, err := reg.Lookup(c.ApplauseOperation); err != nil {
			return fmt.Errorf("applause_operation: %w", err)
		}
	}
	if err := c.Transitions.Validate(); err != nil {
		return fmt.Errorf("segment_transition_map: %w", err)
	}
	return nil
}

// Entry is one (type, value) instruction.
type Entry struct {
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// EntriesFromRecords extracts entries from records produced by an earlier
// stage, reading the type and value under the given keys.
func EntriesFromRecords(records []map[string]string, typeKey, valueKey string) []Entry {
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, Entry{Type: r[typeKey], Value: r[valueKey]})
	}
	return out
}
