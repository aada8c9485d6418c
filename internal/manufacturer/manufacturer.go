// Package manufacturer resolves a drive's manufacturer from its model name or
// model family using an immutable table of regular expressions.
package manufacturer

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Manufacturer is a device manufacturer name.
type Manufacturer string

// Unknown is returned when no pattern matches.
const Unknown Manufacturer = "Unknown"

//go:embed manufacturers.yaml
var defaultData []byte

// Table maps model strings to manufacturers. It is safe for concurrent use
// because it is never modified after Load returns.
type Table struct {
	entries []entry
}

type entry struct {
	name     Manufacturer
	patterns []*regexp.Regexp
}

type fileFormat struct {
	Manufacturers []struct {
		Name     string   `yaml:"name"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"manufacturers"`
}

// Load parses a YAML manufacturer table. Patterns are matched
// case-insensitively against the start of the model string.
func Load(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse manufacturer table: %w", err)
	}

	t := &Table{entries: make([]entry, 0, len(f.Manufacturers))}
	for _, m := range f.Manufacturers {
		if m.Name == "" {
			return nil, fmt.Errorf("parse manufacturer table: entry without name")
		}
		if Manufacturer(m.Name) == Unknown {
			return nil, fmt.Errorf("parse manufacturer table: %q is reserved", m.Name)
		}
		e := entry{name: Manufacturer(m.Name)}
		for _, p := range m.Patterns {
			re, err := regexp.Compile(`(?i)^(?:` + p + `)`)
			if err != nil {
				return nil, fmt.Errorf("parse manufacturer table: %s pattern %q: %w", m.Name, p, err)
			}
			e.patterns = append(e.patterns, re)
		}
		t.entries = append(t.entries, e)
	}
	return t, nil
}

// Default returns the table compiled from the built-in pattern list.
func Default() (*Table, error) {
	return Load(defaultData)
}

// MustDefault is like Default but panics if the built-in table is invalid.
func MustDefault() *Table {
	t, err := Default()
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the manufacturer of the first entry with a pattern matching
// model, or Unknown.
func (t *Table) Lookup(model string) Manufacturer {
	if t == nil || model == "" {
		return Unknown
	}
	for _, e := range t.entries {
		for _, re := range e.patterns {
			if re.MatchString(model) {
				return e.name
			}
		}
	}
	return Unknown
}

// Len returns the number of manufacturers in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
