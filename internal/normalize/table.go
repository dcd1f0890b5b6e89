package normalize

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var tableFS embed.FS

// Correction maps a surface form to its canonical form. An empty To deletes
// the surface form.
type Correction struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Table is the static configuration of a Normalizer
type Table struct {
	Name        string       `yaml:"name"`
	Corrections []Correction `yaml:"corrections"`
	Fillers     []string     `yaml:"fillers"`
	Vocabulary  []string     `yaml:"vocabulary"`
}

// ParseTable decodes a YAML table, rejecting unknown fields
func ParseTable(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var t Table
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode correction table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correction table %q: %w", t.Name, err)
	}
	return &t, nil
}

// LoadTable reads a YAML table from disk
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read correction table: %w", err)
	}
	return ParseTable(data)
}

// DefaultTable returns the built-in English table
func DefaultTable() *Table {
	return mustEmbedded("tables/default.yaml")
}

// HinglishTable returns the built-in romanised/Devanagari Hindi table
func HinglishTable() *Table {
	return mustEmbedded("tables/hinglish.yaml")
}

// Localization returns the built-in table for a localization name, or nil
// for the empty name.
func Localization(name string) (*Table, error) {
	switch name {
	case "":
		return nil, nil
	case "hinglish":
		return HinglishTable(), nil
	default:
		return nil, fmt.Errorf("unknown localization %q", name)
	}
}

func mustEmbedded(name string) *Table {
	data, err := tableFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("embedded table %s missing: %v", name, err))
	}
	t, err := ParseTable(data)
	if err != nil {
		panic(err.Error())
	}
	return t
}

// Validate checks that every entry is usable
func (t *Table) Validate() error {
	seen := make(map[string]bool, len(t.Corrections))
	for i, c := range t.Corrections {
		key := strings.ToLower(strings.TrimSpace(c.From))
		if key == "" {
			return fmt.Errorf("correction %d has an empty from", i)
		}
		if seen[key] {
			return fmt.Errorf("duplicate correction for %q", c.From)
		}
		seen[key] = true
	}
	for i, f := range t.Fillers {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("filler %d is empty", i)
		}
	}
	for i, v := range t.Vocabulary {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("vocabulary entry %d is empty", i)
		}
	}
	return nil
}

// Layer returns a new table whose entries come from overlay first and then
// from t, so overlay corrections take precedence.
func (t *Table) Layer(overlay *Table) *Table {
	if overlay == nil {
		return t.clone()
	}

	out := &Table{Name: t.Name + "+" + overlay.Name}
	seen := make(map[string]bool)
	for _, c := range append(append([]Correction{}, overlay.Corrections...), t.Corrections...) {
		key := strings.ToLower(strings.TrimSpace(c.From))
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Corrections = append(out.Corrections, c)
	}
	out.Fillers = append(append([]string{}, overlay.Fillers...), t.Fillers...)
	out.Vocabulary = append(append([]string{}, t.Vocabulary...), overlay.Vocabulary...)
	return out
}

func (t *Table) clone() *Table {
	return &Table{
		Name:        t.Name,
		Corrections: append([]Correction{}, t.Corrections...),
		Fillers:     append([]string{}, t.Fillers...),
		Vocabulary:  append([]string{}, t.Vocabulary...),
	}
}
