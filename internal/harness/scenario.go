package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/polyql/internal/queryir"
)

// Scenario defines a conformance scenario for one query.
type Scenario struct {
	// Name identifies the scenario and names its golden files.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Query is the text under test.
	Query string `yaml:"query"`

	// Dialect forces the parser. When empty the query is detected.
	Dialect string `yaml:"dialect,omitempty"`

	Expect Expect `yaml:"expect"`
}

// Expect collects everything a scenario checks. Empty sections are skipped.
type Expect struct {
	Detection *DetectionExpect `yaml:"detection,omitempty"`

	// Error, when set, means parsing must fail with a message containing it.
	Error string `yaml:"error,omitempty"`

	// Plan is matched against queryir.Describe of the parsed plan.
	Plan map[string]any `yaml:"plan,omitempty"`

	// Valid, when set, must equal the plan's validation outcome.
	Valid *bool `yaml:"valid,omitempty"`

	Translations []TranslationExpect `yaml:"translations,omitempty"`
}

// DetectionExpect checks what the detector makes of the query.
type DetectionExpect struct {
	Dialect       string  `yaml:"dialect"`
	MinConfidence float64 `yaml:"min_confidence,omitempty"`
	MinSignatures int     `yaml:"min_signatures,omitempty"`
	MinKeywords   int     `yaml:"min_keywords,omitempty"`
}

// TranslationExpect checks the rendering of the plan in one target.
type TranslationExpect struct {
	Target string `yaml:"target"`

	// Contains lists substrings the output must include.
	Contains []string `yaml:"contains,omitempty"`

	// Error, when set, means translation must fail with a message
	// containing it.
	Error string `yaml:"error,omitempty"`

	// Reparse requires the output to parse with the target's own parser.
	Reparse bool `yaml:"reparse,omitempty"`

	// Golden compares the output with a stored snapshot.
	Golden bool `yaml:"golden,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes one scenario from YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name.
// Scenario names must be unique across the directory.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	seen := make(map[string]string, len(paths))
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[sc.Name]; ok {
			return nil, fmt.Errorf("scenario %q defined in both %s and %s", sc.Name, prev, p)
		}
		seen[sc.Name] = p
		out = append(out, sc)
	}
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\ `) {
		return fmt.Errorf("name %q must not contain spaces or path separators", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if strings.TrimSpace(s.Query) == "" {
		return fmt.Errorf("query is required")
	}
	if s.Dialect != "" {
		if _, err := queryir.ParseDialect(s.Dialect); err != nil {
			return fmt.Errorf("dialect: %w", err)
		}
	}

	e := s.Expect
	if e.Detection == nil && e.Error == "" && len(e.Plan) == 0 && e.Valid == nil && len(e.Translations) == 0 {
		return fmt.Errorf("expect must contain at least one check")
	}
	if d := e.Detection; d != nil {
		if _, err := queryir.ParseDialect(d.Dialect); err != nil {
			return fmt.Errorf("expect.detection.dialect: %w", err)
		}
		if d.MinConfidence < 0 || d.MinConfidence > 1 {
			return fmt.Errorf("expect.detection.min_confidence must be within [0, 1]")
		}
		if d.MinSignatures < 0 || d.MinKeywords < 0 {
			return fmt.Errorf("expect.detection minimums must be non-negative")
		}
	}
	if e.Error != "" && (len(e.Plan) > 0 || e.Valid != nil || len(e.Translations) > 0) {
		return fmt.Errorf("expect.error excludes plan, valid and translations")
	}

	targets := make(map[queryir.Dialect]bool, len(e.Translations))
	for i, t := range e.Translations {
		d, err := queryir.ParseDialect(t.Target)
		if err != nil {
			return fmt.Errorf("expect.translations[%d].target: %w", i, err)
		}
		if targets[d] {
			return fmt.Errorf("expect.translations[%d]: target %s listed twice", i, d)
		}
		targets[d] = true
		if t.Error != "" && (len(t.Contains) > 0 || t.Reparse || t.Golden) {
			return fmt.Errorf("expect.translations[%d]: error excludes contains, reparse and golden", i)
		}
	}
	return nil
}
