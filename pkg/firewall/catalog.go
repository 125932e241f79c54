package firewall

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// SubjectDef describes one subject label: how to detect it with regex
// patterns, and how to describe it to the extractor oracle.
type SubjectDef struct {
	// Label is the uppercase identifier, e.g. PERSON or ACCOUNT_NUMBER.
	Label string `yaml:"label" json:"label"`

	// Patterns are regex sources scanned over the normalized text. Matches
	// carry confidence 1.0.
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`

	// WordBoundary wraps every pattern in Unicode word boundaries.
	WordBoundary bool `yaml:"word_boundary,omitempty" json:"word_boundary,omitempty"`

	// Description and Examples feed the oracle prompt for labels that regex
	// cannot cover (names, organizations, free-form references).
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Examples    []string `yaml:"examples,omitempty" json:"examples,omitempty"`

	compiled []*regexp.Regexp
}

// PredicateDef describes one predicate label: an event or relation the
// oracle extracts, and the subject labels it may bind to.
type PredicateDef struct {
	Label      string   `yaml:"label" json:"label"`
	Definition string   `yaml:"definition" json:"definition"`
	Examples   []string `yaml:"examples,omitempty" json:"examples,omitempty"`

	// RelatedSubjects lists the subject labels this predicate may bind to.
	RelatedSubjects []string `yaml:"related_subjects,omitempty" json:"related_subjects,omitempty"`
}

// Catalog is the process-wide set of subject and predicate definitions.
// Loaded once at startup and immutable thereafter; safe for concurrent use.
type Catalog struct {
	Subjects   []SubjectDef   `yaml:"subjects" json:"subjects"`
	Predicates []PredicateDef `yaml:"predicates" json:"predicates"`

	subjectsByLabel   map[string]*SubjectDef
	predicatesByLabel map[string]*PredicateDef
}

var labelRe = regexp.MustCompile(`^[A-Z][A-Z_]*$`)

// LoadCatalog reads a YAML catalog file, validates it, and compiles its
// patterns. A malformed catalog is a *ConfigError: fatal at process start.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read catalog: %w", err)}
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse catalog: %w", err)}
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewCatalog validates and compiles an in-memory catalog.
func NewCatalog(subjects []SubjectDef, predicates []PredicateDef) (*Catalog, error) {
	c := &Catalog{Subjects: subjects, Predicates: predicates}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

// compile validates labels, compiles patterns, and builds lookup maps.
func (c *Catalog) compile() error {
	c.subjectsByLabel = make(map[string]*SubjectDef, len(c.Subjects))
	c.predicatesByLabel = make(map[string]*PredicateDef, len(c.Predicates))

	for i := range c.Subjects {
		s := &c.Subjects[i]
		if !labelRe.MatchString(s.Label) {
			return &ConfigError{Err: fmt.Errorf("subject label %q: must match %s", s.Label, labelRe)}
		}
		if _, dup := c.subjectsByLabel[s.Label]; dup {
			return &ConfigError{Err: fmt.Errorf("duplicate subject label %q", s.Label)}
		}
		s.compiled = s.compiled[:0]
		for _, src := range s.Patterns {
			expr := src
			if s.WordBoundary {
				expr = `\b(?:` + src + `)\b`
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return &ConfigError{Err: fmt.Errorf("subject %s pattern %q: %w", s.Label, src, err)}
			}
			s.compiled = append(s.compiled, re)
		}
		c.subjectsByLabel[s.Label] = s
	}

	for i := range c.Predicates {
		p := &c.Predicates[i]
		if !labelRe.MatchString(p.Label) {
			return &ConfigError{Err: fmt.Errorf("predicate label %q: must match %s", p.Label, labelRe)}
		}
		if strings.TrimSpace(p.Definition) == "" {
			return &ConfigError{Err: fmt.Errorf("predicate %s: definition is required", p.Label)}
		}
		if _, dup := c.predicatesByLabel[p.Label]; dup {
			return &ConfigError{Err: fmt.Errorf("duplicate predicate label %q", p.Label)}
		}
		for _, rel := range p.RelatedSubjects {
			if _, ok := c.subjectsByLabel[rel]; !ok {
				return &ConfigError{Err: fmt.Errorf("predicate %s: unknown related subject %q", p.Label, rel)}
			}
		}
		c.predicatesByLabel[p.Label] = p
	}
	return nil
}

// Subject returns the definition for a subject label, or nil.
func (c *Catalog) Subject(label string) *SubjectDef {
	return c.subjectsByLabel[label]
}

// Predicate returns the definition for a predicate label, or nil.
func (c *Catalog) Predicate(label string) *PredicateDef {
	return c.predicatesByLabel[label]
}

// HasSubject reports whether the catalog defines the subject label.
func (c *Catalog) HasSubject(label string) bool {
	_, ok := c.subjectsByLabel[label]
	return ok
}

// HasPredicate reports whether the catalog defines the predicate label.
func (c *Catalog) HasPredicate(label string) bool {
	_, ok := c.predicatesByLabel[label]
	return ok
}

// OracleSubjects returns the subject definitions that carry a description or
// examples and therefore participate in the oracle prompt.
func (c *Catalog) OracleSubjects() []*SubjectDef {
	var out []*SubjectDef
	for i := range c.Subjects {
		s := &c.Subjects[i]
		if s.Description != "" || len(s.Examples) > 0 {
			out = append(out, s)
		}
	}
	return out
}

// DefaultCatalog returns the built-in catalog. It always works without any
// configuration files; YAML catalogs replace it entirely when provided.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultSubjects(), defaultPredicates())
	if err != nil {
		// The built-in definitions are compiled in tests; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}
