package firewall

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is a policy outcome. DENY dominates TOKENIZE dominates ALLOW,
// independent of declaration order.
type Action string

const (
	ActionAllow    Action = "ALLOW"
	ActionDeny     Action = "DENY"
	ActionTokenize Action = "TOKENIZE"
	// ActionMixed is never produced by Firewall.Evaluate, whose verdicts
	// are ALLOW, TOKENIZE or DENY, and it is never a policy action.
	ActionMixed Action = "MIXED"
)

// String returns the string representation of an Action.
func (a Action) String() string {
	return string(a)
}

// precedence orders actions for the aggregate verdict rule.
func (a Action) precedence() int {
	switch a {
	case ActionDeny:
		return 2
	case ActionTokenize:
		return 1
	default:
		return 0
	}
}

// Synthetic policy ids used for fail-closed denials that no declared policy
// produced.
const (
	PolicyIDExtractorTimeout   = "extractor_timeout"
	PolicyIDExtractorMalformed = "extractor_malformed"
	PolicyIDRewriteViolation   = "rewrite_violation"
	PolicyIDCancelled          = "cancelled"
	PolicyIDInternalError      = "internal_error"
)

// TargetSet selects which side of a predicate binding a TOKENIZE policy
// rewrites.
type TargetSet string

const (
	TargetSubjects   TargetSet = "subjects"
	TargetPredicates TargetSet = "predicates"
	TargetBoth       TargetSet = "both"
)

// Proximity is the binding scope window.
type Proximity string

const (
	ProximitySentence  Proximity = "sentence"
	ProximityParagraph Proximity = "paragraph"
	ProximityDocument  Proximity = "document"
)

// Guard is an "unless" clause. A guard that evaluates true suppresses the
// policy for that detection.
type Guard string

const (
	GuardInQuote      Guard = "inQuote"
	GuardInCodeBlock  Guard = "inCodeBlock"
	GuardPublicRecord Guard = "publicRecord"
)

// Cardinality is a count constraint of the form "==k", ">=k" or "<=k",
// evaluated against the number of distinct subject surfaces in scope.
type Cardinality struct {
	Op string
	K  int
}

// ParseCardinality parses a constraint string such as ">=2".
func ParseCardinality(s string) (Cardinality, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return Cardinality{}, fmt.Errorf("cardinality %q: want ==k, >=k or <=k", s)
	}
	op := s[:2]
	if op != "==" && op != ">=" && op != "<=" {
		return Cardinality{}, fmt.Errorf("cardinality %q: unknown operator %q", s, op)
	}
	k, err := strconv.Atoi(strings.TrimSpace(s[2:]))
	if err != nil || k < 0 {
		return Cardinality{}, fmt.Errorf("cardinality %q: bad count", s)
	}
	return Cardinality{Op: op, K: k}, nil
}

// Satisfied evaluates the constraint against a count.
func (c Cardinality) Satisfied(count int) bool {
	switch c.Op {
	case "==":
		return count == c.K
	case ">=":
		return count >= c.K
	case "<=":
		return count <= c.K
	}
	return false
}

// String renders the constraint back to its "==k" form.
func (c Cardinality) String() string {
	return c.Op + strconv.Itoa(c.K)
}

// UnmarshalYAML parses the YAML string form.
func (c *Cardinality) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseCardinality(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// BindClause constrains how a predicate binds to subjects in scope.
type BindClause struct {
	Subjects      []string    `yaml:"subjects"`
	Proximity     Proximity   `yaml:"proximity"`
	Cardinality   Cardinality `yaml:"cardinality"`
	MinConfidence *float64    `yaml:"min_confidence,omitempty"`
}

// WhenClause is the match side of a policy. Exactly one variant is set:
// either Subjects (a subject-label match) or Predicate (a predicate match,
// optionally with a bind clause).
type WhenClause struct {
	Subjects      []string `yaml:"subjects,omitempty"`
	MinConfidence *float64 `yaml:"min_confidence,omitempty"`

	Predicate string      `yaml:"predicate,omitempty"`
	Bind      *BindClause `yaml:"bind,omitempty"`
}

// IsSubjectMatch reports whether the clause is the subject variant.
func (w *WhenClause) IsSubjectMatch() bool {
	return len(w.Subjects) > 0
}

// MatchesSubject reports whether the clause matches the given subject label.
func (w *WhenClause) MatchesSubject(label string) bool {
	for _, s := range w.Subjects {
		if s == label {
			return true
		}
	}
	return false
}

// ThenClause is the action side of a policy.
type ThenClause struct {
	Action  Action    `yaml:"action"`
	Targets TargetSet `yaml:"targets,omitempty"`
}

// Policy is one declarative rule: when → (unless?) → then.
type Policy struct {
	ID     string     `yaml:"id"`
	When   WhenClause `yaml:"when"`
	Unless []Guard    `yaml:"unless,omitempty"`
	Then   ThenClause `yaml:"then"`
}

// PolicySet is the ordered, immutable set of policies for a process.
// Order matters only as a tiebreak when several policies at the same
// precedence level fire for the same span.
type PolicySet struct {
	Policies []Policy `yaml:"policies"`
}

// LoadPolicies reads a YAML policy file and validates it against the
// catalog. A malformed set is a *ConfigError: fatal at process start.
func LoadPolicies(path string, catalog *Catalog) (*PolicySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read policies: %w", err)}
	}
	var ps PolicySet
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse policies: %w", err)}
	}
	if err := ps.Validate(catalog); err != nil {
		return nil, err
	}
	return &ps, nil
}

// NewPolicySet validates an in-memory policy list against the catalog.
func NewPolicySet(policies []Policy, catalog *Catalog) (*PolicySet, error) {
	ps := &PolicySet{Policies: policies}
	if err := ps.Validate(catalog); err != nil {
		return nil, err
	}
	return ps, nil
}

// Validate checks ids, label references, guard names, and action values.
func (ps *PolicySet) Validate(catalog *Catalog) error {
	seen := make(map[string]bool, len(ps.Policies))
	for i := range ps.Policies {
		p := &ps.Policies[i]
		if p.ID == "" {
			return &ConfigError{Err: fmt.Errorf("policy %d: id is required", i)}
		}
		if seen[p.ID] {
			return &ConfigError{Err: fmt.Errorf("duplicate policy id %q", p.ID)}
		}
		seen[p.ID] = true

		subjectForm := p.When.IsSubjectMatch()
		predicateForm := p.When.Predicate != ""
		if subjectForm == predicateForm {
			return &ConfigError{Err: fmt.Errorf("policy %s: when must set exactly one of subjects or predicate", p.ID)}
		}
		for _, label := range p.When.Subjects {
			if !catalog.HasSubject(label) {
				return &ConfigError{Err: fmt.Errorf("policy %s: unknown subject %q", p.ID, label)}
			}
		}
		if predicateForm && !catalog.HasPredicate(p.When.Predicate) {
			return &ConfigError{Err: fmt.Errorf("policy %s: unknown predicate %q", p.ID, p.When.Predicate)}
		}
		if p.When.Bind != nil {
			if !predicateForm {
				return &ConfigError{Err: fmt.Errorf("policy %s: bind requires a predicate match", p.ID)}
			}
			if len(p.When.Bind.Subjects) == 0 {
				return &ConfigError{Err: fmt.Errorf("policy %s: bind.subjects is required", p.ID)}
			}
			for _, label := range p.When.Bind.Subjects {
				if !catalog.HasSubject(label) {
					return &ConfigError{Err: fmt.Errorf("policy %s: unknown bind subject %q", p.ID, label)}
				}
			}
			switch p.When.Bind.Proximity {
			case ProximitySentence, ProximityParagraph, ProximityDocument:
			default:
				return &ConfigError{Err: fmt.Errorf("policy %s: bad proximity %q", p.ID, p.When.Bind.Proximity)}
			}
			if p.When.Bind.Cardinality.Op == "" {
				return &ConfigError{Err: fmt.Errorf("policy %s: bind.cardinality is required", p.ID)}
			}
		}
		for _, g := range p.Unless {
			switch g {
			case GuardInQuote, GuardInCodeBlock, GuardPublicRecord:
			default:
				return &ConfigError{Err: fmt.Errorf("policy %s: unknown guard %q", p.ID, g)}
			}
		}
		switch p.Then.Action {
		case ActionAllow, ActionDeny, ActionTokenize:
		default:
			return &ConfigError{Err: fmt.Errorf("policy %s: bad action %q", p.ID, p.Then.Action)}
		}
		switch p.Then.Targets {
		case "", TargetSubjects, TargetPredicates, TargetBoth:
		default:
			return &ConfigError{Err: fmt.Errorf("policy %s: bad targets %q", p.ID, p.Then.Targets)}
		}
	}
	return nil
}

// EffectiveTargets returns the policy's target set, defaulting to both.
func (p *Policy) EffectiveTargets() TargetSet {
	if p.Then.Targets == "" {
		return TargetBoth
	}
	return p.Then.Targets
}

// ThresholdFor returns the lowest confidence any policy accepts for the
// given span, or defaultThreshold when no policy references its label.
// A span survives the resolver's confidence filter when its confidence
// reaches this value.
func (ps *PolicySet) ThresholdFor(kind SpanKind, label string, defaultThreshold float64) float64 {
	min := -1.0
	consider := func(t *float64) {
		v := defaultThreshold
		if t != nil {
			v = *t
		}
		if min < 0 || v < min {
			min = v
		}
	}
	for i := range ps.Policies {
		p := &ps.Policies[i]
		switch kind {
		case KindSubject:
			if p.When.MatchesSubject(label) {
				consider(p.When.MinConfidence)
			}
			if p.When.Bind != nil {
				for _, s := range p.When.Bind.Subjects {
					if s == label {
						consider(p.When.Bind.MinConfidence)
					}
				}
			}
		case KindPredicate:
			if p.When.Predicate == label {
				consider(nil)
			}
		}
	}
	if min < 0 {
		return defaultThreshold
	}
	return min
}
