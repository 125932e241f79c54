package firewall

import "strings"

// SpanKind distinguishes subject entities from predicate events.
type SpanKind string

const (
	// KindSubject marks a named entity instance (PERSON, EMAIL, ...).
	KindSubject SpanKind = "SUBJ"
	// KindPredicate marks an event or relation (FINANCIAL_EVENT, ...).
	KindPredicate SpanKind = "PRED"
)

// String returns the string representation of a SpanKind.
func (k SpanKind) String() string {
	return string(k)
}

// SpanSource identifies which detector produced a span.
type SpanSource string

const (
	// SourceRegex marks spans produced by catalog regex patterns.
	SourceRegex SpanSource = "regex"
	// SourceOracle marks spans produced by the extractor oracle.
	SourceOracle SpanSource = "oracle"
)

// Span is a half-open character range [Start, End) over the NFKC-normalized
// text. Offsets are rune offsets, not byte offsets, so multi-byte characters
// count as one position.
type Span struct {
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Kind       SpanKind   `json:"kind"`
	Label      string     `json:"label"`
	Surface    string     `json:"surface"`
	Confidence float64    `json:"confidence"`
	Source     SpanSource `json:"source"`
}

// Len returns the span length in characters.
func (s Span) Len() int {
	return s.End - s.Start
}

// Contains reports whether other lies wholly inside s.
func (s Span) Contains(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

// Overlaps reports whether the two spans share at least one character.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Canonical returns the tokenization input for the span: the NFKC surface
// with surrounding whitespace trimmed and case preserved.
func (s Span) Canonical() string {
	return strings.TrimSpace(s.Surface)
}

// Detection is a resolved span plus its policy-evaluation state. Detections
// live in an arena owned by the Verdict; BoundSubjects holds arena indices,
// never pointers, so the structure stays acyclic.
type Detection struct {
	Span

	// BoundSubjects holds arena indices of the subject detections bound to
	// this predicate. Empty for subjects and for unbound predicates.
	BoundSubjects []int `json:"boundSubjects,omitempty"`

	// TokenID is set once the tokenizer has derived an opaque id for the
	// detection. Empty when the detection is not tokenized.
	TokenID string `json:"tokenId,omitempty"`

	// tokenize is set by the policy engine when at least one TOKENIZE policy
	// selected this detection for rewriting.
	tokenize bool

	// bindings records, per policy id, whether this predicate detection
	// satisfied that policy's bind clause and which subject indices it bound.
	bindings map[string][]int
}

// BoundFor returns the subject arena indices bound for the given policy id
// and whether the bind succeeded.
func (d *Detection) BoundFor(policyID string) ([]int, bool) {
	if d.bindings == nil {
		return nil, false
	}
	subjects, ok := d.bindings[policyID]
	return subjects, ok
}
