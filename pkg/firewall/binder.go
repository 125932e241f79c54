package firewall

// Binder attaches subject detections to predicate detections within the
// scope windows that policy bind clauses configure.
type Binder struct {
	policies *PolicySet
	segments *Segmentation
}

// NewBinder creates a binder over one request's segmentation.
func NewBinder(policies *PolicySet, segments *Segmentation) *Binder {
	return &Binder{policies: policies, segments: segments}
}

// Bind evaluates every (predicate detection, bind clause) pair and records
// the outcome on the detection. A failed cardinality leaves the predicate
// unmatched for that policy only; the subject detections stay available to
// other policies. On success the selected subject indices are attached as
// the detection's bound subjects.
func (b *Binder) Bind(arena []Detection) {
	for i := range arena {
		det := &arena[i]
		if det.Kind != KindPredicate {
			continue
		}
		for p := range b.policies.Policies {
			pol := &b.policies.Policies[p]
			if pol.When.Predicate != det.Label || pol.When.Bind == nil {
				continue
			}
			subjects, ok := b.bindOne(arena, det, pol.When.Bind)
			if !ok {
				continue
			}
			if det.bindings == nil {
				det.bindings = make(map[string][]int)
			}
			det.bindings[pol.ID] = subjects
			det.BoundSubjects = unionIndices(det.BoundSubjects, subjects)
		}
	}
}

// bindOne resolves a single bind clause for one predicate detection.
func (b *Binder) bindOne(arena []Detection, det *Detection, clause *BindClause) ([]int, bool) {
	winStart, winEnd, ok := b.window(det, clause.Proximity)
	if !ok {
		return nil, false
	}

	eligible := make(map[string]bool, len(clause.Subjects))
	for _, label := range clause.Subjects {
		eligible[label] = true
	}

	var indices []int
	surfaces := make(map[string]bool)
	for i := range arena {
		s := &arena[i]
		if s.Kind != KindSubject || !eligible[s.Label] {
			continue
		}
		if s.Start < winStart || s.End > winEnd {
			continue
		}
		if clause.MinConfidence != nil && s.Confidence < *clause.MinConfidence {
			continue
		}
		indices = append(indices, i)
		surfaces[s.Label+"\x1f"+s.Canonical()] = true
	}

	// Cardinality counts distinct subject surfaces, not spans: the same
	// name mentioned twice in scope is one subject.
	if !clause.Cardinality.Satisfied(len(surfaces)) {
		return nil, false
	}
	return indices, true
}

// window computes the scope window for a predicate detection as a half-open
// rune range.
func (b *Binder) window(det *Detection, prox Proximity) (start, end int, ok bool) {
	switch prox {
	case ProximitySentence:
		sent, found := b.segments.SentenceContaining(det.Start)
		if !found {
			return 0, 0, false
		}
		return sent.Start, sent.End, true
	case ProximityParagraph:
		para, found := b.segments.ParagraphContaining(det.Start)
		if !found {
			return 0, 0, false
		}
		return para.Start, para.End, true
	case ProximityDocument:
		if len(b.segments.Paragraphs) == 0 {
			return 0, 0, true
		}
		last := b.segments.Paragraphs[len(b.segments.Paragraphs)-1]
		return 0, last.End, true
	}
	return 0, 0, false
}

// unionIndices merges sorted-or-not index slices without duplicates,
// preserving first-seen order.
func unionIndices(a, b []int) []int {
	seen := make(map[int]bool, len(a)+len(b))
	out := a
	for _, i := range a {
		seen[i] = true
	}
	for _, i := range b {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	return out
}
