package firewall

import "sort"

// Resolver turns the detectors' candidate multiset into a clean span set:
// confidence-filtered, deduplicated, overlap-resolved, and with pre-existing
// placeholders carved out.
type Resolver struct {
	policies         *PolicySet
	defaultThreshold float64
}

// NewResolver creates a resolver. defaultThreshold applies to spans whose
// label no policy references, and stands in for any referencing policy that
// sets no min_confidence.
func NewResolver(policies *PolicySet, defaultThreshold float64) *Resolver {
	return &Resolver{policies: policies, defaultThreshold: defaultThreshold}
}

// Resolve applies the resolution steps in order: confidence filter, dedup,
// same-label overlap resolution, placeholder immunity. The result is sorted
// by start offset.
func (r *Resolver) Resolve(spans []Span, placeholders []placeholderRange) []Span {
	spans = r.filterConfidence(spans)
	spans = dedupe(spans)
	spans = resolveSameLabelOverlaps(spans)
	spans = dropInsidePlaceholders(spans, placeholders)

	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
	return spans
}

// filterConfidence drops spans below the lowest threshold any policy
// requires for their label.
func (r *Resolver) filterConfidence(spans []Span) []Span {
	out := spans[:0]
	for _, s := range spans {
		min := r.policies.ThresholdFor(s.Kind, s.Label, r.defaultThreshold)
		if s.Confidence >= min {
			out = append(out, s)
		}
	}
	return out
}

// dedupe collapses spans with identical (kind, label, start, end), keeping
// the higher confidence and preferring source=regex on ties.
func dedupe(spans []Span) []Span {
	type key struct {
		kind       SpanKind
		label      string
		start, end int
	}
	best := make(map[key]Span, len(spans))
	order := make([]key, 0, len(spans))
	for _, s := range spans {
		k := key{kind: s.Kind, label: s.Label, start: s.Start, end: s.End}
		prev, seen := best[k]
		if !seen {
			best[k] = s
			order = append(order, k)
			continue
		}
		if s.Confidence > prev.Confidence ||
			(s.Confidence == prev.Confidence && s.Source == SourceRegex && prev.Source != SourceRegex) {
			best[k] = s
		}
	}
	out := make([]Span, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
}

// resolveSameLabelOverlaps keeps, among overlapping spans that share a
// label, the longest; ties break by highest confidence, then earliest
// start. Spans with different labels survive together even when nested —
// they are complementary detections for different policies, and the
// rewriter picks the outermost at splice time.
func resolveSameLabelOverlaps(spans []Span) []Span {
	byLabel := make(map[string][]Span)
	var labels []string
	for _, s := range spans {
		k := string(s.Kind) + ":" + s.Label
		if _, ok := byLabel[k]; !ok {
			labels = append(labels, k)
		}
		byLabel[k] = append(byLabel[k], s)
	}

	var out []Span
	for _, k := range labels {
		group := byLabel[k]
		sort.Slice(group, func(i, j int) bool {
			if group[i].Len() != group[j].Len() {
				return group[i].Len() > group[j].Len()
			}
			if group[i].Confidence != group[j].Confidence {
				return group[i].Confidence > group[j].Confidence
			}
			return group[i].Start < group[j].Start
		})
		var kept []Span
		for _, s := range group {
			conflict := false
			for _, w := range kept {
				if s.Overlaps(w) {
					conflict = true
					break
				}
			}
			if !conflict {
				kept = append(kept, s)
			}
		}
		out = append(out, kept...)
	}
	return out
}

// dropInsidePlaceholders discards spans lying wholly inside a pre-existing
// token placeholder; the placeholder itself is preserved verbatim.
func dropInsidePlaceholders(spans []Span, placeholders []placeholderRange) []Span {
	if len(placeholders) == 0 {
		return spans
	}
	out := spans[:0]
	for _, s := range spans {
		inside := false
		for _, p := range placeholders {
			if p.start <= s.Start && s.End <= p.end {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, s)
		}
	}
	return out
}
