package firewall

import "testing"

func span(kind SpanKind, label string, start, end int, conf float64, source SpanSource) Span {
	return Span{Start: start, End: end, Kind: kind, Label: label, Surface: "x", Confidence: conf, Source: source}
}

func TestResolver_ConfidenceFilter(t *testing.T) {
	ps := mustPolicies(
		Policy{ID: "email", When: WhenClause{Subjects: []string{"EMAIL"}, MinConfidence: floatPtr(0.8)}, Then: ThenClause{Action: ActionTokenize}},
	)
	r := NewResolver(ps, 0.5)

	spans := []Span{
		span(KindSubject, "EMAIL", 0, 5, 0.9, SourceOracle),   // above the policy gate
		span(KindSubject, "EMAIL", 10, 15, 0.7, SourceOracle), // below it
		span(KindSubject, "PERSON", 20, 25, 0.6, SourceOracle), // unreferenced label, above default
		span(KindSubject, "PERSON", 30, 35, 0.4, SourceOracle), // below default
	}
	got := r.Resolve(spans, nil)
	if len(got) != 2 {
		t.Fatalf("kept %d spans, want 2: %v", len(got), got)
	}
	if got[0].Start != 0 || got[1].Start != 20 {
		t.Errorf("wrong spans survived: %v", got)
	}
}

func TestResolver_Dedupe(t *testing.T) {
	ps := mustPolicies(
		Policy{ID: "p", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionTokenize}},
	)
	r := NewResolver(ps, 0.5)

	tests := []struct {
		name       string
		a, b       Span
		wantSource SpanSource
		wantConf   float64
	}{
		{
			"higher_confidence_wins",
			span(KindSubject, "EMAIL", 0, 5, 0.8, SourceOracle),
			span(KindSubject, "EMAIL", 0, 5, 0.95, SourceOracle),
			SourceOracle, 0.95,
		},
		{
			"regex_wins_confidence_tie",
			span(KindSubject, "EMAIL", 0, 5, 1.0, SourceOracle),
			span(KindSubject, "EMAIL", 0, 5, 1.0, SourceRegex),
			SourceRegex, 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve([]Span{tt.a, tt.b}, nil)
			if len(got) != 1 {
				t.Fatalf("kept %d spans, want 1", len(got))
			}
			if got[0].Source != tt.wantSource || got[0].Confidence != tt.wantConf {
				t.Errorf("kept %+v", got[0])
			}
		})
	}
}

func TestResolver_SameLabelOverlap(t *testing.T) {
	ps := mustPolicies(
		Policy{ID: "p", When: WhenClause{Subjects: []string{"PERSON"}}, Then: ThenClause{Action: ActionTokenize}},
	)
	r := NewResolver(ps, 0.5)

	t.Run("longest_wins", func(t *testing.T) {
		got := r.Resolve([]Span{
			span(KindSubject, "PERSON", 4, 9, 0.9, SourceOracle),  // "Smith"
			span(KindSubject, "PERSON", 0, 9, 0.8, SourceOracle),  // "Dr. Smith"
		}, nil)
		if len(got) != 1 || got[0].Start != 0 || got[0].End != 9 {
			t.Errorf("kept %v, want the longer span", got)
		}
	})

	t.Run("confidence_breaks_length_tie", func(t *testing.T) {
		got := r.Resolve([]Span{
			span(KindSubject, "PERSON", 0, 5, 0.7, SourceOracle),
			span(KindSubject, "PERSON", 2, 7, 0.9, SourceOracle),
		}, nil)
		if len(got) != 1 || got[0].Confidence != 0.9 {
			t.Errorf("kept %v, want the higher confidence span", got)
		}
	})

	t.Run("disjoint_same_label_both_kept", func(t *testing.T) {
		got := r.Resolve([]Span{
			span(KindSubject, "PERSON", 0, 5, 0.9, SourceOracle),
			span(KindSubject, "PERSON", 10, 15, 0.9, SourceOracle),
		}, nil)
		if len(got) != 2 {
			t.Errorf("kept %v, want both disjoint spans", got)
		}
	})
}

func TestResolver_CrossLabelOverlapKept(t *testing.T) {
	ps := mustPolicies(
		Policy{ID: "p1", When: WhenClause{Subjects: []string{"PERSON"}}, Then: ThenClause{Action: ActionTokenize}},
		Policy{ID: "p2", When: WhenClause{Subjects: []string{"COMPANY"}}, Then: ThenClause{Action: ActionTokenize}},
	)
	r := NewResolver(ps, 0.5)

	// PERSON "Dr. Smith" overlapping COMPANY "Smith & Associates": both
	// survive — complementary detections for different policies.
	got := r.Resolve([]Span{
		span(KindSubject, "PERSON", 0, 9, 0.9, SourceOracle),
		span(KindSubject, "COMPANY", 4, 22, 0.9, SourceOracle),
	}, nil)
	if len(got) != 2 {
		t.Errorf("kept %v, want both cross-label spans", got)
	}

	// Containment changes nothing.
	got = r.Resolve([]Span{
		span(KindSubject, "PERSON", 2, 7, 0.9, SourceOracle),
		span(KindSubject, "COMPANY", 0, 10, 0.9, SourceOracle),
	}, nil)
	if len(got) != 2 {
		t.Errorf("kept %v, want contained cross-label spans too", got)
	}
}

func TestResolver_PlaceholderImmunity(t *testing.T) {
	ps := mustPolicies(
		Policy{ID: "p", When: WhenClause{Subjects: []string{"PERSON"}}, Then: ThenClause{Action: ActionTokenize}},
	)
	r := NewResolver(ps, 0.5)

	placeholders := []placeholderRange{{start: 10, end: 37}}
	got := r.Resolve([]Span{
		span(KindSubject, "PERSON", 12, 20, 0.9, SourceOracle), // inside the placeholder
		span(KindSubject, "PERSON", 40, 48, 0.9, SourceOracle), // outside
	}, placeholders)
	if len(got) != 1 || got[0].Start != 40 {
		t.Errorf("kept %v, want only the span outside the placeholder", got)
	}
}

func TestResolver_OutputSorted(t *testing.T) {
	ps := mustPolicies(
		Policy{ID: "p", When: WhenClause{Subjects: []string{"PERSON", "COMPANY"}}, Then: ThenClause{Action: ActionTokenize}},
	)
	r := NewResolver(ps, 0.5)

	got := r.Resolve([]Span{
		span(KindSubject, "PERSON", 30, 35, 0.9, SourceOracle),
		span(KindSubject, "COMPANY", 5, 10, 0.9, SourceOracle),
		span(KindSubject, "PERSON", 15, 20, 0.9, SourceOracle),
	}, nil)
	for i := 1; i < len(got); i++ {
		if got[i].Start < got[i-1].Start {
			t.Fatalf("output not sorted by start: %v", got)
		}
	}
}
