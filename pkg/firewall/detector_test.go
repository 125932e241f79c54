package firewall

import (
	"context"
	"testing"
)

func detect(t *testing.T, text string, extractor Extractor) []Span {
	t.Helper()
	nt := Normalize(text)
	d := NewDetector(DefaultCatalog(), extractor, nil, nil)
	spans, err := d.Detect(context.Background(), nt)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	return spans
}

func findSpan(spans []Span, label, surface string) *Span {
	for i := range spans {
		if spans[i].Label == label && spans[i].Surface == surface {
			return &spans[i]
		}
	}
	return nil
}

func TestDetector_RegexPath(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		label   string
		surface string
	}{
		{"email", "Contact john.smith@example.com now.", "EMAIL", "john.smith@example.com"},
		{"ssn", "SSN: 123-45-6789 on file.", "SSN", "123-45-6789"},
		{"credit_card", "Card 4111 1111 1111 1111 charged.", "CREDIT_CARD", "4111 1111 1111 1111"},
		{"ipv4", "Server at 10.0.0.1 is down.", "IP_ADDRESS", "10.0.0.1"},
		{"eth_address", "Send to 0x52908400098527886E0F7030069857D2E4169EE7 today.", "CRYPTO_ADDRESS", "0x52908400098527886E0F7030069857D2E4169EE7"},
		{"account", "Wire from account 00123456789 cleared.", "ACCOUNT_NUMBER", "account 00123456789"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := detect(t, tt.text, nil)
			s := findSpan(spans, tt.label, tt.surface)
			if s == nil {
				t.Fatalf("no %s span for %q in %v", tt.label, tt.surface, spans)
			}
			if s.Confidence != 1.0 {
				t.Errorf("regex confidence = %v, want 1.0", s.Confidence)
			}
			if s.Source != SourceRegex {
				t.Errorf("source = %s, want regex", s.Source)
			}
			if s.Kind != KindSubject {
				t.Errorf("kind = %s, want SUBJ", s.Kind)
			}
		})
	}
}

func TestDetector_OracleRelocation(t *testing.T) {
	text := "Smith called. Later, John Smith called again."

	// The oracle reports a wildly wrong offset; the surface re-locates to
	// its actual position.
	ex := &stubExtractor{candidates: []Candidate{
		{Kind: KindSubject, Label: "PERSON", Surface: "John Smith", Start: 0, End: 10, Confidence: 0.9},
	}}
	spans := detect(t, text, ex)
	s := findSpan(spans, "PERSON", "John Smith")
	if s == nil {
		t.Fatal("PERSON span missing")
	}
	wantStart := len("Smith called. Later, ")
	if s.Start != wantStart {
		t.Errorf("relocated start = %d, want %d", s.Start, wantStart)
	}
}

func TestDetector_OracleNearestOccurrence(t *testing.T) {
	text := "Acme here. Acme there. Acme everywhere."

	ex := &stubExtractor{candidates: []Candidate{
		{Kind: KindSubject, Label: "COMPANY", Surface: "Acme", Start: 12, End: 16, Confidence: 0.8},
	}}
	spans := detect(t, text, ex)
	if len(spans) != 1 {
		t.Fatalf("want one span, got %v", spans)
	}
	// Occurrences start at 0, 11, 23; the hint 12 is nearest to 11.
	if spans[0].Start != 11 {
		t.Errorf("picked occurrence at %d, want 11", spans[0].Start)
	}
}

func TestDetector_OracleDrops(t *testing.T) {
	text := "Nothing to see here."

	tests := []struct {
		name      string
		candidate Candidate
	}{
		{"unlocatable_surface", subj("PERSON", "Jane Doe", 0.9)},
		{"unknown_subject_label", subj("ALIEN", "Nothing", 0.9)},
		{"unknown_predicate_label", pred("NOPE_EVENT", "Nothing", 0.9)},
		{"empty_surface", subj("PERSON", "", 0.9)},
		{"bad_kind", Candidate{Kind: "THING", Label: "PERSON", Surface: "Nothing", Confidence: 0.9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := detect(t, text, &stubExtractor{candidates: []Candidate{tt.candidate}})
			if len(spans) != 0 {
				t.Errorf("candidate should be dropped, got %v", spans)
			}
		})
	}
}

func TestDetector_OracleConfidenceClamped(t *testing.T) {
	text := "Call John Smith."
	ex := &stubExtractor{candidates: []Candidate{
		{Kind: KindSubject, Label: "PERSON", Surface: "John Smith", Confidence: 3.5},
	}}
	spans := detect(t, text, ex)
	if len(spans) != 1 || spans[0].Confidence != 1.0 {
		t.Errorf("confidence should clamp to 1.0: %v", spans)
	}
}

func TestDetector_OracleSurfaceNormalized(t *testing.T) {
	// The oracle echoes a decomposed surface; the detector finds the NFKC
	// form in the normalized text.
	text := "José Müller attended."
	ex := &stubExtractor{candidates: []Candidate{
		subj("PERSON", "José Müller", 0.9),
	}}
	spans := detect(t, text, ex)
	s := findSpan(spans, "PERSON", "José Müller")
	if s == nil {
		t.Fatalf("normalized surface not located: %v", spans)
	}
}
