package firewall

import (
	"strings"
	"testing"
)

// engineFixture runs segmentation, binding, and policy evaluation over
// explicit spans.
func engineFixture(t *testing.T, text string, ps *PolicySet, spans []Span) ([]Detection, EngineResult) {
	t.Helper()
	nt := Normalize(text)
	segments := Segment(nt)

	arena := make([]Detection, len(spans))
	for i, s := range spans {
		if s.Surface == "" || s.Surface == "x" {
			s.Surface = nt.Slice(s.Start, s.End)
		}
		arena[i] = Detection{Span: s}
	}
	NewBinder(ps, segments).Bind(arena)
	guards := newGuardEvaluator(nt, segments, nil)
	result := NewEngine(ps, guards).Evaluate(arena)
	return arena, result
}

func TestEngine_DenyDominates(t *testing.T) {
	text := "Mail john@example.com today."
	ps := mustPolicies(
		Policy{ID: "pol_tok", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionTokenize}},
		Policy{ID: "pol_deny", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionDeny}},
	)
	spans := []Span{markedSpan(KindSubject, "EMAIL", 5, 21)}

	_, result := engineFixture(t, text, ps, spans)
	if !result.Deny {
		t.Fatal("DENY must dominate TOKENIZE")
	}
	if result.DenyingPolicyID != "pol_deny" {
		t.Errorf("denying policy = %s", result.DenyingPolicyID)
	}
}

func TestEngine_DeclarationOrderPicksRepresentative(t *testing.T) {
	text := "Mail john@example.com today."
	ps := mustPolicies(
		Policy{ID: "deny_first", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionDeny}},
		Policy{ID: "deny_second", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionDeny}},
	)
	spans := []Span{markedSpan(KindSubject, "EMAIL", 5, 21)}

	_, result := engineFixture(t, text, ps, spans)
	if result.DenyingPolicyID != "deny_first" {
		t.Errorf("representative should follow declaration order, got %s", result.DenyingPolicyID)
	}
	if len(result.AppliedPolicyIDs) != 2 {
		t.Errorf("both policies applied: %v", result.AppliedPolicyIDs)
	}
}

func TestEngine_TokenizeMarksDetection(t *testing.T) {
	text := "Mail john@example.com today."
	ps := mustPolicies(
		Policy{ID: "pol_tok", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionTokenize}},
	)
	spans := []Span{markedSpan(KindSubject, "EMAIL", 5, 21)}

	arena, result := engineFixture(t, text, ps, spans)
	if result.Deny {
		t.Fatal("no DENY policy declared")
	}
	if !arena[0].tokenize {
		t.Error("detection should be marked for tokenization")
	}
}

func TestEngine_NoMatchingPolicyLeavesUntouched(t *testing.T) {
	text := "Mail john@example.com today."
	ps := mustPolicies(
		Policy{ID: "pol_ssn", When: WhenClause{Subjects: []string{"SSN"}}, Then: ThenClause{Action: ActionDeny}},
	)
	spans := []Span{markedSpan(KindSubject, "EMAIL", 5, 21)}

	arena, result := engineFixture(t, text, ps, spans)
	if result.Deny || arena[0].tokenize || len(result.AppliedPolicyIDs) != 0 {
		t.Errorf("unmatched detection must stay untouched: %+v %+v", arena[0], result)
	}
}

func TestEngine_AllowLeavesUntouched(t *testing.T) {
	text := "Mail john@example.com today."
	ps := mustPolicies(
		Policy{ID: "pol_allow", When: WhenClause{Subjects: []string{"EMAIL"}}, Then: ThenClause{Action: ActionAllow}},
	)
	spans := []Span{markedSpan(KindSubject, "EMAIL", 5, 21)}

	arena, result := engineFixture(t, text, ps, spans)
	if arena[0].tokenize {
		t.Error("ALLOW must not mark tokenization")
	}
	if len(result.AppliedPolicyIDs) != 1 || result.AppliedPolicyIDs[0] != "pol_allow" {
		t.Errorf("applied = %v", result.AppliedPolicyIDs)
	}
}

func TestEngine_WhenMinConfidence(t *testing.T) {
	text := "Mail john@example.com today."
	ps := mustPolicies(
		Policy{ID: "pol_strict", When: WhenClause{Subjects: []string{"EMAIL"}, MinConfidence: floatPtr(0.95)}, Then: ThenClause{Action: ActionDeny}},
	)
	spans := []Span{markedSpan(KindSubject, "EMAIL", 5, 21)} // confidence 0.9

	_, result := engineFixture(t, text, ps, spans)
	if result.Deny {
		t.Error("policy with min_confidence 0.95 must not match a 0.9 detection")
	}
}

func TestEngine_PredicateRequiresBind(t *testing.T) {
	text := "Somebody filed for an IPO."
	ps := mustPolicies(finPolicy(ProximitySentence, ">=1"))
	spans := []Span{markedSpan(KindPredicate, "FINANCIAL_EVENT", 9, 25)}

	arena, result := engineFixture(t, text, ps, spans)
	if arena[0].tokenize || len(result.AppliedPolicyIDs) != 0 {
		t.Error("predicate policy with bind must not match without a successful binding")
	}
}

func TestEngine_Targets(t *testing.T) {
	text := "Acme Inc filed for an IPO."
	spans := []Span{
		markedSpan(KindSubject, "COMPANY", 0, 8),
		markedSpan(KindPredicate, "FINANCIAL_EVENT", 9, 25),
	}

	tests := []struct {
		targets      TargetSet
		wantSubject  bool
		wantPredicate bool
	}{
		{TargetBoth, true, true},
		{TargetSubjects, true, false},
		{TargetPredicates, false, true},
		{"", true, true}, // default is both
	}

	for _, tt := range tests {
		t.Run(string(tt.targets), func(t *testing.T) {
			policy := finPolicy(ProximitySentence, ">=1")
			policy.Then.Targets = tt.targets
			arena, _ := engineFixture(t, text, mustPolicies(policy), spans)
			if arena[0].tokenize != tt.wantSubject {
				t.Errorf("subject tokenize = %v, want %v", arena[0].tokenize, tt.wantSubject)
			}
			if arena[1].tokenize != tt.wantPredicate {
				t.Errorf("predicate tokenize = %v, want %v", arena[1].tokenize, tt.wantPredicate)
			}
		})
	}
}

func TestGuard_InQuote(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		start, end int
		want       bool
	}{
		{"straight_double", `He said "call Acme Inc" to me.`, 14, 22, true},
		{"typographic_double", "He said “call Acme Inc” to me.", 14, 22, true},
		{"outside_quotes", `He said "yes" to Acme Inc.`, 17, 25, false},
		{"apostrophe_is_not_a_quote", "Acme's filing for Acme Inc grew.", 18, 26, false},
		{"straight_single", "He said 'call Acme Inc' to me.", 14, 22, true},
	}

	ps := mustPolicies(
		Policy{ID: "pol", When: WhenClause{Subjects: []string{"COMPANY"}}, Unless: []Guard{GuardInQuote}, Then: ThenClause{Action: ActionTokenize}},
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := []Span{markedSpan(KindSubject, "COMPANY", tt.start, tt.end)}
			arena, _ := engineFixture(t, tt.text, ps, spans)
			suppressed := !arena[0].tokenize
			if suppressed != tt.want {
				t.Errorf("guard suppressed = %v, want %v (text %q)", suppressed, tt.want, tt.text)
			}
		})
	}
}

func TestGuard_InCodeBlock(t *testing.T) {
	text := "Config:\n```\nemail = john@example.com\n```\nPing john@example.com."
	ps := mustPolicies(
		Policy{ID: "pol", When: WhenClause{Subjects: []string{"EMAIL"}}, Unless: []Guard{GuardInCodeBlock}, Then: ThenClause{Action: ActionDeny}},
	)

	inside := len("Config:\n```\nemail = ")
	outside := len("Config:\n```\nemail = john@example.com\n```\nPing ")
	spans := []Span{
		markedSpan(KindSubject, "EMAIL", inside, inside+16),
		markedSpan(KindSubject, "EMAIL", outside, outside+16),
	}

	_, result := engineFixture(t, text, ps, spans)
	if !result.Deny {
		t.Fatal("the email outside the fence must still deny")
	}

	_, result = engineFixture(t, text, ps, spans[:1])
	if result.Deny {
		t.Error("the fenced email must be guarded")
	}
}

func TestGuard_PublicRecord(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool // suppressed
	}{
		{"pacer_marker", "Per PACER, John Smith filed suit.", true},
		{"public_record_marker", "This public record names John Smith.", true},
		{"no_marker", "A letter names John Smith.", false},
	}

	ps := mustPolicies(
		Policy{ID: "pol", When: WhenClause{Subjects: []string{"PERSON"}}, Unless: []Guard{GuardPublicRecord}, Then: ThenClause{Action: ActionTokenize}},
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nt := Normalize(tt.text)
			idx := strings.Index(nt.Text, "John Smith")
			spans := []Span{markedSpan(KindSubject, "PERSON", idx, idx+10)}
			arena, _ := engineFixture(t, tt.text, ps, spans)
			suppressed := !arena[0].tokenize
			if suppressed != tt.want {
				t.Errorf("suppressed = %v, want %v", suppressed, tt.want)
			}
		})
	}
}
