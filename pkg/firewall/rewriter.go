package firewall

import (
	"regexp"
	"sort"
	"strings"
)

// Literal patterns that must survive the rewrite byte-identically when they
// lie outside every spliced span: monetary amounts, dates, quoted passages,
// and pre-existing placeholders.
var allowUnchangedPatterns = []*regexp.Regexp{
	// Monetary amounts: $1,200.50, €50 000, £3.2M.
	regexp.MustCompile(`[$€£¥]\s?\d[\d,. ]*\d|[$€£¥]\d`),
	// ISO and slashed dates.
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
	// Written-out dates: November 3, 2024 / 3 November 2024.
	regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:,\s*\d{4})?\b`),
	regexp.MustCompile(`\b\d{1,2}\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)(?:\s+\d{4})?\b`),
	// Quoted passages (straight and typographic), non-greedy.
	regexp.MustCompile(`"[^"\n]*"`),
	regexp.MustCompile(`“[^”\n]*”`),
	// Pre-existing placeholders.
	placeholderRe,
}

// Rewriter produces the output text by splicing placeholders over the
// detections marked for tokenization, leaving everything else untouched.
type Rewriter struct {
	nt  *NormalizedText
	tok *Tokenizer
}

// NewRewriter creates a rewriter for one request.
func NewRewriter(nt *NormalizedText, tok *Tokenizer) *Rewriter {
	return &Rewriter{nt: nt, tok: tok}
}

// Rewrite tokenizes every marked detection and splices the placeholders in
// place. For cross-label overlaps the outermost span wins (smallest start,
// ties broken by largest end); contained spans keep their token ids for
// reporting but are not spliced separately. After splicing, every
// allow-unchanged literal of the input that lies outside the spliced spans
// must occur in the output exactly as often as in the input; a mismatch
// returns a *RewriteViolationError.
func (r *Rewriter) Rewrite(arena []Detection) (string, error) {
	var marked []int
	for i := range arena {
		if arena[i].tokenize {
			marked = append(marked, i)
		}
	}
	if len(marked) == 0 {
		return r.nt.Text, nil
	}

	for _, i := range marked {
		det := &arena[i]
		id, err := r.tok.TokenFor(det.Label, det.Canonical())
		if err != nil {
			return "", err
		}
		det.TokenID = id
	}

	spliced := chooseOutermost(arena, marked)

	var b strings.Builder
	cur := 0
	for _, i := range spliced {
		det := &arena[i]
		b.WriteString(r.nt.Slice(cur, det.Start))
		b.WriteString(r.tok.Render(det.Kind, det.Label, det.TokenID))
		cur = det.End
	}
	b.WriteString(r.nt.Slice(cur, r.nt.RuneCount()))
	out := b.String()

	if err := r.verifyUnchanged(out, arena, spliced); err != nil {
		return "", err
	}
	return out, nil
}

// chooseOutermost selects the arena indices to splice, in start order. A
// span starting inside the previously selected span is discarded; at equal
// starts the larger end wins.
func chooseOutermost(arena []Detection, marked []int) []int {
	sorted := append([]int(nil), marked...)
	sort.Slice(sorted, func(a, b int) bool {
		da, db := &arena[sorted[a]], &arena[sorted[b]]
		if da.Start != db.Start {
			return da.Start < db.Start
		}
		return da.End > db.End
	})

	var out []int
	cur := -1
	for _, i := range sorted {
		if arena[i].Start < cur {
			continue
		}
		out = append(out, i)
		cur = arena[i].End
	}
	return out
}

// verifyUnchanged checks the allow-unchanged post-condition: every literal
// that did not overlap a spliced span occurs in the output exactly as often
// as in the input.
func (r *Rewriter) verifyUnchanged(out string, arena []Detection, spliced []int) error {
	literals := r.allowUnchangedLiterals(arena, spliced)
	for _, lit := range literals {
		want := strings.Count(r.nt.Text, lit)
		got := strings.Count(out, lit)
		if got != want {
			return &RewriteViolationError{Literal: lit, Want: want, Got: got}
		}
	}
	return nil
}

// allowUnchangedLiterals collects the distinct protected literals of the
// input. A literal is excluded when any of its occurrences overlaps a
// spliced span: that occurrence is intentionally rewritten, so its count
// cannot be preserved.
func (r *Rewriter) allowUnchangedLiterals(arena []Detection, spliced []int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, re := range allowUnchangedPatterns {
		for _, m := range re.FindAllStringIndex(r.nt.Text, -1) {
			lit := r.nt.Text[m[0]:m[1]]
			if seen[lit] {
				continue
			}
			seen[lit] = true
			if !coversAnyOccurrence(r.nt, lit, arena, spliced) {
				out = append(out, lit)
			}
		}
	}
	return out
}

// overlapsAny reports whether [start, end) shares characters with any
// spliced span.
func overlapsAny(arena []Detection, spliced []int, start, end int) bool {
	for _, i := range spliced {
		if arena[i].Start < end && start < arena[i].End {
			return true
		}
	}
	return false
}

// coversAnyOccurrence reports whether any occurrence of lit in the input
// overlaps a spliced span. The count check is global per literal, so one
// rewritten occurrence disqualifies the literal entirely.
func coversAnyOccurrence(nt *NormalizedText, lit string, arena []Detection, spliced []int) bool {
	from := 0
	for {
		i := strings.Index(nt.Text[from:], lit)
		if i < 0 {
			return false
		}
		byteStart := from + i
		start := nt.RuneOffset(byteStart)
		end := nt.RuneOffset(byteStart + len(lit))
		if overlapsAny(arena, spliced, start, end) {
			return true
		}
		from = byteStart + len(lit)
	}
}
