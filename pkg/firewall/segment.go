package firewall

import (
	"strings"
	"unicode"
)

// SentenceSpan is one sentence of the normalized text. Start/End are rune
// offsets. Sentence ranges tile their paragraph: each sentence extends
// through the whitespace that follows its terminal punctuation up to the
// start of the next sentence, so a subject sitting on the exact boundary
// belongs to the sentence whose terminal punctuation precedes it.
type SentenceSpan struct {
	ParagraphIdx int `json:"paragraphIdx"`
	SentenceIdx  int `json:"sentenceIdx"`
	Start        int `json:"start"`
	End          int `json:"end"`
}

// ParagraphSpan is one paragraph of the normalized text, in rune offsets.
type ParagraphSpan struct {
	ParagraphIdx int `json:"paragraphIdx"`
	Start        int `json:"start"`
	End          int `json:"end"`
}

// Segmentation holds the paragraph and sentence structure of one request's
// normalized text.
type Segmentation struct {
	Paragraphs []ParagraphSpan
	Sentences  []SentenceSpan
}

// abbreviations that do not terminate a sentence even when followed by
// whitespace. Compared against the text ending at the period, preceded by a
// word boundary.
var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Prof.", "Rev.", "Hon.",
	"Jr.", "Sr.", "St.", "Gen.", "Sgt.", "Capt.",
	"Inc.", "Ltd.", "Co.", "Corp.", "LLC.", "L.P.",
	"U.S.", "U.K.", "U.N.", "D.C.",
	"e.g.", "i.e.", "etc.", "vs.", "cf.", "al.",
	"No.", "Vol.", "Fig.", "pp.",
	"Jan.", "Feb.", "Mar.", "Apr.", "Jun.", "Jul.", "Aug.", "Sep.", "Sept.", "Oct.", "Nov.", "Dec.",
}

// Segment splits the normalized text into paragraphs and sentences.
// Paragraph breaks are runs of two or more line terminators (blank lines
// containing only spaces or tabs count as terminators). Sentences end at
// terminal '.', '?' or '!' followed by whitespace or end-of-text, except
// after a known abbreviation or inside matched quotes or brackets.
func Segment(nt *NormalizedText) *Segmentation {
	seg := &Segmentation{}
	runes := []rune(nt.Text)

	for _, p := range splitParagraphs(runes) {
		pIdx := len(seg.Paragraphs)
		seg.Paragraphs = append(seg.Paragraphs, ParagraphSpan{
			ParagraphIdx: pIdx,
			Start:        p.start,
			End:          p.end,
		})
		seg.splitSentences(runes, pIdx, p.start, p.end)
	}
	return seg
}

type runeRange struct{ start, end int }

// splitParagraphs finds maximal non-break runs. A break is any run of line
// terminators and intervening blank-line whitespace containing at least two
// newlines.
func splitParagraphs(runes []rune) []runeRange {
	var out []runeRange
	i := 0
	for i < len(runes) {
		// Skip a leading break region.
		j := i
		newlines := 0
		for j < len(runes) && (runes[j] == '\n' || runes[j] == '\r' || runes[j] == ' ' || runes[j] == '\t') {
			if runes[j] == '\n' {
				newlines++
			}
			j++
		}
		if newlines >= 2 || (i == 0 && j > i && newlines > 0 && allBlank(runes[i:j])) {
			i = j
			if i >= len(runes) {
				break
			}
		}

		// Consume the paragraph until the next break.
		start := i
		for i < len(runes) {
			if runes[i] == '\n' || runes[i] == '\r' {
				k := i
				nl := 0
				for k < len(runes) && (runes[k] == '\n' || runes[k] == '\r' || runes[k] == ' ' || runes[k] == '\t') {
					if runes[k] == '\n' {
						nl++
					}
					k++
				}
				if nl >= 2 {
					break
				}
				i = k
				continue
			}
			i++
		}
		if i > start {
			out = append(out, runeRange{start: start, end: i})
		}
	}
	return out
}

func allBlank(runes []rune) bool {
	for _, r := range runes {
		if r != '\n' && r != '\r' && r != ' ' && r != '\t' {
			return false
		}
	}
	return true
}

// splitSentences appends the sentences of runes[start:end] to seg.
func (s *Segmentation) splitSentences(runes []rune, pIdx, start, end int) {
	sentStart := start
	sentIdx := 0
	bracketDepth := 0
	inDouble := false
	inTypographic := false

	emit := func(sentEnd int) {
		s.Sentences = append(s.Sentences, SentenceSpan{
			ParagraphIdx: pIdx,
			SentenceIdx:  sentIdx,
			Start:        sentStart,
			End:          sentEnd,
		})
		sentIdx++
		sentStart = sentEnd
	}

	for i := start; i < end; i++ {
		switch runes[i] {
		case '(', '[', '{':
			bracketDepth++
			continue
		case ')', ']', '}':
			if bracketDepth > 0 {
				bracketDepth--
			}
			continue
		case '"':
			inDouble = !inDouble
			continue
		case '“': // “
			inTypographic = true
			continue
		case '”': // ”
			inTypographic = false
			continue
		}

		if runes[i] != '.' && runes[i] != '?' && runes[i] != '!' {
			continue
		}
		if bracketDepth > 0 || inDouble || inTypographic {
			continue
		}
		// Terminal punctuation must be followed by whitespace or end-of-text.
		if i+1 < end && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if runes[i] == '.' && isAbbreviation(runes, start, i) {
			continue
		}

		// The sentence absorbs trailing whitespace up to the next sentence.
		j := i + 1
		for j < end && unicode.IsSpace(runes[j]) {
			j++
		}
		emit(j)
		i = j - 1
	}

	if sentStart < end {
		emit(end)
	}
}

// isAbbreviation reports whether the period at runes[dot] terminates a known
// abbreviation rather than a sentence.
func isAbbreviation(runes []rune, start, dot int) bool {
	lo := dot - 7
	if lo < start {
		lo = start
	}
	tail := string(runes[lo : dot+1])
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(tail, abbr) {
			continue
		}
		// The character before the abbreviation must not extend the word.
		beforeIdx := dot + 1 - len([]rune(abbr))
		if beforeIdx <= start {
			return true
		}
		prev := runes[beforeIdx-1]
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return true
		}
	}
	return false
}

// SentenceContaining returns the sentence window that contains the given
// rune offset, or false when the offset lies outside every sentence.
func (s *Segmentation) SentenceContaining(off int) (SentenceSpan, bool) {
	for _, sent := range s.Sentences {
		if sent.Start <= off && off < sent.End {
			return sent, true
		}
	}
	return SentenceSpan{}, false
}

// ParagraphContaining returns the paragraph window that contains the given
// rune offset, or false when the offset lies outside every paragraph.
func (s *Segmentation) ParagraphContaining(off int) (ParagraphSpan, bool) {
	for _, p := range s.Paragraphs {
		if p.Start <= off && off < p.End {
			return p, true
		}
	}
	return ParagraphSpan{}, false
}
