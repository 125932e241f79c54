package firewall

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Detector produces candidate spans from the two detection sources: catalog
// regex patterns and the extractor oracle. The output is an unordered
// multiset; the resolver owns dedup and overlap handling.
type Detector struct {
	catalog   *Catalog
	extractor Extractor
	selector  *ExampleSelector
	logger    *zap.Logger
}

// NewDetector creates a detector. extractor may be nil (regex-only
// operation); selector may be nil (static example lists in the prompt).
func NewDetector(catalog *Catalog, extractor Extractor, selector *ExampleSelector, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		catalog:   catalog,
		extractor: extractor,
		selector:  selector,
		logger:    logger,
	}
}

// Detect runs both sources over the normalized text.
func (d *Detector) Detect(ctx context.Context, nt *NormalizedText) ([]Span, error) {
	spans := d.detectRegex(nt)

	if d.extractor != nil {
		oracle, err := d.detectOracle(ctx, nt)
		if err != nil {
			return nil, err
		}
		spans = append(spans, oracle...)
	}
	return spans, nil
}

// detectRegex scans every compiled catalog pattern over the normalized
// text. Regex matches carry confidence 1.0.
func (d *Detector) detectRegex(nt *NormalizedText) []Span {
	var spans []Span
	for i := range d.catalog.Subjects {
		sub := &d.catalog.Subjects[i]
		for _, re := range sub.compiled {
			for _, m := range re.FindAllStringIndex(nt.Text, -1) {
				start := nt.RuneOffset(m[0])
				end := nt.RuneOffset(m[1])
				spans = append(spans, Span{
					Start:      start,
					End:        end,
					Kind:       KindSubject,
					Label:      sub.Label,
					Surface:    nt.Slice(start, end),
					Confidence: 1.0,
					Source:     SourceRegex,
				})
			}
		}
	}
	return spans
}

// detectOracle consults the extractor and converts its candidates into
// spans. Oracle offsets are treated as hints: every surface is re-located
// in the normalized text, and on ambiguity the occurrence nearest the
// reported offset wins. Candidates whose surface cannot be located, or that
// reference unknown labels, are dropped with a debug record.
func (d *Detector) detectOracle(ctx context.Context, nt *NormalizedText) ([]Span, error) {
	prompt := BuildPrompt(d.catalog, d.selector, nt.Text)
	candidates, err := d.extractor.Extract(ctx, nt.Text, prompt)
	if err != nil {
		return nil, err
	}

	var spans []Span
	for _, c := range candidates {
		if c.Surface == "" {
			d.logger.Debug("oracle candidate dropped: empty surface", zap.String("label", c.Label))
			continue
		}
		switch c.Kind {
		case KindSubject:
			if !d.catalog.HasSubject(c.Label) {
				d.logger.Debug("oracle candidate dropped: unknown subject label", zap.String("label", c.Label))
				continue
			}
		case KindPredicate:
			if !d.catalog.HasPredicate(c.Label) {
				d.logger.Debug("oracle candidate dropped: unknown predicate label", zap.String("label", c.Label))
				continue
			}
		default:
			d.logger.Debug("oracle candidate dropped: bad kind", zap.String("kind", string(c.Kind)))
			continue
		}

		start, end, ok := locateSurface(nt, c.Surface, c.Start)
		if !ok {
			d.logger.Debug("oracle candidate dropped: surface not found in normalized text",
				zap.String("label", c.Label))
			continue
		}

		conf := c.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}

		spans = append(spans, Span{
			Start:      start,
			End:        end,
			Kind:       c.Kind,
			Label:      c.Label,
			Surface:    nt.Slice(start, end),
			Confidence: conf,
			Source:     SourceOracle,
		})
	}
	return spans, nil
}

// locateSurface finds the occurrence of surface in the normalized text
// whose start is nearest the hinted character offset. The surface itself is
// NFKC-normalized before searching so oracle output over the raw text still
// matches.
func locateSurface(nt *NormalizedText, surface string, hint int) (start, end int, ok bool) {
	needle := Normalize(surface).Text
	if needle == "" {
		return 0, 0, false
	}

	best := -1
	bestDist := 0
	from := 0
	for {
		i := strings.Index(nt.Text[from:], needle)
		if i < 0 {
			break
		}
		byteStart := from + i
		runeStart := nt.RuneOffset(byteStart)
		dist := runeStart - hint
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < bestDist {
			best = runeStart
			bestDist = dist
		}
		from = byteStart + len(needle)
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, best + len([]rune(needle)), true
}
