package firewall

import (
	"encoding/binary"
	"fmt"
	"regexp"

	"golang.org/x/crypto/blake2b"
)

// TokenFormat selects the placeholder rendering.
type TokenFormat string

const (
	// FormatBracket renders [[KIND:LABEL:ID]].
	FormatBracket TokenFormat = "bracket"
	// FormatMarkdown renders `[KIND:LABEL:ID]` (backtick-wrapped).
	FormatMarkdown TokenFormat = "markdown"
)

// idAlphabet is the restricted 32-symbol token alphabet: digits and
// uppercase letters excluding the ambiguous I, O, 0 and 1.
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Token id lengths. Ids start at 10 characters (50 bits of the hash) and
// widen to 12 (60 bits) if two distinct (label, canonical) pairs collide
// within one request.
const (
	idLenDefault = 10
	idLenWide    = 12
)

// placeholderRe matches both placeholder wire formats. Group 1/4: kind,
// group 2/5: label, group 3/6: id.
var placeholderRe = regexp.MustCompile(
	`\[\[(SUBJ|PRED):([A-Z_]+):([A-HJ-NP-Z2-9]{10,12})\]\]` +
		"|`" + `\[(SUBJ|PRED):([A-Z_]+):([A-HJ-NP-Z2-9]{10,12})\]` + "`")

// Tokenizer derives stable opaque identifiers for (label, canonical
// surface) pairs under a process-wide secret key. The pair table is
// request-local; the mapping itself is determined entirely by the key, so
// equal pairs produce equal ids across requests too.
//
// Not safe for concurrent use: each request owns its own Tokenizer.
type Tokenizer struct {
	key    []byte
	format TokenFormat

	ids   map[pairKey]string // (label, canonical) → id
	pairs map[string]pairKey // id → (label, canonical), for collision detection
}

type pairKey struct {
	label     string
	canonical string
}

// NewTokenizer creates a request-local tokenizer. Keys longer than the
// BLAKE2b limit are folded down by an unkeyed hash first.
func NewTokenizer(secretKey []byte, format TokenFormat) *Tokenizer {
	key := secretKey
	if len(key) > blake2b.Size {
		folded := blake2b.Sum256(key)
		key = folded[:]
	}
	if format == "" {
		format = FormatBracket
	}
	return &Tokenizer{
		key:    key,
		format: format,
		ids:    make(map[pairKey]string),
		pairs:  make(map[string]pairKey),
	}
}

// TokenFor returns the opaque id for (label, canonical), deriving it on
// first use. Identical pairs always yield identical ids; distinct pairs
// that collide at the default width are re-derived at the wide width.
func (t *Tokenizer) TokenFor(label, canonical string) (string, error) {
	pk := pairKey{label: label, canonical: canonical}
	if id, ok := t.ids[pk]; ok {
		return id, nil
	}

	sum, err := t.hash(label, canonical)
	if err != nil {
		return "", err
	}

	for _, width := range []int{idLenDefault, idLenWide} {
		id := encodeID(sum, width)
		prev, taken := t.pairs[id]
		if !taken || prev == pk {
			t.ids[pk] = id
			t.pairs[id] = pk
			return id, nil
		}
	}
	return "", fmt.Errorf("token collision for label %s persists at widened id length", label)
}

// hash computes the keyed BLAKE2b-256 digest of label || 0x1f || canonical.
func (t *Tokenizer) hash(label, canonical string) ([]byte, error) {
	h, err := blake2b.New256(t.key)
	if err != nil {
		return nil, fmt.Errorf("keyed hash init: %w", err)
	}
	h.Write([]byte(label))        //nolint:errcheck // hash.Hash never fails
	h.Write([]byte{0x1f})         //nolint:errcheck
	h.Write([]byte(canonical))    //nolint:errcheck
	return h.Sum(nil), nil
}

// encodeID encodes the leading 8 bytes of sum as `chars` symbols from
// idAlphabet, consuming 5 bits per symbol from the most significant end.
func encodeID(sum []byte, chars int) string {
	v := binary.BigEndian.Uint64(sum[:8])
	out := make([]byte, chars)
	for i := 0; i < chars; i++ {
		out[i] = idAlphabet[v>>59]
		v <<= 5
	}
	return string(out)
}

// Render produces the placeholder string for a detection in the configured
// wire format.
func (t *Tokenizer) Render(kind SpanKind, label, id string) string {
	if t.format == FormatMarkdown {
		return fmt.Sprintf("`[%s:%s:%s]`", kind, label, id)
	}
	return fmt.Sprintf("[[%s:%s:%s]]", kind, label, id)
}

// placeholderRange is a pre-existing placeholder found in the input, in
// rune offsets over the normalized text.
type placeholderRange struct {
	start, end int
}

// findPlaceholders locates every pre-existing placeholder in the normalized
// text. Spans wholly inside one are immune to detection and rewriting.
func findPlaceholders(nt *NormalizedText) []placeholderRange {
	var out []placeholderRange
	for _, m := range placeholderRe.FindAllStringIndex(nt.Text, -1) {
		out = append(out, placeholderRange{
			start: nt.RuneOffset(m[0]),
			end:   nt.RuneOffset(m[1]),
		})
	}
	return out
}
