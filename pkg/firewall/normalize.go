package firewall

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizedText carries the NFKC form of a request's input together with the
// offset bookkeeping the rest of the pipeline needs. All span offsets in the
// pipeline are rune offsets into Text.
//
// Examples of what NFKC folds:
//
//	𝐈𝐠𝐧𝐨𝐫𝐞 → Ignore (mathematical bold)
//	Ｉｇｎｏｒｅ → Ignore (fullwidth)
//	José → José (combining accent composed)
type NormalizedText struct {
	// Original is the input exactly as received.
	Original string
	// Text is the NFKC-normalized form.
	Text string
	// WasNormalized is true when Text differs from Original.
	WasNormalized bool

	runes      []rune
	runeToByte []int // rune index → byte offset in Text; length len(runes)+1

	// Normalization boundary tables, in rune offsets. srcBounds[i] in
	// Original corresponds to dstBounds[i] in Text. Offsets between
	// boundaries have no exact image; callers floor to the nearest boundary.
	srcBounds []int
	dstBounds []int
}

// Normalize applies NFKC to the input and records the pre→post offset
// mapping at normalization-boundary granularity.
func Normalize(input string) *NormalizedText {
	nt := &NormalizedText{
		Original:  input,
		srcBounds: []int{0},
		dstBounds: []int{0},
	}

	var out []byte
	var iter norm.Iter
	iter.InitString(norm.NFKC, input)

	srcByte, srcChar, dstChar := 0, 0, 0
	for !iter.Done() {
		seg := iter.Next()
		pos := iter.Pos()
		out = append(out, seg...)

		srcChar += utf8.RuneCountInString(input[srcByte:pos])
		dstChar += utf8.RuneCount(seg)
		srcByte = pos
		nt.srcBounds = append(nt.srcBounds, srcChar)
		nt.dstBounds = append(nt.dstBounds, dstChar)
	}

	nt.Text = string(out)
	nt.WasNormalized = nt.Text != input

	nt.runes = []rune(nt.Text)
	nt.runeToByte = make([]int, len(nt.runes)+1)
	b := 0
	for i, r := range nt.runes {
		nt.runeToByte[i] = b
		b += utf8.RuneLen(r)
	}
	nt.runeToByte[len(nt.runes)] = b

	return nt
}

// RuneCount returns the length of the normalized text in runes.
func (nt *NormalizedText) RuneCount() int {
	return len(nt.runes)
}

// Slice returns the normalized text between the given rune offsets.
// Out-of-range offsets are clamped.
func (nt *NormalizedText) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(nt.runes) {
		end = len(nt.runes)
	}
	if start >= end {
		return ""
	}
	return nt.Text[nt.runeToByte[start]:nt.runeToByte[end]]
}

// ByteOffset converts a rune offset into a byte offset in Text.
func (nt *NormalizedText) ByteOffset(runeOff int) int {
	if runeOff < 0 {
		return 0
	}
	if runeOff >= len(nt.runeToByte) {
		return nt.runeToByte[len(nt.runeToByte)-1]
	}
	return nt.runeToByte[runeOff]
}

// RuneOffset converts a byte offset in Text into a rune offset. Offsets that
// land inside a multi-byte rune floor to that rune's index.
func (nt *NormalizedText) RuneOffset(byteOff int) int {
	lo, hi := 0, len(nt.runeToByte)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if nt.runeToByte[mid] <= byteOff {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// ToNormalized maps a rune offset in Original to the corresponding rune
// offset in Text. Offsets that fall between normalization boundaries floor
// to the nearest preceding boundary.
func (nt *NormalizedText) ToNormalized(origChar int) int {
	i := boundFloor(nt.srcBounds, origChar)
	return nt.dstBounds[i]
}

// ToOriginal maps a rune offset in Text back to the corresponding rune
// offset in Original, flooring to the nearest preceding boundary.
func (nt *NormalizedText) ToOriginal(normChar int) int {
	i := boundFloor(nt.dstBounds, normChar)
	return nt.srcBounds[i]
}

// boundFloor returns the index of the largest bounds entry <= off.
func boundFloor(bounds []int, off int) int {
	lo, hi := 0, len(bounds)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if bounds[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
