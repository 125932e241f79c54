package firewall

import "testing"

func TestNormalize_NFKC(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		want       string
		wantChange bool
	}{
		{"ascii_unchanged", "Contact John Smith for details.", "Contact John Smith for details.", false},
		{"fullwidth_folded", "Ｉｇｎｏｒｅ", "Ignore", true},
		{"nfd_composed", "José Müller", "José Müller", true},
		{"circled_digit", "item ①", "item 1", true},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nt := Normalize(tt.input)
			if nt.Text != tt.want {
				t.Errorf("Text = %q, want %q", nt.Text, tt.want)
			}
			if nt.WasNormalized != tt.wantChange {
				t.Errorf("WasNormalized = %v, want %v", nt.WasNormalized, tt.wantChange)
			}
			if nt.Original != tt.input {
				t.Errorf("Original changed: %q", nt.Original)
			}
		})
	}
}

func TestNormalizedText_RuneByteConversion(t *testing.T) {
	nt := Normalize("José says héllo")

	if nt.RuneCount() != 15 {
		t.Fatalf("RuneCount = %d, want 15", nt.RuneCount())
	}

	// Round-trip every rune offset through bytes and back.
	for i := 0; i <= nt.RuneCount(); i++ {
		b := nt.ByteOffset(i)
		if got := nt.RuneOffset(b); got != i {
			t.Errorf("RuneOffset(ByteOffset(%d)) = %d", i, got)
		}
	}

	if got := nt.Slice(0, 4); got != "José" {
		t.Errorf("Slice(0,4) = %q, want José", got)
	}
	if got := nt.Slice(10, 15); got != "héllo" {
		t.Errorf("Slice(10,15) = %q, want héllo", got)
	}
}

func TestNormalizedText_OffsetMapping(t *testing.T) {
	// NFD input: "José" is 5 runes before normalization, 4 after.
	nt := Normalize("José Muller")

	// The start maps to the start.
	if got := nt.ToNormalized(0); got != 0 {
		t.Errorf("ToNormalized(0) = %d, want 0", got)
	}
	// "Muller" starts at original rune 6, normalized rune 5.
	if got := nt.ToNormalized(6); got != 5 {
		t.Errorf("ToNormalized(6) = %d, want 5", got)
	}
	if got := nt.ToOriginal(5); got != 6 {
		t.Errorf("ToOriginal(5) = %d, want 6", got)
	}
}

func TestNormalizedText_SliceClamps(t *testing.T) {
	nt := Normalize("abc")
	if got := nt.Slice(-1, 10); got != "abc" {
		t.Errorf("Slice(-1,10) = %q", got)
	}
	if got := nt.Slice(2, 1); got != "" {
		t.Errorf("Slice(2,1) = %q, want empty", got)
	}
}
