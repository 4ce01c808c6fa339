package workset

import (
	"errors"
	"testing"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"cellA/2.bam", "cellA/2_MT.bam"},
		{"chips/A90554A-R03-C03/x.sorted.bam", "chips/A90554A-R03-C03/x.sorted_MT.bam"},
		{"top.bam", "top_MT.bam"},
	}

	for _, tt := range tests {
		got, err := Derive(tt.in)
		if err != nil {
			t.Errorf("Derive(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Derive(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDeriveRejectsInvalidKeys(t *testing.T) {
	for _, key := range []string{"", ".bam", "cellA/.bam", "cellA/1.BAM", "cellA/1.cram", "bam", "cellA/1.bam.bai"} {
		if _, err := Derive(key); !errors.Is(err, ErrUnderivableKey) {
			t.Errorf("Derive(%q) error = %v, want ErrUnderivableKey", key, err)
		}
	}
}

func TestStemRoundTrip(t *testing.T) {
	for _, key := range []string{"cellA/1.bam", "a/b/c/d.bam", "x_MT.bam", "weird name.bam"} {
		out, err := Derive(key)
		if err != nil {
			t.Fatalf("Derive(%q) failed: %v", key, err)
		}
		back, err := Stem(out)
		if err != nil {
			t.Fatalf("Stem(%q) failed: %v", out, err)
		}
		if back != key {
			t.Errorf("Stem(Derive(%q)) = %q", key, back)
		}
	}

	if _, err := Stem("cellA/1.bam"); !errors.Is(err, ErrUnderivableKey) {
		t.Errorf("Stem on a non-derived key: err = %v", err)
	}
	if _, err := Stem("_MT.bam"); !errors.Is(err, ErrUnderivableKey) {
		t.Errorf("Stem on a bare marker: err = %v", err)
	}
}
