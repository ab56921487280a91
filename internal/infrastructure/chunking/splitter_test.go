package chunking

import (
	"strings"
	"testing"
)

func TestSplitHardCutsWithoutLineBreaks(t *testing.T) {
	s := NewSplitter(20, 0)
	chunks := s.Split(strings.Repeat("a", 30))
	if len(chunks) != 2 || len(chunks[0]) != 20 || len(chunks[1]) != 10 {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestSplitPrefersLineBreaks(t *testing.T) {
	s := NewSplitter(30, 0)
	text := "Arroz 5kg 22,90\nFeijao 1kg 7,49\nCafe 500g 15,90"
	chunks := s.Split(text)
	want := []string{"Arroz 5kg 22,90", "Feijao 1kg 7,49", "Cafe 500g 15,90"}
	if len(chunks) != len(want) {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d = %q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestSplitOverlapRepeatsTail(t *testing.T) {
	s := NewSplitter(10, 4)
	chunks := s.Split("abcdefghijklmn")
	if len(chunks) != 2 || chunks[0] != "abcdefghij" || chunks[1] != "ghijklmn" {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestSplitEmptyAndDefaults(t *testing.T) {
	s := NewSplitter(0, -1)
	if s.ChunkSize != DefaultChunkSize || s.Overlap != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if chunks := s.Split("   \n "); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %q", chunks)
	}
	if got := NewSplitter(8, 8); got.Overlap != 2 {
		t.Fatalf("expected overlap clamp, got %d", got.Overlap)
	}
}
