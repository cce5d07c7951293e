package terminal

import (
	"testing"
	"unicode/utf8"
)

func TestOutputBufferDropsOldestBytes(t *testing.T) {
	b := newOutputBuffer(4)
	b.Write([]byte("12"))
	if out, truncated := b.Snapshot(); out != "12" || truncated {
		t.Fatalf("expected untruncated 12, got %q / %v", out, truncated)
	}
	b.Write([]byte("345678"))
	out, truncated := b.Snapshot()
	if out != "5678" || !truncated {
		t.Fatalf("expected truncated 5678, got %q / %v", out, truncated)
	}
	b.Write(nil)
	if _, truncated := b.Snapshot(); !truncated {
		t.Fatalf("expected truncation to be sticky")
	}
}

func TestOutputBufferKeepsCharacterBoundary(t *testing.T) {
	b := newOutputBuffer(5)
	b.Write([]byte("aé€z"))
	out, truncated := b.Snapshot()
	if !truncated || !utf8.ValidString(out) || len(out) > 5 {
		t.Fatalf("expected valid UTF-8 within limit, got %q (%d bytes)", out, len(out))
	}
	if out != "€z" {
		t.Fatalf("expected €z, got %q", out)
	}
}

func TestOutputBufferZeroLimit(t *testing.T) {
	b := newOutputBuffer(0)
	b.Write([]byte("x"))
	if out, truncated := b.Snapshot(); out != "" || !truncated {
		t.Fatalf("expected empty truncated output, got %q / %v", out, truncated)
	}
}
