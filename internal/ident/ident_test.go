package ident

import (
	"encoding/hex"
	"testing"
)

func TestNewIDLength(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	if len(id) != DefaultIDLen {
		t.Fatalf("expected %d hex chars, got %d", DefaultIDLen, len(id))
	}
	if _, err := hex.DecodeString(id); err != nil {
		t.Fatalf("identifier is not hex: %v", err)
	}
}

func TestNewIDLenRejectsBadLengths(t *testing.T) {
	for _, n := range []int{0, -2, 7} {
		if _, err := NewIDLen(n); err == nil {
			t.Fatalf("expected error for length %d", n)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 64; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID failed: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate identifier generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewNonceRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := NewNonce()
		if n < NonceMin || n > NonceMax {
			t.Fatalf("nonce %d outside [%d, %d]", n, NonceMin, NonceMax)
		}
	}
	if n := NewNonceRange(5, 5); n != 5 {
		t.Fatalf("degenerate range should return the bound, got %d", n)
	}
}
