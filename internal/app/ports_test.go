package app

import (
	"errors"
	"testing"
)

func TestPortAllocatorExhaustion(t *testing.T) {
	a := NewPortAllocator(40000, 40002)

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		p, err := a.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if p < 40000 || p > 40002 {
			t.Fatalf("port %d outside configured range", p)
		}
		if seen[p] {
			t.Fatalf("port %d handed out twice", p)
		}
		seen[p] = true
	}

	if _, err := a.Allocate(); !errors.Is(err, ErrNoFreePorts) {
		t.Fatalf("expected ErrNoFreePorts, got %v", err)
	}

	a.Release(40001)
	p, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if p != 40001 {
		t.Fatalf("expected released port 40001 back, got %d", p)
	}
}

func TestPortAllocatorReleaseIdempotent(t *testing.T) {
	a := NewPortAllocator(40000, 40000)
	p, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	a.Release(p)
	a.Release(p) // no-op, not an error

	if _, err := a.Allocate(); err != nil {
		t.Fatalf("allocate after double release: %v", err)
	}
	if _, err := a.Allocate(); !errors.Is(err, ErrNoFreePorts) {
		t.Fatalf("double release must not duplicate a port, got %v", err)
	}
}
