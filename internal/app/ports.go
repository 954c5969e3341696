package app

import (
	"errors"
	"sync"
)

// ErrNoFreePorts is returned when every port in the configured range is held
// by a live session.
var ErrNoFreePorts = errors.New("no free ports available")

// PortAllocator hands out unique ephemeral ports from a fixed range. Which
// free port gets picked is arbitrary; callers must not depend on it.
type PortAllocator struct {
	mu   sync.Mutex
	free map[int]struct{}
}

// NewPortAllocator covers the inclusive range [min, max].
func NewPortAllocator(min, max int) *PortAllocator {
	free := make(map[int]struct{}, max-min+1)
	for p := min; p <= max; p++ {
		free[p] = struct{}{}
	}
	return &PortAllocator{free: free}
}

func (a *PortAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for p := range a.free {
		delete(a.free, p)
		return p, nil
	}
	return 0, ErrNoFreePorts
}

// Release returns a port to the available set. Releasing an already-free
// port is a no-op.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free[port] = struct{}{}
}
