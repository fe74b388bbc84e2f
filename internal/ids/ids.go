package ids

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Generator hands out identifiers for windows, insights, patterns and messages.
type Generator interface {
	NewID(prefix string) string
}

// UUID generates random identifiers of the form "<prefix>_<uuid>".
type UUID struct{}

// NewID implements Generator.
func (UUID) NewID(prefix string) string {
	if prefix == "" {
		return uuid.New().String()
	}
	return prefix + "_" + uuid.New().String()
}

// Sequence generates deterministic identifiers of the form "<prefix>_<n>".
type Sequence struct {
	n  uint64
	mu sync.Mutex
}

// NewID implements Generator.
func (s *Sequence) NewID(prefix string) string {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()
	if prefix == "" {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s_%d", prefix, n)
}
