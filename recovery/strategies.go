package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StrictStrategy implements a fail-fast recovery strategy.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx context.Context, err error, location Location) Action {
	return ActionFail
}

// Skipped records a row that LenientStrategy let through.
type Skipped struct {
	Location Location
	Err      error
}

// LenientStrategy skips failing rows and remembers them for the run report.
type LenientStrategy struct {
	mu      sync.Mutex
	skipped []Skipped
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx context.Context, err error, location Location) Action {
	if ctx.Err() != nil {
		return ActionFail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped = append(s.skipped, Skipped{Location: location, Err: err})
	return ActionSkip
}

// Skipped returns the recorded rows ordered by row index, independent of the
// order concurrent workers reported them in.
func (s *LenientStrategy) Skipped() []Skipped {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Skipped(nil), s.skipped...)
	sort.Slice(out, func(i, j int) bool { return out[i].Location.Row < out[j].Location.Row })
	return out
}

// Errors returns the recorded failures as wrapped errors.
func (s *LenientStrategy) Errors() []error {
	skipped := s.Skipped()
	out := make([]error, 0, len(skipped))
	for _, sk := range skipped {
		out = append(out, fmt.Errorf("[%s]: %w", sk.Location, sk.Err))
	}
	return out
}
