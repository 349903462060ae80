package recovery

import (
	"context"
	"fmt"
	"strings"
)

// Strategy decides what happens when one input row cannot be turned into a
// page. Implementations must be safe for concurrent use.
type Strategy interface {
	OnError(ctx context.Context, err error, location Location) Action
}

// Location identifies the failing row.
type Location struct {
	Row       int // zero-based input row index
	Seq       int // sequence number the row would have produced
	Component string
}

func (l Location) String() string {
	return fmt.Sprintf("%s row %d (seq %d)", l.Component, l.Row, l.Seq)
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionFail:
		return "fail"
	case ActionSkip:
		return "skip"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// FromPolicy maps a configured row policy name to a strategy.
func FromPolicy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "strict":
		return NewStrictStrategy(), nil
	case "skip", "lenient":
		return NewLenientStrategy(), nil
	}
	return nil, fmt.Errorf("unknown row policy %q", name)
}
