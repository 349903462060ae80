package recovery_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/wudi/slipkit/recovery"
)

var errBadRow = errors.New("bad row")

func TestRecoveryStrategies(t *testing.T) {
	ctx := context.Background()

	t.Run("StrictStrategy", func(t *testing.T) {
		if a := recovery.NewStrictStrategy().OnError(ctx, errBadRow, recovery.Location{Row: 1}); a != recovery.ActionFail {
			t.Fatalf("expected fail, got %v", a)
		}
	})

	t.Run("LenientStrategy", func(t *testing.T) {
		rec := recovery.NewLenientStrategy()
		var wg sync.WaitGroup
		for _, row := range []int{4, 1, 3} {
			wg.Add(1)
			go func(row int) {
				defer wg.Done()
				if a := rec.OnError(ctx, errBadRow, recovery.Location{Row: row, Seq: row + 1, Component: "order"}); a != recovery.ActionSkip {
					t.Errorf("expected skip, got %v", a)
				}
			}(row)
		}
		wg.Wait()
		skipped := rec.Skipped()
		if len(skipped) != 3 || skipped[0].Location.Row != 1 || skipped[2].Location.Row != 4 {
			t.Fatalf("unexpected skipped rows %+v", skipped)
		}
		errs := rec.Errors()
		if len(errs) != 3 || !errors.Is(errs[0], errBadRow) {
			t.Fatalf("errors should wrap the row failure: %v", errs)
		}
	})

	t.Run("LenientCanceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if a := recovery.NewLenientStrategy().OnError(cctx, errBadRow, recovery.Location{}); a != recovery.ActionFail {
			t.Fatalf("canceled run must not skip, got %v", a)
		}
	})
}

func TestFromPolicy(t *testing.T) {
	for _, name := range []string{"", "strict", "STRICT"} {
		s, err := recovery.FromPolicy(name)
		if err != nil {
			t.Fatalf("FromPolicy(%q): %v", name, err)
		}
		if _, ok := s.(*recovery.StrictStrategy); !ok {
			t.Fatalf("FromPolicy(%q) = %T", name, s)
		}
	}
	s, err := recovery.FromPolicy("skip")
	if err != nil {
		t.Fatalf("FromPolicy(skip): %v", err)
	}
	if _, ok := s.(*recovery.LenientStrategy); !ok {
		t.Fatalf("FromPolicy(skip) = %T", s)
	}
	if _, err := recovery.FromPolicy("retry"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
