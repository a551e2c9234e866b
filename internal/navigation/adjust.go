package navigation

import (
	"context"
	"time"
)

// longPressThreshold is the step distance beyond which a long press is
// used instead of individual short presses (spec §4.G "long press
// while far (>20 steps)").
const longPressThreshold = 20

// pollInterval is how often AdjustQuantity re-checks the current value
// while a long press is held, so it can release early once the
// remaining distance drops back under longPressThreshold.
const pollInterval = 50 * time.Millisecond

// AdjustQuantity drives pc toward target using up/down presses, reading
// the on-screen value through getCurrent after each adjustment (spec
// §4.G): short presses when near the target, a long press while far,
// releasing early and correcting with short presses once close.
func AdjustQuantity(ctx context.Context, pc *PressController, up, down ButtonCode, getCurrent func() int, target int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		diff := target - getCurrent()
		if diff == 0 {
			return nil
		}
		code := up
		if diff < 0 {
			code = down
		}
		if abs(diff) <= longPressThreshold {
			return shortPressTo(ctx, pc, code, getCurrent, target)
		}
		if err := longPressUntilClose(ctx, pc, code, getCurrent, target); err != nil {
			return err
		}
	}
}

func shortPressTo(ctx context.Context, pc *PressController, code ButtonCode, getCurrent func() int, target int) error {
	for getCurrent() != target {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pc.ShortPress(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

func longPressUntilClose(ctx context.Context, pc *PressController, code ButtonCode, getCurrent func() int, target int) error {
	if err := pc.StartLongPress(ctx, code); err != nil {
		return err
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = pc.StopLongPress(context.Background())
			return ctx.Err()
		case <-ticker.C:
			if abs(target-getCurrent()) <= longPressThreshold {
				return pc.StopLongPress(ctx)
			}
		}
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
