package navigation

import (
	"context"
	"sync"
	"time"
)

// longPressInterval is the repeat cadence of a held button (spec §4.G
// "~200 ms").
const longPressInterval = 200 * time.Millisecond

// PressController sequences short and long RT button presses over a
// Sender. One PressController drives one RT session; it is not safe
// for concurrent Start/Stop calls from multiple goroutines without
// external serialization (the controller package owns that).
type PressController struct {
	sender Sender

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPressController wraps sender.
func NewPressController(sender Sender) *PressController {
	return &PressController{sender: sender}
}

// ShortPress sends (code, flag=true) followed by (NoButton, flag=true)
// (spec §4.G).
func (p *PressController) ShortPress(ctx context.Context, code ButtonCode) error {
	if err := p.sender.SendButtonStatus(ctx, code, true); err != nil {
		return err
	}
	return p.sender.SendButtonStatus(ctx, NoButton, true)
}

// StartLongPress sends the initial (code, flag=true) and begins
// repeating (code, flag=false) every longPressInterval until
// StopLongPress is called. Idempotent: a second call while already
// held is a no-op (spec §4.G "double-start ... is idempotent").
func (p *PressController) StartLongPress(ctx context.Context, code ButtonCode) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	if err := p.sender.SendButtonStatus(ctx, code, true); err != nil {
		p.mu.Lock()
		p.cancel = nil
		p.done = nil
		p.mu.Unlock()
		cancel()
		close(done)
		return err
	}

	go func() {
		defer close(done)
		ticker := time.NewTicker(longPressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				_ = p.sender.SendButtonStatus(runCtx, code, false)
			}
		}
	}()
	return nil
}

// StopLongPress cancels the repeat loop started by StartLongPress and
// sends the terminal (NoButton, flag=true). Idempotent: calling it
// while nothing is held is a no-op.
func (p *PressController) StopLongPress(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return p.sender.SendButtonStatus(ctx, NoButton, true)
}
