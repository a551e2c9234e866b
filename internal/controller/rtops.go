package controller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agsys/combo-control/internal/display"
	"github.com/agsys/combo-control/internal/navigation"
	"github.com/agsys/combo-control/internal/screenstream"
	"github.com/agsys/combo-control/internal/store"
)

// RTNodes maps the menu screens RT operations need to drive to their
// node ids in the caller-supplied navigation.Tree. The tree shape and
// its node ids are not published in the protocol description this
// module is built from; a host application constructs the tree from
// its own menu map and passes the node ids here.
type RTNodes struct {
	Home         navigation.NodeID
	TbrPercent   navigation.NodeID
	TbrDuration  navigation.NodeID
	BasalProfile navigation.NodeID
	BolusAmount  navigation.NodeID
}

// RTConfig bundles the navigation tree and node map a Controller needs
// for RT-mode operations. Set once via Controller.ConfigureRT before
// calling SetTbr/SelectBasalProfile/SetBasalProfile/AdjustRTBolusAmount.
type RTConfig struct {
	Tree  *navigation.Tree
	Nodes RTNodes
}

// ConfigureRT installs the menu map used by RT-mode operations.
func (c *Controller) ConfigureRT(rt RTConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt = rt
}

// navigateTo walks the shortest path between the pump's assumed current
// screen and target, issuing one short MENU press per edge. The Combo's
// actual per-edge button mapping (some edges use MENU, others UP/DOWN to
// reach a sibling) is not published here either; this module always
// presses MENU, which matches the teacher's single-button drill-down
// convention and is documented in DESIGN.md as an implementation choice.
func (c *Controller) navigateTo(ctx context.Context, ps *pumpSession, from, to navigation.NodeID) error {
	path, err := c.rt.Tree.Path(from, to)
	if err != nil {
		return err
	}
	for range path[1:] {
		if err := ps.pc.ShortPress(ctx, navigation.Menu); err != nil {
			return err
		}
	}
	return nil
}

// liveValue tracks the most recently parsed int field extracted from a
// running screen stream, for use as AdjustQuantity's getCurrent.
type liveValue struct {
	v int64
}

func (lv *liveValue) get() int { return int(atomic.LoadInt64(&lv.v)) }

func watchLiveValue(ctx context.Context, results <-chan screenstream.Result, extract func(display.ParsedScreen) (int, bool)) *liveValue {
	lv := &liveValue{}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-results:
				if !ok {
					return
				}
				if r.Err != nil {
					continue
				}
				if val, ok := extract(r.Screen); ok {
					atomic.StoreInt64(&lv.v, int64(val))
				}
			}
		}
	}()
	return lv
}

func tbrPercentExtract(s display.ParsedScreen) (int, bool) {
	if s.Kind == display.ScreenTbrPercentage {
		return s.TbrPercentage, true
	}
	return 0, false
}

func tbrDurationExtract(s display.ParsedScreen) (int, bool) {
	if s.Kind == display.ScreenTbrDuration {
		return s.DurationHour*60 + s.DurationMinute, true
	}
	return 0, false
}

func quickinfoExtract(s display.ParsedScreen) (int, bool) {
	if s.Kind == display.ScreenQuickinfoMain {
		return s.QuickinfoUnits, true
	}
	return 0, false
}

func basalFactorExtract(s display.ParsedScreen) (int, bool) {
	if s.Kind == display.ScreenBasalRateFactorSetting {
		return s.FactorBegin, true
	}
	return 0, false
}

// screenVerifyTimeout bounds how long SetTbr/SetBasalProfile wait for the
// post-confirm screen that verifies a programming operation took effect.
const screenVerifyTimeout = 5 * time.Second

// awaitScreen blocks until a result on results satisfies want, ctx is
// cancelled, or screenVerifyTimeout elapses.
func awaitScreen(ctx context.Context, results <-chan screenstream.Result, want func(display.ParsedScreen) bool) (display.ParsedScreen, error) {
	timer := time.NewTimer(screenVerifyTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return display.ParsedScreen{}, ctx.Err()
		case <-timer.C:
			return display.ParsedScreen{}, fmt.Errorf("controller: timed out waiting for confirmation screen")
		case r, ok := <-results:
			if !ok {
				return display.ParsedScreen{}, fmt.Errorf("controller: screen stream closed waiting for confirmation screen")
			}
			if r.Err != nil {
				continue
			}
			if want(r.Screen) {
				return r.Screen, nil
			}
		}
	}
}

// TbrStepError reports a percentage or duration that does not land on
// the pump's documented adjustment step (spec §4.H: percentage steps of
// 10 in 0..500, duration steps of 15 in 15..1440).
type TbrStepError struct {
	Field string
	Value int
}

func (e *TbrStepError) Error() string {
	return fmt.Sprintf("controller: invalid TBR %s %d", e.Field, e.Value)
}

func validTbrPercent(percent int) bool {
	return percent >= 0 && percent <= 500 && percent%10 == 0
}

func validTbrDuration(percent, durationMins int) bool {
	if percent == 100 && durationMins == 0 {
		// 100% with duration 0 cancels any running TBR; spec §4.H.
		return true
	}
	return durationMins >= 15 && durationMins <= 1440 && durationMins%15 == 0
}

// SetTbr navigates to the TBR entry screens, adjusts percentage and
// duration to the requested values, confirms with CHECK, verifies the
// resulting main screen reflects the new rate, and persists the
// confirmed snapshot to the store (spec §4.H). typ is an opaque,
// caller-defined TBR kind recorded alongside the snapshot; this module's
// wire layer has no use for it since TBRs are driven entirely through
// RT navigation, not a CMD-mode payload.
func (c *Controller) SetTbr(ctx context.Context, addr string, percent, durationMins, typ int) error {
	if !validTbrPercent(percent) {
		return &TbrStepError{Field: "percentage", Value: percent}
	}
	if !validTbrDuration(percent, durationMins) {
		return &TbrStepError{Field: "duration", Value: durationMins}
	}
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.mode != ModeRemoteTerminal {
		return fmt.Errorf("controller: %s not in RT mode", addr)
	}
	results, err := c.openScreenStream(ctx, addr, ps)
	if err != nil {
		return err
	}

	if err := c.navigateTo(ctx, ps, c.rt.Nodes.Home, c.rt.Nodes.TbrPercent); err != nil {
		return err
	}
	pctLive := watchLiveValue(ctx, results, tbrPercentExtract)
	if err := navigation.AdjustQuantity(ctx, ps.pc, navigation.Up, navigation.Down, pctLive.get, percent); err != nil {
		return err
	}

	if err := c.navigateTo(ctx, ps, c.rt.Nodes.TbrPercent, c.rt.Nodes.TbrDuration); err != nil {
		return err
	}
	durLive := watchLiveValue(ctx, results, tbrDurationExtract)
	if err := navigation.AdjustQuantity(ctx, ps.pc, navigation.Up, navigation.Down, durLive.get, durationMins); err != nil {
		return err
	}

	if err := ps.pc.ShortPress(ctx, navigation.Check); err != nil {
		return err
	}

	cancels := percent == 100 && durationMins == 0
	if _, err := awaitScreen(ctx, results, func(s display.ParsedScreen) bool {
		if s.Kind != display.ScreenMainTbr && s.Kind != display.ScreenMainNormal {
			return false
		}
		if cancels {
			return s.Kind == display.ScreenMainNormal || !s.TbrHasPercent
		}
		return s.Kind == display.ScreenMainTbr && s.TbrHasPercent && s.TbrPercentage == percent
	}); err != nil {
		return err
	}

	return c.cfg.Store.SetTBR(addr, &store.TBRSnapshot{
		Timestamp:    time.Now(),
		Percentage:   percent,
		DurationMins: durationMins,
		Type:         typ,
	})
}

// SelectBasalProfile picks one of the pump's five stored basal profiles
// by index (1-based, matching display.MenuBasalProfile1..5) via RT
// navigation and CHECK confirmation. This is a distinct operation from
// SetBasalProfile: it chooses which of the five preprogrammed profiles
// is active, it does not author one.
func (c *Controller) SelectBasalProfile(ctx context.Context, addr string, profileIndex int) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.mode != ModeRemoteTerminal {
		return fmt.Errorf("controller: %s not in RT mode", addr)
	}
	if profileIndex < 1 || profileIndex > 5 {
		return fmt.Errorf("controller: basal profile index %d out of range 1..5", profileIndex)
	}
	if err := c.navigateTo(ctx, ps, c.rt.Nodes.Home, c.rt.Nodes.BasalProfile); err != nil {
		return err
	}
	for i := 1; i < profileIndex; i++ {
		if err := ps.pc.ShortPress(ctx, navigation.Down); err != nil {
			return err
		}
	}
	return ps.pc.ShortPress(ctx, navigation.Check)
}

// BasalFactorCount is the number of hourly factors a basal profile
// programs (spec §4.H: 24 integer-encoded factors, one per hour).
const BasalFactorCount = 24

// SetBasalProfile navigates to the profile-programming menu, then for
// each of the 24 hourly factors adjusts the displayed rate to the
// requested value and presses CHECK to confirm that hour and advance to
// the next one. After the last hour it verifies the resulting
// basal-rate-total screen appears before returning.
func (c *Controller) SetBasalProfile(ctx context.Context, addr string, factors [BasalFactorCount]int) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.mode != ModeRemoteTerminal {
		return fmt.Errorf("controller: %s not in RT mode", addr)
	}
	results, err := c.openScreenStream(ctx, addr, ps)
	if err != nil {
		return err
	}
	if err := c.navigateTo(ctx, ps, c.rt.Nodes.Home, c.rt.Nodes.BasalProfile); err != nil {
		return err
	}

	factorLive := watchLiveValue(ctx, results, basalFactorExtract)
	for _, factor := range factors {
		if err := navigation.AdjustQuantity(ctx, ps.pc, navigation.Up, navigation.Down, factorLive.get, factor); err != nil {
			return c.abandonBasalProfile(ps, err)
		}
		if err := ps.pc.ShortPress(ctx, navigation.Check); err != nil {
			return c.abandonBasalProfile(ps, err)
		}
	}

	_, err = awaitScreen(ctx, results, func(s display.ParsedScreen) bool {
		return s.Kind == display.ScreenBasalRateTotal
	})
	return err
}

// abandonBasalProfile navigates back to the main menu after factorErr
// interrupted basal-profile programming (spec §5: cancellation during
// basal-profile programming must navigate back to the main menu, unlike
// bolus delivery's CMD_CANCEL_BOLUS). The return to Home uses a fresh
// background context since ctx is typically already cancelled or
// expired when this runs.
func (c *Controller) abandonBasalProfile(ps *pumpSession, factorErr error) error {
	if navErr := c.navigateTo(context.Background(), ps, c.rt.Nodes.BasalProfile, c.rt.Nodes.Home); navErr != nil {
		return fmt.Errorf("controller: basal profile programming aborted (%w), and returning to main menu failed: %v", factorErr, navErr)
	}
	return factorErr
}

// AdjustRTBolusAmount drives an RT-mode bolus entry screen to
// unitsX1000/1000 IU and confirms delivery with a CHECK press. It returns
// once CHECK has been sent; no screen is awaited or verified after the
// press. This is RT-mode manual
// entry through the pump's own bolus screen, not the CMD-mode headline
// deliverBolus operation (see DeliverBolus in cmdops.go), which issues
// CMD_DELIVER_BOLUS directly and polls CMD_GET_BOLUS_STATUS.
func (c *Controller) AdjustRTBolusAmount(ctx context.Context, addr string, unitsX1000 int) error {
	ps, err := c.session(addr)
	if err != nil {
		return err
	}
	if ps.mode != ModeRemoteTerminal {
		return fmt.Errorf("controller: %s not in RT mode", addr)
	}
	results, err := c.openScreenStream(ctx, addr, ps)
	if err != nil {
		return err
	}
	if err := c.navigateTo(ctx, ps, c.rt.Nodes.Home, c.rt.Nodes.BolusAmount); err != nil {
		return err
	}
	live := watchLiveValue(ctx, results, quickinfoExtract)
	if err := navigation.AdjustQuantity(ctx, ps.pc, navigation.Up, navigation.Down, live.get, unitsX1000); err != nil {
		return err
	}
	return ps.pc.ShortPress(ctx, navigation.Check)
}
