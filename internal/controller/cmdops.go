package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/agsys/combo-control/internal/application"
)

// awaitResponse blocks on the session's delivered-packet channel until a
// packet bearing want arrives, a different packet is silently skipped,
// or ctx is cancelled.
func awaitResponse(ctx context.Context, session *application.Session, want application.Command) (application.Packet, error) {
	for {
		select {
		case <-ctx.Done():
			return application.Packet{}, ctx.Err()
		case p, ok := <-session.Delivered():
			if !ok {
				return application.Packet{}, fmt.Errorf("controller: session closed waiting for %v", want)
			}
			if p.Header.Command == want {
				return p, nil
			}
		}
	}
}

func (c *Controller) cmdRoundTrip(ctx context.Context, addr string, cmd application.Command, payload []byte, want application.Command) (application.Packet, error) {
	ps, err := c.session(addr)
	if err != nil {
		return application.Packet{}, err
	}
	if ps.session == nil || ps.mode != ModeCommand {
		return application.Packet{}, fmt.Errorf("controller: %s not in CMD mode", addr)
	}
	if err := ps.session.Send(ctx, dataCommand, cmd, payload); err != nil {
		return application.Packet{}, err
	}
	return awaitResponse(ctx, ps.session, want)
}

// ReadCmdDateTime reads the pump's current clock (spec §4.H).
func (c *Controller) ReadCmdDateTime(ctx context.Context, addr string) (DateTime, error) {
	p, err := c.cmdRoundTrip(ctx, addr, application.CmdReadDateTime, nil, application.CmdReadDateTimeResponse)
	if err != nil {
		return DateTime{}, err
	}
	return decodeDateTime(p.Payload)
}

// ReadCmdPumpStatus reads battery, reservoir and active-TBR state.
func (c *Controller) ReadCmdPumpStatus(ctx context.Context, addr string) (PumpStatus, error) {
	p, err := c.cmdRoundTrip(ctx, addr, application.CmdReadPumpStatus, nil, application.CmdReadPumpStatusResponse)
	if err != nil {
		return PumpStatus{}, err
	}
	return decodePumpStatus(p.Payload)
}

// GetCmdBolusStatus polls the currently-running bolus, if any.
func (c *Controller) GetCmdBolusStatus(ctx context.Context, addr string) (BolusStatus, error) {
	p, err := c.cmdRoundTrip(ctx, addr, application.CmdGetBolusStatus, nil, application.CmdGetBolusStatusResponse)
	if err != nil {
		return BolusStatus{}, err
	}
	return decodeBolusStatus(p.Payload)
}

// DeliverCmdStandardBolus requests a standard (non-extended) bolus of
// unitsX1000/1000 IU and waits for the pump's acceptance response.
func (c *Controller) DeliverCmdStandardBolus(ctx context.Context, addr string, unitsX1000 uint32) error {
	_, err := c.cmdRoundTrip(ctx, addr, application.CmdDeliverBolus, encodeDeliverBolus(unitsX1000), application.CmdDeliverBolusResponse)
	return err
}

// CancelCmdBolus cancels the currently delivering bolus, if any.
func (c *Controller) CancelCmdBolus(ctx context.Context, addr string) error {
	_, err := c.cmdRoundTrip(ctx, addr, application.CmdCancelBolus, nil, application.CmdCancelBolusResponse)
	return err
}

// MaxBolusUnitsX1000 is the pump's documented maximum single bolus.
const MaxBolusUnitsX1000 = 25000

// maxBolusStatusRetries bounds how many consecutive transient decode
// failures DeliverBolus tolerates from CMD_GET_BOLUS_STATUS before
// giving up; a healthy pump never produces more than a couple in a row.
const maxBolusStatusRetries = 3

// bolusPollInterval is the >=1 Hz cadence spec §4.H requires while
// polling CMD_GET_BOLUS_STATUS.
const bolusPollInterval = 500 * time.Millisecond

// BolusReason labels why a bolus was requested (meal, correction,
// manual top-up); it is not part of the wire payload and appears only in
// the error DeliverBolus returns when CMD_DELIVER_BOLUS fails.
type BolusReason string

const (
	BolusReasonMeal       BolusReason = "meal"
	BolusReasonCorrection BolusReason = "correction"
	BolusReasonManual     BolusReason = "manual"
)

// TooLargeBolusError is returned when a requested bolus exceeds
// MaxBolusUnitsX1000.
type TooLargeBolusError struct{ Requested uint32 }

func (e *TooLargeBolusError) Error() string {
	return fmt.Sprintf("controller: bolus %d exceeds maximum %d", e.Requested, MaxBolusUnitsX1000)
}

// DeliverBolus is the CMD-mode headline bolus operation (spec §4.H):
// validates against the pump's maximum, issues CMD_DELIVER_BOLUS,
// then polls CMD_GET_BOLUS_STATUS at bolusPollInterval reporting
// progress until the pump reports the bolus no longer active.
// Transient decode failures while polling are retried up to
// maxBolusStatusRetries before the error is returned. If ctx is
// cancelled while a bolus is in flight, DeliverBolus issues
// CMD_CANCEL_BOLUS before returning ctx.Err().
func (c *Controller) DeliverBolus(ctx context.Context, addr string, unitsX1000 uint32, reason BolusReason, reporter *ProgressReporter) error {
	if unitsX1000 > MaxBolusUnitsX1000 {
		return &TooLargeBolusError{Requested: unitsX1000}
	}
	stages := []Stage{
		{Name: "requesting", Class: StageNormal},
		{Name: "delivering", Class: StageNormal},
		{Name: "done", Class: StageFinished},
	}
	if reporter == nil {
		reporter = NewProgressReporter(stages)
	}
	reporter.SetStage(0, 0)
	if err := c.DeliverCmdStandardBolus(ctx, addr, unitsX1000); err != nil {
		return fmt.Errorf("controller: deliver bolus (%s): %w", reason, err)
	}
	reporter.SetStage(1, 0)

	ticker := time.NewTicker(bolusPollInterval)
	defer ticker.Stop()
	retries := 0
	for {
		select {
		case <-ctx.Done():
			_ = c.CancelCmdBolus(context.Background(), addr)
			return ctx.Err()
		case <-ticker.C:
			status, err := c.GetCmdBolusStatus(ctx, addr)
			if err != nil {
				if ctx.Err() != nil {
					_ = c.CancelCmdBolus(context.Background(), addr)
					return ctx.Err()
				}
				if _, transient := err.(*CodecError); transient && retries < maxBolusStatusRetries {
					retries++
					continue
				}
				return err
			}
			retries = 0
			if status.RequestedUnitsX1000 == 0 {
				reporter.SetStage(2, 1)
				return nil
			}
			fraction := float64(status.DeliveredUnitsX1000) / float64(status.RequestedUnitsX1000)
			reporter.SetStage(1, fraction)
			if !status.Active {
				reporter.SetStage(2, 1)
				return nil
			}
		}
	}
}

// GetCmdHistoryDelta fetches one history block and confirms receipt so
// the pump advances its delta cursor (spec §4.H).
func (c *Controller) GetCmdHistoryDelta(ctx context.Context, addr string) (HistoryBlock, error) {
	p, err := c.cmdRoundTrip(ctx, addr, application.CmdReadHistoryBlock, nil, application.CmdReadHistoryBlockResponse)
	if err != nil {
		return HistoryBlock{}, err
	}
	block, err := decodeHistoryBlock(p.Payload)
	if err != nil {
		return HistoryBlock{}, err
	}
	ps, err := c.session(addr)
	if err != nil {
		return HistoryBlock{}, err
	}
	if err := ps.session.Send(ctx, dataCommand, application.CmdConfirmHistoryBlock, encodeConfirmHistoryBlock(block.BlockSeq)); err != nil {
		return HistoryBlock{}, err
	}
	return block, nil
}

// MinHistoryMaxRequests is the floor spec §4.H sets for
// FetchTddHistory's maxRequests: a pump reporting history across more
// pages than this must still be paged through, not capped short.
const MinHistoryMaxRequests = 10

// MaxRequestsExceededError is returned when a paged history fetch
// reaches maxRequests before the pump ever flags a last block.
type MaxRequestsExceededError struct{ MaxRequests int }

func (e *MaxRequestsExceededError) Error() string {
	return fmt.Sprintf("controller: history fetch did not reach a last block within %d requests", e.MaxRequests)
}

// FetchTddHistory pages through CMD_READ_HISTORY_BLOCK via
// getCmdHistoryDelta until the pump flags a block as last, reporting
// progress via reporter. maxRequests bounds the number of pages fetched
// and must be at least MinHistoryMaxRequests.
func (c *Controller) FetchTddHistory(ctx context.Context, addr string, maxRequests int, reporter *ProgressReporter) ([]HistoryEvent, error) {
	if maxRequests < MinHistoryMaxRequests {
		return nil, fmt.Errorf("controller: maxRequests must be >= %d, got %d", MinHistoryMaxRequests, maxRequests)
	}
	stages := []Stage{{Name: "fetching", Class: StageNormal}, {Name: "done", Class: StageFinished}}
	if reporter == nil {
		reporter = NewProgressReporter(stages)
	}
	var all []HistoryEvent
	for round := 0; round < maxRequests; round++ {
		reporter.SetStage(0, 1-1/float64(round+2))
		block, err := c.GetCmdHistoryDelta(ctx, addr)
		if err != nil {
			return nil, err
		}
		all = append(all, block.Events...)
		if block.Last {
			reporter.SetStage(1, 1)
			return all, nil
		}
	}
	return nil, &MaxRequestsExceededError{MaxRequests: maxRequests}
}

// UpdateStatus refreshes a cached PumpStatus snapshot on a fixed poll
// cadence until ctx is cancelled, invoking onUpdate with each reading.
func (c *Controller) UpdateStatus(ctx context.Context, addr string, interval time.Duration, onUpdate func(PumpStatus)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			status, err := c.ReadCmdPumpStatus(ctx, addr)
			if err != nil {
				return err
			}
			onUpdate(status)
		}
	}
}
