package lottery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lottolabs/sollotto/internal/metrics"
)

const defaultCutRate = 0.10

type EngineConfig struct {
	Logger    *slog.Logger
	Store     *Store
	Gateway   PaymentGateway
	Addresses AddressBook
	Sink      Sink // optional; if nil, results are not broadcast

	// OperatorPayoutAddress receives the operator cut. If empty, the cut is
	// not deducted and winners split the full pot.
	OperatorPayoutAddress string
	CutRate               float64 // defaults to 0.10
	Places                int     // defaults to 3
	Rand                  io.Reader
}

func (cfg *EngineConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Gateway == nil {
		return errors.New("payment gateway is required")
	}
	if cfg.Addresses == nil {
		return errors.New("address book is required")
	}
	if cfg.CutRate < 0 || cfg.CutRate >= 1 {
		return errors.New("cut rate must be in [0, 1)")
	}
	if cfg.CutRate == 0 {
		cfg.CutRate = defaultCutRate
	}
	if cfg.Places == 0 {
		cfg.Places = 3
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	return nil
}

// Engine performs one draw for a (cadence, window): winner selection, prize
// computation, payout requests and idempotent settlement. Crash recovery
// resumes from the persisted draw state, so winner selection runs at most
// once per window.
type Engine struct {
	log *slog.Logger
	cfg EngineConfig
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Fire runs the draw for one window. Firing an already settled window returns
// the original result unchanged. Once selection is committed the draw runs to
// completion; transfer failures are recorded per winner and never abort the
// settlement.
func (e *Engine) Fire(ctx context.Context, cadence Cadence, window time.Time) (*DrawResult, error) {
	start := time.Now()
	window = window.UTC()
	e.log.Info("draw: firing", "cadence", cadence, "window", window)

	rec, tickets, err := e.cfg.Store.ClaimDraw(ctx, cadence, window)
	if err != nil {
		metrics.RecordDraw(cadence.String(), "error", time.Since(start))
		return nil, fmt.Errorf("failed to claim draw: %w", err)
	}

	if rec.State == DrawSettled {
		e.log.Info("draw: window already settled", "cadence", cadence, "window", window)
		metrics.RecordDraw(cadence.String(), "resumed", time.Since(start))
		return rec.Result, nil
	}

	if rec.State == DrawClaimed && len(tickets) == 0 {
		return e.settleEmpty(ctx, rec, start)
	}

	var winners []Winner
	switch rec.State {
	case DrawClaimed:
		entries := expandEntries(tickets)
		owners, err := selectWinners(e.cfg.Rand, entries, e.cfg.Places)
		if err != nil {
			metrics.RecordDraw(cadence.String(), "error", time.Since(start))
			return nil, fmt.Errorf("failed to select winners: %w", err)
		}
		for i, owner := range owners {
			winners = append(winners, Winner{Place: i + 1, Owner: owner})
		}
		rec.OperatorCut = int64(float64(rec.TotalPot) * e.cfg.CutRate)
		if err := e.cfg.Store.SaveSelection(ctx, cadence, window, winners, rec.OperatorCut); err != nil {
			metrics.RecordDraw(cadence.String(), "error", time.Since(start))
			return nil, fmt.Errorf("failed to persist winner selection: %w", err)
		}
	case DrawSelected:
		// Crash recovery: selection is already committed, resume transfers.
		e.log.Warn("draw: resuming transfers for claimed window", "cadence", cadence, "window", window)
		winners = rec.Winners
	}

	result := e.payout(ctx, rec, winners)
	result.CompletedAt = time.Now().UTC()

	ticketIDs := make([]uuid.UUID, len(tickets))
	for i, t := range tickets {
		ticketIDs[i] = t.ID
	}
	prizeByOwner := make(map[string]int64, len(result.Winners))
	for _, w := range result.Winners {
		if w.Prize > 0 {
			prizeByOwner[w.Owner] = w.Prize
		}
	}

	if err := e.cfg.Store.SettleDraw(ctx, result, ticketIDs, prizeByOwner); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			// Lost a settle race: return the recorded result.
			stored, recErr := e.cfg.Store.DrawRecordFor(ctx, cadence, window)
			if recErr == nil && stored != nil && stored.Result != nil {
				return stored.Result, nil
			}
			return nil, err
		}
		metrics.RecordDraw(cadence.String(), "error", time.Since(start))
		return nil, fmt.Errorf("failed to settle draw: %w", err)
	}

	e.publish(ctx, result)
	metrics.RecordDraw(cadence.String(), "settled", time.Since(start))
	return &result, nil
}

// settleEmpty settles a window with no participants: no transfers, no
// winners, pot untouched.
func (e *Engine) settleEmpty(ctx context.Context, rec *DrawRecord, start time.Time) (*DrawResult, error) {
	result := DrawResult{
		Cadence:        rec.Cadence,
		Window:         rec.Window,
		Winners:        []Winner{},
		TotalPot:       rec.TotalPot,
		NoParticipants: true,
		CompletedAt:    time.Now().UTC(),
	}
	if err := e.cfg.Store.SettleDraw(ctx, result, nil, nil); err != nil && !errors.Is(err, ErrAlreadySettled) {
		metrics.RecordDraw(rec.Cadence.String(), "error", time.Since(start))
		return nil, fmt.Errorf("failed to settle empty draw: %w", err)
	}

	e.log.Info("draw: no participants", "cadence", rec.Cadence, "window", rec.Window)
	e.publish(ctx, result)
	metrics.RecordDraw(rec.Cadence.String(), "no_participants", time.Since(start))
	return &result, nil
}

// payout attempts the operator-cut transfer, tiers the remaining pot and
// requests each winner's transfer. Failures are recorded in the result and
// never block the rest of the batch.
func (e *Engine) payout(ctx context.Context, rec *DrawRecord, winners []Winner) DrawResult {
	totalPot := rec.TotalPot
	cut := rec.OperatorCut
	remaining := totalPot - cut
	appliedCut := cut

	if cut > 0 && e.cfg.OperatorPayoutAddress != "" {
		receipt, err := e.cfg.Gateway.Transfer(ctx, e.cfg.OperatorPayoutAddress, cut, false)
		metrics.RecordTransfer("operator_cut", err)
		if err != nil {
			// Documented policy: when the cut transfer fails, winners split
			// the full pot instead.
			e.log.Error("draw: operator cut transfer failed, paying winners from full pot",
				"cadence", rec.Cadence, "window", rec.Window, "cut", cut, "error", err)
			remaining = totalPot
			appliedCut = 0
		} else {
			e.log.Info("draw: operator cut transferred",
				"cadence", rec.Cadence, "window", rec.Window, "cut", cut, "signature", receipt.Signature)
		}
	} else {
		if cut > 0 {
			e.log.Warn("draw: operator payout address not configured, cut not deducted",
				"cadence", rec.Cadence, "window", rec.Window)
		}
		remaining = totalPot
		appliedCut = 0
	}

	prizes := tierPrizes(remaining, len(winners))
	paid := make([]Winner, len(winners))
	for i, w := range winners {
		w.Prize = prizes[i]
		paid[i] = e.payWinner(ctx, rec, w)
	}

	return DrawResult{
		Cadence:     rec.Cadence,
		Window:      rec.Window,
		Winners:     paid,
		OperatorCut: appliedCut,
		TotalPot:    totalPot,
	}
}

func (e *Engine) payWinner(ctx context.Context, rec *DrawRecord, w Winner) Winner {
	if w.Prize <= 0 {
		w.TransferStatus = TransferConfirmed
		return w
	}

	addr, err := e.cfg.Addresses.WalletAddress(ctx, w.Owner)
	if err != nil {
		e.log.Error("draw: winner wallet not found",
			"cadence", rec.Cadence, "window", rec.Window, "owner", w.Owner, "error", err)
		w.TransferStatus = TransferFailed
		return w
	}

	// The gateway may cap the amount to the available source balance; a
	// shortfall reduces but never increases a payout.
	receipt, err := e.cfg.Gateway.Transfer(ctx, addr, w.Prize, true)
	metrics.RecordTransfer("prize", err)
	if err != nil {
		e.log.Error("draw: prize transfer failed",
			"cadence", rec.Cadence, "window", rec.Window, "owner", w.Owner, "place", w.Place,
			"prize", w.Prize, "error", fmt.Errorf("%w: %w", ErrGatewayTransferFailed, err))
		w.TransferStatus = TransferFailed
		return w
	}

	if receipt.Lamports < w.Prize {
		e.log.Warn("draw: prize capped to available balance",
			"cadence", rec.Cadence, "window", rec.Window, "owner", w.Owner,
			"requested", w.Prize, "transferred", receipt.Lamports)
		w.Prize = receipt.Lamports
	}
	w.TransferStatus = TransferConfirmed
	w.Signature = receipt.Signature
	return w
}

func (e *Engine) publish(ctx context.Context, result DrawResult) {
	if e.cfg.Sink == nil {
		return
	}
	err := e.cfg.Sink.Publish(ctx, result)
	metrics.RecordNotification(err)
	if err != nil {
		e.log.Error("draw: failed to publish result",
			"cadence", result.Cadence, "window", result.Window, "error", err)
	}
}
