package lottery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Store is the ticket ledger: it records purchases, tracks per-cadence pots
// and persists draw state. All multi-row operations run in a single
// transaction.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:  cfg.Logger,
		pool: cfg.Pool,
	}, nil
}

// RecordPurchase atomically appends a ticket and increments the cadence's pot.
// Invalid input is rejected before any mutation.
func (s *Store) RecordPurchase(ctx context.Context, owner string, cadence Cadence, window time.Time, amountPaid int64, quantity int) (*Ticket, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	if !cadence.Valid() {
		return nil, &ValidationError{Field: "cadence", Reason: fmt.Sprintf("unknown cadence %q", cadence)}
	}
	if amountPaid <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	ticket := &Ticket{
		ID:          uuid.New(),
		Owner:       owner,
		Cadence:     cadence,
		DrawWindow:  window.UTC(),
		Quantity:    quantity,
		AmountPaid:  amountPaid,
		PurchasedAt: time.Now().UTC(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO tickets (id, owner, cadence, draw_window, quantity, amount_paid, purchased_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ticket.ID, ticket.Owner, ticket.Cadence, ticket.DrawWindow, ticket.Quantity, ticket.AmountPaid, ticket.PurchasedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ticket: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE pots SET pot = pot + $1 WHERE cadence = $2`,
		ticket.AmountPaid, ticket.Cadence)
	if err != nil {
		return nil, fmt.Errorf("failed to increment pot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purchase: %w", err)
	}

	s.log.Debug("ledger: purchase recorded",
		"owner", owner, "cadence", cadence, "window", ticket.DrawWindow, "quantity", quantity, "amount", amountPaid)
	return ticket, nil
}

// UnsettledTickets returns all tickets for the exact window that are not yet
// settled, in purchase order. The draw path reads the same set inside
// ClaimDraw's claim transaction.
func (s *Store) UnsettledTickets(ctx context.Context, cadence Cadence, window time.Time) ([]Ticket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, cadence, draw_window, quantity, amount_paid, prize_won, settled, purchased_at
		 FROM tickets
		 WHERE cadence = $1 AND draw_window = $2 AND NOT settled
		 ORDER BY purchased_at, id`,
		cadence, window.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled tickets: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// MarkSettled settles the given tickets and records prizes, in one
// transaction. Already settled tickets are skipped, and the pot is only
// decremented by the amounts of tickets actually flipped, so a repeat call is
// a no-op. The draw path applies the same settlement through SettleDraw,
// which wraps markSettledTx together with the draw row's state change.
func (s *Store) MarkSettled(ctx context.Context, cadence Cadence, window time.Time, ticketIDs []uuid.UUID, prizeByOwner map[string]int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.markSettledTx(ctx, tx, cadence, window, ticketIDs, prizeByOwner); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// markSettledTx flips tickets to settled, records prizes on the winning
// owners' earliest tickets and decrements the pot, inside the caller's
// transaction.
func (s *Store) markSettledTx(ctx context.Context, tx pgx.Tx, cadence Cadence, window time.Time, ticketIDs []uuid.UUID, prizeByOwner map[string]int64) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	var settledAmount int64
	rows, err := tx.Query(ctx,
		`UPDATE tickets SET settled = TRUE
		 WHERE id = ANY($1) AND NOT settled
		 RETURNING amount_paid`,
		ticketIDs)
	if err != nil {
		return fmt.Errorf("failed to mark tickets settled: %w", err)
	}
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan settled amount: %w", err)
		}
		settledAmount += amount
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read settled rows: %w", err)
	}

	// Repeat call: every ticket was already settled, leave the pot alone.
	if settledAmount == 0 {
		return nil
	}

	for owner, prize := range prizeByOwner {
		_, err = tx.Exec(ctx,
			`UPDATE tickets SET prize_won = $1
			 WHERE id = (
			     SELECT id FROM tickets
			     WHERE owner = $2 AND cadence = $3 AND draw_window = $4
			     ORDER BY purchased_at, id LIMIT 1
			 )`,
			prize, owner, cadence, window.UTC())
		if err != nil {
			return fmt.Errorf("failed to record prize for %s: %w", owner, err)
		}
	}

	// The pot may already include purchases fenced into the next window, so
	// subtract the settled window's amount instead of zeroing blindly.
	_, err = tx.Exec(ctx,
		`UPDATE pots SET pot = GREATEST(pot - $1, 0) WHERE cadence = $2`,
		settledAmount, cadence)
	if err != nil {
		return fmt.Errorf("failed to reset pot: %w", err)
	}

	return nil
}

// Pot returns the cadence's live pot in lamports.
func (s *Store) Pot(ctx context.Context, cadence Cadence) (int64, error) {
	var pot int64
	err := s.pool.QueryRow(ctx, `SELECT pot FROM pots WHERE cadence = $1`, cadence).Scan(&pot)
	if err != nil {
		return 0, fmt.Errorf("failed to query pot: %w", err)
	}
	return pot, nil
}

// TicketPrice returns the cadence's fixed ticket price in lamports.
func (s *Store) TicketPrice(ctx context.Context, cadence Cadence) (int64, error) {
	var price int64
	err := s.pool.QueryRow(ctx, `SELECT ticket_price FROM pots WHERE cadence = $1`, cadence).Scan(&price)
	if err != nil {
		return 0, fmt.Errorf("failed to query ticket price: %w", err)
	}
	return price, nil
}

// WindowStats returns the number of chances sold and the live pot for a
// cadence's window.
func (s *Store) WindowStats(ctx context.Context, cadence Cadence, window time.Time) (chances int64, pot int64, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM tickets
		 WHERE cadence = $1 AND draw_window = $2 AND NOT settled`,
		cadence, window.UTC()).Scan(&chances)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query window stats: %w", err)
	}
	pot, err = s.Pot(ctx, cadence)
	if err != nil {
		return 0, 0, err
	}
	return chances, pot, nil
}

// OwnerTickets returns a page of an owner's tickets, newest first, plus the
// total count.
func (s *Store) OwnerTickets(ctx context.Context, owner string, limit, offset int) ([]Ticket, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tickets WHERE owner = $1`, owner).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, cadence, draw_window, quantity, amount_paid, prize_won, settled, purchased_at
		 FROM tickets
		 WHERE owner = $1
		 ORDER BY purchased_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		owner, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// ClaimDraw persists the window's claim marker in the same transaction as
// reading its unsettled set. If the draw was already claimed, the recorded
// state and the still-unsettled tickets are returned so recovery can resume
// instead of re-running winner selection.
func (s *Store) ClaimDraw(ctx context.Context, cadence Cadence, window time.Time) (*DrawRecord, []Ticket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rec, err := s.drawRecordTx(ctx, tx, cadence, window, true)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	if rec != nil && rec.State == DrawSettled {
		return rec, nil, nil
	}

	rows, err := tx.Query(ctx,
		`SELECT id, owner, cadence, draw_window, quantity, amount_paid, prize_won, settled, purchased_at
		 FROM tickets
		 WHERE cadence = $1 AND draw_window = $2 AND NOT settled
		 ORDER BY purchased_at, id`,
		cadence, window.UTC())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query unsettled tickets: %w", err)
	}
	tickets, err := scanTickets(rows)
	rows.Close()
	if err != nil {
		return nil, nil, err
	}

	if rec == nil {
		var pot int64
		if err := tx.QueryRow(ctx, `SELECT pot FROM pots WHERE cadence = $1 FOR UPDATE`, cadence).Scan(&pot); err != nil {
			return nil, nil, fmt.Errorf("failed to snapshot pot: %w", err)
		}
		// The pot can exceed this window's take when purchases for the next
		// window landed early; the draw pays out only its own window's sum.
		var windowPot int64
		for _, t := range tickets {
			windowPot += t.AmountPaid
		}
		if windowPot > pot {
			windowPot = pot
		}

		rec = &DrawRecord{
			Cadence:   cadence,
			Window:    window.UTC(),
			State:     DrawClaimed,
			TotalPot:  windowPot,
			ClaimedAt: time.Now().UTC(),
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO draws (cadence, draw_window, state, total_pot, claimed_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			rec.Cadence, rec.Window, rec.State, rec.TotalPot, rec.ClaimedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to claim draw: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit draw claim: %w", err)
	}
	return rec, tickets, nil
}

// SaveSelection persists the selected winners before any transfer is
// attempted, so a restart resumes payouts instead of redrawing.
func (s *Store) SaveSelection(ctx context.Context, cadence Cadence, window time.Time, winners []Winner, operatorCut int64) error {
	winnersJSON, err := json.Marshal(winners)
	if err != nil {
		return fmt.Errorf("failed to marshal winners: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE draws SET state = $1, winners = $2, operator_cut = $3
		 WHERE cadence = $4 AND draw_window = $5 AND state = $6`,
		DrawSelected, winnersJSON, operatorCut, cadence, window.UTC(), DrawClaimed)
	if err != nil {
		return fmt.Errorf("failed to save winner selection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("draw %s/%s not in claimed state", cadence, window.UTC().Format(time.RFC3339))
	}
	return nil
}

// SettleDraw finalizes a draw: tickets are settled, prizes recorded, the pot
// decremented and the result stored, all in one transaction. Settling an
// already settled draw returns ErrAlreadySettled without mutating anything.
func (s *Store) SettleDraw(ctx context.Context, result DrawResult, ticketIDs []uuid.UUID, prizeByOwner map[string]int64) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal draw result: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var state DrawState
	err = tx.QueryRow(ctx,
		`SELECT state FROM draws WHERE cadence = $1 AND draw_window = $2 FOR UPDATE`,
		result.Cadence, result.Window.UTC()).Scan(&state)
	if err != nil {
		return fmt.Errorf("failed to lock draw row: %w", err)
	}
	if state == DrawSettled {
		return ErrAlreadySettled
	}

	if err := s.markSettledTx(ctx, tx, result.Cadence, result.Window, ticketIDs, prizeByOwner); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE draws SET state = $1, result = $2, operator_cut = $3, completed_at = $4
		 WHERE cadence = $5 AND draw_window = $6`,
		DrawSettled, resultJSON, result.OperatorCut, result.CompletedAt.UTC(), result.Cadence, result.Window.UTC())
	if err != nil {
		return fmt.Errorf("failed to settle draw: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit draw settlement: %w", err)
	}

	s.log.Info("ledger: draw settled",
		"cadence", result.Cadence, "window", result.Window, "winners", len(result.Winners), "total_pot", result.TotalPot)
	return nil
}

// DrawRecordFor returns the persisted draw state for a window, or nil if the
// window was never claimed.
func (s *Store) DrawRecordFor(ctx context.Context, cadence Cadence, window time.Time) (*DrawRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rec, err := s.drawRecordTx(ctx, tx, cadence, window, false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return rec, nil
}

func (s *Store) drawRecordTx(ctx context.Context, tx pgx.Tx, cadence Cadence, window time.Time, forUpdate bool) (*DrawRecord, error) {
	query := `SELECT cadence, draw_window, state, total_pot, operator_cut, winners, result, claimed_at, completed_at
	          FROM draws WHERE cadence = $1 AND draw_window = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rec := &DrawRecord{}
	var winnersJSON, resultJSON []byte
	var completedAt *time.Time
	err := tx.QueryRow(ctx, query, cadence, window.UTC()).Scan(
		&rec.Cadence, &rec.Window, &rec.State, &rec.TotalPot, &rec.OperatorCut,
		&winnersJSON, &resultJSON, &rec.ClaimedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to query draw record: %w", err)
	}

	if len(winnersJSON) > 0 {
		if err := json.Unmarshal(winnersJSON, &rec.Winners); err != nil {
			return nil, fmt.Errorf("failed to unmarshal winners: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		rec.Result = &DrawResult{}
		if err := json.Unmarshal(resultJSON, rec.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draw result: %w", err)
		}
	}
	if completedAt != nil {
		rec.CompletedAt = *completedAt
	}
	return rec, nil
}

// UnsettledWindows returns every window at or before the cutoff that still
// needs a draw: windows with unsettled tickets plus claimed-but-unsettled
// draws (crash recovery), oldest first.
func (s *Store) UnsettledWindows(ctx context.Context, cadence Cadence, cutoff time.Time) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT w FROM (
		     SELECT draw_window AS w FROM tickets
		     WHERE cadence = $1 AND NOT settled AND draw_window <= $2
		     UNION
		     SELECT draw_window AS w FROM draws
		     WHERE cadence = $1 AND state <> $3 AND draw_window <= $2
		 ) windows
		 ORDER BY w`,
		cadence, cutoff.UTC(), DrawSettled)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsettled windows: %w", err)
	}
	defer rows.Close()

	var windows []time.Time
	for rows.Next() {
		var w time.Time
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan window: %w", err)
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read windows: %w", err)
	}
	return windows, nil
}

// RecentDraws returns the latest settled results for a cadence, newest first.
func (s *Store) RecentDraws(ctx context.Context, cadence Cadence, limit int) ([]DrawResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT result FROM draws
		 WHERE cadence = $1 AND state = $2
		 ORDER BY completed_at DESC
		 LIMIT $3`,
		cadence, DrawSettled, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent draws: %w", err)
	}
	defer rows.Close()

	var results []DrawResult
	for rows.Next() {
		var resultJSON []byte
		if err := rows.Scan(&resultJSON); err != nil {
			return nil, fmt.Errorf("failed to scan draw result: %w", err)
		}
		var result DrawResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draw result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read draw results: %w", err)
	}
	return results, nil
}

func scanTickets(rows pgx.Rows) ([]Ticket, error) {
	var tickets []Ticket
	for rows.Next() {
		var t Ticket
		err := rows.Scan(&t.ID, &t.Owner, &t.Cadence, &t.DrawWindow, &t.Quantity,
			&t.AmountPaid, &t.PrizeWon, &t.Settled, &t.PurchasedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tickets: %w", err)
	}
	return tickets, nil
}
