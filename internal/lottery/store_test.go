package lottery

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/lottolabs/sollotto/internal/testutil"
)

var testDB *testutil.DB

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log := testutil.NewLogger()
	db, err := testutil.NewDB(ctx, log)
	if err != nil {
		log.Error("failed to start postgres container", "error", err)
		os.Exit(1)
	}
	testDB = db

	code := m.Run()
	db.Close()
	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Logger: testutil.NewLogger(),
		Pool:   testutil.NewTestPool(t, testDB),
	})
	require.NoError(t, err)
	return store
}

// testWindow returns a unique window so tests sharing the database never see
// each other's tickets.
func testWindow(t *testing.T) time.Time {
	t.Helper()
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(uuid.New().ID()) * time.Second).Truncate(time.Second)
}

func TestSollotto_Store_RecordPurchase(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	window := testWindow(t)

	t.Run("purchase appends ticket and grows pot", func(t *testing.T) {
		before, err := store.Pot(ctx, CadenceHourly)
		require.NoError(t, err)

		ticket, err := store.RecordPurchase(ctx, "alice", CadenceHourly, window, 3_000_000, 3)
		require.NoError(t, err)
		require.Equal(t, "alice", ticket.Owner)
		require.Equal(t, 3, ticket.Quantity)
		require.Equal(t, int64(3_000_000), ticket.AmountPaid)
		require.False(t, ticket.Settled)

		after, err := store.Pot(ctx, CadenceHourly)
		require.NoError(t, err)
		require.Equal(t, before+3_000_000, after, "pot grows by exactly the amount paid")

		tickets, err := store.UnsettledTickets(ctx, CadenceHourly, window)
		require.NoError(t, err)
		require.Len(t, tickets, 1)
		require.Equal(t, ticket.ID, tickets[0].ID)
	})

	t.Run("invalid input mutates nothing", func(t *testing.T) {
		before, err := store.Pot(ctx, CadenceHourly)
		require.NoError(t, err)

		cases := []struct {
			owner    string
			cadence  Cadence
			amount   int64
			quantity int
		}{
			{"", CadenceHourly, 1_000_000, 1},
			{"alice", "fortnightly", 1_000_000, 1},
			{"alice", CadenceHourly, 0, 1},
			{"alice", CadenceHourly, -5, 1},
			{"alice", CadenceHourly, 1_000_000, 0},
		}
		for _, c := range cases {
			_, err := store.RecordPurchase(ctx, c.owner, c.cadence, window, c.amount, c.quantity)
			require.Error(t, err)
			require.True(t, IsValidation(err), "expected validation error, got %v", err)
		}

		after, err := store.Pot(ctx, CadenceHourly)
		require.NoError(t, err)
		require.Equal(t, before, after, "rejected purchases must not touch the pot")
	})
}

func TestSollotto_Store_MarkSettled_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	window := testWindow(t)

	t1, err := store.RecordPurchase(ctx, "alice", CadenceDaily, window, 2_000_000, 2)
	require.NoError(t, err)
	t2, err := store.RecordPurchase(ctx, "bob", CadenceDaily, window, 1_000_000, 1)
	require.NoError(t, err)

	before, err := store.Pot(ctx, CadenceDaily)
	require.NoError(t, err)

	ids := []uuid.UUID{t1.ID, t2.ID}
	prizes := map[string]int64{"alice": 700_000}

	require.NoError(t, store.MarkSettled(ctx, CadenceDaily, window, ids, prizes))

	after, err := store.Pot(ctx, CadenceDaily)
	require.NoError(t, err)
	require.Equal(t, before-3_000_000, after, "pot drops by the settled window's amount")

	unsettled, err := store.UnsettledTickets(ctx, CadenceDaily, window)
	require.NoError(t, err)
	require.Empty(t, unsettled)

	// Repeat settlement is a no-op: no double pot decrement.
	require.NoError(t, store.MarkSettled(ctx, CadenceDaily, window, ids, prizes))
	again, err := store.Pot(ctx, CadenceDaily)
	require.NoError(t, err)
	require.Equal(t, after, again)

	tickets, _, err := store.OwnerTickets(ctx, "alice", 10, 0)
	require.NoError(t, err)
	var found bool
	for _, tk := range tickets {
		if tk.ID == t1.ID {
			found = true
			require.True(t, tk.Settled)
			require.Equal(t, int64(700_000), tk.PrizeWon)
		}
	}
	require.True(t, found)
}

func TestSollotto_Store_ClaimDraw(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	t.Run("claim snapshots the window pot", func(t *testing.T) {
		window := testWindow(t)
		_, err := store.RecordPurchase(ctx, "alice", CadenceWeekly, window, 5_000_000, 5)
		require.NoError(t, err)

		rec, tickets, err := store.ClaimDraw(ctx, CadenceWeekly, window)
		require.NoError(t, err)
		require.Equal(t, DrawClaimed, rec.State)
		require.Equal(t, int64(5_000_000), rec.TotalPot)
		require.Len(t, tickets, 1)

		// A second claim returns the existing marker, not a fresh one.
		rec2, tickets2, err := store.ClaimDraw(ctx, CadenceWeekly, window)
		require.NoError(t, err)
		require.Equal(t, rec.TotalPot, rec2.TotalPot)
		require.Equal(t, rec.ClaimedAt.Unix(), rec2.ClaimedAt.Unix())
		require.Len(t, tickets2, 1)
	})

	t.Run("empty window claims a zero pot", func(t *testing.T) {
		window := testWindow(t)
		rec, tickets, err := store.ClaimDraw(ctx, CadenceWeekly, window)
		require.NoError(t, err)
		require.Equal(t, DrawClaimed, rec.State)
		require.Equal(t, int64(0), rec.TotalPot)
		require.Empty(t, tickets)
	})
}

func TestSollotto_Store_SettleDraw(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	window := testWindow(t)

	ticket, err := store.RecordPurchase(ctx, "alice", CadenceHourly, window, 1_000_000, 1)
	require.NoError(t, err)

	rec, tickets, err := store.ClaimDraw(ctx, CadenceHourly, window)
	require.NoError(t, err)
	require.Len(t, tickets, 1)

	winners := []Winner{{Place: 1, Owner: "alice", Prize: 630_000}}
	require.NoError(t, store.SaveSelection(ctx, CadenceHourly, window, winners, 100_000))

	result := DrawResult{
		Cadence:     CadenceHourly,
		Window:      window,
		Winners:     []Winner{{Place: 1, Owner: "alice", Prize: 630_000, TransferStatus: TransferConfirmed, Signature: "sig"}},
		OperatorCut: 100_000,
		TotalPot:    rec.TotalPot,
		CompletedAt: time.Now().UTC(),
	}
	err = store.SettleDraw(ctx, result, []uuid.UUID{ticket.ID}, map[string]int64{"alice": 630_000})
	require.NoError(t, err)

	// Second settlement is rejected without mutating anything.
	err = store.SettleDraw(ctx, result, []uuid.UUID{ticket.ID}, map[string]int64{"alice": 630_000})
	require.ErrorIs(t, err, ErrAlreadySettled)

	stored, err := store.DrawRecordFor(ctx, CadenceHourly, window)
	require.NoError(t, err)
	require.Equal(t, DrawSettled, stored.State)
	require.NotNil(t, stored.Result)
	require.Equal(t, int64(100_000), stored.Result.OperatorCut)
	require.Len(t, stored.Result.Winners, 1)
	require.Equal(t, "sig", stored.Result.Winners[0].Signature)

	// A settled window re-claims as settled with its stored result.
	rec2, tickets2, err := store.ClaimDraw(ctx, CadenceHourly, window)
	require.NoError(t, err)
	require.Equal(t, DrawSettled, rec2.State)
	require.Empty(t, tickets2)
	require.NotNil(t, rec2.Result)
}

func TestSollotto_Store_SaveSelection_RequiresClaim(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	window := testWindow(t)

	err := store.SaveSelection(ctx, CadenceHourly, window, []Winner{{Place: 1, Owner: "alice"}}, 0)
	require.Error(t, err)
}

func TestSollotto_Store_UnsettledWindows(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	base := testWindow(t)
	w1 := base
	w2 := base.Add(time.Hour)
	w3 := base.Add(2 * time.Hour)

	// Insert out of order; listing must come back oldest first.
	_, err := store.RecordPurchase(ctx, "bob", CadenceDaily, w2, 1_000_000, 1)
	require.NoError(t, err)
	_, err = store.RecordPurchase(ctx, "alice", CadenceDaily, w1, 1_000_000, 1)
	require.NoError(t, err)
	_, err = store.RecordPurchase(ctx, "carol", CadenceDaily, w3, 1_000_000, 1)
	require.NoError(t, err)

	windows, err := store.UnsettledWindows(ctx, CadenceDaily, w2)
	require.NoError(t, err)
	require.Contains(t, windows, w1.UTC())
	require.Contains(t, windows, w2.UTC())
	require.NotContains(t, windows, w3.UTC(), "cutoff excludes future windows")

	var i1, i2 = -1, -1
	for i, w := range windows {
		if w.Equal(w1) {
			i1 = i
		}
		if w.Equal(w2) {
			i2 = i
		}
	}
	require.Less(t, i1, i2, "oldest window first")
}

func TestSollotto_Store_WindowStats(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	window := testWindow(t)

	_, err := store.RecordPurchase(ctx, "alice", CadenceHourly, window, 2_000_000, 2)
	require.NoError(t, err)
	_, err = store.RecordPurchase(ctx, "bob", CadenceHourly, window, 1_000_000, 1)
	require.NoError(t, err)

	chances, pot, err := store.WindowStats(ctx, CadenceHourly, window)
	require.NoError(t, err)
	require.Equal(t, int64(3), chances)
	require.GreaterOrEqual(t, pot, int64(3_000_000))
}

func TestSollotto_Store_OwnerTickets_Pagination(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()
	window := testWindow(t)

	owner := fmt.Sprintf("pager-%s", uuid.NewString())
	for i := 0; i < 5; i++ {
		_, err := store.RecordPurchase(ctx, owner, CadenceHourly, window, 1_000_000, 1)
		require.NoError(t, err)
	}

	page1, total, err := store.OwnerTickets(ctx, owner, 2, 0)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page1, 2)

	page3, total, err := store.OwnerTickets(ctx, owner, 2, 4)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page3, 1)
}
