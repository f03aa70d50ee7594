package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lottolabs/sollotto/internal/lottery"
)

func TestSollotto_Notify_FormatDrawResult(t *testing.T) {
	t.Parallel()

	t.Run("settled draw lists winners in SOL", func(t *testing.T) {
		t.Parallel()

		result := lottery.DrawResult{
			Cadence:  lottery.CadenceHourly,
			Window:   time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
			TotalPot: 10_000_000,
			Winners: []lottery.Winner{
				{Place: 1, Owner: "alice", Prize: 6_300_000, TransferStatus: lottery.TransferConfirmed},
				{Place: 2, Owner: "bob", Prize: 1_800_000, TransferStatus: lottery.TransferFailed},
			},
		}

		text := FormatDrawResult(result)
		require.Contains(t, text, "Hourly draw")
		require.Contains(t, text, "0.01 SOL")
		require.Contains(t, text, "alice")
		require.Contains(t, text, "0.0063 SOL")
		require.Contains(t, text, "payout pending", "failed transfers are flagged")
	})

	t.Run("empty draw announces rollover", func(t *testing.T) {
		t.Parallel()

		result := lottery.DrawResult{
			Cadence:        lottery.CadenceWeekly,
			Window:         time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC),
			NoParticipants: true,
		}

		text := FormatDrawResult(result)
		require.Contains(t, text, "Weekly draw")
		require.Contains(t, text, "rolls over")
	})
}

func TestSollotto_Notify_FormatReminder(t *testing.T) {
	t.Parallel()

	text := FormatReminder(lottery.CadenceDaily, time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC), []string{"alice", "bob"})
	require.Contains(t, text, "daily draw")
	require.Contains(t, text, "Mar 10 20:00")
	require.Contains(t, text, "cc `alice` `bob`")

	noMentions := FormatReminder(lottery.CadenceWeekly, time.Date(2026, 3, 15, 20, 0, 0, 0, time.UTC), nil)
	require.NotContains(t, noMentions, "cc")
}

func TestSollotto_Notify_FormatSOL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1", formatSOL(1_000_000_000))
	require.Equal(t, "0.001", formatSOL(1_000_000))
	require.Equal(t, "0.000000001", formatSOL(1))
	require.Equal(t, "0", formatSOL(0))
	require.Equal(t, "1.5", formatSOL(1_500_000_000))
}
