package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/sol"
)

var placeLabels = map[int]string{
	1: "🥇 1st",
	2: "🥈 2nd",
	3: "🥉 3rd",
}

// FormatDrawResult renders a settled draw as a Slack mrkdwn message.
func FormatDrawResult(result lottery.DrawResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s draw* · %s UTC\n", titleCadence(result.Cadence), result.Window.UTC().Format("Jan 2 15:04"))

	if result.NoParticipants {
		b.WriteString("No tickets were sold this round. The pot rolls over to the next draw.")
		return b.String()
	}

	fmt.Fprintf(&b, "Pot: *%s SOL*\n", formatSOL(result.TotalPot))
	for _, w := range result.Winners {
		label, ok := placeLabels[w.Place]
		if !ok {
			label = fmt.Sprintf("%dth", w.Place)
		}
		fmt.Fprintf(&b, "%s  `%s` wins *%s SOL*", label, w.Owner, formatSOL(w.Prize))
		if w.TransferStatus == lottery.TransferFailed {
			b.WriteString("  _(payout pending)_")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatReminder renders an upcoming-draw reminder mentioning the owners who
// subscribed to it.
func FormatReminder(cadence lottery.Cadence, drawTime time.Time, owners []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ The %s draw closes at %s UTC. Get your tickets in!",
		cadence, drawTime.UTC().Format("Jan 2 15:04"))
	if len(owners) > 0 {
		b.WriteString("\ncc")
		for _, owner := range owners {
			fmt.Fprintf(&b, " `%s`", owner)
		}
	}
	return b.String()
}

func titleCadence(c lottery.Cadence) string {
	s := c.String()
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// formatSOL prints lamports as SOL with up to 9 decimals, trailing zeros
// trimmed.
func formatSOL(lamports int64) string {
	s := fmt.Sprintf("%.9f", sol.LamportsToSOL(lamports))
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
