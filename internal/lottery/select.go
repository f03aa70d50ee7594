package lottery

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// prizeShares are the prize tiers applied to the remaining pot after the
// operator cut, in draw order.
var prizeShares = [3]int64{70, 20, 10} // percent

// expandEntries turns tickets into the draw pool: a ticket bought with
// quantity N contributes N chances tagged with its owner.
func expandEntries(tickets []Ticket) []string {
	var entries []string
	for _, t := range tickets {
		for i := 0; i < t.Quantity; i++ {
			entries = append(entries, t.Owner)
		}
	}
	return entries
}

// selectWinners draws up to places distinct owners from the pool without
// replacement: after each draw, every entry belonging to the drawn owner is
// removed, so an owner cannot win twice in the same draw. Entropy comes from
// src, which must be cryptographically secure (crypto/rand.Reader in
// production).
func selectWinners(src io.Reader, entries []string, places int) ([]string, error) {
	if src == nil {
		src = rand.Reader
	}

	pool := make([]string, len(entries))
	copy(pool, entries)

	var winners []string
	for len(winners) < places && len(pool) > 0 {
		n, err := rand.Int(src, big.NewInt(int64(len(pool))))
		if err != nil {
			return nil, fmt.Errorf("failed to draw random entry: %w", err)
		}
		owner := pool[n.Int64()]
		winners = append(winners, owner)

		remaining := pool[:0]
		for _, e := range pool {
			if e != owner {
				remaining = append(remaining, e)
			}
		}
		pool = remaining
	}
	return winners, nil
}

// tierPrizes splits the remaining pot into prize amounts by place. Integer
// math rounds down, so the payouts never exceed the pot.
func tierPrizes(remainingPot int64, places int) []int64 {
	if places > len(prizeShares) {
		places = len(prizeShares)
	}
	prizes := make([]int64, places)
	for i := 0; i < places; i++ {
		prizes[i] = remainingPot * prizeShares[i] / 100
	}
	return prizes
}
