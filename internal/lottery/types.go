package lottery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cadence identifies one of the three independent lottery schedules. Each
// cadence has its own ticket price, pot and draw rule.
type Cadence string

const (
	CadenceHourly Cadence = "hourly"
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Cadences returns all cadences in scheduling order.
func Cadences() []Cadence {
	return []Cadence{CadenceHourly, CadenceDaily, CadenceWeekly}
}

func (c Cadence) Valid() bool {
	switch c {
	case CadenceHourly, CadenceDaily, CadenceWeekly:
		return true
	}
	return false
}

func (c Cadence) String() string { return string(c) }

// Ticket is a confirmed purchase for one draw window. It is immutable except
// for the single settlement mutation (prize, settled).
type Ticket struct {
	ID          uuid.UUID
	Owner       string
	Cadence     Cadence
	DrawWindow  time.Time
	Quantity    int
	AmountPaid  int64 // lamports
	PrizeWon    int64 // lamports
	Settled     bool
	PurchasedAt time.Time
}

// TransferStatus records the outcome of a single payout transfer attempt.
type TransferStatus string

const (
	TransferConfirmed TransferStatus = "confirmed"
	TransferFailed    TransferStatus = "failed"
)

// Winner is one prize place of a draw, in draw order.
type Winner struct {
	Place          int            `json:"place"`
	Owner          string         `json:"owner"`
	Prize          int64          `json:"prize"` // lamports
	TransferStatus TransferStatus `json:"transfer_status,omitempty"`
	Signature      string         `json:"signature,omitempty"`
}

// DrawResult is the settled outcome of one (cadence, window) draw.
type DrawResult struct {
	Cadence        Cadence   `json:"cadence"`
	Window         time.Time `json:"window"`
	Winners        []Winner  `json:"winners"`
	OperatorCut    int64     `json:"operator_cut"` // lamports actually deducted
	TotalPot       int64     `json:"total_pot"`    // lamports
	NoParticipants bool      `json:"no_participants"`
	CompletedAt    time.Time `json:"completed_at"`
}

// DrawState tracks crash-safe draw progress. A draw moves claimed → selected
// → settled; recovery resumes from the recorded state.
type DrawState string

const (
	DrawClaimed  DrawState = "claimed"
	DrawSelected DrawState = "selected"
	DrawSettled  DrawState = "settled"
)

// DrawRecord is the persisted state of a draw in progress or settled.
type DrawRecord struct {
	Cadence     Cadence
	Window      time.Time
	State       DrawState
	TotalPot    int64
	OperatorCut int64
	Winners     []Winner
	Result      *DrawResult
	ClaimedAt   time.Time
	CompletedAt time.Time
}

// Receipt is the gateway's acknowledgment of an executed transfer. Lamports
// is the amount actually moved, which may be lower than requested when the
// transfer was capped to the available source balance.
type Receipt struct {
	Signature string
	Lamports  int64
}

// PaymentGateway executes value transfers from the operator wallet.
// Timeouts are the gateway's responsibility and surface as errors.
type PaymentGateway interface {
	Transfer(ctx context.Context, destination string, lamports int64, capToAvailable bool) (*Receipt, error)
	Balance(ctx context.Context, address string) (int64, error)
}

// Sink receives settled draw results for broadcast. Publish is fire-and-forget
// from the engine's point of view: failures are logged, never retried.
type Sink interface {
	Publish(ctx context.Context, result DrawResult) error
}

// AddressBook resolves a ticket owner to a payout wallet address.
type AddressBook interface {
	WalletAddress(ctx context.Context, owner string) (string, error)
}
