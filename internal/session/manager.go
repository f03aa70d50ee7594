package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lottolabs/sollotto/internal/lottery"
)

const (
	defaultTTL             = 5 * time.Minute
	defaultCleanupInterval = time.Minute
)

// ErrNoPendingPurchase is returned when an owner confirms or cancels without
// an open quote.
var ErrNoPendingPurchase = errors.New("no pending purchase")

// PendingPurchase is a quoted but unconfirmed ticket purchase. The quote pins
// the draw window, so a purchase confirmed after the window's draw time is
// rejected instead of sliding into the next window unnoticed.
type PendingPurchase struct {
	ID        uuid.UUID
	Owner     string
	Cadence   lottery.Cadence
	Window    time.Time
	Quantity  int
	UnitPrice int64 // lamports
	Total     int64 // lamports
	CreatedAt time.Time
	ExpiresAt time.Time
}

type ManagerConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// TTL bounds how long a quote stays confirmable. Defaults to 5 minutes.
	TTL             time.Duration
	CleanupInterval time.Duration
}

func (cfg *ManagerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	return nil
}

// Manager holds each owner's single pending purchase. A new quote replaces
// the previous one; confirm and cancel both consume it.
type Manager struct {
	log *slog.Logger
	cfg ManagerConfig

	mu      sync.RWMutex
	pending map[string]*PendingPurchase
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		log:     cfg.Logger,
		cfg:     cfg,
		pending: make(map[string]*PendingPurchase),
	}, nil
}

// Begin opens a quote for the owner, replacing any existing one.
func (m *Manager) Begin(owner string, cadence lottery.Cadence, window time.Time, quantity int, unitPrice int64) *PendingPurchase {
	now := m.cfg.Clock.Now().UTC()
	p := &PendingPurchase{
		ID:        uuid.New(),
		Owner:     owner,
		Cadence:   cadence,
		Window:    window.UTC(),
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Total:     unitPrice * int64(quantity),
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}

	m.mu.Lock()
	m.pending[owner] = p
	m.mu.Unlock()

	m.log.Debug("session: purchase quoted",
		"owner", owner, "cadence", cadence, "window", p.Window, "quantity", quantity, "total", p.Total)
	return p
}

// Get returns the owner's open quote, or ErrNoPendingPurchase if there is
// none or it expired.
func (m *Manager) Get(owner string) (*PendingPurchase, error) {
	m.mu.RLock()
	p, ok := m.pending[owner]
	m.mu.RUnlock()

	if !ok || m.cfg.Clock.Now().After(p.ExpiresAt) {
		return nil, ErrNoPendingPurchase
	}
	return p, nil
}

// Take consumes and returns the owner's open quote.
func (m *Manager) Take(owner string) (*PendingPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[owner]
	if !ok {
		return nil, ErrNoPendingPurchase
	}
	delete(m.pending, owner)
	if m.cfg.Clock.Now().After(p.ExpiresAt) {
		return nil, ErrNoPendingPurchase
	}
	return p, nil
}

// Cancel drops the owner's open quote if any.
func (m *Manager) Cancel(owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[owner]; !ok {
		return ErrNoPendingPurchase
	}
	delete(m.pending, owner)
	return nil
}

// Len returns the number of live quotes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// StartCleanup evicts expired quotes in the background until ctx is canceled.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := m.cfg.Clock.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				m.cleanup()
			}
		}
	}()
}

func (m *Manager) cleanup() {
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	var evicted int
	for owner, p := range m.pending {
		if now.After(p.ExpiresAt) {
			delete(m.pending, owner)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		m.log.Debug("session: evicted expired quotes", "count", evicted)
	}
}
