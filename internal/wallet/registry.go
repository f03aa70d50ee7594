package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mr-tron/base58"
)

var (
	// ErrWalletExists is returned when creating or importing a wallet for an
	// owner that already has one.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrWalletNotFound is returned when an owner has no registered wallet.
	ErrWalletNotFound = errors.New("wallet not found")
)

// NotificationFrequency controls which draw reminders an owner receives.
type NotificationFrequency string

const (
	NotifyAll    NotificationFrequency = "all"
	NotifyDaily  NotificationFrequency = "daily"
	NotifyWeekly NotificationFrequency = "weekly"
	NotifyNone   NotificationFrequency = "none"
)

func (f NotificationFrequency) Valid() bool {
	switch f {
	case NotifyAll, NotifyDaily, NotifyWeekly, NotifyNone:
		return true
	}
	return false
}

// Wallet is an owner's registered payout wallet. The secret key is stored but
// never included here; use ExportKey.
type Wallet struct {
	Owner                 string
	Address               string
	Username              string
	NotificationFrequency NotificationFrequency
	CreatedAt             time.Time
}

type RegistryConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool
}

func (cfg *RegistryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	return nil
}

// Registry stores owner wallets and resolves owners to payout addresses for
// prize transfers.
type Registry struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Registry{
		log:  cfg.Logger,
		pool: cfg.Pool,
	}, nil
}

// Create generates a fresh keypair for the owner. An owner keeps one wallet;
// a second create fails with ErrWalletExists.
func (r *Registry) Create(ctx context.Context, owner string) (*Wallet, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	account := solana.NewWallet()
	return r.insert(ctx, owner, account.PublicKey().String(), account.PrivateKey.String())
}

// Import registers an existing keypair from its base58 secret key.
func (r *Registry) Import(ctx context.Context, owner, secretKey string) (*Wallet, error) {
	if owner == "" {
		return nil, errors.New("owner is required")
	}
	key, err := solana.PrivateKeyFromBase58(secretKey)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return r.insert(ctx, owner, key.PublicKey().String(), key.String())
}

func (r *Registry) insert(ctx context.Context, owner, address, secretKey string) (*Wallet, error) {
	w := &Wallet{
		Owner:                 owner,
		Address:               address,
		NotificationFrequency: NotifyAll,
		CreatedAt:             time.Now().UTC(),
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO users (owner, wallet_address, secret_key, notification_frequency, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner) DO NOTHING`,
		w.Owner, w.Address, secretKey, w.NotificationFrequency, w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrWalletExists
	}

	r.log.Info("wallet: registered", "owner", owner, "address", address)
	return w, nil
}

// Delete removes the owner's wallet. The stored secret key goes with it, so
// the caller must have exported it first if the wallet holds funds.
func (r *Registry) Delete(ctx context.Context, owner string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE owner = $1`, owner)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	r.log.Info("wallet: deleted", "owner", owner)
	return nil
}

// Get returns the owner's wallet, or ErrWalletNotFound.
func (r *Registry) Get(ctx context.Context, owner string) (*Wallet, error) {
	w := &Wallet{}
	var username *string
	err := r.pool.QueryRow(ctx,
		`SELECT owner, wallet_address, username, notification_frequency, created_at
		 FROM users WHERE owner = $1`, owner).
		Scan(&w.Owner, &w.Address, &username, &w.NotificationFrequency, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to query wallet: %w", err)
	}
	if username != nil {
		w.Username = *username
	}
	return w, nil
}

// WalletAddress resolves an owner to a payout address.
func (r *Registry) WalletAddress(ctx context.Context, owner string) (string, error) {
	w, err := r.Get(ctx, owner)
	if err != nil {
		return "", err
	}
	return w.Address, nil
}

// ExportKey returns the owner's base58 secret key for withdrawal to an
// external wallet app.
func (r *Registry) ExportKey(ctx context.Context, owner string) (string, error) {
	var secretKey string
	err := r.pool.QueryRow(ctx,
		`SELECT secret_key FROM users WHERE owner = $1`, owner).Scan(&secretKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrWalletNotFound
		}
		return "", fmt.Errorf("failed to query secret key: %w", err)
	}
	return secretKey, nil
}

// SetUsername records a display name for draw announcements.
func (r *Registry) SetUsername(ctx context.Context, owner, username string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET username = $1 WHERE owner = $2`, username, owner)
	if err != nil {
		return fmt.Errorf("failed to set username: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// SetNotificationFrequency updates which reminders the owner receives.
func (r *Registry) SetNotificationFrequency(ctx context.Context, owner string, freq NotificationFrequency) error {
	if !freq.Valid() {
		return fmt.Errorf("invalid notification frequency %q", freq)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET notification_frequency = $1 WHERE owner = $2`, freq, owner)
	if err != nil {
		return fmt.Errorf("failed to set notification frequency: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

// Subscribers returns owners whose notification preference covers the given
// reminder kind. NotifyAll subscribers receive every reminder.
func (r *Registry) Subscribers(ctx context.Context, kind NotificationFrequency) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT owner FROM users
		 WHERE notification_frequency = $1 OR notification_frequency = $2
		 ORDER BY owner`,
		kind, NotifyAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscribers: %w", err)
	}
	return owners, nil
}

// ValidAddress reports whether s decodes to a 32-byte Solana public key.
func ValidAddress(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == solana.PublicKeyLength
}
