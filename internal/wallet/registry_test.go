package wallet

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
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

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewRegistry(RegistryConfig{
		Logger: testutil.NewLogger(),
		Pool:   testutil.NewTestPool(t, testDB),
	})
	require.NoError(t, err)
	return registry
}

func newOwner(t *testing.T) string {
	t.Helper()
	return "owner-" + uuid.NewString()
}

func TestSollotto_Wallet_CreateAndGet(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := t.Context()
	owner := newOwner(t)

	created, err := registry.Create(ctx, owner)
	require.NoError(t, err)
	require.True(t, ValidAddress(created.Address))
	require.Equal(t, NotifyAll, created.NotificationFrequency)

	got, err := registry.Get(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, created.Address, got.Address)

	addr, err := registry.WalletAddress(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, created.Address, addr)

	// One wallet per owner.
	_, err = registry.Create(ctx, owner)
	require.ErrorIs(t, err, ErrWalletExists)
}

func TestSollotto_Wallet_Import(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := t.Context()
	owner := newOwner(t)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	imported, err := registry.Import(ctx, owner, key.String())
	require.NoError(t, err)
	require.Equal(t, key.PublicKey().String(), imported.Address)

	exported, err := registry.ExportKey(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, key.String(), exported)

	_, err = registry.Import(ctx, newOwner(t), "garbage-not-base58!!!")
	require.Error(t, err)
}

func TestSollotto_Wallet_Delete(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := t.Context()
	owner := newOwner(t)

	_, err := registry.Create(ctx, owner)
	require.NoError(t, err)

	require.NoError(t, registry.Delete(ctx, owner))

	_, err = registry.Get(ctx, owner)
	require.ErrorIs(t, err, ErrWalletNotFound)

	require.ErrorIs(t, registry.Delete(ctx, owner), ErrWalletNotFound)

	// The owner can register a fresh wallet afterwards.
	recreated, err := registry.Create(ctx, owner)
	require.NoError(t, err)
	require.True(t, ValidAddress(recreated.Address))
}

func TestSollotto_Wallet_NotFound(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := t.Context()
	owner := newOwner(t)

	_, err := registry.Get(ctx, owner)
	require.ErrorIs(t, err, ErrWalletNotFound)

	_, err = registry.WalletAddress(ctx, owner)
	require.ErrorIs(t, err, ErrWalletNotFound)

	_, err = registry.ExportKey(ctx, owner)
	require.ErrorIs(t, err, ErrWalletNotFound)

	require.ErrorIs(t, registry.SetUsername(ctx, owner, "alice"), ErrWalletNotFound)
}

func TestSollotto_Wallet_NotificationPreferences(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := t.Context()

	all := newOwner(t)
	daily := newOwner(t)
	quiet := newOwner(t)
	for _, owner := range []string{all, daily, quiet} {
		_, err := registry.Create(ctx, owner)
		require.NoError(t, err)
	}

	require.NoError(t, registry.SetNotificationFrequency(ctx, daily, NotifyDaily))
	require.NoError(t, registry.SetNotificationFrequency(ctx, quiet, NotifyNone))
	require.Error(t, registry.SetNotificationFrequency(ctx, all, "hourly-ish"))

	subs, err := registry.Subscribers(ctx, NotifyDaily)
	require.NoError(t, err)
	require.Contains(t, subs, all, "all-subscribers receive every reminder")
	require.Contains(t, subs, daily)
	require.NotContains(t, subs, quiet)
}

func TestSollotto_Wallet_ValidAddress(t *testing.T) {
	t.Parallel()

	require.True(t, ValidAddress(solana.NewWallet().PublicKey().String()))
	require.False(t, ValidAddress(""))
	require.False(t, ValidAddress("not-base58-0OIl"))
	require.False(t, ValidAddress("abc"))
}
