package sol

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/require"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/testutil"
)

type mockRPC struct {
	getBalanceFunc      func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	sendTransactionFunc func(context.Context, *solana.Transaction, solanarpc.TransactionOpts) (solana.Signature, error)
	sentAmounts         []uint64
}

func (m *mockRPC) GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	if m.getBalanceFunc != nil {
		return m.getBalanceFunc(ctx, account, commitment)
	}
	return &solanarpc.GetBalanceResult{Value: uint64(10 * LamportsPerSOL)}, nil
}

func (m *mockRPC) GetLatestBlockhash(context.Context, solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	return &solanarpc.GetLatestBlockhashResult{
		Value: &solanarpc.LatestBlockhashResult{Blockhash: solana.Hash{1}},
	}, nil
}

func (m *mockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	if len(tx.Message.Instructions) > 0 {
		// System transfer layout: u32 instruction index then u64 lamports.
		data := tx.Message.Instructions[0].Data
		if len(data) >= 12 {
			var amount uint64
			for i := 0; i < 8; i++ {
				amount |= uint64(data[4+i]) << (8 * i)
			}
			m.sentAmounts = append(m.sentAmounts, amount)
		}
	}
	if m.sendTransactionFunc != nil {
		return m.sendTransactionFunc(ctx, tx, opts)
	}
	return solana.Signature{2}, nil
}

func newTestGateway(t *testing.T, rpc *mockRPC) *Gateway {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	gw, err := NewGateway(GatewayConfig{
		Logger:      testutil.NewLogger(),
		RPC:         rpc,
		OperatorKey: key,
	})
	require.NoError(t, err)
	return gw
}

func TestSollotto_Sol_Conversions(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(1_000_000_000), SOLToLamports(1))
	require.Equal(t, int64(1_000_000), SOLToLamports(0.001))
	require.Equal(t, 0.001, LamportsToSOL(1_000_000))
	require.Equal(t, 1.5, LamportsToSOL(1_500_000_000))
}

func TestSollotto_Sol_Transfer(t *testing.T) {
	t.Parallel()

	dest := solana.NewWallet().PublicKey().String()

	t.Run("sends the requested amount", func(t *testing.T) {
		t.Parallel()

		rpc := &mockRPC{}
		gw := newTestGateway(t, rpc)

		receipt, err := gw.Transfer(context.Background(), dest, 1_000_000, false)
		require.NoError(t, err)
		require.Equal(t, int64(1_000_000), receipt.Lamports)
		require.NotEmpty(t, receipt.Signature)
		require.Equal(t, []uint64{1_000_000}, rpc.sentAmounts)
	})

	t.Run("insufficient balance without cap fails before sending", func(t *testing.T) {
		t.Parallel()

		rpc := &mockRPC{
			getBalanceFunc: func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
				return &solanarpc.GetBalanceResult{Value: 3_000_000}, nil
			},
		}
		gw := newTestGateway(t, rpc)

		_, err := gw.Transfer(context.Background(), dest, 5_000_000, false)
		require.ErrorIs(t, err, lottery.ErrInsufficientFunds)
		require.Empty(t, rpc.sentAmounts, "no transaction leaves the wallet")
	})

	t.Run("caps to spendable balance net of fee and rent reserve", func(t *testing.T) {
		t.Parallel()

		rpc := &mockRPC{
			getBalanceFunc: func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
				return &solanarpc.GetBalanceResult{Value: 3_000_000}, nil
			},
		}
		gw := newTestGateway(t, rpc)

		receipt, err := gw.Transfer(context.Background(), dest, 5_000_000, true)
		require.NoError(t, err)
		require.Equal(t, int64(995_000), receipt.Lamports, "3_000_000 - 2_000_000 reserve - 5_000 fee")
	})

	t.Run("nothing spendable fails even with cap", func(t *testing.T) {
		t.Parallel()

		rpc := &mockRPC{
			getBalanceFunc: func(context.Context, solana.PublicKey, solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
				return &solanarpc.GetBalanceResult{Value: 2_000_000}, nil
			},
		}
		gw := newTestGateway(t, rpc)

		_, err := gw.Transfer(context.Background(), dest, 1, true)
		require.ErrorIs(t, err, lottery.ErrInsufficientFunds)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		t.Parallel()

		gw := newTestGateway(t, &mockRPC{})

		_, err := gw.Transfer(context.Background(), dest, 0, false)
		require.Error(t, err)

		_, err = gw.Transfer(context.Background(), "not-an-address", 1_000_000, false)
		require.Error(t, err)
	})

	t.Run("send failure surfaces after retries", func(t *testing.T) {
		t.Parallel()

		rpc := &mockRPC{
			sendTransactionFunc: func(context.Context, *solana.Transaction, solanarpc.TransactionOpts) (solana.Signature, error) {
				return solana.Signature{}, errors.New("transaction simulation failed")
			},
		}
		gw := newTestGateway(t, rpc)

		_, err := gw.Transfer(context.Background(), dest, 1_000_000, false)
		require.Error(t, err)
	})
}
