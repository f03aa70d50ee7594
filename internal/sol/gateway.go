package sol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	solanarpc "github.com/gagliardetto/solana-go/rpc"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/retry"
)

const (
	// LamportsPerSOL is the lamport denomination of one SOL.
	LamportsPerSOL = int64(solana.LAMPORTS_PER_SOL)

	// rentReserveLamports stays in the operator wallet so the account never
	// drops below rent exemption. 0.002 SOL.
	rentReserveLamports = 2_000_000

	// txFeeLamports is the flat fee budgeted per transfer transaction.
	txFeeLamports = 5_000
)

// LamportsToSOL converts lamports to SOL for display.
func LamportsToSOL(lamports int64) float64 {
	return float64(lamports) / float64(LamportsPerSOL)
}

// SOLToLamports converts a SOL amount to lamports, rounding down.
func SOLToLamports(sol float64) int64 {
	return int64(sol * float64(LamportsPerSOL))
}

// RPC is the slice of the Solana JSON-RPC client the gateway needs.
type RPC interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error)
}

type GatewayConfig struct {
	Logger *slog.Logger
	RPC    RPC
	// OperatorKey signs and funds every transfer.
	OperatorKey solana.PrivateKey
	Retry       retry.Config
}

func (cfg *GatewayConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("rpc client is required")
	}
	if len(cfg.OperatorKey) == 0 {
		return errors.New("operator key is required")
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Gateway executes lamport transfers from the operator wallet over Solana
// JSON-RPC. It keeps a rent-exempt reserve in the wallet and can cap a
// transfer to the spendable balance instead of failing it.
type Gateway struct {
	log      *slog.Logger
	cfg      GatewayConfig
	operator solana.PublicKey
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		log:      cfg.Logger,
		cfg:      cfg,
		operator: cfg.OperatorKey.PublicKey(),
	}, nil
}

// NewGatewayFromEndpoint dials the given RPC endpoint and parses the base58
// operator secret key.
func NewGatewayFromEndpoint(log *slog.Logger, endpoint, operatorSecretKey string) (*Gateway, error) {
	key, err := solana.PrivateKeyFromBase58(operatorSecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse operator secret key: %w", err)
	}
	return NewGateway(GatewayConfig{
		Logger:      log,
		RPC:         solanarpc.New(endpoint),
		OperatorKey: key,
	})
}

// Operator returns the operator wallet's public address.
func (g *Gateway) Operator() string {
	return g.operator.String()
}

// Balance returns the lamport balance of an address at confirmed commitment.
func (g *Gateway) Balance(ctx context.Context, address string) (int64, error) {
	pubkey, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", address, err)
	}

	var balance int64
	err = retry.Do(ctx, g.cfg.Retry, func() error {
		res, err := g.cfg.RPC.GetBalance(ctx, pubkey, solanarpc.CommitmentConfirmed)
		if err != nil {
			return fmt.Errorf("failed to get balance: %w", err)
		}
		balance = int64(res.Value)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Transfer sends lamports from the operator wallet to destination. The
// spendable balance excludes the transaction fee and the rent-exempt reserve.
// With capToAvailable set, a short balance reduces the transfer to whatever is
// spendable; otherwise it fails with ErrInsufficientFunds before any send.
func (g *Gateway) Transfer(ctx context.Context, destination string, lamports int64, capToAvailable bool) (*lottery.Receipt, error) {
	return g.transfer(ctx, g.cfg.OperatorKey, destination, lamports, capToAvailable)
}

// TransferFrom sends lamports from an arbitrary custodial wallet, signing
// with its key. Used for ticket payments and withdrawals. The transfer never
// caps: the caller asked for an exact amount.
func (g *Gateway) TransferFrom(ctx context.Context, key solana.PrivateKey, destination string, lamports int64) (*lottery.Receipt, error) {
	return g.transfer(ctx, key, destination, lamports, false)
}

func (g *Gateway) transfer(ctx context.Context, key solana.PrivateKey, destination string, lamports int64, capToAvailable bool) (*lottery.Receipt, error) {
	if lamports <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", lamports)
	}
	source := key.PublicKey()
	dest, err := solana.PublicKeyFromBase58(destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination %q: %w", destination, err)
	}

	balance, err := g.Balance(ctx, source.String())
	if err != nil {
		return nil, err
	}
	spendable := balance - rentReserveLamports - txFeeLamports

	amount := lamports
	if spendable < amount {
		if !capToAvailable || spendable <= 0 {
			return nil, fmt.Errorf("%w: need %d lamports, %d spendable",
				lottery.ErrInsufficientFunds, amount, max(spendable, 0))
		}
		g.log.Warn("gateway: capping transfer to spendable balance",
			"destination", destination, "requested", amount, "spendable", spendable)
		amount = spendable
	}

	var sig solana.Signature
	err = retry.Do(ctx, g.cfg.Retry, func() error {
		recent, err := g.cfg.RPC.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		if err != nil {
			return fmt.Errorf("failed to get latest blockhash: %w", err)
		}

		tx, err := solana.NewTransaction(
			[]solana.Instruction{
				system.NewTransferInstruction(uint64(amount), source, dest).Build(),
			},
			recent.Value.Blockhash,
			solana.TransactionPayer(source),
		)
		if err != nil {
			return fmt.Errorf("failed to build transaction: %w", err)
		}

		_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
			if pub.Equals(source) {
				return &key
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to sign transaction: %w", err)
		}

		sig, err = g.cfg.RPC.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			PreflightCommitment: solanarpc.CommitmentConfirmed,
		})
		if err != nil {
			return fmt.Errorf("failed to send transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	g.log.Info("gateway: transfer sent",
		"destination", destination, "lamports", amount, "signature", sig.String())
	return &lottery.Receipt{
		Signature: sig.String(),
		Lamports:  amount,
	}, nil
}
