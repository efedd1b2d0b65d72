package bank

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"sorosusu/core/events"
	"sorosusu/core/state"
	"sorosusu/storage"
)

func newTestLedger() (*Ledger, *events.Recorder) {
	ledger := NewLedger(state.NewStore(storage.NewMemDB()))
	recorder := &events.Recorder{}
	ledger.SetEmitter(recorder)
	return ledger, recorder
}

func TestTransferMovesBalance(t *testing.T) {
	ledger, recorder := newTestLedger()
	from, to := [20]byte{1}, [20]byte{2}
	if err := ledger.Credit("USDC", from, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := ledger.Transfer(context.Background(), "usdc", from, to, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	fromBal, _ := ledger.Balance("USDC", from)
	toBal, _ := ledger.Balance("USDC", to)
	if fromBal.Int64() != 60 || toBal.Int64() != 40 {
		t.Fatalf("unexpected balances from=%s to=%s", fromBal, toBal)
	}
	transfers := recorder.OfType(EventTypeTransfer)
	if len(transfers) != 1 {
		t.Fatalf("expected one transfer event, got %d", len(transfers))
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	ledger, recorder := newTestLedger()
	from, to := [20]byte{1}, [20]byte{2}
	if err := ledger.Credit("USDC", from, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := ledger.Transfer(context.Background(), "USDC", from, to, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	fromBal, _ := ledger.Balance("USDC", from)
	if fromBal.Int64() != 10 {
		t.Fatalf("failed transfer changed balance to %s", fromBal)
	}
	if len(recorder.Events()) != 0 {
		t.Fatalf("failed transfer emitted events")
	}
}

func TestTransferValidation(t *testing.T) {
	ledger, _ := newTestLedger()
	a := [20]byte{1}
	if err := ledger.Transfer(context.Background(), "USDC", a, [20]byte{2}, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Transfer(context.Background(), "USDC", a, a, big.NewInt(1)); !errors.Is(err, ErrSelfTransfer) {
		t.Fatalf("expected ErrSelfTransfer, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ledger.Transfer(ctx, "USDC", a, [20]byte{2}, big.NewInt(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := ledger.Credit("USDC", a, big.NewInt(-3)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on negative credit, got %v", err)
	}
}

func TestBalancesAreScopedByToken(t *testing.T) {
	ledger, _ := newTestLedger()
	a := [20]byte{1}
	if err := ledger.Credit("USDC", a, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	other, err := ledger.Balance("EURC", a)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if other.Sign() != 0 {
		t.Fatalf("expected zero balance in other token, got %s", other)
	}
}
