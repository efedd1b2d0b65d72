package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"sorosusu/core/events"
	"sorosusu/core/state"
)

const EventTypeTransfer = events.TypeTransfer

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: amount must be positive")
	ErrSelfTransfer        = errors.New("bank: sender and recipient must differ")
)

// Ledger keeps token balances in the state store. Every transfer commits on
// its own, so a successful call is final regardless of what the caller does
// next.
type Ledger struct {
	store   *state.Store
	mu      sync.Mutex
	emitter events.Emitter
	logger  *slog.Logger
}

// NewLedger returns a ledger over store.
func NewLedger(store *state.Store) *Ledger {
	return &Ledger{store: store, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the transfer event sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// SetLogger configures the ledger logger.
func (l *Ledger) SetLogger(logger *slog.Logger) { l.logger = logger }

func (l *Ledger) log() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(ctx context.Context, token string, from, to [20]byte, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	manager := l.store.Begin()
	defer manager.Discard()
	fromBalance, err := manager.Balance(from, token)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance, amount)
	}
	toBalance, err := manager.Balance(to, token)
	if err != nil {
		return err
	}
	if err := manager.SetBalance(from, token, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := manager.SetBalance(to, token, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	if err := manager.Commit(); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	l.log().Debug("bank transfer", "token", token, "amount", amount.String())
	return nil
}

// Credit mints amount into addr. It is used for genesis balances.
func (l *Ledger) Credit(token string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	manager := l.store.Begin()
	defer manager.Discard()
	balance, err := manager.Balance(addr, token)
	if err != nil {
		return err
	}
	if err := manager.SetBalance(addr, token, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return manager.Commit()
}

// Balance returns the balance of addr.
func (l *Ledger) Balance(token string, addr [20]byte) (*big.Int, error) {
	manager := l.store.Begin()
	defer manager.Discard()
	return manager.Balance(addr, token)
}
