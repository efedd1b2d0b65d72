package susu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"sorosusu/core/events"
	"sorosusu/core/types"
)

var errNilState = errors.New("susu engine: state not configured")

// StateTx is one isolated unit of work against the keyed store. Writes become
// visible to other units only after Commit; Discard drops them.
type StateTx interface {
	SusuCircleCount() (uint64, error)
	SusuSetCircleCount(count uint64) error
	SusuCircleGet(id uint64) (*Circle, bool, error)
	SusuCirclePut(circle *Circle) error
	SusuMemberGet(id uint64, addr [20]byte) (*Member, bool, error)
	SusuMemberPut(id uint64, member *Member) error
	SusuEarlyPayoutGet(id uint64, addr [20]byte) (*EarlyPayoutRequest, bool, error)
	SusuEarlyPayoutPut(req *EarlyPayoutRequest) error
	SusuEarlyPayoutDelete(id uint64, addr [20]byte) error
	SusuReserveGet(id uint64) (*big.Int, error)
	SusuReservePut(id uint64, amount *big.Int) error
	SusuDepositMarkerPut(id uint64, addr [20]byte) error
	SusuDepositMarkerHas(id uint64, addr [20]byte) (bool, error)
	SusuProtocolGet() (*ProtocolConfig, bool, error)
	SusuProtocolPut(cfg *ProtocolConfig) error
	Commit() error
	Discard()
}

// Backend opens units of work.
type Backend interface {
	BeginSusu() (StateTx, error)
}

// Transferer moves value between accounts. It either transfers the full
// amount or fails without effect.
type Transferer interface {
	Transfer(ctx context.Context, token string, from, to [20]byte, amount *big.Int) error
}

// Authenticator verifies that the invoking identity carried by ctx controls
// the claimed address. Implementations must fail closed.
type Authenticator interface {
	RequireAuth(ctx context.Context, addr [20]byte) error
}

type susuEvent struct {
	evt *types.Event
}

func (e susuEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e susuEvent) Event() *types.Event { return e.evt }

// Engine implements the circle state machine. Every public operation runs as
// one unit of work: preconditions are checked, the in-memory copy is mutated
// and written to the unit, external transfers are issued, and only then is the
// unit committed and its events published. Any failure discards the unit.
//
// The engine holds no locks; the host must serialise invocations.
type Engine struct {
	backend Backend
	bank    Transferer
	auth    Authenticator
	emitter events.Emitter
	logger  *slog.Logger
	custody [20]byte
	settle  bool
	nowFn   func() int64
}

// NewEngine creates an engine with a no-op emitter and the wall clock.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the keyed store backend.
func (e *Engine) SetState(backend Backend) { e.backend = backend }

// SetTransferer configures the value-transfer primitive.
func (e *Engine) SetTransferer(bank Transferer) { e.bank = bank }

// SetAuthenticator configures the caller authentication primitive. Without
// one every authenticated operation fails with ErrUnauthorized.
func (e *Engine) SetAuthenticator(auth Authenticator) { e.auth = auth }

// SetCustodyAddress configures the account holding pooled contributions.
func (e *Engine) SetCustodyAddress(addr [20]byte) { e.custody = addr }

// CustodyAddress returns the configured custody account.
func (e *Engine) CustodyAddress() [20]byte { return e.custody }

// SetPayoutSettlement toggles whether ProcessPayout transfers the pot from
// custody to the recipient (net of protocol fees) in addition to bookkeeping.
func (e *Engine) SetPayoutSettlement(enabled bool) { e.settle = enabled }

// SetLogger configures the structured logger. Nil falls back to slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(susuEvent{evt: event})
}

func (e *Engine) log() *slog.Logger {
	if e == nil || e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

func (e *Engine) now() uint64 {
	var now int64
	if e == nil || e.nowFn == nil {
		now = time.Now().Unix()
	} else {
		now = e.nowFn()
	}
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// unit is the per-call working set: the open state transaction plus the
// events that will be published once it commits.
type unit struct {
	ctx    context.Context
	tx     StateTx
	now    uint64
	events []*types.Event
}

func (u *unit) emit(evt *types.Event) { u.events = append(u.events, evt) }

func (e *Engine) execute(ctx context.Context, op string, fn func(*unit) error) error {
	if e == nil || e.backend == nil {
		return errNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := e.backend.BeginSusu()
	if err != nil {
		return err
	}
	u := &unit{ctx: ctx, tx: tx, now: e.now()}
	if err := fn(u); err != nil {
		tx.Discard()
		e.log().Debug("susu operation rejected", "op", op, "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		e.log().Error("susu commit failed", "op", op, "error", err)
		return fmt.Errorf("susu: commit %s: %w", op, err)
	}
	for _, evt := range u.events {
		e.emit(evt)
	}
	return nil
}

// view runs a read-only unit; its writes, if any, are always discarded.
func (e *Engine) view(fn func(StateTx) error) error {
	if e == nil || e.backend == nil {
		return errNilState
	}
	tx, err := e.backend.BeginSusu()
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(tx)
}

func (e *Engine) requireAuth(ctx context.Context, addr [20]byte) error {
	if e == nil || e.auth == nil {
		return fmt.Errorf("%w: no authenticator configured", ErrUnauthorized)
	}
	if addr == ([20]byte{}) {
		return fmt.Errorf("%w: empty caller", ErrUnauthorized)
	}
	if err := e.auth.RequireAuth(ctx, addr); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

func (e *Engine) transfer(u *unit, token string, from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("susu: negative transfer amount")
	}
	if e.bank == nil {
		return fmt.Errorf("%w: transfer primitive not configured", ErrInsufficientAllowance)
	}
	if err := e.bank.Transfer(u.ctx, token, from, to, amt); err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientAllowance, err)
	}
	return nil
}

func (e *Engine) ensureCustody() error {
	if e.custody == ([20]byte{}) {
		return ErrCustodyNotConfigured
	}
	return nil
}

func loadCircle(tx StateTx, id uint64) (*Circle, error) {
	circle, ok, err := tx.SusuCircleGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || circle == nil {
		return nil, ErrCircleNotFound
	}
	return circle.Clone(), nil
}

func storeCircle(tx StateTx, circle *Circle) error {
	sanitized, err := SanitizeCircle(circle)
	if err != nil {
		return err
	}
	return tx.SusuCirclePut(sanitized)
}

func (e *Engine) requireAdmin(u *unit, circle *Circle, caller [20]byte) error {
	if err := e.requireAuth(u.ctx, caller); err != nil {
		return err
	}
	if circle.Admin != caller {
		return fmt.Errorf("%w: caller is not the circle admin", ErrUnauthorized)
	}
	return nil
}
