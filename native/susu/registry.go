package susu

import (
	"context"
	"fmt"
	"math"
	"math/big"
)

func nextCircleID(tx StateTx) (uint64, error) {
	current, err := tx.SusuCircleCount()
	if err != nil {
		return 0, err
	}
	// The counter saturates instead of wrapping; once saturated no further
	// identifier can be issued without reuse.
	if current == math.MaxUint64 {
		return 0, ErrCircleIDExhausted
	}
	next := current + 1
	if err := tx.SusuSetCircleCount(next); err != nil {
		return 0, err
	}
	return next, nil
}

// CreateCircle registers a new circle administered by creator and returns its
// identifier. Membership starts empty; the creator is not enrolled
// automatically.
func (e *Engine) CreateCircle(ctx context.Context, creator [20]byte, params CircleParams) (uint64, error) {
	var id uint64
	err := e.execute(ctx, "create_circle", func(u *unit) error {
		if err := e.requireAuth(u.ctx, creator); err != nil {
			return err
		}
		token, err := NormalizeToken(params.Token)
		if err != nil {
			return err
		}
		amount := cloneBigInt(params.ContributionAmount)
		if amount.Sign() <= 0 {
			return fmt.Errorf("%w: contribution must be positive", ErrInvalidCircle)
		}
		maxMembers := params.MaxMembers
		if maxMembers == 0 {
			maxMembers = DefaultMaxMembers
		}
		if params.CycleDuration > math.MaxUint64-u.now {
			return fmt.Errorf("%w: cycle duration overflows deadline", ErrInvalidCircle)
		}
		id, err = nextCircleID(u.tx)
		if err != nil {
			return err
		}
		circle := &Circle{
			ID:                     id,
			Admin:                  creator,
			Token:                  token,
			ContributionAmount:     amount,
			Members:                [][20]byte{},
			MaxMembers:             maxMembers,
			CycleNumber:            1,
			CurrentPayoutIndex:     0,
			PayoutFlags:            PayoutFlags{},
			CycleDuration:          params.CycleDuration,
			DeadlineTimestamp:      u.now + params.CycleDuration,
			TotalVolumeDistributed: big.NewInt(0),
			RandomQueue:            params.RandomQueue,
			IsActive:               true,
			CreatedAt:              u.now,
			AdvancedThisCycle:      big.NewInt(0),
		}
		if err := storeCircle(u.tx, circle); err != nil {
			return err
		}
		u.emit(NewCircleCreatedEvent(circle))
		e.log().Info("circle created", "circle", id, "token", token, "contribution", amount.String(), "maxMembers", maxMembers)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Circle returns a copy of the stored circle.
func (e *Engine) Circle(id uint64) (*Circle, error) {
	var circle *Circle
	err := e.view(func(tx StateTx) error {
		var err error
		circle, err = loadCircle(tx, id)
		return err
	})
	return circle, err
}

// CircleCount returns the highest identifier issued so far.
func (e *Engine) CircleCount() (uint64, error) {
	var count uint64
	err := e.view(func(tx StateTx) error {
		var err error
		count, err = tx.SusuCircleCount()
		return err
	})
	return count, err
}

// GetCycleInfo returns (cycle number, payout index, volume distributed).
func (e *Engine) GetCycleInfo(id uint64) (CycleInfo, error) {
	circle, err := e.Circle(id)
	if err != nil {
		return CycleInfo{}, err
	}
	return CycleInfo{
		CycleNumber:            circle.CycleNumber,
		CurrentPayoutIndex:     circle.CurrentPayoutIndex,
		TotalVolumeDistributed: cloneBigInt(circle.TotalVolumeDistributed),
	}, nil
}

// GetPayoutStatus returns the payout flags in rotation order.
func (e *Engine) GetPayoutStatus(id uint64) ([]bool, error) {
	circle, err := e.Circle(id)
	if err != nil {
		return nil, err
	}
	return []bool(circle.PayoutFlags.Clone()), nil
}

// CurrentRecipient returns the member next in line for a payout. The boolean
// is false once everyone has been paid this cycle.
func (e *Engine) CurrentRecipient(id uint64) ([20]byte, bool, error) {
	circle, err := e.Circle(id)
	if err != nil {
		return [20]byte{}, false, err
	}
	idx := circle.CurrentRecipientIndex()
	if idx < 0 {
		return [20]byte{}, false, nil
	}
	return circle.Members[idx], true, nil
}
