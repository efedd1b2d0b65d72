package susu

import (
	"context"
	"fmt"
	"math"
	"math/big"
)

// latePenalty returns the 1% penalty owed by a contribution made after
// deadline. Circles without a cycle duration have no deadline.
func latePenalty(circle *Circle, deadline, now uint64) *big.Int {
	if circle.CycleDuration == 0 || now <= deadline {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(cloneBigInt(circle.ContributionAmount), big.NewInt(PenaltyDivisor))
}

// Deposit records member's contribution for the current cycle and moves the
// contribution amount from the member to the custody account. A deposit after
// the member's deadline accrues a penalty to the circle's group reserve.
func (e *Engine) Deposit(ctx context.Context, member [20]byte, circleID uint64) error {
	return e.execute(ctx, "deposit", func(u *unit) error {
		if err := e.requireAuth(u.ctx, member); err != nil {
			return err
		}
		circle, err := loadCircle(u.tx, circleID)
		if err != nil {
			return err
		}
		record, ok, err := u.tx.SusuMemberGet(circleID, member)
		if err != nil {
			return err
		}
		if !ok || !circle.IsMember(member) {
			return fmt.Errorf("%w: not a circle member", ErrUnauthorized)
		}
		record = record.Clone()
		if record.HasContributed {
			return ErrAlreadyContributed
		}
		if err := e.ensureCustody(); err != nil {
			return err
		}

		deadline := record.NextDeadline
		if deadline < circle.DeadlineTimestamp {
			deadline = circle.DeadlineTimestamp
		}
		penalty := latePenalty(circle, deadline, u.now)
		if penalty.Sign() > 0 {
			reserve, err := u.tx.SusuReserveGet(circleID)
			if err != nil {
				return err
			}
			reserve = new(big.Int).Add(cloneBigInt(reserve), penalty)
			if err := u.tx.SusuReservePut(circleID, reserve); err != nil {
				return err
			}
		}

		record.HasContributed = true
		record.ContributionCount++
		record.LastContributionTime = u.now
		if deadline > math.MaxUint64-circle.CycleDuration {
			record.NextDeadline = math.MaxUint64
		} else {
			record.NextDeadline = deadline + circle.CycleDuration
		}
		if err := u.tx.SusuMemberPut(circleID, record); err != nil {
			return err
		}
		if err := u.tx.SusuDepositMarkerPut(circleID, member); err != nil {
			return err
		}
		if err := e.transfer(u, circle.Token, member, e.custody, circle.ContributionAmount); err != nil {
			return err
		}
		u.emit(NewContributionDepositedEvent(circle, record, penalty))
		e.log().Info("contribution deposited",
			"circle", circleID,
			"member", formatAddress(member),
			"cycle", circle.CycleNumber,
			"late", penalty.Sign() > 0,
			"penalty", penalty.String(),
		)
		return nil
	})
}

// GroupReserve returns the penalties accrued by the circle.
func (e *Engine) GroupReserve(circleID uint64) (*big.Int, error) {
	var reserve *big.Int
	err := e.view(func(tx StateTx) error {
		if _, err := loadCircle(tx, circleID); err != nil {
			return err
		}
		amount, err := tx.SusuReserveGet(circleID)
		if err != nil {
			return err
		}
		reserve = cloneBigInt(amount)
		return nil
	})
	return reserve, err
}

// HasDeposited reports the legacy deposit marker: whether addr has ever made
// an accepted deposit into the circle.
func (e *Engine) HasDeposited(circleID uint64, addr [20]byte) (bool, error) {
	var marked bool
	err := e.view(func(tx StateTx) error {
		if _, err := loadCircle(tx, circleID); err != nil {
			return err
		}
		var err error
		marked, err = tx.SusuDepositMarkerHas(circleID, addr)
		return err
	})
	return marked, err
}
