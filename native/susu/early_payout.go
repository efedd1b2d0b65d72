package susu

import (
	"context"
	"fmt"
	"math/big"
)

// RequestEarlyPayout records an emergency request by member to be paid ahead
// of the rotation. At most one request per member may be pending.
func (e *Engine) RequestEarlyPayout(ctx context.Context, member [20]byte, circleID uint64) error {
	return e.execute(ctx, "request_early_payout", func(u *unit) error {
		if err := e.requireAuth(u.ctx, member); err != nil {
			return err
		}
		circle, err := loadCircle(u.tx, circleID)
		if err != nil {
			return err
		}
		if !circle.IsMember(member) {
			return fmt.Errorf("%w: not a circle member", ErrUnauthorized)
		}
		_, pending, err := u.tx.SusuEarlyPayoutGet(circleID, member)
		if err != nil {
			return err
		}
		if pending {
			return ErrDuplicateEarlyPayoutRequest
		}
		req := &EarlyPayoutRequest{
			CircleID:    circleID,
			Member:      member,
			Cycle:       circle.CycleNumber,
			RequestedAt: u.now,
		}
		if err := u.tx.SusuEarlyPayoutPut(req); err != nil {
			return err
		}
		u.emit(NewEarlyPayoutRequestedEvent(req))
		e.log().Info("early payout requested", "circle", circleID, "member", formatAddress(member), "cycle", circle.CycleNumber)
		return nil
	})
}

// ApproveEarlyPayout moves member into the slot of the current recipient by
// swapping their rotation positions, clears the pending request, and advances
// the contributions collected so far this cycle, less whatever earlier
// approvals already advanced, to member. Payout flags travel with their
// members, so no one is marked paid; ProcessPayout is still required.
func (e *Engine) ApproveEarlyPayout(ctx context.Context, admin [20]byte, circleID uint64, member [20]byte) error {
	return e.execute(ctx, "approve_early_payout", func(u *unit) error {
		circle, err := loadCircle(u.tx, circleID)
		if err != nil {
			return err
		}
		if err := e.requireAdmin(u, circle, admin); err != nil {
			return err
		}
		_, pending, err := u.tx.SusuEarlyPayoutGet(circleID, member)
		if err != nil {
			return err
		}
		if !pending {
			return ErrNoPendingEarlyPayoutRequest
		}
		memberIdx := circle.MemberIndex(member)
		if memberIdx < 0 {
			return fmt.Errorf("%w: not a circle member", ErrUnauthorized)
		}
		if circle.PayoutFlags.Paid(memberIdx) {
			return ErrDuplicatePayout
		}
		recipientIdx := circle.CurrentRecipientIndex()
		if recipientIdx == memberIdx {
			return ErrAlreadyRecipient
		}
		displaced := circle.Members[recipientIdx]
		// TODO: the swap also moves the displaced member behind everyone
		// between the two slots; confirm with product whether a shift is wanted.
		circle.Members[recipientIdx], circle.Members[memberIdx] = circle.Members[memberIdx], circle.Members[recipientIdx]
		circle.PayoutFlags[recipientIdx], circle.PayoutFlags[memberIdx] = circle.PayoutFlags[memberIdx], circle.PayoutFlags[recipientIdx]

		collected, err := collectedContributions(u.tx, circle)
		if err != nil {
			return err
		}
		// Only deposits not yet advanced to an earlier approval are paid out.
		advance := new(big.Int).Sub(collected, cloneBigInt(circle.AdvancedThisCycle))
		if advance.Sign() < 0 {
			advance.SetInt64(0)
		}
		if advance.Sign() > 0 {
			record, ok, err := u.tx.SusuMemberGet(circleID, member)
			if err != nil {
				return err
			}
			if !ok {
				record = &Member{Address: member}
			}
			record = record.Clone()
			record.Advanced = new(big.Int).Add(cloneBigInt(record.Advanced), advance)
			if err := u.tx.SusuMemberPut(circleID, record); err != nil {
				return err
			}
			circle.AdvancedThisCycle = new(big.Int).Add(cloneBigInt(circle.AdvancedThisCycle), advance)
		}
		if err := storeCircle(u.tx, circle); err != nil {
			return err
		}
		if err := u.tx.SusuEarlyPayoutDelete(circleID, member); err != nil {
			return err
		}
		if advance.Sign() > 0 {
			if err := e.ensureCustody(); err != nil {
				return err
			}
			if err := e.transfer(u, circle.Token, e.custody, member, advance); err != nil {
				return err
			}
		}
		u.emit(NewEarlyPayoutApprovedEvent(circle, member, displaced, memberIdx, recipientIdx, advance))
		e.log().Info("early payout approved",
			"circle", circleID,
			"member", formatAddress(member),
			"displaced", formatAddress(displaced),
			"from", memberIdx,
			"to", recipientIdx,
			"advanced", advance.String(),
		)
		return nil
	})
}

// PendingEarlyPayout returns the pending request of addr, if any.
func (e *Engine) PendingEarlyPayout(circleID uint64, addr [20]byte) (*EarlyPayoutRequest, bool, error) {
	var (
		req     *EarlyPayoutRequest
		pending bool
	)
	err := e.view(func(tx StateTx) error {
		if _, err := loadCircle(tx, circleID); err != nil {
			return err
		}
		record, ok, err := tx.SusuEarlyPayoutGet(circleID, addr)
		if err != nil {
			return err
		}
		req, pending = record.Clone(), ok
		return nil
	})
	return req, pending, err
}

// collectedContributions sums the contribution amount over every member that
// has deposited in the current cycle.
func collectedContributions(tx StateTx, circle *Circle) (*big.Int, error) {
	total := big.NewInt(0)
	for _, addr := range circle.Members {
		record, ok, err := tx.SusuMemberGet(circle.ID, addr)
		if err != nil {
			return nil, err
		}
		if ok && record.HasContributed {
			total.Add(total, circle.ContributionAmount)
		}
	}
	return total, nil
}
