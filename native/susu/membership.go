package susu

import (
	"context"
)

// JoinCircle enrols member at the end of the rotation. The member must be the
// authenticated caller.
func (e *Engine) JoinCircle(ctx context.Context, member [20]byte, circleID uint64) error {
	return e.execute(ctx, "join_circle", func(u *unit) error {
		if err := e.requireAuth(u.ctx, member); err != nil {
			return err
		}
		circle, err := loadCircle(u.tx, circleID)
		if err != nil {
			return err
		}
		if circle.IsMember(member) {
			return ErrAlreadyJoined
		}
		if uint64(len(circle.Members)) >= uint64(circle.MaxMembers) {
			return ErrMaxMembersReached
		}
		circle.Members = append(circle.Members, member)
		circle.PayoutFlags = append(circle.PayoutFlags, false)
		record := &Member{
			Address:      member,
			NextDeadline: circle.DeadlineTimestamp,
			JoinedAt:     u.now,
		}
		if err := storeCircle(u.tx, circle); err != nil {
			return err
		}
		if err := u.tx.SusuMemberPut(circleID, record); err != nil {
			return err
		}
		position := len(circle.Members) - 1
		u.emit(NewMemberJoinedEvent(circle, member, position))
		e.log().Info("member joined circle", "circle", circleID, "member", formatAddress(member), "position", position)
		return nil
	})
}

// Member returns the contribution record of addr in the circle.
func (e *Engine) Member(circleID uint64, addr [20]byte) (*Member, error) {
	var member *Member
	err := e.view(func(tx StateTx) error {
		if _, err := loadCircle(tx, circleID); err != nil {
			return err
		}
		record, ok, err := tx.SusuMemberGet(circleID, addr)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnauthorized
		}
		member = record.Clone()
		return nil
	})
	return member, err
}
