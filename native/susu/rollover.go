package susu

import (
	"context"
	"fmt"
	"math"
	"math/big"
)

// RolloverGroup starts the next cycle once every member has been paid. The
// cycle counter advances by exactly one while payout flags, the payout index,
// the distributed volume, early payout advances and every member's
// contribution flag are reset. Member deadlines never trail the circle's.
func (e *Engine) RolloverGroup(ctx context.Context, caller [20]byte, circleID uint64) error {
	return e.execute(ctx, "rollover_group", func(u *unit) error {
		circle, err := loadCircle(u.tx, circleID)
		if err != nil {
			return err
		}
		if err := e.requireAdmin(u, circle, caller); err != nil {
			return err
		}
		if !circle.PayoutFlags.All() {
			return ErrCycleNotComplete
		}
		if circle.CycleNumber == math.MaxUint32 {
			return fmt.Errorf("%w: cycle counter exhausted", ErrInvalidCircle)
		}
		circle.CycleNumber++
		circle.CurrentPayoutIndex = 0
		circle.PayoutFlags.Reset()
		circle.TotalVolumeDistributed = big.NewInt(0)
		if circle.DeadlineTimestamp > math.MaxUint64-circle.CycleDuration {
			circle.DeadlineTimestamp = math.MaxUint64
		} else {
			circle.DeadlineTimestamp += circle.CycleDuration
		}
		circle.AdvancedThisCycle = big.NewInt(0)
		for _, addr := range circle.Members {
			record, ok, err := u.tx.SusuMemberGet(circleID, addr)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			record = record.Clone()
			record.HasContributed = false
			record.Advanced = nil
			// members who skipped the cycle are judged against the new deadline
			if record.NextDeadline < circle.DeadlineTimestamp {
				record.NextDeadline = circle.DeadlineTimestamp
			}
			if err := u.tx.SusuMemberPut(circleID, record); err != nil {
				return err
			}
		}
		if err := storeCircle(u.tx, circle); err != nil {
			return err
		}
		u.emit(NewGroupRolloverEvent(circle))
		e.log().Info("circle rolled over", "circle", circleID, "cycle", circle.CycleNumber)
		return nil
	})
}
