package susu

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"sorosusu/native/fees"
)

// ProcessPayout marks recipient as paid for the current cycle. Only the circle
// admin may call it, and each member can be paid at most once per cycle. When
// payout settlement is enabled the contribution amount recorded in the volume
// is also transferred from custody, less any early payout already advanced to
// recipient this cycle and net of the protocol fee.
func (e *Engine) ProcessPayout(ctx context.Context, caller [20]byte, circleID uint64, recipient [20]byte) error {
	return e.execute(ctx, "process_payout", func(u *unit) error {
		circle, err := loadCircle(u.tx, circleID)
		if err != nil {
			return err
		}
		if err := e.requireAdmin(u, circle, caller); err != nil {
			return err
		}
		idx := circle.MemberIndex(recipient)
		if idx < 0 {
			return fmt.Errorf("%w: recipient is not a circle member", ErrUnauthorized)
		}
		if circle.PayoutFlags.Paid(idx) {
			return ErrDuplicatePayout
		}
		circle.PayoutFlags[idx] = true
		circle.CurrentPayoutIndex++
		circle.TotalVolumeDistributed = new(big.Int).Add(cloneBigInt(circle.TotalVolumeDistributed), circle.ContributionAmount)
		if err := storeCircle(u.tx, circle); err != nil {
			return err
		}
		if e.settle {
			if err := e.ensureCustody(); err != nil {
				return err
			}
			record, _, err := u.tx.SusuMemberGet(circleID, recipient)
			if err != nil {
				return err
			}
			if due := circle.SettlementFor(record); due.Sign() > 0 {
				if _, err := e.payoutTransfers(u, circle.Token, e.custody, recipient, due); err != nil {
					return err
				}
			}
		}
		u.emit(NewPayoutProcessedEvent(circle, recipient))
		if circle.PayoutFlags.All() {
			u.emit(NewCycleCompletedEvent(circle))
		}
		e.log().Info("payout processed",
			"circle", circleID,
			"recipient", formatAddress(recipient),
			"cycle", circle.CycleNumber,
			"paid", circle.PayoutFlags.Count(),
			"members", len(circle.Members),
		)
		return nil
	})
}

// ComputeAndTransferPayout splits gross into net and protocol fee, sends the
// net amount to recipient and the fee to the treasury. The two transfers are
// not atomic with each other: if the fee transfer fails the net transfer has
// already been issued.
func (e *Engine) ComputeAndTransferPayout(ctx context.Context, token string, from, recipient [20]byte, gross *big.Int) (PayoutSplit, error) {
	var split PayoutSplit
	err := e.execute(ctx, "compute_and_transfer_payout", func(u *unit) error {
		normalized, err := NormalizeToken(token)
		if err != nil {
			return err
		}
		split, err = e.payoutTransfers(u, normalized, from, recipient, gross)
		return err
	})
	if err != nil {
		return PayoutSplit{}, err
	}
	return split, nil
}

func (e *Engine) payoutTransfers(u *unit, token string, from, recipient [20]byte, gross *big.Int) (PayoutSplit, error) {
	cfg, _, err := u.tx.SusuProtocolGet()
	if err != nil {
		return PayoutSplit{}, err
	}
	var bps uint32
	var treasury [20]byte
	if cfg != nil {
		bps = cfg.FeeBasisPoints
		treasury = cfg.Treasury
	}
	result, err := fees.Apply(gross, bps)
	if err != nil {
		if errors.Is(err, fees.ErrBasisPointsOutOfRange) {
			return PayoutSplit{}, fmt.Errorf("%w: %w", ErrInvalidFeeConfig, err)
		}
		return PayoutSplit{}, err
	}
	if result.Fee.Sign() > 0 && treasury == ([20]byte{}) {
		return PayoutSplit{}, fmt.Errorf("%w: fee treasury not configured", ErrInvalidFeeConfig)
	}
	if err := e.transfer(u, token, from, recipient, result.Net); err != nil {
		return PayoutSplit{}, err
	}
	if result.Fee.Sign() > 0 {
		if err := e.transfer(u, token, from, treasury, result.Fee); err != nil {
			e.log().Error("protocol fee transfer failed after net payout",
				"token", token,
				"recipient", formatAddress(recipient),
				"net", result.Net.String(),
				"fee", result.Fee.String(),
				"error", err,
			)
			return PayoutSplit{}, err
		}
	}
	return PayoutSplit{Gross: result.Gross, Net: result.Net, Fee: result.Fee, Treasury: treasury}, nil
}
