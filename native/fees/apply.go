package fees

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

// MaxBasisPoints is the denominator used for all basis-point computations.
const MaxBasisPoints uint32 = 10_000

var (
	ErrBasisPointsOutOfRange = errors.New("fees: basis points out of range")
	ErrNegativeAmount        = errors.New("fees: negative amount")
	ErrAmountOverflow        = errors.New("fees: amount exceeds 256 bits")
)

// Split captures the result of applying a protocol fee to a gross payout.
type Split struct {
	Gross *big.Int
	Net   *big.Int
	Fee   *big.Int
	Bps   uint32
}

// Clone returns a deep copy of the split so callers can mutate it safely.
func (s Split) Clone() Split {
	clone := Split{Bps: s.Bps}
	if s.Gross != nil {
		clone.Gross = new(big.Int).Set(s.Gross)
	}
	if s.Net != nil {
		clone.Net = new(big.Int).Set(s.Net)
	}
	if s.Fee != nil {
		clone.Fee = new(big.Int).Set(s.Fee)
	}
	return clone
}

// ValidateBasisPoints reports whether bps is a usable fee rate.
func ValidateBasisPoints(bps uint32) error {
	if bps > MaxBasisPoints {
		return ErrBasisPointsOutOfRange
	}
	return nil
}

// Apply computes fee = floor(gross * bps / 10_000) and net = gross - fee.
// The multiplication is carried out in 512-bit intermediate precision so the
// result is exact for every 256-bit gross amount.
func Apply(gross *big.Int, bps uint32) (Split, error) {
	if err := ValidateBasisPoints(bps); err != nil {
		return Split{}, err
	}
	amount := big.NewInt(0)
	if gross != nil {
		amount = new(big.Int).Set(gross)
	}
	if amount.Sign() < 0 {
		return Split{}, ErrNegativeAmount
	}
	result := Split{Gross: amount, Net: new(big.Int).Set(amount), Fee: big.NewInt(0), Bps: bps}
	if amount.Sign() == 0 || bps == 0 {
		return result, nil
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return Split{}, ErrAmountOverflow
	}
	fee, _ := new(uint256.Int).MulDivOverflow(value, uint256.NewInt(uint64(bps)), uint256.NewInt(uint64(MaxBasisPoints)))
	result.Fee = fee.ToBig()
	result.Net = new(big.Int).Sub(amount, result.Fee)
	return result, nil
}
