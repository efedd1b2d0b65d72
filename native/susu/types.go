package susu

import (
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultMaxMembers bounds a circle when the creator does not pick a
	// capacity.
	DefaultMaxMembers uint32 = 50
	// PenaltyDivisor yields the 1% late penalty (integer division).
	PenaltyDivisor int64 = 100
)

// PayoutFlags tracks which rotation slots have been paid during the current
// cycle. Its length always equals the number of members in the circle.
type PayoutFlags []bool

// Paid reports whether slot i has received its payout.
func (f PayoutFlags) Paid(i int) bool {
	if i < 0 || i >= len(f) {
		return false
	}
	return f[i]
}

// Count returns the number of paid slots.
func (f PayoutFlags) Count() int {
	n := 0
	for _, paid := range f {
		if paid {
			n++
		}
	}
	return n
}

// All reports whether every slot has been paid. An empty set is complete.
func (f PayoutFlags) All() bool {
	for _, paid := range f {
		if !paid {
			return false
		}
	}
	return true
}

// Reset clears every slot.
func (f PayoutFlags) Reset() {
	for i := range f {
		f[i] = false
	}
}

// Clone copies the flag set.
func (f PayoutFlags) Clone() PayoutFlags {
	if f == nil {
		return PayoutFlags{}
	}
	return append(PayoutFlags(nil), f...)
}

// Circle is the aggregate root of one savings group. Members are stored in
// rotation order: the first to join is the first to be paid unless an early
// payout reorders the queue.
type Circle struct {
	ID                     uint64
	Admin                  [20]byte
	Token                  string
	ContributionAmount     *big.Int
	Members                [][20]byte
	MaxMembers             uint32
	CycleNumber            uint32
	CurrentPayoutIndex     uint32
	PayoutFlags            PayoutFlags
	CycleDuration          uint64
	DeadlineTimestamp      uint64
	TotalVolumeDistributed *big.Int
	RandomQueue            bool
	IsActive               bool
	CreatedAt              uint64
	// AdvancedThisCycle is the total early payout advanced from custody
	// since the cycle began.
	AdvancedThisCycle *big.Int
}

// Clone returns a deep copy of the circle so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Circle) Clone() *Circle {
	if c == nil {
		return nil
	}
	clone := *c
	clone.ContributionAmount = cloneBigInt(c.ContributionAmount)
	clone.TotalVolumeDistributed = cloneBigInt(c.TotalVolumeDistributed)
	clone.AdvancedThisCycle = cloneBigInt(c.AdvancedThisCycle)
	clone.Members = append([][20]byte{}, c.Members...)
	clone.PayoutFlags = c.PayoutFlags.Clone()
	return &clone
}

// MemberIndex returns the rotation slot of addr, or -1 when addr is not a
// member.
func (c *Circle) MemberIndex(addr [20]byte) int {
	if c == nil {
		return -1
	}
	for i, member := range c.Members {
		if member == addr {
			return i
		}
	}
	return -1
}

// IsMember reports whether addr belongs to the circle.
func (c *Circle) IsMember(addr [20]byte) bool { return c.MemberIndex(addr) >= 0 }

// CurrentRecipientIndex returns the first unpaid slot in rotation order, or
// -1 when every member has been paid this cycle.
func (c *Circle) CurrentRecipientIndex() int {
	if c == nil {
		return -1
	}
	for i := range c.Members {
		if !c.PayoutFlags.Paid(i) {
			return i
		}
	}
	return -1
}

// SettlementFor is the amount a settled payout sends to a member: one
// contribution, less anything already advanced to them this cycle.
func (c *Circle) SettlementFor(m *Member) *big.Int {
	if c == nil {
		return big.NewInt(0)
	}
	due := cloneBigInt(c.ContributionAmount)
	if m != nil && m.Advanced != nil {
		due.Sub(due, m.Advanced)
	}
	if due.Sign() < 0 {
		return big.NewInt(0)
	}
	return due
}

// Pot is the full cycle pot: one contribution from every member.
func (c *Circle) Pot() *big.Int {
	pot := cloneBigInt(c.ContributionAmount)
	return pot.Mul(pot, big.NewInt(int64(len(c.Members))))
}

// Member holds the per-(circle, address) contribution statistics.
type Member struct {
	Address              [20]byte
	HasContributed       bool
	ContributionCount    uint64
	LastContributionTime uint64
	NextDeadline         uint64
	JoinedAt             uint64
	// Advanced is the early payout received in the current cycle.
	Advanced *big.Int `rlp:"optional"`
}

// Clone returns a copy of the member record.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Advanced != nil {
		clone.Advanced = new(big.Int).Set(m.Advanced)
	}
	return &clone
}

// EarlyPayoutRequest marks a pending emergency reorder request. Its existence
// is the pending state; approval removes it.
type EarlyPayoutRequest struct {
	CircleID    uint64
	Member      [20]byte
	Cycle       uint32
	RequestedAt uint64
}

// Clone returns a copy of the request.
func (r *EarlyPayoutRequest) Clone() *EarlyPayoutRequest {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// ProtocolConfig is the deployment-wide fee configuration. A zero Admin means
// the protocol has not been initialised; a zero Treasury means none is set.
type ProtocolConfig struct {
	Admin          [20]byte
	FeeBasisPoints uint32
	Treasury       [20]byte
}

// Clone returns a copy of the configuration.
func (p *ProtocolConfig) Clone() *ProtocolConfig {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

// Initialized reports whether an admin has been configured.
func (p *ProtocolConfig) Initialized() bool {
	return p != nil && p.Admin != ([20]byte{})
}

// HasTreasury reports whether a treasury address is configured.
func (p *ProtocolConfig) HasTreasury() bool {
	return p != nil && p.Treasury != ([20]byte{})
}

// CircleParams describes a circle at creation time.
type CircleParams struct {
	ContributionAmount *big.Int
	Token              string
	MaxMembers         uint32
	CycleDuration      uint64
	RandomQueue        bool
}

// CycleInfo summarises the rotation state of the current cycle.
type CycleInfo struct {
	CycleNumber            uint32
	CurrentPayoutIndex     uint32
	TotalVolumeDistributed *big.Int
}

// PayoutSplit reports the transfers issued for a fee-aware payout.
type PayoutSplit struct {
	Gross    *big.Int
	Net      *big.Int
	Fee      *big.Int
	Treasury [20]byte
}

// NormalizeToken trims and upper-cases a token symbol.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("%w: token required", ErrInvalidCircle)
	}
	return trimmed, nil
}

// SanitizeCircle validates the structural invariants of a circle and returns a
// normalised clone with non-nil amounts.
func SanitizeCircle(c *Circle) (*Circle, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil circle", ErrInvalidCircle)
	}
	clone := c.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.ContributionAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: contribution must be positive", ErrInvalidCircle)
	}
	if clone.TotalVolumeDistributed.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative volume", ErrInvalidCircle)
	}
	if clone.AdvancedThisCycle.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative advance", ErrInvalidCircle)
	}
	if len(clone.PayoutFlags) != len(clone.Members) {
		return nil, fmt.Errorf("%w: %d payout flags for %d members", ErrInvalidCircle, len(clone.PayoutFlags), len(clone.Members))
	}
	if uint64(len(clone.Members)) > uint64(clone.MaxMembers) {
		return nil, fmt.Errorf("%w: membership exceeds capacity", ErrInvalidCircle)
	}
	seen := make(map[[20]byte]struct{}, len(clone.Members))
	for _, member := range clone.Members {
		if _, dup := seen[member]; dup {
			return nil, fmt.Errorf("%w: duplicate member", ErrInvalidCircle)
		}
		seen[member] = struct{}{}
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
