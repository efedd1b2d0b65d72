package susu

import (
	"math/big"
	"strconv"

	"sorosusu/core/types"
	"sorosusu/crypto"
)

const (
	EventTypeCircleCreated         = "susu.circle.created"
	EventTypeMemberJoined          = "susu.member.joined"
	EventTypeContributionDeposited = "susu.contribution.deposited"
	EventTypePayoutProcessed       = "susu.payout.processed"
	EventTypeCycleCompleted        = "susu.cycle.completed"
	EventTypeGroupRollover         = "susu.group.rollover"
	EventTypeEarlyPayoutRequested  = "susu.early_payout.requested"
	EventTypeEarlyPayoutApproved   = "susu.early_payout.approved"
	EventTypeProtocolInitialized   = "susu.protocol.initialized"
	EventTypeProtocolFeeUpdated    = "susu.protocol.fee_updated"
)

// NewCircleCreatedEvent returns the canonical payload for a newly created
// circle.
func NewCircleCreatedEvent(c *Circle) *types.Event {
	attrs := circleAttrs(c)
	if c != nil {
		attrs["admin"] = formatAddress(c.Admin)
		attrs["token"] = c.Token
		attrs["contributionAmount"] = cloneBigInt(c.ContributionAmount).String()
		attrs["maxMembers"] = strconv.FormatUint(uint64(c.MaxMembers), 10)
		attrs["cycleDuration"] = strconv.FormatUint(c.CycleDuration, 10)
		attrs["deadline"] = strconv.FormatUint(c.DeadlineTimestamp, 10)
		attrs["randomQueue"] = strconv.FormatBool(c.RandomQueue)
	}
	return &types.Event{Type: EventTypeCircleCreated, Attributes: attrs}
}

// NewMemberJoinedEvent is emitted when a member is admitted; position is the
// member's rotation slot.
func NewMemberJoinedEvent(c *Circle, member [20]byte, position int) *types.Event {
	attrs := circleAttrs(c)
	attrs["member"] = formatAddress(member)
	attrs["position"] = strconv.Itoa(position)
	return &types.Event{Type: EventTypeMemberJoined, Attributes: attrs}
}

// NewContributionDepositedEvent is emitted for every accepted deposit.
func NewContributionDepositedEvent(c *Circle, m *Member, penalty *big.Int) *types.Event {
	attrs := circleAttrs(c)
	if c != nil {
		attrs["token"] = c.Token
		attrs["amount"] = cloneBigInt(c.ContributionAmount).String()
	}
	if m != nil {
		attrs["member"] = formatAddress(m.Address)
		attrs["contributionCount"] = strconv.FormatUint(m.ContributionCount, 10)
	}
	p := cloneBigInt(penalty)
	attrs["late"] = strconv.FormatBool(p.Sign() > 0)
	attrs["penalty"] = p.String()
	return &types.Event{Type: EventTypeContributionDeposited, Attributes: attrs}
}

// NewPayoutProcessedEvent is emitted when a member is marked paid.
func NewPayoutProcessedEvent(c *Circle, recipient [20]byte) *types.Event {
	attrs := circleAttrs(c)
	attrs["recipient"] = formatAddress(recipient)
	if c != nil {
		attrs["currentPayoutIndex"] = strconv.FormatUint(uint64(c.CurrentPayoutIndex), 10)
		attrs["totalVolumeDistributed"] = cloneBigInt(c.TotalVolumeDistributed).String()
	}
	return &types.Event{Type: EventTypePayoutProcessed, Attributes: attrs}
}

// NewCycleCompletedEvent is emitted once every member of the cycle has been
// paid.
func NewCycleCompletedEvent(c *Circle) *types.Event {
	attrs := circleAttrs(c)
	if c != nil {
		attrs["totalVolumeDistributed"] = cloneBigInt(c.TotalVolumeDistributed).String()
	}
	return &types.Event{Type: EventTypeCycleCompleted, Attributes: attrs}
}

// NewGroupRolloverEvent is emitted after the cycle counter advances.
func NewGroupRolloverEvent(c *Circle) *types.Event {
	attrs := circleAttrs(c)
	if c != nil {
		attrs["newCycleNumber"] = strconv.FormatUint(uint64(c.CycleNumber), 10)
	}
	return &types.Event{Type: EventTypeGroupRollover, Attributes: attrs}
}

// NewEarlyPayoutRequestedEvent is emitted when a member asks to be paid early.
func NewEarlyPayoutRequestedEvent(req *EarlyPayoutRequest) *types.Event {
	attrs := make(map[string]string)
	if req != nil {
		attrs["circleId"] = strconv.FormatUint(req.CircleID, 10)
		attrs["member"] = formatAddress(req.Member)
		attrs["cycleNumber"] = strconv.FormatUint(uint64(req.Cycle), 10)
	}
	return &types.Event{Type: EventTypeEarlyPayoutRequested, Attributes: attrs}
}

// NewEarlyPayoutApprovedEvent records the swap of two rotation slots and the
// amount advanced to the member.
func NewEarlyPayoutApprovedEvent(c *Circle, member, displaced [20]byte, from, to int, advanced *big.Int) *types.Event {
	attrs := circleAttrs(c)
	attrs["member"] = formatAddress(member)
	attrs["displaced"] = formatAddress(displaced)
	attrs["fromPosition"] = strconv.Itoa(from)
	attrs["toPosition"] = strconv.Itoa(to)
	attrs["advanced"] = cloneBigInt(advanced).String()
	return &types.Event{Type: EventTypeEarlyPayoutApproved, Attributes: attrs}
}

// NewProtocolInitializedEvent is emitted once when the protocol admin is set.
func NewProtocolInitializedEvent(cfg *ProtocolConfig) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["admin"] = formatAddress(cfg.Admin)
	}
	return &types.Event{Type: EventTypeProtocolInitialized, Attributes: attrs}
}

// NewProtocolFeeUpdatedEvent is emitted when the admin changes the fee.
func NewProtocolFeeUpdatedEvent(cfg *ProtocolConfig) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["feeBasisPoints"] = strconv.FormatUint(uint64(cfg.FeeBasisPoints), 10)
		if cfg.HasTreasury() {
			attrs["treasury"] = formatAddress(cfg.Treasury)
		}
	}
	return &types.Event{Type: EventTypeProtocolFeeUpdated, Attributes: attrs}
}

func circleAttrs(c *Circle) map[string]string {
	attrs := make(map[string]string)
	if c == nil {
		return attrs
	}
	attrs["circleId"] = strconv.FormatUint(c.ID, 10)
	attrs["cycleNumber"] = strconv.FormatUint(uint64(c.CycleNumber), 10)
	return attrs
}

func formatAddress(addr [20]byte) string { return crypto.AddressFromArray(addr).String() }
