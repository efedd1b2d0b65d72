package rpc

import (
	"math/big"
	"time"

	"sorosusu/crypto"
	"sorosusu/integrations/archive"
	"sorosusu/native/susu"
)

func formatAddress(addr [20]byte) string { return crypto.AddressFromArray(addr).String() }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type createCircleRequest struct {
	Token              string `json:"token"`
	ContributionAmount string `json:"contributionAmount"`
	MaxMembers         uint32 `json:"maxMembers,omitempty"`
	CycleDuration      uint64 `json:"cycleDuration,omitempty"`
	RandomQueue        bool   `json:"randomQueue,omitempty"`
}

type processPayoutRequest struct {
	Recipient string `json:"recipient"`
}

type setProtocolFeeRequest struct {
	FeeBasisPoints uint32  `json:"feeBasisPoints"`
	Treasury       *string `json:"treasury,omitempty"`
}

type CircleResponse struct {
	ID                     uint64   `json:"id"`
	Admin                  string   `json:"admin"`
	Token                  string   `json:"token"`
	ContributionAmount     string   `json:"contributionAmount"`
	Members                []string `json:"members"`
	MaxMembers             uint32   `json:"maxMembers"`
	CycleNumber            uint32   `json:"cycleNumber"`
	CurrentPayoutIndex     uint32   `json:"currentPayoutIndex"`
	PayoutStatus           []bool   `json:"payoutStatus"`
	CurrentRecipient       string   `json:"currentRecipient,omitempty"`
	CycleDuration          uint64   `json:"cycleDuration"`
	DeadlineTimestamp      uint64   `json:"deadlineTimestamp"`
	TotalVolumeDistributed string   `json:"totalVolumeDistributed"`
	RandomQueue            bool     `json:"randomQueue"`
	IsActive               bool     `json:"isActive"`
	CreatedAt              uint64   `json:"createdAt"`
}

func circleResponseFrom(c *susu.Circle) CircleResponse {
	members := make([]string, len(c.Members))
	status := make([]bool, len(c.Members))
	for i, m := range c.Members {
		members[i] = formatAddress(m)
		status[i] = c.PayoutFlags.Paid(i)
	}
	resp := CircleResponse{
		ID:                     c.ID,
		Admin:                  formatAddress(c.Admin),
		Token:                  c.Token,
		ContributionAmount:     formatAmount(c.ContributionAmount),
		Members:                members,
		MaxMembers:             c.MaxMembers,
		CycleNumber:            c.CycleNumber,
		CurrentPayoutIndex:     c.CurrentPayoutIndex,
		PayoutStatus:           status,
		CycleDuration:          c.CycleDuration,
		DeadlineTimestamp:      c.DeadlineTimestamp,
		TotalVolumeDistributed: formatAmount(c.TotalVolumeDistributed),
		RandomQueue:            c.RandomQueue,
		IsActive:               c.IsActive,
		CreatedAt:              c.CreatedAt,
	}
	if idx := c.CurrentRecipientIndex(); idx >= 0 {
		resp.CurrentRecipient = members[idx]
	}
	return resp
}

type CycleInfoResponse struct {
	CycleNumber            uint32 `json:"cycleNumber"`
	CurrentPayoutIndex     uint32 `json:"currentPayoutIndex"`
	TotalVolumeDistributed string `json:"totalVolumeDistributed"`
}

type MemberResponse struct {
	Address              string `json:"address"`
	HasContributed       bool   `json:"hasContributed"`
	ContributionCount    uint64 `json:"contributionCount"`
	LastContributionTime uint64 `json:"lastContributionTime"`
	NextDeadline         uint64 `json:"nextDeadline"`
	JoinedAt             uint64 `json:"joinedAt"`
	HasDeposited         bool   `json:"hasDeposited"`
	EarlyPayoutPending   bool   `json:"earlyPayoutPending"`
}

type ProtocolResponse struct {
	Initialized    bool   `json:"initialized"`
	Admin          string `json:"admin,omitempty"`
	FeeBasisPoints uint32 `json:"feeBasisPoints"`
	Treasury       string `json:"treasury,omitempty"`
}

func protocolResponseFrom(cfg *susu.ProtocolConfig) ProtocolResponse {
	resp := ProtocolResponse{}
	if cfg == nil {
		return resp
	}
	resp.FeeBasisPoints = cfg.FeeBasisPoints
	if cfg.Initialized() {
		resp.Initialized = true
		resp.Admin = formatAddress(cfg.Admin)
	}
	if cfg.HasTreasury() {
		resp.Treasury = formatAddress(cfg.Treasury)
	}
	return resp
}

type EventResponse struct {
	Sequence   int64             `json:"sequence,omitempty"`
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt *time.Time        `json:"recordedAt,omitempty"`
}

func eventResponseFromRecord(record archive.Record) (EventResponse, error) {
	evt, err := record.Event()
	if err != nil {
		return EventResponse{}, err
	}
	recorded := record.RecordedAt
	return EventResponse{
		Sequence:   record.Sequence,
		ID:         record.ID.String(),
		Type:       evt.Type,
		Attributes: evt.Attributes,
		RecordedAt: &recorded,
	}, nil
}

type EventsResponse struct {
	Events []EventResponse `json:"events"`
	Next   int64           `json:"next"`
}
