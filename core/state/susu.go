package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"sorosusu/native/susu"
)

var (
	susuCircleCountKey  = []byte("susu/circle-count")
	susuProtocolKey     = []byte("susu/protocol")
	susuCirclePrefix    = []byte("susu/circle/")
	susuMemberPrefix    = []byte("susu/member/")
	susuRequestPrefix   = []byte("susu/early-payout/")
	susuReservePrefix   = []byte("susu/reserve/")
	susuDepositedPrefix = []byte("susu/deposited/")
)

func circleIDBytes(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return buf[:]
}

func susuCircleKey(id uint64) []byte { return prefixedKey(susuCirclePrefix, circleIDBytes(id)) }

func susuMemberKey(id uint64, addr [20]byte) []byte {
	return prefixedKey(susuMemberPrefix, circleIDBytes(id), addr[:])
}

func susuRequestKey(id uint64, addr [20]byte) []byte {
	return prefixedKey(susuRequestPrefix, circleIDBytes(id), addr[:])
}

func susuReserveKey(id uint64) []byte { return prefixedKey(susuReservePrefix, circleIDBytes(id)) }

func susuDepositedKey(id uint64, addr [20]byte) []byte {
	return prefixedKey(susuDepositedPrefix, circleIDBytes(id), addr[:])
}

type storedCircle struct {
	ID                     uint64
	Admin                  [20]byte
	Token                  string
	ContributionAmount     *big.Int
	Members                [][20]byte
	MaxMembers             uint32
	CycleNumber            uint32
	CurrentPayoutIndex     uint32
	PayoutFlags            []bool
	CycleDuration          uint64
	DeadlineTimestamp      uint64
	TotalVolumeDistributed *big.Int
	RandomQueue            bool
	IsActive               bool
	CreatedAt              uint64
	AdvancedThisCycle      *big.Int `rlp:"optional"`
}

func newStoredCircle(c *susu.Circle) *storedCircle {
	return &storedCircle{
		ID:                     c.ID,
		Admin:                  c.Admin,
		Token:                  c.Token,
		ContributionAmount:     nonNil(c.ContributionAmount),
		Members:                append([][20]byte{}, c.Members...),
		MaxMembers:             c.MaxMembers,
		CycleNumber:            c.CycleNumber,
		CurrentPayoutIndex:     c.CurrentPayoutIndex,
		PayoutFlags:            append([]bool{}, c.PayoutFlags...),
		CycleDuration:          c.CycleDuration,
		DeadlineTimestamp:      c.DeadlineTimestamp,
		TotalVolumeDistributed: nonNil(c.TotalVolumeDistributed),
		RandomQueue:            c.RandomQueue,
		IsActive:               c.IsActive,
		CreatedAt:              c.CreatedAt,
		AdvancedThisCycle:      nonNil(c.AdvancedThisCycle),
	}
}

func (s *storedCircle) toCircle() *susu.Circle {
	return &susu.Circle{
		ID:                     s.ID,
		Admin:                  s.Admin,
		Token:                  s.Token,
		ContributionAmount:     nonNil(s.ContributionAmount),
		Members:                append([][20]byte{}, s.Members...),
		MaxMembers:             s.MaxMembers,
		CycleNumber:            s.CycleNumber,
		CurrentPayoutIndex:     s.CurrentPayoutIndex,
		PayoutFlags:            append(susu.PayoutFlags{}, s.PayoutFlags...),
		CycleDuration:          s.CycleDuration,
		DeadlineTimestamp:      s.DeadlineTimestamp,
		TotalVolumeDistributed: nonNil(s.TotalVolumeDistributed),
		RandomQueue:            s.RandomQueue,
		IsActive:               s.IsActive,
		CreatedAt:              s.CreatedAt,
		AdvancedThisCycle:      nonNil(s.AdvancedThisCycle),
	}
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// BeginSusu opens a unit of work for the circle engine.
func (s *Store) BeginSusu() (susu.StateTx, error) {
	return s.Begin(), nil
}

// SusuCircleCount returns the last issued circle identifier.
func (m *Manager) SusuCircleCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(susuCircleCountKey, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// SusuSetCircleCount stores the last issued circle identifier.
func (m *Manager) SusuSetCircleCount(count uint64) error {
	return m.KVPut(susuCircleCountKey, count)
}

// SusuCircleGet loads a circle.
func (m *Manager) SusuCircleGet(id uint64) (*susu.Circle, bool, error) {
	var stored storedCircle
	ok, err := m.getDecoded(susuCircleKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	circle, err := susu.SanitizeCircle(stored.toCircle())
	if err != nil {
		return nil, false, fmt.Errorf("state: circle %d: %w", id, err)
	}
	return circle, true, nil
}

// SusuCirclePut stores a validated circle.
func (m *Manager) SusuCirclePut(circle *susu.Circle) error {
	if circle == nil {
		return fmt.Errorf("state: nil circle")
	}
	sanitized, err := susu.SanitizeCircle(circle)
	if err != nil {
		return err
	}
	return m.putEncoded(susuCircleKey(sanitized.ID), newStoredCircle(sanitized))
}

// SusuMemberGet loads the contribution record of addr.
func (m *Manager) SusuMemberGet(id uint64, addr [20]byte) (*susu.Member, bool, error) {
	var member susu.Member
	ok, err := m.getDecoded(susuMemberKey(id, addr), &member)
	if err != nil || !ok {
		return nil, false, err
	}
	return &member, true, nil
}

// SusuMemberPut stores a contribution record.
func (m *Manager) SusuMemberPut(id uint64, member *susu.Member) error {
	if member == nil {
		return fmt.Errorf("state: nil member")
	}
	return m.putEncoded(susuMemberKey(id, member.Address), member)
}

// SusuEarlyPayoutGet loads a pending request.
func (m *Manager) SusuEarlyPayoutGet(id uint64, addr [20]byte) (*susu.EarlyPayoutRequest, bool, error) {
	var req susu.EarlyPayoutRequest
	ok, err := m.getDecoded(susuRequestKey(id, addr), &req)
	if err != nil || !ok {
		return nil, false, err
	}
	return &req, true, nil
}

// SusuEarlyPayoutPut stores a pending request.
func (m *Manager) SusuEarlyPayoutPut(req *susu.EarlyPayoutRequest) error {
	if req == nil {
		return fmt.Errorf("state: nil early payout request")
	}
	return m.putEncoded(susuRequestKey(req.CircleID, req.Member), req)
}

// SusuEarlyPayoutDelete clears a pending request.
func (m *Manager) SusuEarlyPayoutDelete(id uint64, addr [20]byte) error {
	return m.delete(susuRequestKey(id, addr))
}

// SusuReserveGet returns the accrued penalties of a circle.
func (m *Manager) SusuReserveGet(id uint64) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.getDecoded(susuReserveKey(id), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SusuReservePut stores the accrued penalties of a circle.
func (m *Manager) SusuReservePut(id uint64, amount *big.Int) error {
	amt := nonNil(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative reserve")
	}
	return m.putEncoded(susuReserveKey(id), amt)
}

// SusuDepositMarkerPut records that addr has deposited into the circle.
func (m *Manager) SusuDepositMarkerPut(id uint64, addr [20]byte) error {
	return m.putEncoded(susuDepositedKey(id, addr), true)
}

// SusuDepositMarkerHas reports the deposit marker.
func (m *Manager) SusuDepositMarkerHas(id uint64, addr [20]byte) (bool, error) {
	var marked bool
	ok, err := m.getDecoded(susuDepositedKey(id, addr), &marked)
	if err != nil {
		return false, err
	}
	return ok && marked, nil
}

// SusuProtocolGet loads the protocol fee configuration.
func (m *Manager) SusuProtocolGet() (*susu.ProtocolConfig, bool, error) {
	var cfg susu.ProtocolConfig
	ok, err := m.KVGet(susuProtocolKey, &cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return &cfg, true, nil
}

// SusuProtocolPut stores the protocol fee configuration.
func (m *Manager) SusuProtocolPut(cfg *susu.ProtocolConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil protocol config")
	}
	return m.KVPut(susuProtocolKey, cfg)
}
