package susu

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestCreateCircleAssignsIncreasingIDs(t *testing.T) {
	h := newHarness(t)
	var last uint64
	for i := 0; i < 5; i++ {
		id := h.createCircle(t, 100, 0, 0)
		if id <= last {
			t.Fatalf("expected id greater than %d, got %d", last, id)
		}
		last = id
	}
	count, err := h.engine.CircleCount()
	if err != nil {
		t.Fatalf("circle count: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected count 5, got %d", count)
	}
}

func TestCreateCircleInitialState(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 250, 0, 3600)
	circle, err := h.engine.Circle(id)
	if err != nil {
		t.Fatalf("read circle: %v", err)
	}
	if circle.Admin != h.admin {
		t.Fatalf("unexpected admin %x", circle.Admin)
	}
	if circle.MaxMembers != DefaultMaxMembers {
		t.Fatalf("expected default capacity %d, got %d", DefaultMaxMembers, circle.MaxMembers)
	}
	if circle.CycleNumber != 1 || circle.CurrentPayoutIndex != 0 {
		t.Fatalf("unexpected rotation state %d/%d", circle.CycleNumber, circle.CurrentPayoutIndex)
	}
	if circle.TotalVolumeDistributed.Sign() != 0 {
		t.Fatalf("expected zero volume, got %s", circle.TotalVolumeDistributed)
	}
	if circle.DeadlineTimestamp != uint64(h.now)+3600 {
		t.Fatalf("expected deadline now+duration, got %d", circle.DeadlineTimestamp)
	}
	if len(circle.Members) != 0 || len(circle.PayoutFlags) != 0 {
		t.Fatalf("expected empty membership")
	}
	if !circle.IsActive {
		t.Fatalf("expected new circle to be active")
	}
	created := h.eventsOfType(EventTypeCircleCreated)
	if len(created) != 1 || created[0].Attr("circleId") != "1" {
		t.Fatalf("expected one created event for circle 1, got %+v", created)
	}
}

func TestCreateCircleRejectsInvalidParams(t *testing.T) {
	h := newHarness(t)
	cases := []CircleParams{
		{ContributionAmount: big.NewInt(0), Token: testToken},
		{ContributionAmount: big.NewInt(-5), Token: testToken},
		{ContributionAmount: nil, Token: testToken},
		{ContributionAmount: big.NewInt(10), Token: "  "},
		{ContributionAmount: big.NewInt(10), Token: testToken, CycleDuration: math.MaxUint64},
	}
	for i, params := range cases {
		if _, err := h.engine.CreateCircle(asCaller(h.admin), h.admin, params); !errors.Is(err, ErrInvalidCircle) {
			t.Fatalf("case %d: expected ErrInvalidCircle, got %v", i, err)
		}
	}
	count, _ := h.engine.CircleCount()
	if count != 0 {
		t.Fatalf("rejected creations must not consume identifiers, count=%d", count)
	}
}

func TestCreateCircleRequiresCreatorAuth(t *testing.T) {
	h := newHarness(t)
	impostor := newTestAddress(0xEE)
	_, err := h.engine.CreateCircle(asCaller(impostor), h.admin, CircleParams{ContributionAmount: big.NewInt(10), Token: testToken})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCreateCircleStopsAtSaturatedCounter(t *testing.T) {
	h := newHarness(t)
	h.backend.data.count = math.MaxUint64
	_, err := h.engine.CreateCircle(asCaller(h.admin), h.admin, CircleParams{ContributionAmount: big.NewInt(10), Token: testToken})
	if !errors.Is(err, ErrCircleIDExhausted) {
		t.Fatalf("expected ErrCircleIDExhausted, got %v", err)
	}
	if h.backend.data.count != math.MaxUint64 {
		t.Fatalf("counter must not wrap, got %d", h.backend.data.count)
	}
}

func TestReadMissingCircle(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Circle(42); !errors.Is(err, ErrCircleNotFound) {
		t.Fatalf("expected ErrCircleNotFound, got %v", err)
	}
	if _, err := h.engine.GetCycleInfo(42); !errors.Is(err, ErrCircleNotFound) {
		t.Fatalf("expected ErrCircleNotFound from cycle info, got %v", err)
	}
	if _, err := h.engine.GetPayoutStatus(42); !errors.Is(err, ErrCircleNotFound) {
		t.Fatalf("expected ErrCircleNotFound from payout status, got %v", err)
	}
}

func TestJoinCircleEnforcesMaxMembers(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, DefaultMaxMembers, 0)
	all := testMembers(int(DefaultMaxMembers) + 1)
	h.join(t, id, all[:DefaultMaxMembers]...)

	extra := all[DefaultMaxMembers]
	if err := h.engine.JoinCircle(asCaller(extra), extra, id); !errors.Is(err, ErrMaxMembersReached) {
		t.Fatalf("expected ErrMaxMembersReached, got %v", err)
	}
	circle, err := h.engine.Circle(id)
	if err != nil {
		t.Fatalf("read circle: %v", err)
	}
	if len(circle.Members) != int(DefaultMaxMembers) {
		t.Fatalf("expected %d members, got %d", DefaultMaxMembers, len(circle.Members))
	}
	if len(circle.PayoutFlags) != len(circle.Members) {
		t.Fatalf("payout flags out of sync with membership")
	}
}

func TestJoinCircleRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	m := newTestAddress(0x01)
	h.join(t, id, m)
	if err := h.engine.JoinCircle(asCaller(m), m, id); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestJoinCirclePreservesJoinOrder(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 60)
	ms := testMembers(3)
	h.join(t, id, ms...)
	circle, _ := h.engine.Circle(id)
	for i, m := range ms {
		if circle.Members[i] != m {
			t.Fatalf("slot %d: expected %x, got %x", i, m, circle.Members[i])
		}
	}
	record, err := h.engine.Member(id, ms[0])
	if err != nil {
		t.Fatalf("member record: %v", err)
	}
	if record.HasContributed || record.ContributionCount != 0 || record.NextDeadline != circle.DeadlineTimestamp {
		t.Fatalf("unexpected initial member record %+v", record)
	}
	recipient, ok, err := h.engine.CurrentRecipient(id)
	if err != nil || !ok || recipient != ms[0] {
		t.Fatalf("expected first joiner as current recipient, got %x ok=%v err=%v", recipient, ok, err)
	}
}

func TestJoinCircleRequiresSelfEnrollment(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	victim := newTestAddress(0x02)
	if err := h.engine.JoinCircle(asCaller(h.admin), victim, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestJoinMissingCircle(t *testing.T) {
	h := newHarness(t)
	m := newTestAddress(0x01)
	if err := h.engine.JoinCircle(asCaller(m), m, 9); !errors.Is(err, ErrCircleNotFound) {
		t.Fatalf("expected ErrCircleNotFound, got %v", err)
	}
}
