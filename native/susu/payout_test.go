package susu

import (
	"errors"
	"math/big"
	"testing"
)

func TestPayoutCycleAndRollover(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 100, 0, 0)
	ms := testMembers(3)
	h.join(t, id, ms...)

	for i, m := range ms {
		if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, m); err != nil {
			t.Fatalf("payout %d: %v", i, err)
		}
		if i < len(ms)-1 && len(h.eventsOfType(EventTypeCycleCompleted)) != 0 {
			t.Fatalf("cycle completed before the last payout")
		}
	}

	info, err := h.engine.GetCycleInfo(id)
	if err != nil {
		t.Fatalf("cycle info: %v", err)
	}
	if info.CycleNumber != 1 || info.CurrentPayoutIndex != 3 || info.TotalVolumeDistributed.Int64() != 300 {
		t.Fatalf("unexpected cycle info %+v", info)
	}
	completed := h.eventsOfType(EventTypeCycleCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected one cycle completed event, got %d", len(completed))
	}
	if completed[0].Attr("circleId") != "1" || completed[0].Attr("totalVolumeDistributed") != "300" {
		t.Fatalf("unexpected cycle completed attributes %+v", completed[0].Attributes)
	}
	status, err := h.engine.GetPayoutStatus(id)
	if err != nil {
		t.Fatalf("payout status: %v", err)
	}
	for i, paid := range status {
		if !paid {
			t.Fatalf("member %d not marked paid", i)
		}
	}
	if _, ok, _ := h.engine.CurrentRecipient(id); ok {
		t.Fatalf("no recipient expected once everyone is paid")
	}

	h.recorder.Reset()
	if err := h.engine.RolloverGroup(asCaller(h.admin), h.admin, id); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	info, _ = h.engine.GetCycleInfo(id)
	if info.CycleNumber != 2 || info.CurrentPayoutIndex != 0 || info.TotalVolumeDistributed.Sign() != 0 {
		t.Fatalf("unexpected cycle info after rollover %+v", info)
	}
	if len(h.recorder.Events()) != 1 {
		t.Fatalf("expected only the rollover event, got %d", len(h.recorder.Events()))
	}
	rolled := h.eventsOfType(EventTypeGroupRollover)
	if len(rolled) != 1 || rolled[0].Attr("newCycleNumber") != "2" {
		t.Fatalf("unexpected rollover events %+v", rolled)
	}
	status, _ = h.engine.GetPayoutStatus(id)
	if len(status) != 3 {
		t.Fatalf("rollover must keep membership, got %d flags", len(status))
	}
	for i, paid := range status {
		if paid {
			t.Fatalf("flag %d not reset", i)
		}
	}
}

func TestRolloverResetsContributions(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 100, 0, 60)
	ms := testMembers(2)
	h.join(t, id, ms...)
	h.fund(ms...)
	for _, m := range ms {
		if err := h.engine.Deposit(asCaller(m), m, id); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, m); err != nil {
			t.Fatalf("payout: %v", err)
		}
	}
	before, _ := h.engine.Circle(id)
	if err := h.engine.RolloverGroup(asCaller(h.admin), h.admin, id); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	after, _ := h.engine.Circle(id)
	if after.DeadlineTimestamp != before.DeadlineTimestamp+60 {
		t.Fatalf("expected deadline advanced by one cycle, got %d", after.DeadlineTimestamp)
	}
	for _, m := range ms {
		record, err := h.engine.Member(id, m)
		if err != nil {
			t.Fatalf("member: %v", err)
		}
		if record.HasContributed {
			t.Fatalf("contribution flag must reset on rollover")
		}
		if record.ContributionCount != 1 {
			t.Fatalf("contribution count must survive rollover, got %d", record.ContributionCount)
		}
		if err := h.engine.Deposit(asCaller(m), m, id); err != nil {
			t.Fatalf("deposit in next cycle: %v", err)
		}
	}
}

func TestRolloverBeforeCycleComplete(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	ms := testMembers(2)
	h.join(t, id, ms...)
	if err := h.engine.RolloverGroup(asCaller(h.admin), h.admin, id); !errors.Is(err, ErrCycleNotComplete) {
		t.Fatalf("expected ErrCycleNotComplete, got %v", err)
	}
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, ms[0]); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if err := h.engine.RolloverGroup(asCaller(h.admin), h.admin, id); !errors.Is(err, ErrCycleNotComplete) {
		t.Fatalf("expected ErrCycleNotComplete with one payout pending, got %v", err)
	}
	info, _ := h.engine.GetCycleInfo(id)
	if info.CycleNumber != 1 {
		t.Fatalf("failed rollover changed the cycle to %d", info.CycleNumber)
	}
}

func TestRolloverRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	m := newTestAddress(0x01)
	h.join(t, id, m)
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, m); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if err := h.engine.RolloverGroup(asCaller(m), m, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestDuplicatePayout(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	ms := testMembers(2)
	h.join(t, id, ms...)
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, ms[0]); err != nil {
		t.Fatalf("payout: %v", err)
	}
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, ms[0]); !errors.Is(err, ErrDuplicatePayout) {
		t.Fatalf("expected ErrDuplicatePayout, got %v", err)
	}
	info, _ := h.engine.GetCycleInfo(id)
	if info.CurrentPayoutIndex != 1 || info.TotalVolumeDistributed.Int64() != 10 {
		t.Fatalf("duplicate payout altered state %+v", info)
	}
}

func TestPayoutRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	m := newTestAddress(0x01)
	h.join(t, id, m)
	if err := h.engine.ProcessPayout(asCaller(m), m, id, m); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	// Claiming to be the admin without holding its identity fails too.
	if err := h.engine.ProcessPayout(asCaller(m), h.admin, id, m); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for forged caller, got %v", err)
	}
	status, _ := h.engine.GetPayoutStatus(id)
	if status[0] {
		t.Fatalf("unauthorised payout marked member paid")
	}
}

func TestPayoutRejectsNonMemberRecipient(t *testing.T) {
	h := newHarness(t)
	id := h.createCircle(t, 10, 0, 0)
	h.join(t, id, newTestAddress(0x01))
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, newTestAddress(0x77)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPayoutMissingCircle(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, 3, newTestAddress(0x01)); !errors.Is(err, ErrCircleNotFound) {
		t.Fatalf("expected ErrCircleNotFound, got %v", err)
	}
}

func TestPayoutSettlementAppliesProtocolFee(t *testing.T) {
	h := newHarness(t)
	treasury := newTestAddress(0x7E)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 250, &treasury); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	h.engine.SetPayoutSettlement(true)

	id := h.createCircle(t, 1000, 0, 0)
	ms := testMembers(4)
	h.join(t, id, ms...)
	h.fund(ms...)
	for _, m := range ms {
		if err := h.engine.Deposit(asCaller(m), m, id); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, ms[0]); err != nil {
		t.Fatalf("payout: %v", err)
	}
	// One contribution of 1000 at 2.5% leaves 975 net and 25 fee.
	if got := h.bank.balance(testToken, ms[0]).Int64(); got != 1_000_000-1000+975 {
		t.Fatalf("unexpected recipient balance %d", got)
	}
	if got := h.bank.balance(testToken, treasury).Int64(); got != 25 {
		t.Fatalf("unexpected treasury balance %d", got)
	}
	if got := h.bank.balance(testToken, h.custody).Int64(); got != 3000 {
		t.Fatalf("expected 3000 left in custody, got %d", got)
	}
}

func TestSettledCycleCompletesAndRollsOver(t *testing.T) {
	h := newHarness(t)
	h.engine.SetPayoutSettlement(true)
	id := h.createCircle(t, 100, 0, 0)
	ms := testMembers(3)
	h.join(t, id, ms...)
	h.fund(ms...)

	for cycle := 1; cycle <= 2; cycle++ {
		for _, m := range ms {
			if err := h.engine.Deposit(asCaller(m), m, id); err != nil {
				t.Fatalf("cycle %d deposit: %v", cycle, err)
			}
		}
		for i, m := range ms {
			if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, m); err != nil {
				t.Fatalf("cycle %d payout %d: %v", cycle, i, err)
			}
		}
		info, err := h.engine.GetCycleInfo(id)
		if err != nil {
			t.Fatalf("cycle info: %v", err)
		}
		if info.CurrentPayoutIndex != 3 || info.TotalVolumeDistributed.Int64() != 300 {
			t.Fatalf("cycle %d: unexpected cycle info %+v", cycle, info)
		}
		if got := h.bank.balance(testToken, h.custody).Sign(); got != 0 {
			t.Fatalf("cycle %d: custody should pay out exactly what it took in", cycle)
		}
		if err := h.engine.RolloverGroup(asCaller(h.admin), h.admin, id); err != nil {
			t.Fatalf("cycle %d rollover: %v", cycle, err)
		}
	}
	for _, m := range ms {
		if got := h.bank.balance(testToken, m).Int64(); got != 1_000_000 {
			t.Fatalf("each member should net zero over full cycles, got %d", got)
		}
	}
}

func TestSettlementNetsEarlyAdvance(t *testing.T) {
	h := newHarness(t)
	h.engine.SetPayoutSettlement(true)
	id := h.createCircle(t, 100, 0, 0)
	ms := testMembers(3)
	h.join(t, id, ms...)
	h.fund(ms...)
	if err := h.engine.Deposit(asCaller(ms[0]), ms[0], id); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.engine.RequestEarlyPayout(asCaller(ms[2]), ms[2], id); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := h.engine.ApproveEarlyPayout(asCaller(h.admin), h.admin, id, ms[2]); err != nil {
		t.Fatalf("approve: %v", err)
	}
	for _, m := range ms[1:] {
		if err := h.engine.Deposit(asCaller(m), m, id); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	// ms[2] already received its 100 as an advance; the settled payout sends nothing more.
	if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, ms[2]); err != nil {
		t.Fatalf("payout advanced member: %v", err)
	}
	if got := h.bank.balance(testToken, ms[2]).Int64(); got != 1_000_000 {
		t.Fatalf("advanced member should not be paid twice, balance %d", got)
	}
	for _, m := range ms[:2] {
		if err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, m); err != nil {
			t.Fatalf("payout: %v", err)
		}
	}
	if got := h.bank.balance(testToken, h.custody).Sign(); got != 0 {
		t.Fatalf("custody should be drained, sign=%d", got)
	}
	if err := h.engine.RolloverGroup(asCaller(h.admin), h.admin, id); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	record, err := h.engine.Member(id, ms[2])
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if record.Advanced != nil && record.Advanced.Sign() != 0 {
		t.Fatalf("rollover should clear the advance, got %s", record.Advanced)
	}
}

func TestPayoutSettlementFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	h.engine.SetPayoutSettlement(true)
	id := h.createCircle(t, 1000, 0, 0)
	m := newTestAddress(0x01)
	h.join(t, id, m)

	err := h.engine.ProcessPayout(asCaller(h.admin), h.admin, id, m)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance from empty custody, got %v", err)
	}
	status, _ := h.engine.GetPayoutStatus(id)
	if status[0] {
		t.Fatalf("failed settlement must not mark the member paid")
	}
	if len(h.eventsOfType(EventTypePayoutProcessed)) != 0 {
		t.Fatalf("failed settlement must not emit events")
	}
}

func TestComputeAndTransferPayoutSplitsFee(t *testing.T) {
	h := newHarness(t)
	treasury := newTestAddress(0x7E)
	source := newTestAddress(0x50)
	recipient := newTestAddress(0x51)
	h.bank.credit(testToken, source, 10_000)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 100, &treasury); err != nil {
		t.Fatalf("set fee: %v", err)
	}

	split, err := h.engine.ComputeAndTransferPayout(asCaller(h.admin), "usdc", source, recipient, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if split.Net.Int64() != 9900 || split.Fee.Int64() != 100 || split.Treasury != treasury {
		t.Fatalf("unexpected split %+v", split)
	}
	if got := h.bank.balance(testToken, recipient).Int64(); got != 9900 {
		t.Fatalf("unexpected recipient balance %d", got)
	}
	if got := h.bank.balance(testToken, treasury).Int64(); got != 100 {
		t.Fatalf("unexpected treasury balance %d", got)
	}
	if len(h.bank.calls) != 2 || h.bank.calls[0].to != recipient || h.bank.calls[1].to != treasury {
		t.Fatalf("expected net transfer before fee transfer, got %+v", h.bank.calls)
	}
}

func TestComputeAndTransferPayoutWithoutFee(t *testing.T) {
	h := newHarness(t)
	source := newTestAddress(0x50)
	recipient := newTestAddress(0x51)
	h.bank.credit(testToken, source, 500)

	split, err := h.engine.ComputeAndTransferPayout(asCaller(h.admin), testToken, source, recipient, big.NewInt(500))
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	if split.Net.Int64() != 500 || split.Fee.Sign() != 0 {
		t.Fatalf("unexpected split %+v", split)
	}
	if len(h.bank.calls) != 1 {
		t.Fatalf("zero fee must not be transferred, calls=%d", len(h.bank.calls))
	}
}

func TestComputeAndTransferPayoutFeeFailureKeepsNet(t *testing.T) {
	h := newHarness(t)
	treasury := newTestAddress(0x7E)
	source := newTestAddress(0x50)
	recipient := newTestAddress(0x51)
	h.bank.credit(testToken, source, 1000)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 1000, &treasury); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	h.bank.failTo[treasury] = errors.New("treasury frozen")

	_, err := h.engine.ComputeAndTransferPayout(asCaller(h.admin), testToken, source, recipient, big.NewInt(1000))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := h.bank.balance(testToken, recipient).Int64(); got != 900 {
		t.Fatalf("net transfer is issued before the fee, expected 900, got %d", got)
	}
	if h.bank.balance(testToken, treasury).Sign() != 0 {
		t.Fatalf("treasury must not be credited")
	}
}
