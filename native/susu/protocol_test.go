package susu

import (
	"errors"
	"math/big"
	"testing"
)

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	other := newTestAddress(0x42)
	if err := h.engine.Initialize(asCaller(other), other); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	cfg, err := h.engine.ProtocolConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Admin != h.admin || cfg.FeeBasisPoints != 0 || cfg.HasTreasury() {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestSetProtocolFeeBounds(t *testing.T) {
	h := newHarness(t)
	treasury := newTestAddress(0x7E)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 10_001, &treasury); !errors.Is(err, ErrInvalidFeeConfig) {
		t.Fatalf("expected ErrInvalidFeeConfig for 10001, got %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 10_000, &treasury); err != nil {
		t.Fatalf("expected 10000 to be accepted: %v", err)
	}
	bps, err := h.engine.FeeBasisPoints()
	if err != nil || bps != 10_000 {
		t.Fatalf("expected 10000 bps, got %d err=%v", bps, err)
	}
	addr, ok, err := h.engine.TreasuryAddress()
	if err != nil || !ok || addr != treasury {
		t.Fatalf("unexpected treasury %x ok=%v err=%v", addr, ok, err)
	}
	updated := h.eventsOfType(EventTypeProtocolFeeUpdated)
	if len(updated) != 1 || updated[0].Attr("feeBasisPoints") != "10000" {
		t.Fatalf("unexpected fee update events %+v", updated)
	}
}

func TestSetProtocolFeeRequiresTreasury(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 50, nil); !errors.Is(err, ErrInvalidFeeConfig) {
		t.Fatalf("expected ErrInvalidFeeConfig without treasury, got %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 0, nil); err != nil {
		t.Fatalf("zero fee without treasury should be accepted: %v", err)
	}
}

func TestSetProtocolFeeKeepsTreasury(t *testing.T) {
	h := newHarness(t)
	treasury := newTestAddress(0x7E)
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 10, &treasury); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 20, nil); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	addr, ok, _ := h.engine.TreasuryAddress()
	if !ok || addr != treasury {
		t.Fatalf("treasury must be retained, got %x", addr)
	}
}

func TestSetProtocolFeeAccessControl(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.SetProtocolFee(asCaller(h.admin), h.admin, 10, nil); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := h.engine.Initialize(asCaller(h.admin), h.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	other := newTestAddress(0x42)
	treasury := newTestAddress(0x7E)
	if err := h.engine.SetProtocolFee(asCaller(other), other, 10, &treasury); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := h.engine.SetProtocolFee(asCaller(other), h.admin, 10, &treasury); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for forged admin, got %v", err)
	}
	bps, _ := h.engine.FeeBasisPoints()
	if bps != 0 {
		t.Fatalf("rejected update changed the fee to %d", bps)
	}
}

func TestComputeAndTransferPayoutMissingTreasury(t *testing.T) {
	h := newHarness(t)
	source := newTestAddress(0x50)
	h.bank.credit(testToken, source, 1000)
	// A corrupted record with a fee but no treasury must not leak the fee.
	h.backend.data.protocol = &ProtocolConfig{Admin: h.admin, FeeBasisPoints: 100}
	_, err := h.engine.ComputeAndTransferPayout(asCaller(h.admin), testToken, source, newTestAddress(0x51), big.NewInt(1000))
	if !errors.Is(err, ErrInvalidFeeConfig) {
		t.Fatalf("expected ErrInvalidFeeConfig, got %v", err)
	}
	if len(h.bank.calls) != 0 {
		t.Fatalf("no transfer may be issued, got %d", len(h.bank.calls))
	}
}
