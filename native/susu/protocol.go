package susu

import (
	"context"
	"fmt"

	"sorosusu/native/fees"
)

// Initialize configures the protocol admin once. The fee starts at zero with no
// treasury.
func (e *Engine) Initialize(ctx context.Context, admin [20]byte) error {
	return e.execute(ctx, "initialize", func(u *unit) error {
		if err := e.requireAuth(u.ctx, admin); err != nil {
			return err
		}
		existing, ok, err := u.tx.SusuProtocolGet()
		if err != nil {
			return err
		}
		if ok && existing.Initialized() {
			return ErrAlreadyInitialized
		}
		cfg := &ProtocolConfig{Admin: admin}
		if err := u.tx.SusuProtocolPut(cfg); err != nil {
			return err
		}
		u.emit(NewProtocolInitializedEvent(cfg))
		e.log().Info("protocol initialized", "admin", formatAddress(admin))
		return nil
	})
}

// SetProtocolFee updates the protocol fee. A positive fee requires a treasury;
// passing a nil treasury keeps the configured one.
func (e *Engine) SetProtocolFee(ctx context.Context, caller [20]byte, feeBasisPoints uint32, treasury *[20]byte) error {
	return e.execute(ctx, "set_protocol_fee", func(u *unit) error {
		cfg, ok, err := u.tx.SusuProtocolGet()
		if err != nil {
			return err
		}
		if !ok || !cfg.Initialized() {
			return ErrNotInitialized
		}
		cfg = cfg.Clone()
		if caller != cfg.Admin {
			return fmt.Errorf("%w: caller is not the protocol admin", ErrUnauthorized)
		}
		if err := e.requireAuth(u.ctx, cfg.Admin); err != nil {
			return err
		}
		if err := fees.ValidateBasisPoints(feeBasisPoints); err != nil {
			return fmt.Errorf("%w: %d basis points", ErrInvalidFeeConfig, feeBasisPoints)
		}
		if treasury != nil {
			cfg.Treasury = *treasury
		}
		if feeBasisPoints > 0 && !cfg.HasTreasury() {
			return fmt.Errorf("%w: treasury required for a positive fee", ErrInvalidFeeConfig)
		}
		cfg.FeeBasisPoints = feeBasisPoints
		if err := u.tx.SusuProtocolPut(cfg); err != nil {
			return err
		}
		u.emit(NewProtocolFeeUpdatedEvent(cfg))
		e.log().Info("protocol fee updated", "feeBps", feeBasisPoints, "treasury", formatAddress(cfg.Treasury))
		return nil
	})
}

// ProtocolConfig returns the current protocol configuration. An uninitialised
// deployment reports a zero config.
func (e *Engine) ProtocolConfig() (*ProtocolConfig, error) {
	cfg := &ProtocolConfig{}
	err := e.view(func(tx StateTx) error {
		stored, ok, err := tx.SusuProtocolGet()
		if err != nil {
			return err
		}
		if ok && stored != nil {
			cfg = stored.Clone()
		}
		return nil
	})
	return cfg, err
}

// FeeBasisPoints returns the configured fee; zero when unset.
func (e *Engine) FeeBasisPoints() (uint32, error) {
	cfg, err := e.ProtocolConfig()
	if err != nil {
		return 0, err
	}
	return cfg.FeeBasisPoints, nil
}

// TreasuryAddress returns the configured treasury, if any.
func (e *Engine) TreasuryAddress() ([20]byte, bool, error) {
	cfg, err := e.ProtocolConfig()
	if err != nil {
		return [20]byte{}, false, err
	}
	return cfg.Treasury, cfg.HasTreasury(), nil
}
