package crypto

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoIdentity       = errors.New("crypto: no authenticated identity")
	ErrIdentityMismatch = errors.New("crypto: identity does not control address")
)

type identityKey struct{}

// WithIdentity binds an authenticated address to ctx. Transport layers call
// it after verifying credentials.
func WithIdentity(ctx context.Context, addr Address) context.Context {
	return context.WithValue(ctx, identityKey{}, addr)
}

// IdentityFromContext returns the address bound by WithIdentity.
func IdentityFromContext(ctx context.Context) (Address, bool) {
	if ctx == nil {
		return Address{}, false
	}
	addr, ok := ctx.Value(identityKey{}).(Address)
	if !ok || addr.IsZero() {
		return Address{}, false
	}
	return addr, true
}

// IdentityAuthenticator accepts a call only when the context identity equals
// the claimed address.
type IdentityAuthenticator struct{}

func (IdentityAuthenticator) RequireAuth(ctx context.Context, addr [20]byte) error {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrNoIdentity
	}
	if identity.Array() != addr {
		return fmt.Errorf("%w: %s", ErrIdentityMismatch, AddressFromArray(addr))
	}
	return nil
}
