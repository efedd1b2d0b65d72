package middleware

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"sorosusu/crypto"
)

type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
	// AllowSignatures accepts "Signature" credentials signed by the account key
	// in addition to bearer tokens.
	AllowSignatures bool
	// Replay rejects a Signature credential presented more than once.
	Replay ReplayStore
	Now    func() time.Time
}

var (
	errMissingCredentials = errors.New("missing credentials")
	errBadSignature       = errors.New("invalid request signature")
)

// Authenticator verifies request credentials and binds the authenticated
// address to the request context with crypto.WithIdentity. It never decides
// authorisation; the engines do that against the bound identity.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte

	pruneMu   sync.Mutex
	lastPrune time.Time
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// Middleware attaches the caller identity when credentials are present.
// Invalid credentials are rejected; absent credentials pass through
// anonymously.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}
		identity, err := a.authenticate(r, header)
		if err != nil {
			a.logger.Warn("auth: credential validation failed", "path", r.URL.Path, "error", err)
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(crypto.WithIdentity(r.Context(), identity)))
	})
}

// Require rejects requests without an authenticated identity.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := crypto.IdentityFromContext(r.Context()); !ok {
			http.Error(w, errMissingCredentials.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request, header string) (crypto.Address, error) {
	scheme, value := splitAuthorization(header)
	switch {
	case strings.EqualFold(scheme, "Bearer"):
		claims, err := a.parseToken(value)
		if err != nil {
			return crypto.Address{}, err
		}
		if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
			return crypto.Address{}, err
		}
		subject, _ := claims["sub"].(string)
		return crypto.ParseAddress(subject)
	case strings.EqualFold(scheme, "Signature") && a.cfg.AllowSignatures:
		return a.verifySignature(r, value)
	default:
		return crypto.Address{}, fmt.Errorf("unsupported authorization scheme %q", scheme)
	}
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithTimeFunc(a.cfg.Now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	if _, ok := claims["sub"].(string); !ok {
		return errors.New("subject missing")
	}
	return nil
}

// SignaturePayload is the message an account key signs for the Signature
// scheme: method, request path and unix timestamp separated by newlines.
func SignaturePayload(method, path string, timestamp int64) []byte {
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" + strconv.FormatInt(timestamp, 10))
}

// verifySignature accepts "<address>:<unix timestamp>:<hex signature>".
func (a *Authenticator) verifySignature(r *http.Request, value string) (crypto.Address, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return crypto.Address{}, errBadSignature
	}
	claimed, err := crypto.ParseAddress(parts[0])
	if err != nil {
		return crypto.Address{}, err
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return crypto.Address{}, errBadSignature
	}
	skew := a.cfg.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.cfg.ClockSkew {
		return crypto.Address{}, fmt.Errorf("%w: timestamp outside allowed skew", errBadSignature)
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(parts[2], "0x"))
	if err != nil {
		return crypto.Address{}, errBadSignature
	}
	recovered, err := crypto.RecoverAddress(SignaturePayload(r.Method, r.URL.Path, ts), sig)
	if err != nil {
		return crypto.Address{}, err
	}
	if recovered.Array() != claimed.Array() {
		return crypto.Address{}, fmt.Errorf("%w: signer mismatch", errBadSignature)
	}
	if err := a.checkReplay(r.Context(), claimed.String()+"|"+parts[1]+"|"+strings.ToLower(hex.EncodeToString(sig))); err != nil {
		return crypto.Address{}, err
	}
	return claimed, nil
}

func (a *Authenticator) checkReplay(ctx context.Context, key string) error {
	if a.cfg.Replay == nil {
		return nil
	}
	now := a.cfg.Now()
	seen, err := a.cfg.Replay.Observe(ctx, key, now)
	if err != nil {
		a.logger.Error("replay store observe failed", slog.Any("error", err))
		return fmt.Errorf("%w: replay check unavailable", errBadSignature)
	}
	if seen {
		return fmt.Errorf("%w: credential already used", errBadSignature)
	}
	a.pruneMu.Lock()
	due := now.Sub(a.lastPrune) >= a.cfg.ClockSkew
	if due {
		a.lastPrune = now
	}
	a.pruneMu.Unlock()
	if due {
		// Anything older than twice the skew can no longer pass the timestamp check.
		if err := a.cfg.Replay.Prune(ctx, now.Add(-2*a.cfg.ClockSkew)); err != nil {
			a.logger.Warn("replay store prune failed", slog.Any("error", err))
		}
	}
	return nil
}

func splitAuthorization(header string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

// IssueToken signs an HS256 bearer token for subject.
func IssueToken(secret []byte, subject crypto.Address, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("auth secret not configured")
	}
	claims := jwt.MapClaims{
		"sub": subject.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
