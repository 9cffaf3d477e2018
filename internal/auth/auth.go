// Package auth resolves bearer credentials into a stable uid.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/event-ledger/internal/errs"
)

type ctxKey string

const (
	uidKey     ctxKey = "ledger.uid"
	credErrKey ctxKey = "ledger.cred_err"
)

// WithUID stores the authenticated uid in context.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}

// UIDFromCtx fetches the uid from context. An empty result means anonymous.
func UIDFromCtx(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(uidKey).(string)
	return uid, ok && uid != ""
}

// WithCredentialError records why a presented credential was not accepted.
// The request continues as anonymous.
func WithCredentialError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, credErrKey, err)
}

// CredentialError returns the error stored by WithCredentialError, if any.
func CredentialError(ctx context.Context) error {
	err, _ := ctx.Value(credErrKey).(error)
	return err
}

// Resolver verifies HS256 bearer tokens.
type Resolver struct {
	signKey []byte
	issuer  string
	leeway  time.Duration
}

// NewResolver constructs a resolver. An empty issuer disables the issuer check.
func NewResolver(signKey []byte, issuer string) *Resolver {
	return &Resolver{signKey: signKey, issuer: issuer, leeway: 30 * time.Second}
}

// Resolve verifies the token and returns its subject as uid.
func (r *Resolver) Resolve(token string) (string, error) {
	var claims jwt.RegisteredClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(r.leeway),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return r.signKey, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", errs.ErrUnauthenticated)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: empty subject", errs.ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	v := strings.TrimSpace(header)
	if len(v) < 7 || !strings.EqualFold(v[:7], "bearer ") {
		return "", false
	}
	t := strings.TrimSpace(v[7:])
	return t, t != ""
}

// Mint issues a signed HS256 token for uid. Used by ledgerctl and dev setups.
func Mint(signKey []byte, issuer, uid string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if uid == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty uid", errs.ErrValidation)
	}
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   uid,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(signKey)
	return signed, exp, err
}
