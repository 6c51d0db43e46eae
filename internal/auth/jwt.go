// Package auth verifies caller identity: bearer tokens issued by the identity
// service and API keys of internal services.
package auth

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/foodorder/internal/domain/order"
)

// ErrUnauthorized is returned for a missing, malformed or expired credential.
var ErrUnauthorized = errors.New("unauthorized")

// Role is the account role carried by a token.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Principal is an authenticated caller.
type Principal struct {
	UserID int64
	Role   Role
	// BranchID is the branch a seller works at.
	BranchID   int64
	SellerMode bool
}

// Actor maps the principal to the order capability model. A seller in
// seller mode is staff of their branch; everyone else acts as a customer.
func (p *Principal) Actor() order.Actor {
	if p.Role == RoleSeller && p.SellerMode && p.BranchID > 0 {
		return order.Actor{Kind: order.ActorStaff, UserID: p.UserID, BranchID: p.BranchID}
	}
	return order.Actor{Kind: order.ActorUser, UserID: p.UserID}
}

// Claims is the token payload shared with the identity service.
type Claims struct {
	ID         int64  `json:"id"`
	Role       string `json:"role"`
	BranchID   int64  `json:"branch_id,omitempty"`
	SellerMode bool   `json:"seller_mode,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns a Verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Verify parses token and returns its principal.
func (v *Verifier) Verify(token string) (*Principal, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if claims.ID <= 0 {
		return nil, errors.Wrap(ErrUnauthorized, "missing subject id")
	}

	p := &Principal{
		UserID:     claims.ID,
		Role:       Role(claims.Role),
		BranchID:   claims.BranchID,
		SellerMode: claims.SellerMode,
	}
	if p.Role != RoleBuyer && p.Role != RoleSeller {
		return nil, errors.Wrapf(ErrUnauthorized, "unknown role %q", claims.Role)
	}
	return p, nil
}

// Sign issues a token for p. The identity service owns issuance; this exists
// for tooling and tests.
func (v *Verifier) Sign(p Principal, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		ID:         p.UserID,
		Role:       string(p.Role),
		BranchID:   p.BranchID,
		SellerMode: p.SellerMode,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
