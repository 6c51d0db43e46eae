package auth

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/foodorder/internal/domain/order"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("secret")
	token, err := v.Sign(Principal{UserID: 9, Role: RoleSeller, BranchID: 3, SellerMode: true}, time.Hour, time.Now())
	require.NoError(t, err)

	p, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.UserID)
	assert.Equal(t, order.Actor{Kind: order.ActorStaff, UserID: 9, BranchID: 3}, p.Actor())
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("secret")
	now := time.Now()

	expired, err := v.Sign(Principal{UserID: 1, Role: RoleBuyer}, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	otherKey, err := NewVerifier("other").Sign(Principal{UserID: 1, Role: RoleBuyer}, time.Hour, now)
	require.NoError(t, err)
	badRole, err := v.Sign(Principal{UserID: 1, Role: "admin"}, time.Hour, now)
	require.NoError(t, err)
	noSubject, err := v.Sign(Principal{Role: RoleBuyer}, time.Hour, now)
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{ID: 1, Role: "buyer"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		ID: 1, Role: "buyer",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"expired", expired},
		{"wrong key", otherKey},
		{"unknown role", badRole},
		{"missing id", noSubject},
		{"missing expiry", noExpiry},
		{"wrong algorithm", hs512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestPrincipal_Actor(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want order.Actor
	}{
		{"buyer", Principal{UserID: 1, Role: RoleBuyer}, order.Actor{Kind: order.ActorUser, UserID: 1}},
		{"seller in buyer mode", Principal{UserID: 2, Role: RoleSeller, BranchID: 3}, order.Actor{Kind: order.ActorUser, UserID: 2}},
		{"seller without branch", Principal{UserID: 2, Role: RoleSeller, SellerMode: true}, order.Actor{Kind: order.ActorUser, UserID: 2}},
		{"seller mode", Principal{UserID: 2, Role: RoleSeller, BranchID: 3, SellerMode: true}, order.Actor{Kind: order.ActorStaff, UserID: 2, BranchID: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Actor())
		})
	}
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), &Principal{UserID: 5})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(5), p.UserID)
}

type mockKeys struct {
	byHash map[string]*APIKeyInfo
	err    error
}

func (m *mockKeys) FindByHash(_ context.Context, hash string) (*APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.byHash[hash]
	if !ok {
		return nil, ErrUnknownAPIKey
	}
	return info, nil
}

func TestAPIKeyAuthenticator(t *testing.T) {
	pepper := []byte("pepper")
	hash := HashAPIKey(pepper, "consumer-key")
	keys := &mockKeys{byHash: map[string]*APIKeyInfo{
		hash:                            {ID: "consumer", KeyHash: hash, Scopes: []string{ScopeNotify}},
		HashAPIKey(pepper, "stale-key"): {ID: "stale", KeyHash: "zz"},
	}}
	a := NewAPIKeyAuthenticator(keys, pepper)

	_, err := NewAPIKeyAuthenticator(keys, []byte("other")).Authenticate(context.Background(), "consumer-key")
	require.ErrorIs(t, err, ErrUnauthorized, "a different pepper yields a different hash")

	info, err := a.Authenticate(context.Background(), "consumer-key")
	require.NoError(t, err)
	assert.Equal(t, "consumer", info.ID)
	assert.True(t, info.HasScope(ScopeNotify))
	assert.False(t, info.HasScope("admin"))

	_, err = a.Authenticate(context.Background(), "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authenticate(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = a.Authenticate(context.Background(), "stale-key")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAPIKeyAuthenticator_StoreError(t *testing.T) {
	a := NewAPIKeyAuthenticator(&mockKeys{err: errors.New("db down")}, nil)

	_, err := a.Authenticate(context.Background(), "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}
