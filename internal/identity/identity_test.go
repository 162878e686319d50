package identity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/reclamflow/feed/pkg/config"
	"github.com/reclamflow/feed/pkg/enums"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestResolveVerifiedToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "s3cret", Issuer: "reclamflow"}
	token := signToken(t, "s3cret", Claims{
		Email:  "agent@reclamflow.ma",
		Role:   "ROLE_INTERVENTION",
		UserID: float64(17),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "reclamflow",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	resolver := NewResolver(cfg)
	require.True(t, resolver.Verifies())

	id, err := resolver.Resolve("Bearer " + token)
	require.NoError(t, err)
	require.Equal(t, enums.RoleIntervention, id.Role)
	require.Equal(t, "agent@reclamflow.ma", id.Email)
	require.Equal(t, "17", id.UserID)
	require.Equal(t, "17", id.Key())
}

func TestResolveKeepsLargeNumericUserID(t *testing.T) {
	claims := Claims{
		Email:  "agent@reclamflow.ma",
		Role:   "intervention",
		UserID: json.Number("9007199254740993"),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "reclamflow",
		},
	}
	token := signToken(t, "s3cret", claims)

	for name, resolver := range map[string]*Resolver{
		"verified":   NewResolver(config.JWTConfig{Secret: "s3cret", Issuer: "reclamflow"}),
		"unverified": NewResolver(config.JWTConfig{}),
	} {
		t.Run(name, func(t *testing.T) {
			id, err := resolver.Resolve(token)
			require.NoError(t, err)
			require.Equal(t, "9007199254740993", id.UserID)
			require.Equal(t, "9007199254740993", id.Key())
		})
	}
}

func TestResolveUnverifiedFallsBackToSubject(t *testing.T) {
	token := signToken(t, "whatever", Claims{
		Role:             "direction",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "director@reclamflow.ma"},
	})

	id, err := NewResolver(config.JWTConfig{}).Resolve(token)
	require.NoError(t, err)
	require.Equal(t, enums.RoleDirection, id.Role)
	require.Equal(t, "director@reclamflow.ma", id.Key())
}

func TestResolveFailures(t *testing.T) {
	verifying := NewResolver(config.JWTConfig{Secret: "s3cret", Issuer: "reclamflow"})
	lenient := NewResolver(config.JWTConfig{})

	cases := []struct {
		name     string
		resolver *Resolver
		token    string
	}{
		{name: "missing", resolver: lenient, token: "  "},
		{name: "malformed", resolver: lenient, token: "not-a-jwt"},
		{name: "missing role", resolver: lenient, token: signToken(t, "x", Claims{Email: "a@b.c"})},
		{name: "unknown role", resolver: lenient, token: signToken(t, "x", Claims{Email: "a@b.c", Role: "admin"})},
		{name: "missing subject", resolver: lenient, token: signToken(t, "x", Claims{Role: "citoyen"})},
		{name: "bad signature", resolver: verifying, token: signToken(t, "other", Claims{Email: "a@b.c", Role: "citoyen", RegisteredClaims: jwt.RegisteredClaims{Issuer: "reclamflow"}})},
		{name: "wrong issuer", resolver: verifying, token: signToken(t, "s3cret", Claims{Email: "a@b.c", Role: "citoyen", RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.resolver.Resolve(tc.token)
			require.Error(t, err)
			require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
		})
	}
}

func TestStaticToken(t *testing.T) {
	token, err := StaticToken(" abc ").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	_, err = StaticToken("").Token(context.Background())
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))
}

func TestKeyringTokenRoundTrip(t *testing.T) {
	source := NewKeyringToken(keyring.NewArrayKeyring(nil))

	_, err := source.Token(context.Background())
	require.Equal(t, pkgerrors.CodeUnauthorized, pkgerrors.CodeOf(err))

	require.NoError(t, source.Save("eyJhbGciOi.payload.sig"))
	token, err := source.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "eyJhbGciOi.payload.sig", token)
}
