package identity

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/reclamflow/feed/pkg/config"
	"github.com/reclamflow/feed/pkg/enums"
	pkgerrors "github.com/reclamflow/feed/pkg/errors"
)

var signingMethod = jwt.SigningMethodHS256

// Identity is the signed-in user the feed works for.
type Identity struct {
	UserID string
	Email  string
	Role   enums.Role
}

// Key returns the value used to namespace persisted per-user state.
func (i Identity) Key() string {
	if i.UserID != "" {
		return i.UserID
	}
	return i.Email
}

// Claims mirrors the access token issued by the reclamation backend.
type Claims struct {
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	UserID any    `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns a bearer token into an Identity.
type Resolver struct {
	secret []byte
	issuer string
}

// NewResolver builds a resolver. Without a secret tokens are decoded but their
// signature is not checked.
func NewResolver(cfg config.JWTConfig) *Resolver {
	r := &Resolver{issuer: strings.TrimSpace(cfg.Issuer)}
	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// Verifies reports whether token signatures are checked.
func (r *Resolver) Verifies() bool {
	return len(r.secret) > 0
}

// Resolve decodes the token and extracts the user and role.
func (r *Resolver) Resolve(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token missing")
	}

	claims, err := r.parse(token)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "access token rejected")
	}

	role, err := enums.ParseRole(claims.Role)
	if err != nil {
		return Identity{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "access token carries no usable role")
	}

	email := strings.TrimSpace(claims.Email)
	if email == "" {
		email = strings.TrimSpace(claims.Subject)
	}
	if email == "" {
		return Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token carries no subject")
	}

	return Identity{
		UserID: userIDString(claims.UserID),
		Email:  email,
		Role:   role,
	}, nil
}

func (r *Resolver) parse(token string) (*Claims, error) {
	claims := &Claims{}
	if !r.Verifies() {
		if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(token, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithJSONNumber(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != signingMethod {
				return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
			}
			return r.secret, nil
		},
		opts...,
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func userIDString(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
