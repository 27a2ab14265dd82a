// Package auth verifies portal-issued identity tokens.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/llmportal/orchestrator/internal/model"
)

// ErrInvalidToken is returned for any token that does not yield an identity.
var ErrInvalidToken = errors.New("invalid identity token")

// Claims are the identity claims issued by the portal.
// The subject is the caller's entity ref; Ent lists the refs the caller owns
// or belongs to, groups included.
type Claims struct {
	Ent []string `json:"ent"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier creates a Verifier. Issuer and audience are only checked when set.
func NewVerifier(secret, issuer, audience string) *Verifier {
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

// Identify validates token and returns the identity it asserts.
func (v *Verifier) Identify(token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, fmt.Errorf("%w: missing token", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return model.Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	groups := make([]string, 0, len(claims.Ent))
	for _, ref := range claims.Ent {
		if ref != "" {
			groups = append(groups, ref)
		}
	}
	return model.Identity{EntityRef: claims.Subject, GroupRefs: groups}, nil
}

// Issue signs a token for entityRef. It is used by development tooling and tests;
// production tokens come from the portal.
func Issue(secret, issuer, audience, entityRef string, groupRefs []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Ent: groupRefs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   entityRef,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
