// Package token issues and verifies the short-lived HS256 access tokens that
// assert (user id, session id, username). Verification is purely local.
package token

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "companion-auth"
	DefaultAudience = "companion-app"
	MinSecretLength = 32
)

var (
	ErrInvalid = errors.New("invalid access token")
	ErrExpired = errors.New("access token expired")
)

// Claims is the full claim set of an access token. Decoding rejects any
// claim not listed here.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Username  string `json:"username"`
}

func (c *Claims) UserID() string {
	return c.Subject
}

func (c *Claims) UnmarshalJSON(data []byte) error {
	type strict Claims
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var out strict
	if err := dec.Decode(&out); err != nil {
		return err
	}

	*c = Claims(out)
	return nil
}

// Validate is called by the jwt parser after the registered claims pass.
func (c *Claims) Validate() error {
	switch {
	case c.Subject == "":
		return errors.New("missing sub claim")
	case c.SessionID == "":
		return errors.New("missing sid claim")
	case c.Username == "":
		return errors.New("missing username claim")
	case c.IssuedAt == nil:
		return errors.New("missing iat claim")
	}
	return nil
}

// Subject is what a token is minted for.
type Subject struct {
	UserID    string
	SessionID string
	Username  string
}

type Options struct {
	Secret   string
	TTL      time.Duration
	Issuer   string
	Audience string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Issuer mints and verifies access tokens. It is the only place that parses them.
type Issuer struct {
	secret   []byte
	ttl      time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

func NewIssuer(opts Options) (*Issuer, error) {
	if opts.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if opts.TTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	if opts.Issuer == "" {
		opts.Issuer = DefaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = DefaultAudience
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Issuer{
		secret:   []byte(opts.Secret),
		ttl:      opts.TTL,
		issuer:   opts.Issuer,
		audience: opts.Audience,
		now:      opts.Now,
	}, nil
}

func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

func (i *Issuer) Mint(subject Subject) (string, error) {
	now := i.now().UTC().Truncate(time.Second)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			Subject:   subject.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		SessionID: subject.SessionID,
		Username:  subject.Username,
	}
	if err := claims.Validate(); err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, audience, expiry and the
// required claims. Expired tokens yield ErrExpired, everything else ErrInvalid.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims, err := i.parse(raw, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	return claims, nil
}

// VerifyIgnoringExpiry is Verify without the expiry check. Logout uses it so an
// expired but authentic token can still name the session to revoke.
func (i *Issuer) VerifyIgnoringExpiry(raw string) (*Claims, error) {
	claims, err := i.parse(raw, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, ErrInvalid
	}

	if claims.Issuer != i.issuer || !audienceContains(claims.Audience, i.audience) || claims.ExpiresAt == nil {
		return nil, ErrInvalid
	}
	if err := claims.Validate(); err != nil {
		return nil, ErrInvalid
	}
	return claims, nil
}

func (i *Issuer) parse(raw string, opts ...jwt.ParserOption) (*Claims, error) {
	if raw == "" {
		return nil, ErrInvalid
	}

	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}
	return claims, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
