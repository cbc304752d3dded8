// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token signs and verifies activation tokens. Pending multi-party
// approvals are carried entirely inside the signed token, the broker keeps no
// request state of its own.
package token

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/jitgroups/broker/pkg/errs"
)

// DefaultValidity is how long a signed token stays verifiable.
const DefaultValidity = time.Hour

// Signer signs and verifies RS256 activation tokens. Issuer and audience are
// fixed at construction and matched exactly on verification.
type Signer struct {
	key      jwk.Key
	pub      jwk.Key
	issuer   string
	audience string
	validity time.Duration

	// now is the clock, overridable in tests.
	now func() time.Time
}

// Option configures a Signer.
type Option func(s *Signer)

// WithValidity overrides the token validity window.
func WithValidity(d time.Duration) Option {
	return func(s *Signer) { s.validity = d }
}

// withNow overrides the clock in tests.
func withNow(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// NewSigner creates a Signer from an RSA private key.
func NewSigner(key *rsa.PrivateKey, issuer, audience string, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key must not be nil")
	}
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("issuer and audience must not be empty")
	}

	priv, err := jwk.FromRaw(key)
	if err != nil {
		return nil, fmt.Errorf("failed to import signing key: %w", err)
	}
	pub, err := priv.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive verification key: %w", err)
	}

	s := &Signer{
		key:      priv,
		pub:      pub,
		issuer:   issuer,
		audience: audience,
		validity: DefaultValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validity <= 0 {
		return nil, fmt.Errorf("token validity must be positive, got %s", s.validity)
	}
	return s, nil
}

// SignedToken is a serialized token plus its timestamps.
type SignedToken struct {
	// Token is the compact JWS serialization.
	Token string

	// IssuedAt and ExpiresAt bound the token's validity.
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Sign issues a token carrying the given private claims.
func (s *Signer) Sign(_ context.Context, claims map[string]any) (*SignedToken, error) {
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.validity)

	b := jwt.NewBuilder().
		Issuer(s.issuer).
		Audience([]string{s.audience}).
		IssuedAt(now).
		Expiration(exp)
	for k, v := range claims {
		b = b.Claim(k, v)
	}
	tok, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &SignedToken{
		Token:     string(signed),
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Verify checks the token's signature, issuer, audience, and validity window,
// and returns its private claims. An expired but otherwise valid token yields
// errs.ErrTokenExpired; everything else wraps errs.ErrTokenInvalid.
func (s *Signer) Verify(_ context.Context, raw string) (map[string]any, error) {
	// Signature, issuer, and audience first, temporal checks last, so an
	// expired token only reads as expired when everything else verifies.
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.RS256, s.pub),
		jwt.WithValidate(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrTokenInvalid, err)
	}
	if tok.Issuer() != s.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", errs.ErrTokenInvalid, tok.Issuer())
	}
	if !hasAudience(tok.Audience(), s.audience) {
		return nil, fmt.Errorf("%w: unexpected audience %q", errs.ErrTokenInvalid, tok.Audience())
	}

	err = jwt.Validate(tok, jwt.WithClock(jwt.ClockFunc(s.now)))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %w", errs.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", errs.ErrTokenInvalid, err)
	}
	return tok.PrivateClaims(), nil
}

func hasAudience(aud []string, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
