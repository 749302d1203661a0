// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTGenerator mints signed session bootstrap tokens after a successful
// authentication ceremony. The token attests that a passkey assertion
// verified; everything after it is the application's session machinery.
type JWTGenerator struct {
	privateKey crypto.PrivateKey
	method     jwt.SigningMethod
	issuer     string
	audience   []string
	expiresIn  time.Duration
	keyID      string
}

// JWTGeneratorConfig configures a JWTGenerator.
type JWTGeneratorConfig struct {
	// PrivateKey signs the tokens. Required. ECDSA, Ed25519 and RSA keys
	// are supported.
	PrivateKey crypto.PrivateKey

	// Issuer is the JWT issuer claim. Defaults to "go-passkey".
	Issuer string

	// Audience is the JWT audience claim. Defaults to the issuer.
	Audience []string

	// ExpiresIn is the token lifetime. Defaults to one hour.
	ExpiresIn time.Duration

	// KeyID is placed in the kid header when set.
	KeyID string
}

// NewJWTGenerator creates a JWT generator, selecting the signing method from
// the key type.
func NewJWTGenerator(config *JWTGeneratorConfig) (*JWTGenerator, error) {
	if config == nil || config.PrivateKey == nil {
		return nil, NewError("new JWT generator", ErrNotConfigured)
	}

	var method jwt.SigningMethod
	switch key := config.PrivateKey.(type) {
	case *ecdsa.PrivateKey:
		switch key.Curve.Params().BitSize {
		case 384:
			method = jwt.SigningMethodES384
		case 521:
			method = jwt.SigningMethodES512
		default:
			method = jwt.SigningMethodES256
		}
	case ed25519.PrivateKey:
		method = jwt.SigningMethodEdDSA
	case *rsa.PrivateKey:
		method = jwt.SigningMethodRS256
	default:
		return nil, NewError("new JWT generator: unsupported key type", ErrNotConfigured)
	}

	issuer := config.Issuer
	if issuer == "" {
		issuer = "go-passkey"
	}
	audience := config.Audience
	if len(audience) == 0 {
		audience = []string{issuer}
	}
	expiresIn := config.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	return &JWTGenerator{
		privateKey: config.PrivateKey,
		method:     method,
		issuer:     issuer,
		audience:   audience,
		expiresIn:  expiresIn,
		keyID:      config.KeyID,
	}, nil
}

// GenerateToken creates a signed JWT for the authenticated user.
func (g *JWTGenerator) GenerateToken(ctx context.Context, user User) (string, error) {
	now := time.Now()

	claims := jwt.MapClaims{
		"iss":  g.issuer,
		"aud":  g.audience,
		"sub":  base64.RawURLEncoding.EncodeToString(user.Handle()),
		"iat":  now.Unix(),
		"exp":  now.Add(g.expiresIn).Unix(),
		"nbf":  now.Unix(),
		"jti":  uuid.NewString(),
		"name": user.Name(),
		"amr":  []string{"webauthn"},
	}

	token := jwt.NewWithClaims(g.method, claims)
	if g.keyID != "" {
		token.Header["kid"] = g.keyID
	}

	signed, err := token.SignedString(g.privateKey)
	if err != nil {
		return "", NewError("sign token", err)
	}
	return signed, nil
}
