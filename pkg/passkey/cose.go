// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// COSEAlgorithm is an IANA COSE algorithm identifier.
type COSEAlgorithm int64

// COSE algorithm identifiers accepted during registration.
const (
	AlgES256 COSEAlgorithm = -7
	AlgEdDSA COSEAlgorithm = -8
	AlgES384 COSEAlgorithm = -35
	AlgES512 COSEAlgorithm = -36
	AlgPS256 COSEAlgorithm = -37
	AlgPS384 COSEAlgorithm = -38
	AlgPS512 COSEAlgorithm = -39
	AlgRS256 COSEAlgorithm = -257
	AlgRS384 COSEAlgorithm = -258
	AlgRS512 COSEAlgorithm = -259
)

// COSE key types.
const (
	coseKeyTypeOKP int64 = 1
	coseKeyTypeEC2 int64 = 2
	coseKeyTypeRSA int64 = 3
)

// COSE elliptic curve identifiers.
const (
	coseCurveP256    int64 = 1
	coseCurveP384    int64 = 2
	coseCurveP521    int64 = 3
	coseCurveEd25519 int64 = 6
)

// String names the algorithm for logs and diagnostics.
func (a COSEAlgorithm) String() string {
	switch a {
	case AlgES256:
		return "ES256"
	case AlgES384:
		return "ES384"
	case AlgES512:
		return "ES512"
	case AlgEdDSA:
		return "EdDSA"
	case AlgPS256:
		return "PS256"
	case AlgPS384:
		return "PS384"
	case AlgPS512:
		return "PS512"
	case AlgRS256:
		return "RS256"
	case AlgRS384:
		return "RS384"
	case AlgRS512:
		return "RS512"
	default:
		return fmt.Sprintf("COSEAlgorithm(%d)", int64(a))
	}
}

// DefaultCredentialParameters lists every algorithm the verifier supports, in
// preference order as offered to authenticators.
func DefaultCredentialParameters() []CredentialParameter {
	algs := []COSEAlgorithm{
		AlgES256, AlgEdDSA, AlgES384, AlgES512,
		AlgPS256, AlgPS384, AlgPS512,
		AlgRS256, AlgRS384, AlgRS512,
	}
	params := make([]CredentialParameter, 0, len(algs))
	for _, a := range algs {
		params = append(params, CredentialParameter{Type: PublicKeyCredentialType, Alg: a})
	}
	return params
}

// coseKey is the raw CBOR shape of a COSE_Key. Label meanings depend on the
// key type, so curve and coordinate fields are interpreted after the kty
// dispatch.
type coseKey struct {
	KeyType   int64           `cbor:"1,keyasint"`
	Algorithm int64           `cbor:"3,keyasint"`
	CurveOrN  cbor.RawMessage `cbor:"-1,keyasint,omitempty"`
	XOrE      cbor.RawMessage `cbor:"-2,keyasint,omitempty"`
	Y         cbor.RawMessage `cbor:"-3,keyasint,omitempty"`
}

// PublicKey is a decoded COSE credential public key bound to the signature
// algorithm it was registered with.
type PublicKey struct {
	Algorithm COSEAlgorithm

	// Exactly one of these is set, selected by the COSE key type.
	EC2  *ecdsa.PublicKey
	RSA  *rsa.PublicKey
	OKP  ed25519.PublicKey
	cose []byte
}

// Bytes returns the original COSE encoding, suitable for storage.
func (k *PublicKey) Bytes() []byte {
	return k.cose
}

// DecodePublicKey parses a COSE_Key and validates that its key type, curve
// and algorithm are mutually consistent and supported.
func DecodePublicKey(raw []byte) (*PublicKey, error) {
	var key coseKey
	if err := cbor.Unmarshal(raw, &key); err != nil {
		return nil, WrapError("decode COSE key", ErrMalformedMessage)
	}

	pub := &PublicKey{Algorithm: COSEAlgorithm(key.Algorithm), cose: raw}
	switch key.KeyType {
	case coseKeyTypeEC2:
		return decodeEC2Key(pub, &key)
	case coseKeyTypeRSA:
		return decodeRSAKey(pub, &key)
	case coseKeyTypeOKP:
		return decodeOKPKey(pub, &key)
	default:
		return nil, WrapError(fmt.Sprintf("COSE key type %d", key.KeyType), ErrMalformedMessage)
	}
}

func decodeEC2Key(pub *PublicKey, key *coseKey) (*PublicKey, error) {
	switch pub.Algorithm {
	case AlgES256, AlgES384, AlgES512:
	default:
		return nil, WrapError("EC2 key algorithm "+pub.Algorithm.String(), ErrMalformedMessage)
	}

	var curveID int64
	if err := cbor.Unmarshal(key.CurveOrN, &curveID); err != nil {
		return nil, WrapError("EC2 curve", ErrMalformedMessage)
	}
	var curve elliptic.Curve
	switch curveID {
	case coseCurveP256:
		curve = elliptic.P256()
	case coseCurveP384:
		curve = elliptic.P384()
	case coseCurveP521:
		curve = elliptic.P521()
	default:
		return nil, WrapError(fmt.Sprintf("EC2 curve %d", curveID), ErrMalformedMessage)
	}

	var x, y []byte
	if err := cbor.Unmarshal(key.XOrE, &x); err != nil {
		return nil, WrapError("EC2 x coordinate", ErrMalformedMessage)
	}
	if err := cbor.Unmarshal(key.Y, &y); err != nil {
		return nil, WrapError("EC2 y coordinate", ErrMalformedMessage)
	}
	if len(x) == 0 || len(y) == 0 {
		return nil, WrapError("EC2 coordinates", ErrMalformedMessage)
	}

	ecKey := &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}
	if !ecKey.Curve.IsOnCurve(ecKey.X, ecKey.Y) {
		return nil, WrapError("EC2 point not on curve", ErrMalformedMessage)
	}
	pub.EC2 = ecKey
	return pub, nil
}

func decodeRSAKey(pub *PublicKey, key *coseKey) (*PublicKey, error) {
	switch pub.Algorithm {
	case AlgRS256, AlgRS384, AlgRS512, AlgPS256, AlgPS384, AlgPS512:
	default:
		return nil, WrapError("RSA key algorithm "+pub.Algorithm.String(), ErrMalformedMessage)
	}

	var n, e []byte
	if err := cbor.Unmarshal(key.CurveOrN, &n); err != nil {
		return nil, WrapError("RSA modulus", ErrMalformedMessage)
	}
	if err := cbor.Unmarshal(key.XOrE, &e); err != nil {
		return nil, WrapError("RSA exponent", ErrMalformedMessage)
	}
	if len(n) == 0 || len(e) == 0 || len(e) > 8 {
		return nil, WrapError("RSA key parameters", ErrMalformedMessage)
	}

	exp := 0
	for _, b := range e {
		exp = exp<<8 | int(b)
	}
	if exp < 3 {
		return nil, WrapError("RSA exponent", ErrMalformedMessage)
	}
	pub.RSA = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}
	return pub, nil
}

func decodeOKPKey(pub *PublicKey, key *coseKey) (*PublicKey, error) {
	if pub.Algorithm != AlgEdDSA {
		return nil, WrapError("OKP key algorithm "+pub.Algorithm.String(), ErrMalformedMessage)
	}

	var curveID int64
	if err := cbor.Unmarshal(key.CurveOrN, &curveID); err != nil {
		return nil, WrapError("OKP curve", ErrMalformedMessage)
	}
	if curveID != coseCurveEd25519 {
		return nil, WrapError(fmt.Sprintf("OKP curve %d", curveID), ErrMalformedMessage)
	}

	var x []byte
	if err := cbor.Unmarshal(key.XOrE, &x); err != nil {
		return nil, WrapError("OKP public key", ErrMalformedMessage)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, WrapError("OKP public key length", ErrMalformedMessage)
	}
	pub.OKP = ed25519.PublicKey(x)
	return pub, nil
}
