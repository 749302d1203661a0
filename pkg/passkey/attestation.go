// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"

	"github.com/fxamacker/cbor/v2"
)

// Attestation format identifiers this verifier understands.
const (
	AttestationFormatNone   = "none"
	AttestationFormatPacked = "packed"
)

// AttestationObject is the CBOR envelope carrying the authenticator data and
// the attestation statement.
type AttestationObject struct {
	Format    string          `cbor:"fmt"`
	AttStmt   cbor.RawMessage `cbor:"attStmt"`
	AuthData  []byte          `cbor:"authData"`
	authData  *AuthenticatorData
}

// packedStmt is the attestation statement of the "packed" format.
type packedStmt struct {
	Algorithm int64    `cbor:"alg"`
	Signature []byte   `cbor:"sig"`
	X5C       [][]byte `cbor:"x5c,omitempty"`
}

// ParseAttestationObject decodes the attestation envelope and its embedded
// authenticator data. The authenticator data must carry attested credential
// data.
func ParseAttestationObject(raw []byte) (*AttestationObject, error) {
	var obj AttestationObject
	if err := cbor.Unmarshal(raw, &obj); err != nil {
		return nil, WrapError("decode attestation object", ErrMalformedMessage)
	}
	if obj.Format == "" || len(obj.AuthData) == 0 {
		return nil, WrapError("attestation object fields", ErrMalformedMessage)
	}

	authData, err := ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return nil, err
	}
	if authData.AttestedCredential == nil {
		return nil, WrapError("attestation without credential data", ErrMalformedMessage)
	}
	obj.authData = authData
	return &obj, nil
}

// AuthenticatorData returns the parsed authenticator data.
func (o *AttestationObject) AuthenticatorData() *AuthenticatorData {
	return o.authData
}

// Verify checks the attestation statement against the signed payload. The
// "none" format requires an empty statement; "packed" is verified on both of
// its paths. Unknown formats are accepted without statement verification and
// recorded as unverified, matching a relying party that does not enforce
// attestation trust chains.
func (o *AttestationObject) Verify(clientDataJSON []byte) (attestationType string, err error) {
	switch o.Format {
	case AttestationFormatNone:
		if err := o.verifyNone(); err != nil {
			return "", err
		}
		return AttestationFormatNone, nil
	case AttestationFormatPacked:
		return o.verifyPacked(clientDataJSON)
	default:
		return o.Format, nil
	}
}

// verifyNone requires the statement to be an empty CBOR map.
func (o *AttestationObject) verifyNone() error {
	var stmt map[string]cbor.RawMessage
	if err := cbor.Unmarshal(o.AttStmt, &stmt); err != nil {
		return WrapError("none attestation statement", ErrAttestationInvalid)
	}
	if len(stmt) != 0 {
		return WrapError("none attestation with statement fields", ErrAttestationInvalid)
	}
	return nil
}

func (o *AttestationObject) verifyPacked(clientDataJSON []byte) (string, error) {
	var stmt packedStmt
	if err := cbor.Unmarshal(o.AttStmt, &stmt); err != nil {
		return "", WrapError("packed attestation statement", ErrAttestationInvalid)
	}
	if len(stmt.Signature) == 0 {
		return "", WrapError("packed attestation missing signature", ErrAttestationInvalid)
	}

	payload := signedPayload(o.AuthData, clientDataJSON)

	if len(stmt.X5C) > 0 {
		// Basic path: the leaf certificate signs the payload. Chain trust
		// is not evaluated here.
		cert, err := x509.ParseCertificate(stmt.X5C[0])
		if err != nil {
			return "", WrapError("packed attestation certificate", ErrAttestationInvalid)
		}
		if err := verifyCertSignature(cert, COSEAlgorithm(stmt.Algorithm), payload, stmt.Signature); err != nil {
			return "", err
		}
		return AttestationFormatPacked, nil
	}

	// Self attestation: the statement algorithm must match the credential
	// key, which also produced the signature.
	credKey := o.authData.AttestedCredential.PublicKey
	if COSEAlgorithm(stmt.Algorithm) != credKey.Algorithm {
		return "", WrapError("packed self attestation algorithm mismatch", ErrAttestationInvalid)
	}
	if err := VerifySignature(credKey, o.AuthData, clientDataJSON, stmt.Signature); err != nil {
		return "", WrapError("packed self attestation", ErrAttestationInvalid)
	}
	return AttestationFormatPacked, nil
}

func verifyCertSignature(cert *x509.Certificate, alg COSEAlgorithm, payload, sig []byte) error {
	digest, err := hashPayload(alg, payload)
	if err != nil {
		return WrapError("packed attestation algorithm", ErrAttestationInvalid)
	}

	switch pub := cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(pub, digest, sig) {
			return WrapError("packed attestation ECDSA signature", ErrAttestationInvalid)
		}
	case *rsa.PublicKey:
		hash, err := hashForAlgorithm(alg)
		if err != nil {
			return WrapError("packed attestation algorithm", ErrAttestationInvalid)
		}
		switch alg {
		case AlgPS256, AlgPS384, AlgPS512:
			opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hash}
			if err := rsa.VerifyPSS(pub, hash, digest, sig, opts); err != nil {
				return WrapError("packed attestation RSA PSS signature", ErrAttestationInvalid)
			}
		default:
			if err := rsa.VerifyPKCS1v15(pub, hash, digest, sig); err != nil {
				return WrapError("packed attestation RSA signature", ErrAttestationInvalid)
			}
		}
	default:
		return WrapError("packed attestation certificate key type", ErrAttestationInvalid)
	}
	return nil
}
