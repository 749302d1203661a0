// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

package passkey

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
)

// signedPayload assembles the message an authenticator signed: the raw
// authenticator data followed by the SHA-256 hash of clientDataJSON.
func signedPayload(authData, clientDataJSON []byte) []byte {
	clientDataHash := sha256.Sum256(clientDataJSON)
	payload := make([]byte, 0, len(authData)+len(clientDataHash))
	payload = append(payload, authData...)
	payload = append(payload, clientDataHash[:]...)
	return payload
}

// VerifySignature checks sig over authData and clientDataJSON using the
// credential's registered algorithm. Any mismatch, including an algorithm the
// key cannot serve, reports ErrSignatureInvalid.
func VerifySignature(pub *PublicKey, authData, clientDataJSON, sig []byte) error {
	payload := signedPayload(authData, clientDataJSON)

	switch pub.Algorithm {
	case AlgES256, AlgES384, AlgES512:
		if pub.EC2 == nil {
			return WrapError("verify: no EC2 key", ErrSignatureInvalid)
		}
		digest, err := hashPayload(pub.Algorithm, payload)
		if err != nil {
			return err
		}
		if !ecdsa.VerifyASN1(pub.EC2, digest, sig) {
			return WrapError("verify ECDSA", ErrSignatureInvalid)
		}
		return nil

	case AlgRS256, AlgRS384, AlgRS512:
		if pub.RSA == nil {
			return WrapError("verify: no RSA key", ErrSignatureInvalid)
		}
		hash, err := hashForAlgorithm(pub.Algorithm)
		if err != nil {
			return err
		}
		digest, err := hashPayload(pub.Algorithm, payload)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub.RSA, hash, digest, sig); err != nil {
			return WrapError("verify RSA PKCS1v15", ErrSignatureInvalid)
		}
		return nil

	case AlgPS256, AlgPS384, AlgPS512:
		if pub.RSA == nil {
			return WrapError("verify: no RSA key", ErrSignatureInvalid)
		}
		hash, err := hashForAlgorithm(pub.Algorithm)
		if err != nil {
			return err
		}
		digest, err := hashPayload(pub.Algorithm, payload)
		if err != nil {
			return err
		}
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: hash}
		if err := rsa.VerifyPSS(pub.RSA, hash, digest, sig, opts); err != nil {
			return WrapError("verify RSA PSS", ErrSignatureInvalid)
		}
		return nil

	case AlgEdDSA:
		if pub.OKP == nil {
			return WrapError("verify: no OKP key", ErrSignatureInvalid)
		}
		if !ed25519.Verify(pub.OKP, payload, sig) {
			return WrapError("verify Ed25519", ErrSignatureInvalid)
		}
		return nil

	default:
		return WrapError("verify: unsupported algorithm "+pub.Algorithm.String(), ErrSignatureInvalid)
	}
}

func hashForAlgorithm(alg COSEAlgorithm) (crypto.Hash, error) {
	switch alg {
	case AlgES256, AlgRS256, AlgPS256:
		return crypto.SHA256, nil
	case AlgES384, AlgRS384, AlgPS384:
		return crypto.SHA384, nil
	case AlgES512, AlgRS512, AlgPS512:
		return crypto.SHA512, nil
	default:
		return 0, WrapError("hash for "+alg.String(), ErrSignatureInvalid)
	}
}

func hashPayload(alg COSEAlgorithm, payload []byte) ([]byte, error) {
	hash, err := hashForAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	h := hash.New()
	h.Write(payload)
	return h.Sum(nil), nil
}
