package manifest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
)

// jwk is a minimal JSON Web Key, covering the RSA and EC key types the
// device-update signing chain uses.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

func b64urlDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// publicKey materializes the Go crypto.PublicKey this JWK describes.
func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		nBytes, err := b64urlDecode(k.N)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "invalid JWK modulus", err)
		}
		eBytes, err := b64urlDecode(k.E)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "invalid JWK exponent", err)
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: e,
		}, nil
	case "EC":
		xBytes, err := b64urlDecode(k.X)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "invalid JWK x", err)
		}
		yBytes, err := b64urlDecode(k.Y)
		if err != nil {
			return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "invalid JWK y", err)
		}
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		default:
			return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "unsupported EC curve "+k.Crv, nil)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil
	default:
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "unsupported JWK kty "+k.Kty, nil)
	}
}

// thumbprint computes the RFC 7638 JWK thumbprint over the canonical
// member set for the key type. Nothing calls it: the chain check in
// verify.go verifies the sjwk signature against the pinned root public key
// and compares no thumbprints.
func (k jwk) thumbprint() (string, error) {
	var canonical map[string]string
	switch k.Kty {
	case "RSA":
		canonical = map[string]string{"e": k.E, "kty": k.Kty, "n": k.N}
	case "EC":
		canonical = map[string]string{"crv": k.Crv, "kty": k.Kty, "x": k.X, "y": k.Y}
	default:
		return "", apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "unsupported JWK kty "+k.Kty, nil)
	}
	buf, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// jwkFromPublicKey builds the jwk wire representation of a public key, used
// by tests to construct signing fixtures.
func jwkFromPublicKey(pub crypto.PublicKey) (jwk, error) {
	switch p := pub.(type) {
	case *rsa.PublicKey:
		eBytes := big.NewInt(int64(p.E)).Bytes()
		return jwk{
			Kty: "RSA",
			N:   base64.RawURLEncoding.EncodeToString(p.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(eBytes),
		}, nil
	case *ecdsa.PublicKey:
		size := (p.Curve.Params().BitSize + 7) / 8
		x := p.X.FillBytes(make([]byte, size))
		y := p.Y.FillBytes(make([]byte, size))
		crv := "P-256"
		if p.Curve == elliptic.P384() {
			crv = "P-384"
		}
		return jwk{
			Kty: "EC",
			Crv: crv,
			X:   base64.RawURLEncoding.EncodeToString(x),
			Y:   base64.RawURLEncoding.EncodeToString(y),
		}, nil
	default:
		return jwk{}, apperrors.New(apperrors.CodeInternal, "manifest", "unsupported public key type for JWK conversion", nil)
	}
}
