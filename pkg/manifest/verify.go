package manifest

import (
	"crypto"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"hash"
	"strings"

	apperrors "github.com/Azure/iot-hub-device-update-core/pkg/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks a deployment envelope's detached signature and manifest
// hash, per spec.md §4.2. The outer JWS's header carries a JWK ("sjwk")
// signed by a root key; NewVerifier pins that root so the chain can be
// checked to terminate there.
type Verifier struct {
	rootKey crypto.PublicKey
}

// NewVerifier pins rootKey as the agent's built-in trusted root.
func NewVerifier(rootKey crypto.PublicKey) *Verifier {
	return &Verifier{rootKey: rootKey}
}

type jwsHeader struct {
	Alg  string `json:"alg"`
	SJWK string `json:"sjwk,omitempty"`
}

type hashClaims struct {
	Hash string `json:"hash"`
	Alg  string `json:"alg"`
}

func splitCompact(token string) (header, payload, sig string, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", "", "", apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "malformed compact JWS", nil)
	}
	return parts[0], parts[1], parts[2], nil
}

func decodeSegment(seg string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "malformed base64url segment", err)
	}
	return b, nil
}

// verifyJWSSignature checks that sig authenticates header.payload under key
// using the algorithm named in alg.
func verifyJWSSignature(headerSeg, payloadSeg, sigSeg, alg string, key crypto.PublicKey) error {
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "unsupported JWS alg "+alg, nil)
	}
	sigBytes, err := decodeSegment(sigSeg)
	if err != nil {
		return err
	}
	signingString := headerSeg + "." + payloadSeg
	if err := method.Verify(signingString, sigBytes, key); err != nil {
		return apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "outer signature verification failed", err)
	}
	return nil
}

// verifyLeafJWK verifies that the sjwk compact JWS (a JWK signed by the
// root) terminates at v's trusted root, and returns the public key the
// chain certifies.
func (v *Verifier) verifyLeafJWK(sjwkCompact string) (crypto.PublicKey, error) {
	headerSeg, payloadSeg, sigSeg, err := splitCompact(sjwkCompact)
	if err != nil {
		return nil, err
	}
	headerBytes, err := decodeSegment(headerSeg)
	if err != nil {
		return nil, err
	}
	var hdr jwsHeader
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "malformed sjwk header", err)
	}
	if err := verifyJWSSignature(headerSeg, payloadSeg, sigSeg, hdr.Alg, v.rootKey); err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "jwk chain does not terminate at trusted root", err)
	}
	payloadBytes, err := decodeSegment(payloadSeg)
	if err != nil {
		return nil, err
	}
	var leaf jwk
	if err := json.Unmarshal(payloadBytes, &leaf); err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "malformed leaf JWK payload", err)
	}
	return leaf.publicKey()
}

// VerifiedHash is the outcome of verifying an envelope's signature: the
// manifest-hash claim the signature authenticated.
type VerifiedHash struct {
	Hash string // base64-encoded digest
	Alg  string
}

// VerifySignature performs the two checks of spec.md §4.2: the chain
// terminates at the trusted root, and the outer signature verifies the
// payload. It returns the signed hash claims on success.
func (v *Verifier) VerifySignature(compactJWS string) (*VerifiedHash, error) {
	headerSeg, payloadSeg, sigSeg, err := splitCompact(compactJWS)
	if err != nil {
		return nil, err
	}
	headerBytes, err := decodeSegment(headerSeg)
	if err != nil {
		return nil, err
	}
	var hdr jwsHeader
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "malformed outer JWS header", err)
	}
	if hdr.SJWK == "" {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "outer JWS header missing sjwk", nil)
	}

	leafKey, err := v.verifyLeafJWK(hdr.SJWK)
	if err != nil {
		return nil, err
	}

	if err := verifyJWSSignature(headerSeg, payloadSeg, sigSeg, hdr.Alg, leafKey); err != nil {
		return nil, err
	}

	payloadBytes, err := decodeSegment(payloadSeg)
	if err != nil {
		return nil, err
	}
	var claims hashClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "malformed hash claims payload", err)
	}
	if claims.Hash == "" || claims.Alg == "" {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "hash claims missing hash/alg", nil)
	}
	return &VerifiedHash{Hash: claims.Hash, Alg: claims.Alg}, nil
}

// VerifyHash recomputes the digest named by vh.Alg over the raw
// update_manifest string and compares it to vh.Hash, per spec.md §4.2.
func VerifyHash(vh *VerifiedHash, rawManifest string) error {
	h, err := newHash(vh.Alg)
	if err != nil {
		return err
	}
	h.Write([]byte(rawManifest))
	sum := base64.StdEncoding.EncodeToString(h.Sum(nil))
	if sum != vh.Hash {
		return apperrors.New(apperrors.CodeManifestHashMismatch, "manifest", "recomputed manifest hash does not match signed hash", nil)
	}
	return nil
}

func newHash(alg string) (hash.Hash, error) {
	switch strings.ToLower(alg) {
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, apperrors.New(apperrors.CodeBadFormat, "manifest", "unsupported hash alg "+alg, nil)
	}
}

// VerifyEnvelope runs the full §4.2 pipeline: signature verification then
// hash verification, returning the parsed and validated Manifest.
func (v *Verifier) VerifyEnvelope(env *Envelope) (*Manifest, error) {
	if env.UpdateManifestSignature == "" {
		return nil, apperrors.New(apperrors.CodeSignatureInvalid, "manifest", "missing updateManifestSignature", nil)
	}
	vh, err := v.VerifySignature(env.UpdateManifestSignature)
	if err != nil {
		return nil, err
	}
	if err := VerifyHash(vh, env.UpdateManifest); err != nil {
		return nil, err
	}
	return ParseManifest(env.UpdateManifest)
}
