package manifest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// signingKeyPair is a root/leaf key pair generated for a single test, used
// to build signed envelope fixtures without embedding real key material.
type signingKeyPair struct {
	rootPriv *rsa.PrivateKey
	leafPriv *ecdsa.PrivateKey
}

func newSigningKeyPair(t *testing.T) *signingKeyPair {
	t.Helper()
	rootPriv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	leafPriv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	return &signingKeyPair{rootPriv: rootPriv, leafPriv: leafPriv}
}

func b64(seg []byte) string { return base64.RawURLEncoding.EncodeToString(seg) }

func signCompact(t *testing.T, header, payload map[string]any, method jwt.SigningMethod, key any) string {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	signingString := b64(headerBytes) + "." + b64(payloadBytes)
	sig, err := method.Sign(signingString, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signingString + "." + b64(sig)
}

// buildEnvelope builds a fully signed envelope whose manifest hash and
// signature chain verify against kp.rootPriv, for tests to mutate and break.
func buildEnvelope(t *testing.T, kp *signingKeyPair, rawManifest string) (*Envelope, string) {
	t.Helper()

	leafJWK, err := jwkFromPublicKey(&kp.leafPriv.PublicKey)
	if err != nil {
		t.Fatalf("jwkFromPublicKey: %v", err)
	}
	leafPayload := map[string]any{
		"kty": leafJWK.Kty,
		"crv": leafJWK.Crv,
		"x":   leafJWK.X,
		"y":   leafJWK.Y,
	}
	sjwk := signCompact(t, map[string]any{"alg": "RS256"}, leafPayload, jwt.SigningMethodRS256, kp.rootPriv)

	h := sha256Base64(t, rawManifest)
	outerHeader := map[string]any{"alg": "ES256", "sjwk": sjwk}
	outerPayload := map[string]any{"hash": h, "alg": "sha256"}
	outer := signCompact(t, outerHeader, outerPayload, jwt.SigningMethodES256, kp.leafPriv)

	env := &Envelope{
		Workflow:                WorkflowRef{Action: ActionProcessDeployment, ID: "w1"},
		UpdateManifest:          rawManifest,
		UpdateManifestSignature: outer,
	}
	return env, outer
}

func sha256Base64(t *testing.T, s string) string {
	t.Helper()
	vh := &VerifiedHash{Alg: "sha256"}
	hsh, err := newHash(vh.Alg)
	if err != nil {
		t.Fatalf("newHash: %v", err)
	}
	hsh.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(hsh.Sum(nil))
}
