package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"testing"
)

// p1363Sign signs digest with priv and encodes the result as fixed-width
// 32-byte r||s, matching what a real client is expected to send over the
// wire (ecdsa.Sign itself returns variable-length ASN.1 DER, which this
// protocol does not use).
func p1363Sign(t *testing.T, priv *ecdsa.PrivateKey, digest []byte) string {
	t.Helper()
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		t.Fatalf("ecdsa.Sign: %v", err)
	}
	buf := make([]byte, 64)
	r.FillBytes(buf[:32])
	s.FillBytes(buf[32:])
	return hex.EncodeToString(buf)
}

func spkiHex(t *testing.T, pub *ecdsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	return hex.EncodeToString(der)
}

func TestVerifySignature_ValidRoundTrip(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	challenge := []byte("a 32-byte or so test challenge!!")
	digest := sha256.Sum256(challenge)

	sigHex := p1363Sign(t, priv, digest[:])
	pubHex := spkiHex(t, &priv.PublicKey)

	if err := verifySignature(pubHex, challenge, sigHex); err != nil {
		t.Fatalf("expected signature to verify, got: %v", err)
	}
}

func TestVerifySignature_RejectsWrongKey(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	other, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	challenge := []byte("challenge-bytes")
	digest := sha256.Sum256(challenge)

	sigHex := p1363Sign(t, priv, digest[:])
	wrongPubHex := spkiHex(t, &other.PublicKey)

	if err := verifySignature(wrongPubHex, challenge, sigHex); err == nil {
		t.Fatal("expected verification against the wrong public key to fail")
	}
}

func TestVerifySignature_RejectsTamperedChallenge(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	challenge := []byte("original-challenge")
	digest := sha256.Sum256(challenge)

	sigHex := p1363Sign(t, priv, digest[:])
	pubHex := spkiHex(t, &priv.PublicKey)

	tampered := []byte("different-challenge")
	if err := verifySignature(pubHex, tampered, sigHex); err == nil {
		t.Fatal("expected verification against a different challenge to fail")
	}
}

func TestVerifySignature_RejectsMalformedSignatureLength(t *testing.T) {
	priv, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	pubHex := spkiHex(t, &priv.PublicKey)

	if err := verifySignature(pubHex, []byte("x"), hex.EncodeToString([]byte("too-short"))); err == nil {
		t.Fatal("expected a non-64-byte signature to be rejected")
	}
}

func TestVerifySignature_RejectsMalformedPublicKey(t *testing.T) {
	// An empty/garbage hex string should fail to parse as an SPKI key at all.
	if err := verifySignature(hex.EncodeToString([]byte("not a key")), []byte("c"), hex.EncodeToString(make([]byte, 64))); err == nil {
		t.Fatal("expected a malformed public key to be rejected")
	}
}

func TestVerifySignature_RejectsBadHex(t *testing.T) {
	if err := verifySignature("not-hex!!", []byte("c"), "not-hex!!"); err == nil {
		t.Fatal("expected non-hex input to be rejected")
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		PhaseConnected:     "connected",
		PhaseChallenged:    "challenged",
		PhaseAuthenticated: "authenticated",
		PhaseTerminated:    "terminated",
		Phase(99):          "unknown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("Phase(%d).String() = %q, want %q", int(phase), got, want)
		}
	}
}
