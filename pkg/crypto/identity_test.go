package crypto

import (
	"testing"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

func TestSignAndVerify(t *testing.T) {
	id, err := GenerateIdentity(types.PeerID("peer-1"))
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("propose round 1")
	sig := id.Sign(payload)
	if !Verify(id.SigningPublicKey, payload, sig) {
		t.Fatal("expected valid signature to verify")
	}
	if Verify(id.SigningPublicKey, []byte("tampered"), sig) {
		t.Fatal("expected tampered payload to fail verification")
	}
}

func TestProofRoundTrip(t *testing.T) {
	id, err := GenerateIdentity(types.PeerID("peer-1"))
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyProof(id.PeerID, id.SigningPublicKey, id.SealedBoxPublicKey, id.Proof) {
		t.Fatal("expected proof to verify")
	}
}

func TestSealedBoxRoundTrip(t *testing.T) {
	sender, err := GenerateIdentity(types.PeerID("sender"))
	if err != nil {
		t.Fatal(err)
	}
	recipient, err := GenerateIdentity(types.PeerID("recipient"))
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := sender.Seal([]byte("hello"), recipient.SealedBoxPublicKey)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := recipient.Open(sealed)
	if err != nil {
		t.Fatal(err)
	}
	if string(opened) != "hello" {
		t.Fatalf("expected 'hello', got %q", opened)
	}
}

func TestAtRestCipherRoundTrip(t *testing.T) {
	key := DeriveAtRestKey("cluster-secret")
	c, err := NewAtRestCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, err := c.Encrypt([]byte("document bytes"))
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := c.Decrypt(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "document bytes" {
		t.Fatalf("unexpected plaintext: %q", plaintext)
	}
}
