// Package crypto implements node identity and the at-rest encryption used by
// the storage tiers. A NodeIdentity carries two key pairs — an Ed25519
// signing pair for consensus messages and an X25519 sealed-box pair for
// encrypting data addressed to this node — plus an identity proof string,
// generated once at node genesis and persisted in a wallet file.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/aerolithdb/aerolithdb/pkg/apperr"
	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// NodeIdentity is the process-wide identity state. It is initialized before
// any other subsystem starts and torn down after all of them stop.
type NodeIdentity struct {
	PeerID types.PeerID

	SigningPublicKey  ed25519.PublicKey
	SigningPrivateKey ed25519.PrivateKey

	SealedBoxPublicKey  *[32]byte
	SealedBoxPrivateKey *[32]byte

	// Proof is a self-signed statement binding PeerID to both public keys,
	// used by peers to validate a newly-introduced identity out of band.
	Proof string
}

// GenerateIdentity creates a fresh identity: a new Ed25519 signing pair, a
// new X25519 sealed-box pair, and a proof signing both public keys.
func GenerateIdentity(peerID types.PeerID) (*NodeIdentity, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate signing key: %w", err)
	}
	boxPub, boxPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate sealed-box key: %w", err)
	}

	id := &NodeIdentity{
		PeerID:              peerID,
		SigningPublicKey:    signPub,
		SigningPrivateKey:   signPriv,
		SealedBoxPublicKey:  boxPub,
		SealedBoxPrivateKey: boxPriv,
	}
	id.Proof = id.computeProof()
	return id, nil
}

// computeProof signs PeerID + both public keys with the signing key,
// producing a string third parties can verify against the advertised
// public keys without any other channel.
func (id *NodeIdentity) computeProof() string {
	msg := proofMessage(id.PeerID, id.SigningPublicKey, id.SealedBoxPublicKey)
	sig := ed25519.Sign(id.SigningPrivateKey, msg)
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyProof checks that proof is a valid signature over peerID and the two
// public keys, as produced by computeProof.
func VerifyProof(peerID types.PeerID, signPub ed25519.PublicKey, boxPub *[32]byte, proof string) bool {
	sig, err := base64.StdEncoding.DecodeString(proof)
	if err != nil {
		return false
	}
	msg := proofMessage(peerID, signPub, boxPub)
	return ed25519.Verify(signPub, msg, sig)
}

func proofMessage(peerID types.PeerID, signPub ed25519.PublicKey, boxPub *[32]byte) []byte {
	msg := make([]byte, 0, len(peerID)+len(signPub)+32)
	msg = append(msg, []byte(peerID)...)
	msg = append(msg, signPub...)
	msg = append(msg, boxPub[:]...)
	return msg
}

// Sign produces an Ed25519 signature over payload. The consensus engine
// signs proposals and votes this way; commit, abort, heartbeat and
// view-change messages carry no signature.
func (id *NodeIdentity) Sign(payload []byte) []byte {
	return ed25519.Sign(id.SigningPrivateKey, payload)
}

// Verify checks a signature produced by Sign against the signer's public
// key.
func Verify(signerPub ed25519.PublicKey, payload, sig []byte) bool {
	if len(signerPub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(signerPub, payload, sig)
}

// VerifyOrError is Verify wrapped in apperr.ErrSignatureInvalid for callers
// that want the standard error-kind contract.
func VerifyOrError(signerPub ed25519.PublicKey, payload, sig []byte) error {
	if !Verify(signerPub, payload, sig) {
		return apperr.ErrSignatureInvalid
	}
	return nil
}

// Seal encrypts payload for recipientPub using the sealed-box construction:
// the sender's identity is not recoverable from the ciphertext, only the
// recipient can open it with their private key.
func (id *NodeIdentity) Seal(payload []byte, recipientPub *[32]byte) ([]byte, error) {
	return box.SealAnonymous(nil, payload, recipientPub, rand.Reader)
}

// Open decrypts a sealed-box payload addressed to this identity.
func (id *NodeIdentity) Open(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, id.SealedBoxPublicKey, id.SealedBoxPrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: open sealed box: %w", apperr.ErrSignatureInvalid)
	}
	return out, nil
}

// Fingerprint is a short hex identifier for logs, derived from the signing
// public key.
func (id *NodeIdentity) Fingerprint() string {
	return hex.EncodeToString(id.SigningPublicKey)[:16]
}
