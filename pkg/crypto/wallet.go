package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// walletFile is the JSON shape persisted at data_dir/wallet.json.
type walletFile struct {
	PeerID              string `json:"peer_id"`
	SigningPublicKey    string `json:"signing_public_key"`
	SigningPrivateKey   string `json:"signing_private_key"`
	SealedBoxPublicKey  string `json:"sealed_box_public_key"`
	SealedBoxPrivateKey string `json:"sealed_box_private_key"`
	Proof               string `json:"proof"`
}

// WalletPath returns the canonical wallet file path under dataDir.
func WalletPath(dataDir string) string {
	return filepath.Join(dataDir, "wallet.json")
}

// LoadOrCreateWallet loads an existing wallet.json under dataDir, or
// generates and persists a fresh identity for peerID if none exists. This
// is the only place identity state is created; every other subsystem
// receives the already-initialized NodeIdentity.
func LoadOrCreateWallet(dataDir string, peerID types.PeerID) (*NodeIdentity, error) {
	path := WalletPath(dataDir)
	if _, err := os.Stat(path); err == nil {
		return loadWallet(path)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("crypto: stat wallet: %w", err)
	}

	id, err := GenerateIdentity(peerID)
	if err != nil {
		return nil, err
	}
	if err := saveWallet(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

func loadWallet(path string) (*NodeIdentity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read wallet: %w", err)
	}
	var w walletFile
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("crypto: parse wallet: %w", err)
	}

	signPub, err := base64.StdEncoding.DecodeString(w.SigningPublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode signing public key: %w", err)
	}
	signPriv, err := base64.StdEncoding.DecodeString(w.SigningPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode signing private key: %w", err)
	}
	boxPub, err := decodeBoxKey(w.SealedBoxPublicKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode sealed-box public key: %w", err)
	}
	boxPriv, err := decodeBoxKey(w.SealedBoxPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode sealed-box private key: %w", err)
	}

	return &NodeIdentity{
		PeerID:              types.PeerID(w.PeerID),
		SigningPublicKey:    signPub,
		SigningPrivateKey:   signPriv,
		SealedBoxPublicKey:  boxPub,
		SealedBoxPrivateKey: boxPriv,
		Proof:               w.Proof,
	}, nil
}

func saveWallet(path string, id *NodeIdentity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("crypto: create data dir: %w", err)
	}
	w := walletFile{
		PeerID:              string(id.PeerID),
		SigningPublicKey:    base64.StdEncoding.EncodeToString(id.SigningPublicKey),
		SigningPrivateKey:   base64.StdEncoding.EncodeToString(id.SigningPrivateKey),
		SealedBoxPublicKey:  base64.StdEncoding.EncodeToString(id.SealedBoxPublicKey[:]),
		SealedBoxPrivateKey: base64.StdEncoding.EncodeToString(id.SealedBoxPrivateKey[:]),
		Proof:               id.Proof,
	}
	raw, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return fmt.Errorf("crypto: encode wallet: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("crypto: write wallet: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("crypto: finalize wallet: %w", err)
	}
	return nil
}

func decodeBoxKey(s string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}
