package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type StoredKey struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	PrivKeyHex string `json:"privkey_hex"`
	CreatedAt  string `json:"created_at"`
}

func EnsureKey(path, name string) (StoredKey, bool, error) {
	if key, err := Load(path); err == nil {
		return key, false, nil
	}
	key, err := Generate(name)
	if err != nil {
		return StoredKey{}, false, err
	}
	if err := Save(path, key); err != nil {
		return StoredKey{}, false, err
	}
	return key, true, nil
}

func Generate(name string) (StoredKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return StoredKey{}, err
	}
	return StoredKey{
		Name:       name,
		Address:    crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		PrivKeyHex: hex.EncodeToString(crypto.FromECDSA(priv)),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func Save(path string, key StoredKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	bz, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0o600)
}

func Load(path string) (StoredKey, error) {
	bz, err := os.ReadFile(path)
	if err != nil {
		return StoredKey{}, err
	}
	var key StoredKey
	if err := json.Unmarshal(bz, &key); err != nil {
		return StoredKey{}, err
	}
	if key.Address == "" {
		return StoredKey{}, fmt.Errorf("invalid key file: missing address")
	}
	return key, nil
}

// PrivateKey decodes the stored key and checks it matches the recorded address.
func (k StoredKey) PrivateKey() (*ecdsa.PrivateKey, error) {
	priv, err := ParsePrivateKey(k.PrivKeyHex)
	if err != nil {
		return nil, err
	}
	if got := crypto.PubkeyToAddress(priv.PublicKey); got != common.HexToAddress(k.Address) {
		return nil, fmt.Errorf("key file address %s does not match key (%s)", k.Address, got.Hex())
	}
	return priv, nil
}

// ParsePrivateKey accepts a hex secp256k1 key with or without the 0x prefix.
func ParsePrivateKey(raw string) (*ecdsa.PrivateKey, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if clean == "" {
		return nil, fmt.Errorf("empty private key")
	}
	priv, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return priv, nil
}

func DefaultAgentKeyPath(base string) string {
	return filepath.Join(base, "agent.json")
}
