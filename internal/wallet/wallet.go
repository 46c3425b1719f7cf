package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
)

// Signer provides message authorship: a wallet address and the ability to
// sign bytes on its behalf. Consumers treat it as an opaque capability.
type Signer interface {
	Address() string
	Sign(data []byte) ([]byte, error)
}

// Keypair is an ed25519 signing keypair with a base58-encoded address.
type Keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// Generate creates a new random keypair.
func Generate() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{pub: pub, priv: priv}, nil
}

// Address returns the base58-encoded public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.pub)
}

// Sign signs data with the private key.
func (k *Keypair) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, data), nil
}

// Verify reports whether sig is a valid signature over data by the wallet
// at addr.
func Verify(addr string, data, sig []byte) bool {
	pub, err := base58.Decode(addr)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// ValidateAddress checks that addr decodes to a 32-byte public key.
func ValidateAddress(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid wallet address %q: %w", addr, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid wallet address %q: got %d bytes, want %d", addr, len(raw), ed25519.PublicKeySize)
	}
	return nil
}

type keypairFile struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// LoadOrCreate loads the keypair at path, generating and persisting a new
// one if the file does not exist.
func LoadOrCreate(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var kf keypairFile
		if err := json.Unmarshal(data, &kf); err != nil {
			return nil, fmt.Errorf("parse keypair file: %w", err)
		}
		raw, err := base58.Decode(kf.PrivateKey)
		if err != nil || len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("keypair file %s holds an invalid private key", path)
		}
		priv := ed25519.PrivateKey(raw)
		return &Keypair{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := kp.Save(path); err != nil {
		return nil, err
	}
	return kp, nil
}

// Save persists the keypair to path, mode 0600.
func (k *Keypair) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.Marshal(keypairFile{
		Address:    k.Address(),
		PrivateKey: base58.Encode(k.priv),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
