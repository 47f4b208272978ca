package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mbiondo/logdog/core"
)

func init() {
	// Auto-register this plugin
	core.RegisterTransform("encrypt", NewSealerFromConfig)
}

// Config represents encryption configuration. Exactly one key source is used,
// in the order Key, KeyHex, KeyEnv.
type Config struct {
	Key      string `yaml:"key"`      // base64 encoded 32-byte key
	KeyHex   string `yaml:"key_hex"`  // hex encoded 32-byte key
	KeyEnv   string `yaml:"key_env"`  // environment variable holding a base64 key
	Extended bool   `yaml:"extended"` // XChaCha20-Poly1305 with 24-byte nonces
}

// NewSealerFromConfig creates a sealer from configuration map
func NewSealerFromConfig(config map[string]any) (any, error) {
	var cfg Config
	if err := core.GetPluginConfig(config, &cfg); err != nil {
		return nil, err
	}

	key, err := cfg.key()
	if err != nil {
		return nil, err
	}
	if cfg.Extended {
		return NewXSealer(key)
	}
	return NewSealer(key)
}

func (c Config) key() ([]byte, error) {
	switch {
	case c.Key != "":
		return base64.StdEncoding.DecodeString(c.Key)
	case c.KeyHex != "":
		return hex.DecodeString(c.KeyHex)
	case c.KeyEnv != "":
		v, ok := os.LookupEnv(c.KeyEnv)
		if !ok {
			return nil, fmt.Errorf("environment variable %s is not set", c.KeyEnv)
		}
		return base64.StdEncoding.DecodeString(v)
	}
	return nil, errors.New("no key configured")
}

// Sealer encrypts byte payloads with ChaCha20-Poly1305. Output is
// nonce || ciphertext || tag.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a ChaCha20-Poly1305 sealer. key must be 32 bytes.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewXSealer creates an XChaCha20-Poly1305 sealer. key must be 32 bytes.
func NewXSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Name() string { return "encrypt" }

func (s *Sealer) BeforeSink(*core.Entry) {}

// Sink seals the payload with a fresh random nonce
func (s *Sealer) Sink(rec core.Record[[]byte], next core.Next[[]byte]) {
	core.Emit("encrypt", rec, next, func(rec core.Record[[]byte]) ([]byte, bool, error) {
		box, err := s.Seal(rec.Payload)
		return box, true, err
	})
}

// Seal encrypts plaintext
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	box := make([]byte, nonceSize, nonceSize+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(box); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return s.aead.Seal(box, box, plaintext, nil), nil
}

// Open decrypts a box produced by Seal
func (s *Sealer) Open(box []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(box) < nonceSize+s.aead.Overhead() {
		return nil, errors.New("sealed box too short")
	}
	return s.aead.Open(nil, box[:nonceSize], box[nonceSize:], nil)
}

// Open decrypts a ChaCha20-Poly1305 box with key
func Open(key, box []byte) ([]byte, error) {
	s, err := NewSealer(key)
	if err != nil {
		return nil, err
	}
	return s.Open(box)
}
