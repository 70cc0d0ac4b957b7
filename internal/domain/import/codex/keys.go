package codex

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	MinMasterKeyLen = 32

	encInfoPrefix  = "codex-enc:"
	hashInfoPrefix = "codex-hash:"
)

var (
	ErrShortMasterKey = errors.New("codex master key must be at least 32 bytes")
	ErrDecrypt        = errors.New("codex payload could not be decrypted")
)

// Cipher seals and opens payloads under a tenant-scoped key.
type Cipher interface {
	Seal(tenantID uuid.UUID, plaintext []byte) ([]byte, error)
	Open(tenantID uuid.UUID, sealed []byte) ([]byte, error)
}

// Hasher maps a context string to a fixed-length tenant-scoped digest.
type Hasher interface {
	Hash(tenantID uuid.UUID, context string) string
}

// KeyRing derives per-tenant XChaCha20-Poly1305 and BLAKE2b keys from one
// master secret with HKDF-SHA256.
type KeyRing struct {
	master []byte
	aeads  sync.Map // uuid.UUID -> cipher.AEAD
	hashes sync.Map // uuid.UUID -> []byte
}

// NewKeyRing copies the master key.
func NewKeyRing(master []byte) (*KeyRing, error) {
	if len(master) < MinMasterKeyLen {
		return nil, ErrShortMasterKey
	}
	return &KeyRing{master: append([]byte(nil), master...)}, nil
}

// ParseMasterKey decodes a base64 master key.
func ParseMasterKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode master key: %w", err)
	}
	if len(key) < MinMasterKeyLen {
		return nil, ErrShortMasterKey
	}
	return key, nil
}

// GenerateMasterKey returns a random key for ephemeral stores.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MinMasterKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	return key, nil
}

func (k *KeyRing) derive(info string, size int) ([]byte, error) {
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, k.master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return out, nil
}

func (k *KeyRing) aead(tenantID uuid.UUID) (cipher.AEAD, error) {
	if v, ok := k.aeads.Load(tenantID); ok {
		return v.(cipher.AEAD), nil
	}
	key, err := k.derive(encInfoPrefix+tenantID.String(), chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	v, _ := k.aeads.LoadOrStore(tenantID, aead)
	return v.(cipher.AEAD), nil
}

// Seal encrypts with a random nonce prefixed to the ciphertext. The tenant
// ID is bound as associated data.
func (k *KeyRing) Seal(tenantID uuid.UUID, plaintext []byte) ([]byte, error) {
	aead, err := k.aead(tenantID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, tenantID[:]), nil
}

// Open reverses Seal. Any failure is reported as ErrDecrypt.
func (k *KeyRing) Open(tenantID uuid.UUID, sealed []byte) ([]byte, error) {
	aead, err := k.aead(tenantID)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecrypt)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, tenantID[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// Hash is a keyed BLAKE2b-256 digest, hex encoded.
func (k *KeyRing) Hash(tenantID uuid.UUID, context string) string {
	key, ok := k.hashes.Load(tenantID)
	if !ok {
		derived, err := k.derive(hashInfoPrefix+tenantID.String(), 32)
		if err != nil {
			// hkdf only fails past 255*HashLen bytes of output
			panic(err)
		}
		key, _ = k.hashes.LoadOrStore(tenantID, derived)
	}
	h, err := blake2b.New256(key.([]byte))
	if err != nil {
		panic(err)
	}
	h.Write([]byte(context))
	return hex.EncodeToString(h.Sum(nil))
}
