package state

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/rendis/blockflow/pkg/schema"
)

// Supported AES key sizes in bytes.
const (
	KeySize128 = 16
	KeySize256 = 32
)

const (
	pbkdf2Rounds   = 100_000
	ivLengthHeader = 4
)

// keyDerivationSalt is fixed so the same key id always yields the same key.
// This makes the cipher deterministic per key id, which is what checkpoint
// portability needs; it is NOT a substitute for a real key management
// system. Production deployments should inject keys via KeyProvider.
var keyDerivationSalt = []byte("blockflow.state.v1")

// KeyProvider resolves a key id to AES key material, 16 or 32 bytes.
type KeyProvider interface {
	Key(id string) ([]byte, error)
}

// DerivedKeyProvider derives keys from the key id itself via PBKDF2-SHA256.
// Derived keys are cached: PBKDF2 at 100k rounds is far too expensive to
// repeat per checkpoint.
type DerivedKeyProvider struct {
	mu     sync.RWMutex
	keyLen int
	keys   map[string][]byte
}

// NewDerivedKeyProvider derives AES-256 keys.
func NewDerivedKeyProvider() *DerivedKeyProvider {
	return NewDerivedKeyProviderSized(KeySize256)
}

// NewDerivedKeyProviderSized derives keys of the given byte length.
// Lengths other than KeySize128 and KeySize256 fall back to KeySize256.
func NewDerivedKeyProviderSized(keyLen int) *DerivedKeyProvider {
	if keyLen != KeySize128 && keyLen != KeySize256 {
		keyLen = KeySize256
	}
	return &DerivedKeyProvider{keyLen: keyLen, keys: make(map[string][]byte)}
}

func (p *DerivedKeyProvider) Key(id string) ([]byte, error) {
	if id == "" {
		return nil, schema.NewError(schema.ErrCodeSerialization, "encryption key id is empty")
	}

	p.mu.RLock()
	key, ok := p.keys[id]
	p.mu.RUnlock()
	if ok {
		return key, nil
	}

	derived, err := pbkdf2.Key(sha256.New, id, keyDerivationSalt, pbkdf2Rounds, p.keyLen)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "derive encryption key").WithCause(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.keys[id]; ok {
		return cached, nil
	}
	p.keys[id] = derived
	return derived, nil
}

// encrypt seals data with AES-CBC under a fresh random IV; the key length
// selects AES-128 or AES-256. The output
// frame is a 4-byte big-endian IV length, the IV, then the ciphertext, so
// the reader never assumes the IV width.
func encrypt(data, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "aes cipher").WithCause(err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "generate iv").WithCause(err)
	}

	padded := padPKCS7(data, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	out := make([]byte, ivLengthHeader+len(iv)+len(ciphertext))
	binary.BigEndian.PutUint32(out[:ivLengthHeader], uint32(len(iv)))
	copy(out[ivLengthHeader:], iv)
	copy(out[ivLengthHeader+len(iv):], ciphertext)
	return out, nil
}

// decrypt reverses encrypt, validating the frame before touching the cipher.
func decrypt(data, key []byte) ([]byte, error) {
	if len(data) < ivLengthHeader {
		return nil, schema.NewError(schema.ErrCodeSerialization, "encrypted payload too short for iv header")
	}
	ivLen := int(binary.BigEndian.Uint32(data[:ivLengthHeader]))
	if ivLen <= 0 || ivLen > len(data)-ivLengthHeader {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "invalid iv length %d", ivLen)
	}

	iv := data[ivLengthHeader : ivLengthHeader+ivLen]
	ciphertext := data[ivLengthHeader+ivLen:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, schema.NewError(schema.ErrCodeSerialization, "ciphertext is not block-aligned")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "aes cipher").WithCause(err)
	}
	if len(iv) != block.BlockSize() {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "iv length %d does not match block size", len(iv))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return unpadPKCS7(plaintext, aes.BlockSize)
}

func padPKCS7(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+n)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, schema.NewError(schema.ErrCodeSerialization, "invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, schema.NewError(schema.ErrCodeSerialization, "invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, schema.NewError(schema.ErrCodeSerialization, "corrupt padding")
		}
	}
	return data[:len(data)-n], nil
}
