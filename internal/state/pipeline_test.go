package state

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigBag() map[string]any {
	return map[string]any{
		"doc":   strings.Repeat("compressible content ", 100),
		"count": int64(12),
	}
}

func TestSerializer_Plain(t *testing.T) {
	s := NewSerializer(SerializerConfig{})
	bag := map[string]any{"k": "v", "n": int32(1)}

	data, err := s.Serialize(bag)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("{")), "plain pipeline stores tagged JSON")

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bag, out)
}

func TestSerializer_Compressed(t *testing.T) {
	s := NewSerializer(SerializerConfig{Compress: true, MinCompressSize: 64})

	data, err := s.Serialize(bigBag())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, gzipMagic))

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bigBag(), out)
}

func TestSerializer_CompressedBelowThreshold(t *testing.T) {
	s := NewSerializer(SerializerConfig{Compress: true})
	bag := map[string]any{"k": "v"}

	data, err := s.Serialize(bag)
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, gzipMagic), "small payloads stay raw")

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bag, out)
}

func TestSerializer_Encrypted(t *testing.T) {
	s := NewSerializer(SerializerConfig{EncryptionKeyID: "run-key"})
	bag := map[string]any{"secret": "value"}

	data, err := s.Serialize(bag)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("value")))

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bag, out)
}

func TestSerializer_CompressedAndEncrypted(t *testing.T) {
	s := NewSerializer(SerializerConfig{
		Compress:        true,
		MinCompressSize: 64,
		EncryptionKeyID: "run-key",
	})

	data, err := s.Serialize(bigBag())
	require.NoError(t, err)
	assert.False(t, bytes.HasPrefix(data, gzipMagic), "encryption is the outer layer")

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bigBag(), out)
}

func TestSerializer_AES128(t *testing.T) {
	s := NewSerializer(SerializerConfig{EncryptionKeyID: "run-key", EncryptionKeyBits: 128})
	bag := map[string]any{"secret": "value"}

	data, err := s.Serialize(bag)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(data, []byte("value")))

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bag, out)
}

func TestSerializer_WrongKeyFails(t *testing.T) {
	writer := NewSerializer(SerializerConfig{EncryptionKeyID: "key-a"})
	data, err := writer.Serialize(map[string]any{"k": "v"})
	require.NoError(t, err)

	reader := NewSerializer(SerializerConfig{EncryptionKeyID: "key-b"})
	_, err = reader.Deserialize(data)
	require.Error(t, err)
}

func TestSerializer_CustomKeyProvider(t *testing.T) {
	keys := &staticKeys{key: bytes.Repeat([]byte{0x42}, KeySize256)}
	s := NewSerializer(SerializerConfig{EncryptionKeyID: "injected", Keys: keys})

	bag := map[string]any{"k": "v"}
	data, err := s.Serialize(bag)
	require.NoError(t, err)

	out, err := s.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, bag, out)
	assert.Equal(t, "injected", keys.lastID)
}

type staticKeys struct {
	key    []byte
	lastID string
}

func (s *staticKeys) Key(id string) ([]byte, error) {
	s.lastID = id
	return s.key, nil
}
