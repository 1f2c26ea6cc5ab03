package state

// SerializerConfig controls the optional stages of the persistence pipeline.
// The zero value serializes plain tagged JSON.
type SerializerConfig struct {
	// Compress enables gzip for payloads at or above MinCompressSize.
	Compress bool
	// MinCompressSize is the threshold in bytes; zero means
	// DefaultMinCompressSize.
	MinCompressSize int
	// EncryptionKeyID enables AES-CBC when non-empty. The id is resolved
	// through Keys.
	EncryptionKeyID string
	// EncryptionKeyBits selects the AES key size, 128 or 256; zero and
	// unrecognized values mean 256. Ignored when Keys is set.
	EncryptionKeyBits int
	// Keys resolves key ids; nil means a derived provider at the
	// configured key size.
	Keys KeyProvider
}

// Serializer turns state bags into storable payloads and back. The pipeline
// is encode, then compress, then encrypt; deserialization reverses it.
// Compression always runs before encryption since ciphertext does not
// compress.
type Serializer struct {
	cfg SerializerConfig
}

func NewSerializer(cfg SerializerConfig) *Serializer {
	if cfg.MinCompressSize <= 0 {
		cfg.MinCompressSize = DefaultMinCompressSize
	}
	if cfg.Keys == nil {
		size := KeySize256
		if cfg.EncryptionKeyBits == 128 {
			size = KeySize128
		}
		cfg.Keys = NewDerivedKeyProviderSized(size)
	}
	return &Serializer{cfg: cfg}
}

// Serialize runs the configured pipeline over a state bag.
func (s *Serializer) Serialize(bag map[string]any) ([]byte, error) {
	data, err := EncodeState(bag)
	if err != nil {
		return nil, err
	}
	if s.cfg.Compress {
		if data, err = compress(data, s.cfg.MinCompressSize); err != nil {
			return nil, err
		}
	}
	if s.cfg.EncryptionKeyID != "" {
		key, err := s.cfg.Keys.Key(s.cfg.EncryptionKeyID)
		if err != nil {
			return nil, err
		}
		if data, err = encrypt(data, key); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Deserialize reverses Serialize under the same configuration.
func (s *Serializer) Deserialize(data []byte) (map[string]any, error) {
	if s.cfg.EncryptionKeyID != "" {
		key, err := s.cfg.Keys.Key(s.cfg.EncryptionKeyID)
		if err != nil {
			return nil, err
		}
		plain, err := decrypt(data, key)
		if err != nil {
			return nil, err
		}
		data = plain
	}
	if s.cfg.Compress {
		raw, err := decompress(data)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return DecodeState(data)
}
