// Package serialization turns state snapshots into bytes for the snapshot
// stores: a codec (msgpack or JSON), optional compression (gzip or zstd)
// and optional AES-GCM encryption, applied in that order.
package serialization

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrCiphertextTooShort is returned when encrypted input is shorter than a nonce.
var ErrCiphertextTooShort = errors.New("ciphertext shorter than nonce")

// Codec encodes values to bytes and back
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	Name() string
}

// Compression represents compression algorithms
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression maps a config string onto a Compression.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Option configures a Serializer
type Option func(*Serializer)

// WithCompression selects the compression stage.
func WithCompression(c Compression) Option {
	return func(s *Serializer) { s.compression = c }
}

// WithEncryptionKey enables AES-GCM with a 16, 24 or 32 byte key.
func WithEncryptionKey(key []byte) Option {
	return func(s *Serializer) { s.key = append([]byte(nil), key...) }
}

// Serializer runs the encode/compress/encrypt pipeline. It is safe for
// concurrent use.
type Serializer struct {
	codec       Codec
	compression Compression
	key         []byte

	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
}

// New creates a serializer around codec.
func New(codec Codec, opts ...Option) *Serializer {
	s := &Serializer{codec: codec, compression: CompressionNone}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Default is msgpack with zstd compression.
func Default() *Serializer {
	return New(MsgPackCodec{}, WithCompression(CompressionZstd))
}

// Codec returns the configured codec name.
func (s *Serializer) Codec() string {
	return s.codec.Name()
}

// Serialize encodes, compresses, and encrypts v
func (s *Serializer) Serialize(v interface{}) ([]byte, error) {
	data, err := s.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("%s encode: %w", s.codec.Name(), err)
	}
	if data, err = s.compress(data); err != nil {
		return nil, fmt.Errorf("%s compress: %w", s.compression, err)
	}
	if len(s.key) == 0 {
		return data, nil
	}
	if data, err = s.seal(data); err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return data, nil
}

// Deserialize reverses Serialize into v
func (s *Serializer) Deserialize(data []byte, v interface{}) error {
	var err error
	if len(s.key) > 0 {
		if data, err = s.open(data); err != nil {
			return fmt.Errorf("decrypt: %w", err)
		}
	}
	if data, err = s.decompress(data); err != nil {
		return fmt.Errorf("%s decompress: %w", s.compression, err)
	}
	if err = s.codec.Decode(data, v); err != nil {
		return fmt.Errorf("%s decode: %w", s.codec.Name(), err)
	}
	return nil
}

func (s *Serializer) compress(data []byte) ([]byte, error) {
	switch s.compression {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		if err := s.initZstd(); err != nil {
			return nil, err
		}
		return s.zstdEnc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func (s *Serializer) decompress(data []byte) ([]byte, error) {
	switch s.compression {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		if err := s.initZstd(); err != nil {
			return nil, err
		}
		return s.zstdDec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

// initZstd builds one encoder/decoder pair; EncodeAll and DecodeAll may be
// called concurrently on them.
func (s *Serializer) initZstd() error {
	s.zstdOnce.Do(func() {
		if s.zstdEnc, s.zstdErr = zstd.NewWriter(nil); s.zstdErr != nil {
			return
		}
		s.zstdDec, s.zstdErr = zstd.NewReader(nil)
	})
	return s.zstdErr
}

func (s *Serializer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal prefixes the ciphertext with its random nonce
func (s *Serializer) seal(data []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *Serializer) open(data []byte) ([]byte, error) {
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n {
		return nil, ErrCiphertextTooShort
	}
	return gcm.Open(nil, data[:n], data[n:], nil)
}

// JSONCodec implements JSON serialization
type JSONCodec struct{}

func (JSONCodec) Encode(v interface{}) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                            { return "json" }

// MsgPackCodec implements MessagePack serialization
type MsgPackCodec struct{}

func (MsgPackCodec) Encode(v interface{}) ([]byte, error)   { return msgpack.Marshal(v) }
func (MsgPackCodec) Decode(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }
func (MsgPackCodec) Name() string                            { return "msgpack" }

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return MsgPackCodec{}, nil
	case "json":
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
