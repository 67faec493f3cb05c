package serialization

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	ID            string `json:"id" msgpack:"id"`
	SentenceCount int    `json:"sentence_count" msgpack:"sentence_count"`
	Poem1         string `json:"poem1" msgpack:"poem1"`
}

func key(t *testing.T) []byte {
	t.Helper()
	k := make([]byte, 32)
	_, err := rand.Read(k)
	require.NoError(t, err)
	return k
}

func TestSerializer_Pipeline(t *testing.T) {
	in := snapshot{ID: "run-1", SentenceCount: 3, Poem1: string(bytes.Repeat([]byte("apple "), 200))}

	tests := []struct {
		name  string
		codec Codec
		opts  []Option
	}{
		{"json plain", JSONCodec{}, nil},
		{"msgpack gzip", MsgPackCodec{}, []Option{WithCompression(CompressionGzip)}},
		{"msgpack zstd encrypted", MsgPackCodec{}, []Option{WithCompression(CompressionZstd), WithEncryptionKey(key(t))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.codec, tt.opts...)
			data, err := s.Serialize(in)
			require.NoError(t, err)

			var out snapshot
			require.NoError(t, s.Deserialize(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestSerializer_CompressionShrinksRepetitiveState(t *testing.T) {
	in := map[string]interface{}{"poem1": string(bytes.Repeat([]byte("banana "), 500))}
	plain, err := New(MsgPackCodec{}).Serialize(in)
	require.NoError(t, err)
	packed, err := Default().Serialize(in)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))
}

func TestSerializer_EncryptionErrors(t *testing.T) {
	s := New(JSONCodec{}, WithEncryptionKey(key(t)))
	data, err := s.Serialize(map[string]string{"a": "b"})
	require.NoError(t, err)

	other := New(JSONCodec{}, WithEncryptionKey(key(t)))
	var out map[string]string
	assert.Error(t, other.Deserialize(data, &out), "wrong key must not decrypt")

	assert.ErrorIs(t, s.Deserialize([]byte{1, 2}, &out), ErrCiphertextTooShort)

	bad := New(JSONCodec{}, WithEncryptionKey([]byte("short")))
	_, err = bad.Serialize("x")
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "gzip": CompressionGzip, "zstd": CompressionZstd} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("lz4")
	assert.Error(t, err)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())
	c, err = CodecByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())
	_, err = CodecByName("xml")
	assert.Error(t, err)
}
