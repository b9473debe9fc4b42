package object

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec turns items into stored bytes and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec stores items as plain JSON documents.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ZstdCodec compresses another codec's output. One encoder and one
// decoder are shared across calls; EncodeAll and DecodeAll are safe
// for concurrent use.
type ZstdCodec struct {
	inner Codec
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func NewZstdCodec(inner Codec) (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCodec{inner: inner, enc: enc, dec: dec}, nil
}

func (c *ZstdCodec) Marshal(v any) ([]byte, error) {
	data, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(data, nil), nil
}

func (c *ZstdCodec) Unmarshal(data []byte, v any) error {
	plain, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress object: %w", err)
	}
	return c.inner.Unmarshal(plain, v)
}
