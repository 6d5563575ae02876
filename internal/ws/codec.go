package ws

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec handles the compressed binary framing variant: binary websocket
// messages carry zstd-compressed JSON, text messages plain JSON.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a Codec with shared zstd encoder/decoder state.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Decode decompresses a binary frame payload into JSON bytes.
func (c *Codec) Decode(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Encode compresses JSON bytes into a binary frame payload.
func (c *Codec) Encode(data []byte) []byte {
	return c.encoder.EncodeAll(data, nil)
}
