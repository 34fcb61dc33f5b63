package mesh

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/s2"
)

// DefaultMaxFrameSize is the ceiling applied when a Codec is used with its
// zero value.
const DefaultMaxFrameSize = 256 * 1024

// DefaultCompressionThreshold is the JSON body size at or above which Codec
// applies s2 compression, when compression is enabled.
const DefaultCompressionThreshold = 1024

const (
	frameTagRaw        byte = 0x00
	frameTagCompressed byte = 0x01
)

// Codec encodes and decodes NetworkMessage frames. The zero value is ready
// to use with default limits and no compression.
type Codec struct {
	// MaxFrameSize bounds the encoded (post-compression) frame. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int
	// Compress enables s2 compression of frames at or above
	// CompressionThreshold.
	Compress bool
	// CompressionThreshold is the pre-compression size at or above which
	// compression is attempted. Zero means DefaultCompressionThreshold.
	CompressionThreshold int
}

func (c Codec) maxFrameSize() int {
	if c.MaxFrameSize > 0 {
		return c.MaxFrameSize
	}
	return DefaultMaxFrameSize
}

func (c Codec) compressionThreshold() int {
	if c.CompressionThreshold > 0 {
		return c.CompressionThreshold
	}
	return DefaultCompressionThreshold
}

// Encode serializes a NetworkMessage into a self-contained frame. The frame
// carries its own compression tag, so Decode needs nothing beyond the bytes
// it is given.
func (c Codec) Encode(msg *NetworkMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("mesh: encode envelope: %w", err)
	}

	var frame []byte
	if c.Compress && len(body) >= c.compressionThreshold() {
		compressed := s2.Encode(nil, body)
		frame = make([]byte, 0, len(compressed)+1)
		frame = append(frame, frameTagCompressed)
		frame = append(frame, compressed...)
	} else {
		frame = make([]byte, 0, len(body)+1)
		frame = append(frame, frameTagRaw)
		frame = append(frame, body...)
	}

	if len(frame) > c.maxFrameSize() {
		return nil, fmt.Errorf("mesh: encoded frame is %d bytes, exceeds max %d: %w", len(frame), c.maxFrameSize(), ErrPayloadTooLarge)
	}
	return frame, nil
}

// Decode parses a frame produced by Encode (or any compatible producer)
// back into a NetworkMessage, validating the taxonomy of malformed shapes
// called out in the envelope's invariants.
func (c Codec) Decode(frame []byte) (*NetworkMessage, error) {
	if len(frame) > c.maxFrameSize() {
		return nil, fmt.Errorf("mesh: frame is %d bytes, exceeds max %d: %w", len(frame), c.maxFrameSize(), ErrPayloadTooLarge)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("mesh: empty frame: %w", ErrMalformedEnvelope)
	}

	tag, body := frame[0], frame[1:]
	switch tag {
	case frameTagRaw:
		// body is already plain JSON
	case frameTagCompressed:
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("mesh: decompress frame: %w: %v", ErrMalformedEnvelope, err)
		}
		body = decoded
	default:
		return nil, fmt.Errorf("mesh: unknown frame tag %#x: %w", tag, ErrMalformedEnvelope)
	}

	var msg NetworkMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("mesh: unmarshal envelope: %w: %v", ErrMalformedEnvelope, err)
	}

	if msg.MessageID == "" {
		return nil, fmt.Errorf("mesh: envelope missing messageId: %w", ErrMalformedEnvelope)
	}
	if msg.HopCount < 0 {
		return nil, fmt.Errorf("mesh: envelope has negative hopCount %d: %w", msg.HopCount, ErrMalformedEnvelope)
	}
	if n := msg.payloadVariants(); n > 1 {
		return nil, fmt.Errorf("mesh: envelope has %d populated payload variants, want at most 1: %w", n, ErrMalformedEnvelope)
	}

	return &msg, nil
}

// DefaultCodec is the zero-value Codec, usable directly.
var DefaultCodec = Codec{}

// Encode encodes msg using DefaultCodec.
func Encode(msg *NetworkMessage) ([]byte, error) { return DefaultCodec.Encode(msg) }

// Decode decodes frame using DefaultCodec.
func Decode(frame []byte) (*NetworkMessage, error) { return DefaultCodec.Decode(frame) }
