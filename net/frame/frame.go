// Package frame implements the peer wire frame: a 4-byte big endian length followed by a
// CBOR-encoded envelope carrying the sender ID and the payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

const (
	headerSize = 4

	DefaultMaxSize = 1 << 20
)

var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrMalformedFrame = errors.New("malformed frame")
)

type Envelope struct {
	Sender  string `cbor:"1,keyasint,omitempty"` // Sending peer ID
	Payload []byte `cbor:"2,keyasint,omitempty"` // Message body (after transform)
}

var decMode, _ = cbor.DecOptions{
	DupMapKey:         cbor.DupMapKeyEnforcedAPF,
	ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
}.DecMode()

func encode(env *Envelope, maxSize uint32) ([]byte, error) {
	body, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	if uint64(len(body)) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	return body, nil
}

// Check reports ErrFrameTooLarge if env would not fit in a frame of maxSize.
func Check(env *Envelope, maxSize uint32) error {
	_, err := encode(env, maxSize)
	return err
}

// Write encodes env and writes it as a single frame.
func Write(w io.Writer, env *Envelope, maxSize uint32) error {
	body, err := encode(env, maxSize)
	if err != nil {
		return err
	}

	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[headerSize:], body)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Read reads exactly one frame from r.
func Read(r io.Reader, maxSize uint32) (*Envelope, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	env := &Envelope{}
	if err := decMode.Unmarshal(body, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Sender == "" {
		return nil, fmt.Errorf("%w: missing sender", ErrMalformedFrame)
	}
	return env, nil
}
