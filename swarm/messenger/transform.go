package messenger

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecode = errors.New("payload cannot be decoded")

// Transform is applied to message bodies at the messenger boundary. The pending queue and the
// history store only ever see the encoded form.
type Transform interface {
	Encode(payload []byte) ([]byte, error)
	Decode(wire []byte) ([]byte, error)
}

// Identity leaves payloads untouched.
type Identity struct{}

func (Identity) Encode(payload []byte) ([]byte, error) { return payload, nil }
func (Identity) Decode(wire []byte) ([]byte, error)    { return wire, nil }

const nonceSize = 24

var keySalt = []byte("peerchat/transform/v1")

// SecretBox seals payloads with a key shared by all peers that know the passphrase.
type SecretBox struct {
	key [32]byte
}

func NewSecretBox(passphrase string) *SecretBox {
	s := &SecretBox{}
	copy(s.key[:], argon2.IDKey([]byte(passphrase), keySalt, 1, 64*1024, 4, 32))
	return s
}

func (s *SecretBox) Encode(payload []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], payload, &nonce, &s.key), nil
}

func (s *SecretBox) Decode(wire []byte) ([]byte, error) {
	if len(wire) < nonceSize+secretbox.Overhead {
		return nil, ErrDecode
	}
	var nonce [nonceSize]byte
	copy(nonce[:], wire[:nonceSize])
	out, ok := secretbox.Open(nil, wire[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecode
	}
	return out, nil
}

// NewTransform returns a SecretBox for a non-empty passphrase and Identity otherwise.
func NewTransform(passphrase string) Transform {
	if passphrase == "" {
		return Identity{}
	}
	return NewSecretBox(passphrase)
}
