// Package secrets seals device and voucher credentials before they are
// written to the database.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
	prefix    = "sb1:"
)

var ErrMalformed = errors.New("secrets: malformed sealed value")

type Sealer struct {
	key [keySize]byte
}

// NewSealer decodes a 32 byte key given as hex or standard base64.
func NewSealer(encoded string) (*Sealer, error) {
	raw, err := decodeKey(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// NewRandomSealer returns a sealer with an ephemeral key. Values sealed with it
// cannot be opened after the process exits.
func NewRandomSealer() (*Sealer, error) {
	s := &Sealer{}
	if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: generate key: %w", err)
	}
	return s, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("secrets: empty key")
	}
	if raw, err := hex.DecodeString(encoded); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(raw) == keySize {
		return raw, nil
	}
	return nil, fmt.Errorf("secrets: key must be %d bytes, hex or base64 encoded", keySize)
}

func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}
	out := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return prefix + base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, prefix) {
		return "", ErrMalformed
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return "", ErrMalformed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", errors.New("secrets: authentication failed")
	}
	return string(plain), nil
}
