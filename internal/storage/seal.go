package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed payload layout: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
const (
	sealMagic      = "GCM3NCR0"
	saltSize       = 16
	nonceSize      = 12
	tagSize        = 16
	kdfIterations  = 100000
	keySize        = 32
	sealHeaderSize = len(sealMagic) + saltSize + nonceSize
)

// ErrNotSealed is returned by Open when the payload does not carry the GCM magic.
var ErrNotSealed = errors.New("payload is not GCM sealed")

// Seal encrypts data with AES-256-GCM under a key derived from passphrase.
func Seal(data []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("seal: empty passphrase")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, sealHeaderSize+len(data)+tagSize)
	out = append(out, sealMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Open reverses Seal.
func Open(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < len(sealMagic) || !bytes.Equal(sealed[:len(sealMagic)], []byte(sealMagic)) {
		return nil, ErrNotSealed
	}
	if len(sealed) < sealHeaderSize+tagSize {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(sealed))
	}
	salt := sealed[len(sealMagic) : len(sealMagic)+saltSize]
	nonce := sealed[len(sealMagic)+saltSize : sealHeaderSize]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed[sealHeaderSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
