// Package vault encrypts provider credentials at rest and manages their
// refresh lifecycle.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrDecryptionFailed indicates authentication or padding checks failed.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// versionPrefix marks ciphertext produced by the current AES-GCM scheme.
// Older records are two hex parts (iv:data) encrypted with AES-CBC and are
// accepted on decrypt only.
const versionPrefix = "v2"

const keyDerivationInfo = "insights-credential-vault"

// Cipher encrypts and decrypts credential strings. The AES-256 key is
// derived from the configured master secret via HKDF-SHA256, so the raw
// secret never touches the cipher directly.
type Cipher struct {
	aead cipher.AEAD
	// cbcKey drives the legacy decrypt path only.
	cbcKey []byte
}

// NewCipher derives the encryption key from masterSecret and prepares the
// AEAD. masterSecret must carry at least 16 bytes of entropy.
func NewCipher(masterSecret string) (*Cipher, error) {
	if len(masterSecret) < 16 {
		return nil, errors.New("master secret must be at least 16 bytes")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	return &Cipher{aead: aead, cbcKey: key}, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns the versioned
// ciphertext "v2:<hex iv>:<hex data+tag>". New writes always use this format.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return versionPrefix + ":" + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext produced by Encrypt, or by the legacy CBC scheme.
// Tampered input fails with ErrDecryptionFailed, never with silent garbage.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	switch {
	case len(parts) == 3 && parts[0] == versionPrefix:
		return c.decryptGCM(parts[1], parts[2])
	case len(parts) == 2:
		return c.decryptCBC(parts[0], parts[1])
	default:
		return "", ErrInvalidCiphertext
	}
}

func (c *Cipher) decryptGCM(nonceHex, sealedHex string) (string, error) {
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func (c *Cipher) decryptCBC(ivHex, dataHex string) (string, error) {
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrInvalidCiphertext
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.cbcKey)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, data)

	unpadded, err := stripPKCS7(plaintext)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(unpadded), nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}
