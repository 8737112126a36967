// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// NonceSize is the AES-GCM nonce length (96 bits).
	NonceSize = 12

	// TagSize is the AES-GCM authentication tag length.
	TagSize = 16

	// KeySize is the AES-256 key length.
	KeySize = 32

	// DefaultSalt is mixed into key derivation. The master secret carries
	// the entropy; the salt only separates this use from any other.
	DefaultSalt = "fixed-salt"

	// scrypt cost parameters (N=2^15, r=8, p=1).
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	// PBKDF2Iterations follows the OWASP 2023 floor for PBKDF2-SHA-256.
	PBKDF2Iterations = 600000
)

// KDF names.
const (
	KDFScrypt = "scrypt"
	KDFPBKDF2 = "pbkdf2"
)

// =============================================================================
// KEY DERIVATION
// =============================================================================

// DeriveKey stretches secret into a KeySize key with the named KDF.
// Both choices are deliberately slow; callers should derive once and reuse.
func DeriveKey(kdf string, secret, salt []byte) ([]byte, error) {
	switch kdf {
	case "", KDFScrypt:
		key, err := scrypt.Key(secret, salt, scryptN, scryptR, scryptP, KeySize)
		if err != nil {
			return nil, fmt.Errorf("scrypt: %w", err)
		}
		return key, nil
	case KDFPBKDF2:
		return pbkdf2.Key(secret, salt, PBKDF2Iterations, KeySize, sha256.New), nil
	default:
		return nil, fmt.Errorf("unknown key derivation function %q", kdf)
	}
}

// ZeroBytes overwrites b in place.
// SECURITY: keeps key material out of crash dumps once it is no longer needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// RECORD FORMAT
// =============================================================================

// Record is one sealed entry as persisted.
type Record struct {
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Encode renders the record as "nonce:ciphertext:tag" in lowercase hex.
func (r Record) Encode() string {
	return hex.EncodeToString(r.Nonce) + ":" +
		hex.EncodeToString(r.Ciphertext) + ":" +
		hex.EncodeToString(r.Tag)
}

// ParseRecord decodes the output of Record.Encode. Field sizes are checked
// here so a truncated nonce or tag is reported as malformed rather than
// reaching the cipher.
func ParseRecord(s string) (Record, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("%w: want 3 fields, got %d", ErrMalformedRecord, len(parts))
	}

	var r Record
	var err error
	if r.Nonce, err = hex.DecodeString(parts[0]); err != nil || len(r.Nonce) != NonceSize {
		return Record{}, fmt.Errorf("%w: bad nonce", ErrMalformedRecord)
	}
	if r.Ciphertext, err = hex.DecodeString(parts[1]); err != nil {
		return Record{}, fmt.Errorf("%w: bad ciphertext", ErrMalformedRecord)
	}
	if r.Tag, err = hex.DecodeString(parts[2]); err != nil || len(r.Tag) != TagSize {
		return Record{}, fmt.Errorf("%w: bad tag", ErrMalformedRecord)
	}
	return r, nil
}

// =============================================================================
// SEALER
// =============================================================================

// sealer wraps an AES-256-GCM AEAD. cipher.AEAD is safe for concurrent use.
type sealer struct {
	aead cipher.AEAD
	rand io.Reader
}

func newSealer(key []byte) (*sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &sealer{aead: aead, rand: rand.Reader}, nil
}

// seal encrypts plaintext under a fresh random nonce. The entry name is
// bound as additional data so records cannot be swapped between names.
func (s *sealer) seal(name string, plaintext []byte) (Record, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return Record{}, fmt.Errorf("generate nonce: %w", err)
	}

	out := s.aead.Seal(nil, nonce, plaintext, []byte(name))
	split := len(out) - TagSize
	return Record{
		Nonce:      nonce,
		Ciphertext: out[:split],
		Tag:        out[split:],
	}, nil
}

func (s *sealer) open(name string, r Record) ([]byte, error) {
	sealed := make([]byte, 0, len(r.Ciphertext)+len(r.Tag))
	sealed = append(sealed, r.Ciphertext...)
	sealed = append(sealed, r.Tag...)

	plaintext, err := s.aead.Open(nil, r.Nonce, sealed, []byte(name))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
