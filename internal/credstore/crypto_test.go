// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := []byte(strings.Repeat("ab", MasterSecretBytes))

	for _, kdf := range []string{"", KDFScrypt, KDFPBKDF2} {
		k1, err := DeriveKey(kdf, secret, []byte(DefaultSalt))
		require.NoError(t, err)
		k2, err := DeriveKey(kdf, secret, []byte(DefaultSalt))
		require.NoError(t, err)

		assert.Len(t, k1, KeySize)
		assert.Equal(t, k1, k2, "kdf %q must be deterministic", kdf)
	}
}

func TestDeriveKey_DifferentInputs(t *testing.T) {
	a, err := DeriveKey(KDFScrypt, []byte("secret-a"), []byte(DefaultSalt))
	require.NoError(t, err)
	b, err := DeriveKey(KDFScrypt, []byte("secret-b"), []byte(DefaultSalt))
	require.NoError(t, err)
	c, err := DeriveKey(KDFPBKDF2, []byte("secret-a"), []byte(DefaultSalt))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeriveKey_UnknownKDF(t *testing.T) {
	_, err := DeriveKey("md5", []byte("x"), []byte(DefaultSalt))
	assert.Error(t, err)
}

func TestRecord_EncodeParse(t *testing.T) {
	r := Record{
		Nonce:      bytes.Repeat([]byte{0x01}, NonceSize),
		Ciphertext: []byte{0xde, 0xad, 0xbe, 0xef},
		Tag:        bytes.Repeat([]byte{0xff}, TagSize),
	}
	encoded := r.Encode()
	assert.Equal(t, 2, strings.Count(encoded, ":"))
	assert.Equal(t, strings.ToLower(encoded), encoded)

	parsed, err := ParseRecord(encoded)
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
}

func TestParseRecord_EmptyCiphertext(t *testing.T) {
	encoded := strings.Repeat("00", NonceSize) + "::" + strings.Repeat("11", TagSize)
	r, err := ParseRecord(encoded)
	require.NoError(t, err)
	assert.Empty(t, r.Ciphertext)
}

func TestParseRecord_Rejects(t *testing.T) {
	nonce := strings.Repeat("00", NonceSize)
	tag := strings.Repeat("11", TagSize)

	cases := map[string]string{
		"too few fields":  nonce + ":" + tag,
		"too many fields": nonce + ":aa:" + tag + ":bb",
		"short nonce":     "0000:aa:" + tag,
		"short tag":       nonce + ":aa:1111",
		"odd hex":         nonce + ":abc:" + tag,
		"not hex":         nonce + ":zz:" + tag,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRecord(in)
			assert.True(t, errors.Is(err, ErrMalformedRecord))
		})
	}
}

func TestSealer_SealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, KeySize)
	s, err := newSealer(key)
	require.NoError(t, err)

	rec, err := s.seal("name", []byte("payload"))
	require.NoError(t, err)
	assert.Len(t, rec.Nonce, NonceSize)
	assert.Len(t, rec.Tag, TagSize)
	assert.Len(t, rec.Ciphertext, len("payload"))

	out, err := s.open("name", rec)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))

	_, err = s.open("other", rec)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestZeroBytes(t *testing.T) {
	b := []byte("sensitive")
	ZeroBytes(b)
	assert.Equal(t, make([]byte, len("sensitive")), b)
}
