// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readBufferSize is how much of a raw stream is decoded per read.
const readBufferSize = 4096

// NewUTF8Reader wraps r with an incremental UTF-8 decoder. A multi-byte
// sequence split across network reads is held back until it completes;
// invalid bytes become U+FFFD. Each Read returns only whole characters.
func NewUTF8Reader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.UTF8.NewDecoder())
}

// streamText copies a raw UTF-8 body to onChunk in decoded pieces and
// returns everything emitted. Cancellation is checked before each read and
// after each chunk.
func streamText(ctx context.Context, body io.Reader, onChunk func(string)) (string, error) {
	reader := NewUTF8Reader(body)
	buf := make([]byte, readBufferSize)
	var acc []byte

	for {
		if err := ctx.Err(); err != nil {
			return string(acc), err
		}

		n, err := reader.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			acc = append(acc, chunk...)
			onChunk(chunk)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return string(acc), ctxErr
			}
			if errors.Is(err, io.EOF) {
				return string(acc), nil
			}
			return string(acc), err
		}
	}
}
