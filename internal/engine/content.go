// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// decodeContent decodes raw bytes as text. It prefers UTF-8; a truncated
// trailing multi-byte sequence is tolerated (the read was cut mid-rune, not
// corrupt), but an invalid sequence anywhere else in the buffer is treated
// as a hard decode failure unless the response was truncated, in which case
// the whole buffer is decoded as Latin-1 instead.
//
// The charset declared by Content-Type or by the document is not consulted:
// the only fallback is a byte-for-byte Latin-1 decode, and a non-truncated
// body that is not valid UTF-8 fails whatever charset it declares. Full
// charset conversion is out of scope.
func decodeContent(raw []byte, contentType string, truncated bool) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	if ok, validLen := validUTF8Prefix(raw); ok {
		return string(raw[:validLen]), nil
	} else if !truncated {
		return "", fmt.Errorf("invalid utf-8 sequence at byte %d", validLen)
	}

	// Declared or sniffed charset isn't used to pick a real decode table
	// (full charset conversion is out of scope); the result of looking it
	// up is discarded and the fallback is always Latin-1.
	_ = charsetFromContentType(contentType)
	_ = charsetFromDocument(raw)
	return decodeLatin1(raw), nil
}

// validUTF8Prefix walks raw and returns (true, len(raw)) if it is entirely
// valid UTF-8. If it is invalid only because the final rune is a multi-byte
// sequence cut short by a read limit, it returns (true, n) where n excludes
// that trailing partial rune. Any invalid sequence earlier in the buffer
// returns (false, offset) pointing at the bad byte.
func validUTF8Prefix(raw []byte) (ok bool, length int) {
	i := 0
	for i < len(raw) {
		r, size := utf8.DecodeRune(raw[i:])
		if r != utf8.RuneError {
			i += size
			continue
		}
		if size == 1 {
			// A genuine encoding error, not just "ran out of bytes".
			if i+utf8.UTFMax <= len(raw) || utf8.FullRune(raw[i:]) {
				return false, i
			}
			// Not a full rune and near the end of the buffer: treat as a
			// truncated trailing sequence.
			return true, i
		}
		i += size
	}
	return true, i
}

func charsetFromContentType(contentType string) string {
	lower := strings.ToLower(contentType)
	idx := strings.Index(lower, "charset=")
	if idx < 0 {
		return ""
	}
	val := lower[idx+len("charset="):]
	if semi := strings.IndexByte(val, ';'); semi >= 0 {
		val = val[:semi]
	}
	return strings.Trim(strings.TrimSpace(val), `"'`)
}

// charsetFromDocument does a minimal best-effort scan for a
// <meta charset="..."> declaration in the first 1024 bytes, the way a
// browser sniffs HTML that lacks a Content-Type charset.
func charsetFromDocument(raw []byte) string {
	window := raw
	if len(window) > 1024 {
		window = window[:1024]
	}
	lower := strings.ToLower(string(window))
	idx := strings.Index(lower, "charset=")
	if idx < 0 {
		return ""
	}
	val := lower[idx+len("charset="):]
	val = strings.TrimLeft(val, `"' `)
	end := strings.IndexAny(val, `"' >`)
	if end < 0 {
		return ""
	}
	return val[:end]
}

// decodeLatin1 treats every byte as one Latin-1 code point, which is always
// a valid (if sometimes wrong) decoding, so the fallback can never fail.
func decodeLatin1(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}
