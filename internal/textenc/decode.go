package textenc

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode classifies raw file bytes and returns the decoded document.
//
// A leading byte-order mark commits the bytes to UTF-8: the mark is stripped
// and the remainder must validate, with no Shift_JIS fallback. Otherwise the
// whole sequence is tried as strict UTF-8, then as strict Shift_JIS. Both
// decoders must report zero substitutions to accept; when neither does, the
// result is ErrUnsupportedEncoding and no partial content.
//
// Decode is deterministic and side-effect-free. It neither retains nor
// aliases raw.
func Decode(raw []byte) (Document, error) {
	if bytes.HasPrefix(raw, utf8BOM) {
		body := raw[len(utf8BOM):]
		if !utf8.Valid(body) {
			return Document{}, ErrUnsupportedEncoding
		}
		return newDocument(string(body), UTF8), nil
	}

	if utf8.Valid(raw) {
		return newDocument(string(raw), UTF8), nil
	}

	if content, ok := decodeShiftJIS(raw); ok {
		return newDocument(content, ShiftJIS), nil
	}

	return Document{}, ErrUnsupportedEncoding
}

func newDocument(content string, enc Encoding) Document {
	return Document{
		Content:    content,
		Encoding:   enc,
		LineEnding: DetectLineEnding(content),
	}
}

// DetectLineEnding reports CRLF when the content contains at least one
// "\r\n" anywhere, LF otherwise. This is a presence test, not a majority
// vote: one stray CRLF classifies an otherwise LF file as CRLF. Mixed
// endings are detected, never rewritten.
func DetectLineEnding(content string) LineEnding {
	if strings.Contains(content, "\r\n") {
		return CRLF
	}
	return LF
}

// decodeShiftJIS attempts a strict Shift_JIS decode. The transformer never
// fails on bad input; it substitutes U+FFFD instead. Shift_JIS has no
// encoding for U+FFFD, so any replacement rune in the output proves a
// substitution happened and the input is rejected.
func decodeShiftJIS(raw []byte) (string, bool) {
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		return "", false
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return "", false
	}
	return string(decoded), true
}
