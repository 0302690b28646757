// Package textenc classifies and transcodes the byte encodings MirrorShard
// understands: UTF-8 (with or without a byte-order mark) and Shift_JIS.
//
// Classification is strict. Bytes are accepted only when one of the two
// decoders reproduces them without a single substitution; anything else is
// rejected rather than guessed at, so a later re-save can never silently
// corrupt content that was mis-detected on open.
package textenc

import (
	"errors"
	"fmt"
)

// Encoding identifies one of the two byte encodings a document can be
// persisted in. The set is closed: operations on any other value fail
// instead of falling back to UTF-8.
type Encoding int

const (
	// UTF8 is UTF-8 without a byte-order mark.
	UTF8 Encoding = iota
	// ShiftJIS is the Shift_JIS encoding.
	ShiftJIS
)

const (
	utf8Name     = "UTF-8"
	shiftJISName = "Shift_JIS"
)

// String returns the wire name of the encoding.
func (e Encoding) String() string {
	switch e {
	case UTF8:
		return utf8Name
	case ShiftJIS:
		return shiftJISName
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding maps a wire name back to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case utf8Name:
		return UTF8, nil
	case shiftJISName:
		return ShiftJIS, nil
	default:
		return 0, fmt.Errorf("unknown encoding %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Encoding) MarshalText() ([]byte, error) {
	switch e {
	case UTF8, ShiftJIS:
		return []byte(e.String()), nil
	default:
		return nil, fmt.Errorf("unknown encoding %d", int(e))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *Encoding) UnmarshalText(text []byte) error {
	parsed, err := ParseEncoding(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// LineEnding identifies the line-ending convention detected in a document.
type LineEnding int

const (
	// LF is Unix-style "\n".
	LF LineEnding = iota
	// CRLF is Windows-style "\r\n".
	CRLF
)

// String returns the wire name of the line ending.
func (le LineEnding) String() string {
	switch le {
	case LF:
		return "LF"
	case CRLF:
		return "CRLF"
	default:
		return fmt.Sprintf("LineEnding(%d)", int(le))
	}
}

// ParseLineEnding maps a wire name back to a LineEnding.
func ParseLineEnding(s string) (LineEnding, error) {
	switch s {
	case "LF":
		return LF, nil
	case "CRLF":
		return CRLF, nil
	default:
		return 0, fmt.Errorf("unknown line ending %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (le LineEnding) MarshalText() ([]byte, error) {
	switch le {
	case LF, CRLF:
		return []byte(le.String()), nil
	default:
		return nil, fmt.Errorf("unknown line ending %d", int(le))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (le *LineEnding) UnmarshalText(text []byte) error {
	parsed, err := ParseLineEnding(string(text))
	if err != nil {
		return err
	}
	*le = parsed
	return nil
}

// Document is the result of a successful decode. Content is a faithful
// transcription of the source bytes under Encoding; re-encoding it with
// Encode yields the original bytes (minus a byte-order mark, when one was
// present). Ownership passes to the caller; the decoder keeps nothing.
type Document struct {
	Content    string     `json:"content"`
	Encoding   Encoding   `json:"encoding"`
	LineEnding LineEnding `json:"line_ending"`
}

// ErrUnsupportedEncoding is reported when bytes are neither valid UTF-8 nor
// cleanly decodable Shift_JIS. The message is shown to the user verbatim.
var ErrUnsupportedEncoding = errors.New("Unsupported encoding detected. MirrorShard only supports UTF-8 and Shift_JIS.")
