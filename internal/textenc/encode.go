package textenc

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Encode transcribes content into bytes under the chosen encoding.
//
// UTF-8 is a direct, lossless copy. Shift_JIS is best-effort: characters
// with no Shift_JIS mapping are silently replaced with the encoder's
// substitute character. That loss is the caller's accepted risk when
// choosing Shift_JIS; no error is raised for it.
//
// Any Encoding value outside the declared set is an error, never an
// implicit UTF-8.
func Encode(content string, enc Encoding) ([]byte, error) {
	switch enc {
	case UTF8:
		return []byte(content), nil
	case ShiftJIS:
		encoder := encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder())
		out, _, err := transform.Bytes(encoder, []byte(content))
		if err != nil {
			return nil, fmt.Errorf("encode shift_jis: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown encoding %d", int(enc))
	}
}
