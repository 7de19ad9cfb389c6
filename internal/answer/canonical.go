package answer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Payload is an answer body exactly as the caller sent it, minus
// surrounding whitespace. It is stored and sent unchanged; the canonical
// form is only used to compare payloads and compute digests.
type Payload []byte

// ErrEmptyPayload is returned when an answer has no JSON content.
var ErrEmptyPayload = errors.New("answer payload is empty")

// ErrAmbiguousKey is returned when two object keys of a payload are the
// same string after NFC normalisation.
var ErrAmbiguousKey = errors.New("object keys collide after normalisation")

// ParsePayload checks that raw is exactly one JSON value with a canonical
// form and returns a copy of it. The bytes are not rewritten.
func ParsePayload(raw []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if _, err := Canonicalize(trimmed); err != nil {
		return nil, err
	}
	return Payload(bytes.Clone(trimmed)), nil
}

// MustParsePayload is ParsePayload for literals in tests and fixtures.
func MustParsePayload(raw string) Payload {
	p, err := ParsePayload([]byte(raw))
	if err != nil {
		panic(err)
	}
	return p
}

// Canonicalize parses raw JSON and re-encodes it canonically.
// Numbers are preserved exactly as written.
func Canonicalize(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode answer payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode answer payload: trailing data after JSON value")
	}

	out, err := MarshalCanonical(v)
	if err != nil {
		return nil, fmt.Errorf("encode answer payload: %w", err)
	}
	return out, nil
}

// Equal reports whether two payloads have the same canonical form.
func (p Payload) Equal(other Payload) bool {
	a, errA := Canonicalize(p)
	b, errB := Canonicalize(other)
	if errA != nil || errB != nil {
		return bytes.Equal(p, other)
	}
	return bytes.Equal(a, b)
}

// MarshalJSON emits the payload verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON keeps the incoming value verbatim.
func (p *Payload) UnmarshalJSON(data []byte) error {
	v, err := ParsePayload(data)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Payload) String() string {
	return string(p)
}

// MarshalCanonical encodes v as canonical JSON.
//
// Supported values are the ones produced by a json.Decoder with UseNumber
// (nil, bool, string, json.Number, []any, map[string]any) plus int, int64,
// []string and Payload. Floats are rejected because their text form is
// not stable; decode with UseNumber instead.
//
// Object keys and strings are NFC normalised. Keys are normalised before
// they are sorted, and two keys that normalise to the same string are an
// error wrapping ErrAmbiguousKey.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeCanonicalString(buf, val)
	case json.Number:
		if !json.Valid([]byte(val)) {
			return fmt.Errorf("invalid number %q", string(val))
		}
		buf.WriteString(string(val))
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case Payload:
		if len(val) == 0 {
			buf.WriteString("null")
			return nil
		}
		c, err := Canonicalize(val)
		if err != nil {
			return err
		}
		buf.Write(c)
	case []string:
		buf.WriteByte('[')
		for i, s := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, s)
		}
		buf.WriteByte(']')
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		byNorm := make(map[string]string, len(val))
		for k := range val {
			nk := norm.NFC.String(k)
			if prev, dup := byNorm[nk]; dup {
				return fmt.Errorf("%w: %q and %q", ErrAmbiguousKey, prev, k)
			}
			byNorm[nk] = k
			keys = append(keys, nk)
		}
		slices.SortFunc(keys, compareUTF16)

		buf.WriteByte('{')
		for i, nk := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, nk)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[byNorm[nk]]); err != nil {
				return fmt.Errorf("object[%q]: %w", nk, err)
			}
		}
		buf.WriteByte('}')
	case float32, float64:
		return fmt.Errorf("floats are not canonical: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString escapes only what RFC 8785 requires: quote,
// backslash and U+0000..U+001F. HTML characters and U+2028/U+2029 are
// written literally.
func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)

	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		case r == utf8.RuneError && size == 1:
			buf.WriteString("\uFFFD")
		default:
			buf.WriteString(s[i : i+size])
		}
		i += size
	}
	buf.WriteByte('"')
}

// compareUTF16 orders strings by UTF-16 code units. Go compares strings
// by UTF-8 bytes, which disagrees for characters above U+FFFF.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
