package exiftool

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when Config.Encoding is empty.
const DefaultEncoding = "utf-8"

// TextCodec converts between Go strings and the bytes exchanged with the
// process. Output that is not valid in the primary encoding is decoded as
// ISO-8859-1, which maps every byte to a rune and so never fails.
type TextCodec struct {
	name    string
	primary encoding.Encoding // nil means UTF-8
}

// NewTextCodec returns a codec for a WHATWG encoding label such as "utf-8",
// "latin1" or "windows-1252". Encodings that do not keep ASCII bytes as-is
// (UTF-16 and friends) cannot carry the argfile protocol and are rejected.
func NewTextCodec(label string) (*TextCodec, error) {
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", label, err)
	}
	name, _ := htmlindex.Name(enc)
	if name == "utf-8" {
		return &TextCodec{name: name}, nil
	}

	const probe = "-execute123\n{ready}=post\n"
	got, err := enc.NewEncoder().String(probe)
	if err != nil || got != probe {
		return nil, fmt.Errorf("encoding %q is not ASCII-compatible", label)
	}
	return &TextCodec{name: name, primary: enc}, nil
}

// Name returns the canonical name of the primary encoding.
func (c *TextCodec) Name() string {
	return c.name
}

// Decode converts process output to a string. fallback reports that the
// bytes were not valid in the primary encoding and ISO-8859-1 was used.
func (c *TextCodec) Decode(b []byte) (s string, fallback bool) {
	if c.primary == nil {
		if utf8.Valid(b) {
			return string(b), false
		}
		return decodeLatin1(b), true
	}

	out, err := c.primary.NewDecoder().Bytes(b)
	// Charmap decoders substitute U+FFFD for unmapped bytes instead of failing.
	if err == nil && !bytes.ContainsRune(out, utf8.RuneError) {
		return string(out), false
	}
	return decodeLatin1(b), true
}

// Encode converts framed text to the primary encoding. Characters the
// encoding cannot represent are an error; nothing is substituted.
func (c *TextCodec) Encode(s string) ([]byte, error) {
	if c.primary == nil {
		return []byte(s), nil
	}
	b, err := c.primary.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return b, nil
}

// EncodeArgs checks that each argument is representable, so the caller gets
// an InvalidArgumentsError naming the arguments before anything is written.
func (c *TextCodec) EncodeArgs(args []string) error {
	if c.primary == nil {
		return nil
	}
	enc := c.primary.NewEncoder()
	for _, a := range args {
		if _, err := enc.String(a); err != nil {
			return &InvalidArgumentsError{
				Args:   args,
				Reason: fmt.Sprintf("%q cannot be represented in %s", a, c.name),
			}
		}
	}
	return nil
}

func decodeLatin1(b []byte) string {
	// ISO-8859-1 maps byte n to U+00nn; the decoder cannot fail.
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(out)
}

// isBlank reports whether s holds only whitespace.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
