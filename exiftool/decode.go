package exiftool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is one file's metadata from -json output. Keys are tag names,
// prefixed with the group ("File:FileSize") under the default -G.
//
// ExifTool writes SourceFile first and the tags in a meaningful order, but a
// map keeps no order: ranging over a Record visits keys in random order. Use
// SourceFile for the file name, and ExecuteBytes with "-json" when the tag
// order matters.
type Record map[string]any

// SourceFile returns the file the record describes.
func (r Record) SourceFile() string {
	s, _ := r["SourceFile"].(string)
	return s
}

// JSONDecoder turns the bytes of a -json response into a Go value. The
// result must be a JSON array of objects or a single object, in any of the
// shapes encoding/json produces ([]any of map[string]any, map[string]any,
// []map[string]any, []Record, Record).
//
// The decoder is read on every JSON call and may be swapped at any time.
type JSONDecoder interface {
	Decode(data []byte) (any, error)
}

// JSONDecoderFunc adapts a function to JSONDecoder.
type JSONDecoderFunc func(data []byte) (any, error)

// Decode calls f(data).
func (f JSONDecoderFunc) Decode(data []byte) (any, error) {
	return f(data)
}

// StdJSONDecoder decodes with encoding/json.
type StdJSONDecoder struct {
	// UseNumber keeps numbers as json.Number instead of float64, so large
	// integers and values like "1.10" survive unchanged.
	UseNumber bool
}

// Decode implements JSONDecoder.
func (d StdJSONDecoder) Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if d.UseNumber {
		dec.UseNumber()
	}
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level JSON value")
	}
	return v, nil
}

// toRecords normalizes a decoded value into a slice of records. A single
// object becomes a one-element slice.
func toRecords(v any) ([]Record, error) {
	switch t := v.(type) {
	case []Record:
		return t, nil
	case Record:
		return []Record{t}, nil
	case map[string]any:
		return []Record{t}, nil
	case []map[string]any:
		out := make([]Record, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out, nil
	case []any:
		out := make([]Record, 0, len(t))
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want object", i, item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("top-level value is %T, want array or object", v)
	}
}
