// Package report writes benchmark run reports to disk in JSON or YAML.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Supported formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

const (
	jsonExtension = ".json"
	yamlExtension = ".yaml"
	defaultIndent = "  "
	yamlIndent    = 2
)

// ErrUnknownFormat is returned by CodecFor for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// Codec serializes a report.
type Codec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
	Extension() string
}

// CodecFor returns the codec for a format name. An empty name selects JSON.
func CodecFor(format string) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return NewJSONCodec(), nil
	case FormatYAML:
		return YAMLCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// JSONCodec encodes reports as JSON. An empty Indent writes compact output.
type JSONCodec struct {
	Indent string
}

// NewJSONCodec creates a pretty-printing JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.
func (c *JSONCodec) Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (c *JSONCodec) Decode(r io.Reader, v any) error {
	err := json.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (c *JSONCodec) Extension() string { return jsonExtension }

// YAMLCodec encodes reports as YAML.
type YAMLCodec struct{}

// Encode implements Codec.
func (YAMLCodec) Encode(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(yamlIndent)

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return fmt.Errorf("yaml encode: %w", err)
	}

	return nil
}

// Decode implements Codec.
func (YAMLCodec) Decode(r io.Reader, v any) error {
	err := yaml.NewDecoder(r).Decode(v)
	if err != nil {
		return fmt.Errorf("yaml decode: %w", err)
	}

	return nil
}

// Extension implements Codec.
func (YAMLCodec) Extension() string { return yamlExtension }

// Save writes v to dir/basename plus the codec's extension and returns the path.
func Save(dir, basename string, codec Codec, v any) (string, error) {
	path := filepath.Join(dir, basename+codec.Extension())

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report file: %w", err)
	}
	defer file.Close()

	err = codec.Encode(file, v)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	return path, nil
}

// Load reads dir/basename plus the codec's extension into v, which must be a pointer.
func Load(dir, basename string, codec Codec, v any) error {
	path := filepath.Join(dir, basename+codec.Extension())

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, v)
	if err != nil {
		return fmt.Errorf("decode report: %w", err)
	}

	return nil
}
