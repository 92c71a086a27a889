// Package codec serializes reply messages for the wire.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/segmentio/encoding/json"

	"github.com/shortlink-org/correlation/config"
)

// ErrUnknownCodec is returned by FromConfig for an unsupported name.
var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec encodes and decodes reply payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
}

// JSON is the default codec.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSON) ContentType() string { return "application/json" }

// CBOR is a compact binary codec; field names follow the json tags.
type CBOR struct{}

func (CBOR) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CBOR) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (CBOR) ContentType() string { return "application/cbor" }

// FromConfig selects a codec by CORRELATION_CODEC.
//
//nolint:ireturn // codec chosen at runtime
func FromConfig(cfg *config.Config) (Codec, error) {
	cfg.SetDefault("CORRELATION_CODEC", "json") // json | cbor

	return ByName(cfg.GetString("CORRELATION_CODEC"))
}

// ByName returns the codec registered under name.
//
//nolint:ireturn // codec chosen at runtime
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
	}
}
