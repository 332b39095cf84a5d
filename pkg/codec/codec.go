// Package codec serializes log entries for queue transports.
//
// Producers choose a format (JSON or CBOR) and an optional compression
// (zstd or lz4). Decode detects both from the payload itself, so a single
// distributor can drain a queue fed by differently configured producers.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/modoterra/logrelay/pkg/core"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed entry")

// Format is the serialization of an entry.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
)

// Compression is the optional compression applied after serialization.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// MaxDecodedSize bounds decompressed payloads.
const MaxDecodedSize = 16 << 20

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Codec encodes entries in one configured format and decodes any
// supported format.
type Codec struct {
	format      Format
	compression Compression
}

// New creates a codec. Empty arguments select JSON without compression.
func New(format Format, compression Compression) (*Codec, error) {
	if format == "" {
		format = FormatJSON
	}
	if compression == "" {
		compression = CompressionNone
	}
	switch format {
	case FormatJSON, FormatCBOR:
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	switch compression {
	case CompressionNone, CompressionZstd, CompressionLZ4:
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
	return &Codec{format: format, compression: compression}, nil
}

// Format returns the encoding format.
func (c *Codec) Format() Format { return c.format }

// Compression returns the encoding compression.
func (c *Codec) Compression() Compression { return c.compression }

// Encode serializes and optionally compresses an entry.
func (c *Codec) Encode(e *core.LogEntry) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch c.format {
	case FormatCBOR:
		data, err = encodeCBOR(e)
	default:
		data, err = EncodeJSON(e)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.format, err)
	}

	switch c.compression {
	case CompressionZstd:
		return compressZstd(data), nil
	case CompressionLZ4:
		return compressLZ4(data)
	default:
		return data, nil
	}
}

// Decode reverses Encode for any supported format and compression.
// Errors wrap ErrMalformed.
func (c *Codec) Decode(payload []byte) (*core.LogEntry, error) {
	return Decode(payload)
}

// Decode detects compression and format and decodes the entry.
func Decode(payload []byte) (*core.LogEntry, error) {
	data, err := decompress(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	var e *core.LogEntry
	switch b := trimmed[0]; {
	case b == '{':
		e, err = decodeJSON(trimmed)
	case b >= 0xa0 && b <= 0xbf:
		e, err = decodeCBOR(data)
	default:
		return nil, fmt.Errorf("%w: unrecognized payload (first byte 0x%02x)", ErrMalformed, b)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := check(e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return e, nil
}

func decompress(payload []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(payload, zstdMagic):
		return decompressZstd(payload)
	case bytes.HasPrefix(payload, lz4Magic):
		return decompressLZ4(payload)
	default:
		return payload, nil
	}
}

func check(e *core.LogEntry) error {
	if e.TsUnixNs <= 0 {
		return errors.New("ts_unix_ns is required")
	}
	if e.Severity == "" {
		e.Severity = core.SeverityInfo
		return nil
	}
	sev, err := core.ParseSeverity(string(e.Severity))
	if err != nil {
		return err
	}
	e.Severity = sev
	return nil
}
