package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Encoding is the wire format an endpoint accepts.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// cborMode keeps sub-second timestamps; the library default truncates to Unix seconds.
var cborMode = mustCBORMode()

func mustCBORMode() cbor.EncMode {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// ParseEncoding maps a manifest value to an Encoding; empty means JSON.
func ParseEncoding(raw string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	default:
		return "", fmt.Errorf("unknown encoding %q", raw)
	}
}

// ContentType returns the HTTP media type for enc.
func (enc Encoding) ContentType() string {
	if enc == EncodingCBOR {
		return "application/cbor"
	}
	return "application/json"
}

// EncodingForContentType is the inverse of ContentType. Unknown types fall back to JSON.
func EncodingForContentType(contentType string) Encoding {
	if strings.HasPrefix(strings.ToLower(contentType), "application/cbor") {
		return EncodingCBOR
	}
	return EncodingJSON
}

// Encode serializes msg.
func Encode(enc Encoding, msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("failed to encode message: message is nil")
	}
	var (
		data []byte
		err  error
	)
	switch enc {
	case EncodingCBOR:
		data, err = cborMode.Marshal(msg)
	case "", EncodingJSON:
		data, err = json.Marshal(msg)
	default:
		return nil, fmt.Errorf("failed to encode message: unknown encoding %q", enc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode message as %s: %w", enc, err)
	}
	return data, nil
}

// Decode parses data and validates the result.
func Decode(enc Encoding, data []byte) (*Message, error) {
	var msg Message
	var err error
	switch enc {
	case EncodingCBOR:
		err = cbor.Unmarshal(data, &msg)
	case "", EncodingJSON:
		err = json.Unmarshal(data, &msg)
	default:
		return nil, fmt.Errorf("failed to decode message: unknown encoding %q", enc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode message as %s: %w", enc, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
