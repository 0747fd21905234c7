package envelope

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"kafka-proxy-client/internal/proxyerr"
)

// Encode renders e as one UTF-8 JSON text frame.
func Encode(e *Envelope) ([]byte, error) {
	data, err := e.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Parse decodes a frame strictly. Errors match proxyerr.ErrFrameDecode.
func Parse(data []byte) (*Envelope, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: frame is not valid UTF-8", proxyerr.ErrFrameDecode)
	}
	e := &Envelope{}
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return e, nil
}

// Decode never fails: frames that are not a JSON object come back as a raw
// envelope holding the original text.
func Decode(data []byte) *Envelope {
	e, err := Parse(data)
	if err != nil {
		return Raw(string(data))
	}
	return e
}

// FromValue converts any JSON-marshalable value that encodes to an object.
func FromValue(value any) (*Envelope, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
