package codec

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
)

// Status codes carried in every response body.
const (
	StatusOK                    = 20
	StatusEndOfStream           = 21
	StatusAllPartitionsAssigned = 22
	StatusError                 = 50
)

// Request is a decoded envelope: a method name plus its parameters.
type Request struct {
	Method string         `json:"method" msgpack:"method"`
	Params map[string]any `json:"params" msgpack:"params"`
}

// jsonSigil is the first byte of every JSON-encoded envelope; anything else
// is treated as a compressed MessagePack envelope.
const jsonSigil = '{'

// DecodeRequest sniffs the wire encoding of body and decodes it into a
// Request. plainResponse reports whether the response must be encoded
// back as JSON (true) or as compressed MessagePack (false), mirroring
// the request's own encoding.
func DecodeRequest(body []byte) (req Request, plainResponse bool, err error) {
	if len(body) > 0 && body[0] == jsonSigil {
		if err := json.Unmarshal(body, &req); err != nil {
			return Request{}, true, fmt.Errorf("codec: invalid json envelope: %w", err)
		}
		return req, true, nil
	}

	decompressed, err := snappy.Decode(nil, body)
	if err != nil {
		return Request{}, false, fmt.Errorf("codec: failed to decompress envelope: %w", err)
	}
	if err := msgpack.Unmarshal(decompressed, &req); err != nil {
		return Request{}, false, fmt.Errorf("codec: invalid msgpack envelope: %w", err)
	}
	return req, false, nil
}

// EncodeResponse encodes resp as JSON if plainResponse, otherwise as
// snappy-compressed MessagePack.
func EncodeResponse(resp map[string]any, plainResponse bool) ([]byte, error) {
	if plainResponse {
		data, err := json.Marshal(jsonSafe(resp))
		if err != nil {
			return nil, fmt.Errorf("codec: failed to encode json response: %w", err)
		}
		return data, nil
	}

	packed, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to encode msgpack response: %w", err)
	}
	return snappy.Encode(nil, packed), nil
}

// jsonSafe converts []byte values to plain strings: JSON has no binary
// type, and the original broker never treated a message value as
// anything but a UTF-8 string on its JSON transport.
func jsonSafe(resp map[string]any) map[string]any {
	out := make(map[string]any, len(resp))
	for k, v := range resp {
		if b, ok := v.([]byte); ok {
			out[k] = string(b)
			continue
		}
		out[k] = v
	}
	return out
}
