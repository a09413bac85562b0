package api

import (
	"fmt"

	"github.com/labteral/stopover/internal/stopovererr"
)

// Params wraps a decoded request's parameter map with typed accessors.
// JSON and MessagePack decode numbers and strings to different Go types
// (float64 vs int64/uint64, string vs []byte), so every accessor coerces
// whichever concrete type it finds. Every failure is a *stopovererr.Error
// of KindBadRequest: a missing or malformed parameter is the caller's
// fault, not the broker's.
type Params map[string]any

func badRequest(key string, message string) error {
	return stopovererr.New(stopovererr.KindBadRequest, "api.params", fmt.Sprintf("param %q: %s", key, message))
}

func (p Params) string(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", badRequest(key, "missing required param")
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", badRequest(key, fmt.Sprintf("unexpected type %T", v))
	}
}

func (p Params) optionalString(key string) (*string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := p.string(key)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p Params) bytes(key string) ([]byte, error) {
	v, ok := p[key]
	if !ok {
		return nil, badRequest(key, "missing required param")
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, badRequest(key, fmt.Sprintf("unexpected type %T", v))
	}
}

func (p Params) int(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, badRequest(key, "missing required param")
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, badRequest(key, err.Error())
	}
	return int(n), nil
}

func (p Params) uint64(key string) (uint64, error) {
	v, ok := p[key]
	if !ok {
		return 0, badRequest(key, "missing required param")
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, badRequest(key, err.Error())
	}
	return uint64(n), nil
}

func (p Params) int64(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, badRequest(key, "missing required param")
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, badRequest(key, err.Error())
	}
	return n, nil
}

func (p Params) optionalInt(key string) (*int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := p.int(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (p Params) optionalUint64(key string) (*uint64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := p.uint64(key)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
