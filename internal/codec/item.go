package codec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Item is the value stored for a message: the producer's payload plus the
// timestamp the broker assigned at append time.
type Item struct {
	Value     []byte `msgpack:"value"`
	Timestamp int64  `msgpack:"timestamp"`
}

// EncodeItem serializes an Item the way it is stored in the partition's
// key-value store.
func EncodeItem(item Item) ([]byte, error) {
	data, err := msgpack.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to encode item: %w", err)
	}
	return data, nil
}

// DecodeItem deserializes a stored Item. Legacy values may be a
// msgpack bin blob wrapping a second msgpack encoding of the same map
// (an artifact of byte-string passthrough in the original store driver);
// one level of unwrap is attempted before giving up.
func DecodeItem(data []byte) (Item, error) {
	var item Item
	if err := msgpack.Unmarshal(data, &item); err == nil {
		return item, nil
	}

	var wrapped []byte
	if err := msgpack.Unmarshal(data, &wrapped); err != nil {
		return Item{}, fmt.Errorf("codec: failed to decode item: %w", err)
	}
	if err := msgpack.Unmarshal(wrapped, &item); err != nil {
		return Item{}, fmt.Errorf("codec: failed to decode wrapped item: %w", err)
	}
	return item, nil
}
