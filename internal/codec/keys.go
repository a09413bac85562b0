// Package codec implements the on-disk key encoding, the stored
// PartitionItem representation, and the request/response envelope used by
// the broker's transport.
package codec

import "encoding/binary"

// Tag is the one-byte key-space discriminator shared by every key stored
// in a partition's key-value store.
type Tag byte

const (
	// TagMessage prefixes MESSAGE keys: Tag ‖ big-endian u64 index.
	TagMessage Tag = 0x00
	// TagIndex is the single-entry key holding the head index.
	TagIndex Tag = 0x01
	// TagOffset prefixes OFFSET keys: Tag ‖ utf-8 receiver group name.
	TagOffset Tag = 0x02
)

// MessageKey builds the key for the message stored at index.
func MessageKey(index uint64) []byte {
	key := make([]byte, 9)
	key[0] = byte(TagMessage)
	binary.BigEndian.PutUint64(key[1:], index)
	return key
}

// IndexKey returns the single key holding the partition's head index.
func IndexKey() []byte {
	return []byte{byte(TagIndex)}
}

// OffsetKey builds the key holding the committed offset for group.
func OffsetKey(group string) []byte {
	key := make([]byte, 1+len(group))
	key[0] = byte(TagOffset)
	copy(key[1:], group)
	return key
}

// MessageIndex extracts the index from a MESSAGE key. ok is false if key
// is not a well-formed MESSAGE key.
func MessageIndex(key []byte) (index uint64, ok bool) {
	if len(key) != 9 || Tag(key[0]) != TagMessage {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[1:]), true
}
