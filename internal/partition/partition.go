// Package partition implements the per-partition durable log: append,
// read, commit, set-offset and prune, backed by a bbolt database.
package partition

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/labteral/stopover/internal/codec"
	"github.com/labteral/stopover/internal/stopovererr"
)

// bucket is the single bbolt bucket holding every MESSAGE/INDEX/OFFSET
// key for a partition, so that lexicographic key order is cursor order.
var bucket = []byte("p")

// Item is a message read back from a partition, with its assigned index.
type Item struct {
	Index     uint64
	Value     []byte
	Timestamp int64
}

// Partition is one durable, append-only log for a single (stream,
// number) pair. All mutating operations, and reads that may fast-forward
// a group's committed offset, hold mu for their entire duration.
type Partition struct {
	Stream string
	Number int

	mu sync.Mutex
	db *bbolt.DB
}

// Open opens (and, if createIfMissing, creates) the partition directory
// and its backing store. A partition that doesn't yet exist on disk and
// createIfMissing is false returns an error: per the stream registry's
// contract, a partition must already exist before it is opened here for
// I/O.
func Open(dataDir, stream string, number int, createIfMissing bool) (*Partition, error) {
	dir := filepath.Join(dataDir, "streams", stream, fmt.Sprintf("%d", number))

	if !createIfMissing {
		if _, err := os.Stat(dir); err != nil {
			return nil, stopovererr.Wrap(stopovererr.KindInternal, "partition.open", err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, stopovererr.Wrap(stopovererr.KindInternal, "partition.open", err)
	}

	dbPath := filepath.Join(dir, "stopover.db")
	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, stopovererr.Wrap(stopovererr.KindInternal, "partition.open", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, stopovererr.Wrap(stopovererr.KindInternal, "partition.open", err)
	}

	return &Partition{Stream: stream, Number: number, db: db}, nil
}

// Close releases the underlying store handle. Partitions are normally
// cached for process lifetime; Close is only used on graceful shutdown.
func (p *Partition) Close() error {
	return p.db.Close()
}

// headRaw returns the highest assigned index and whether one has ever
// been assigned. Must be called with mu held.
func (p *Partition) headRaw(tx *bbolt.Tx) (value uint64, exists bool) {
	raw := tx.Bucket(bucket).Get(codec.IndexKey())
	if raw == nil {
		return 0, false
	}
	return decodeUint64(raw), true
}

// headIndex returns the highest assigned index, or -1 if the partition
// is empty. Must be called with mu held. Append only refuses at
// math.MaxUint64; a head above math.MaxInt64 would take more than 2^63
// appends, and the int64 cast assumes that never happens.
func (p *Partition) headIndex(tx *bbolt.Tx) int64 {
	value, exists := p.headRaw(tx)
	if !exists {
		return -1
	}
	return int64(value)
}

// committedOffset returns the last committed index for group, or -1 if
// the group has never committed. Must be called with mu held.
func (p *Partition) committedOffset(tx *bbolt.Tx, group string) int64 {
	raw := tx.Bucket(bucket).Get(codec.OffsetKey(group))
	if raw == nil {
		return -1
	}
	return int64(decodeUint64(raw))
}

// Append stores item at the next index and returns that index.
func (p *Partition) Append(value []byte, timestampMs int64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var newIndex uint64
	err := p.db.Update(func(tx *bbolt.Tx) error {
		head, exists := p.headRaw(tx)
		switch {
		case !exists:
			newIndex = 0
		case head == math.MaxUint64:
			return stopovererr.New(stopovererr.KindCapacityExceeded, "partition.append", "head index would overflow")
		default:
			newIndex = head + 1
		}

		encoded, err := codec.EncodeItem(codec.Item{Value: value, Timestamp: timestampMs})
		if err != nil {
			return stopovererr.Wrap(stopovererr.KindInternal, "partition.append", err)
		}

		b := tx.Bucket(bucket)
		if err := b.Put(codec.MessageKey(newIndex), encoded); err != nil {
			return stopovererr.Wrap(stopovererr.KindInternal, "partition.append", err)
		}
		return b.Put(codec.IndexKey(), encodeUint64(newIndex))
	})
	if err != nil {
		return 0, err
	}
	return newIndex, nil
}

// Read returns the next unread message for group, or the message at
// explicitIndex when explicitIndex is non-nil. Explicit-index reads never
// mutate state; reads with no explicit index fast-forward the group's
// committed offset over pruned holes.
func (p *Partition) Read(group string, explicitIndex *uint64) (*Item, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if explicitIndex != nil {
		var item *Item
		err := p.db.View(func(tx *bbolt.Tx) error {
			item = p.loadAt(tx, *explicitIndex)
			return nil
		})
		return item, err
	}

	var result *Item
	err := p.db.Update(func(tx *bbolt.Tx) error {
		head := p.headIndex(tx)
		target := p.committedOffset(tx, group) + 1

		for {
			if target > head {
				result = nil
				return nil
			}
			item := p.loadAt(tx, uint64(target))
			if item != nil {
				result = item
				return nil
			}
			// Pruned hole: advance the group's offset and retry.
			if err := tx.Bucket(bucket).Put(codec.OffsetKey(group), encodeUint64(uint64(target))); err != nil {
				return stopovererr.Wrap(stopovererr.KindInternal, "partition.read", err)
			}
			target++
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// loadAt loads the message at index, or nil if absent. Must be called
// with mu held and tx open.
func (p *Partition) loadAt(tx *bbolt.Tx, index uint64) *Item {
	raw := tx.Bucket(bucket).Get(codec.MessageKey(index))
	if raw == nil {
		return nil
	}
	item, err := codec.DecodeItem(raw)
	if err != nil {
		return nil
	}
	return &Item{Index: index, Value: item.Value, Timestamp: item.Timestamp}
}

// Commit advances group's committed offset to offset, which must equal
// the expected next offset (committedOffset + 1).
func (p *Partition) Commit(offset uint64, group string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Update(func(tx *bbolt.Tx) error {
		expected := p.committedOffset(tx, group) + 1
		if int64(offset) != expected {
			return stopovererr.New(stopovererr.KindOutOfOrderCommit, "partition.commit",
				fmt.Sprintf("trying to commit offset %d but %d was expected", offset, expected))
		}
		return tx.Bucket(bucket).Put(codec.OffsetKey(group), encodeUint64(offset))
	})
}

// SetOffset seeks group's committed offset to min(offset, headIndex),
// clamped to the valid range [-1, headIndex]. A request to seek past the
// head is treated as "seek to head."
func (p *Partition) SetOffset(group string, offset int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Update(func(tx *bbolt.Tx) error {
		head := p.headIndex(tx)
		if offset > head {
			offset = head
		}
		if offset < -1 {
			offset = -1
		}
		return p.putOffset(tx, group, offset)
	})
}

// putOffset stores logical offset (which may be -1, meaning "no commits
// yet") for group.
func (p *Partition) putOffset(tx *bbolt.Tx, group string, offset int64) error {
	b := tx.Bucket(bucket)
	if offset < 0 {
		return b.Delete(codec.OffsetKey(group))
	}
	return b.Put(codec.OffsetKey(group), encodeUint64(uint64(offset)))
}

// HeadIndex returns the partition's current head index (-1 if empty).
func (p *Partition) HeadIndex() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var head int64
	err := p.db.View(func(tx *bbolt.Tx) error {
		head = p.headIndex(tx)
		return nil
	})
	return head, err
}

// CommittedOffset returns group's committed offset (-1 if never
// committed).
func (p *Partition) CommittedOffset(group string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var offset int64
	err := p.db.View(func(tx *bbolt.Tx) error {
		offset = p.committedOffset(tx, group)
		return nil
	})
	return offset, err
}

// Prune deletes messages older than ttlSeconds, stopping at the first
// message that is still fresh. INDEX and OFFSET entries are never
// touched. A ttlSeconds of 0 disables pruning. Returns the number of
// messages deleted.
func (p *Partition) Prune(ttlSeconds int, nowMs int64) (int, error) {
	if ttlSeconds == 0 {
		return 0, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ttlMs := int64(ttlSeconds) * 1000
	var deleted int

	err := p.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		c := b.Cursor()

		var toDelete [][]byte
		prefix := []byte{byte(codec.TagMessage)}
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			item, err := codec.DecodeItem(v)
			if err != nil {
				return stopovererr.Wrap(stopovererr.KindInternal, "partition.prune", err)
			}
			if nowMs-item.Timestamp < ttlMs {
				break
			}
			// Copy the key: bbolt cursor keys are only valid for
			// the duration of the transaction.
			keyCopy := append([]byte(nil), k...)
			toDelete = append(toDelete, keyCopy)
		}

		for _, key := range toDelete {
			if err := b.Delete(key); err != nil {
				return stopovererr.Wrap(stopovererr.KindInternal, "partition.prune", err)
			}
		}
		deleted = len(toDelete)
		return nil
	})
	return deleted, err
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
