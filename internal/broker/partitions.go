package broker

import (
	"sync"

	"github.com/labteral/stopover/internal/partition"
)

// partitionCache caches opened partition handles for the lifetime of the
// process. Partitions are never evicted: a running broker holds at most
// one bbolt handle per (stream, number) pair that has ever been touched.
// Lookups take the cache mutex only long enough to read or insert a map
// entry; the I/O of opening a new partition happens outside it, mirroring
// the lock-release-reacquire shape the queue manager uses for its
// per-queue locks.
type partitionCache struct {
	dataDir string

	mu    sync.Mutex
	byKey map[string]map[int]*partition.Partition
}

func newPartitionCache(dataDir string) *partitionCache {
	return &partitionCache{
		dataDir: dataDir,
		byKey:   make(map[string]map[int]*partition.Partition),
	}
}

// get returns the cached handle for (stream, number), opening it (without
// creating it) on first use. The partition is expected to already exist on
// disk, since the registry is responsible for creating partitions up to a
// stream's target before handing out its numbers.
func (c *partitionCache) get(stream string, number int) (*partition.Partition, error) {
	c.mu.Lock()
	if byNumber, ok := c.byKey[stream]; ok {
		if p, ok := byNumber[number]; ok {
			c.mu.Unlock()
			return p, nil
		}
	}
	c.mu.Unlock()

	p, err := partition.Open(c.dataDir, stream, number, false)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if byNumber, ok := c.byKey[stream]; ok {
		if existing, ok := byNumber[number]; ok {
			// Another caller opened it first while we were racing; keep
			// that handle and close the spare.
			_ = p.Close()
			return existing, nil
		}
	} else {
		c.byKey[stream] = make(map[int]*partition.Partition)
	}
	c.byKey[stream][number] = p
	return p, nil
}

// closeAll closes every cached partition handle, used on graceful
// shutdown.
func (c *partitionCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, byNumber := range c.byKey {
		for _, p := range byNumber {
			_ = p.Close()
		}
	}
}
