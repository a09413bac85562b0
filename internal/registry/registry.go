// Package registry resolves a stream's partition numbers: the set is
// backfilled up to the configured target on first use and then cached for
// the life of the process, the same way the broker caches everything else
// that requires a directory listing.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/labteral/stopover/internal/config"
	"github.com/labteral/stopover/internal/partition"
	"github.com/labteral/stopover/internal/stopovererr"
)

// Registry resolves and caches the partition numbers that exist for each
// stream, creating new partition directories as needed to reach a stream's
// configured target.
type Registry struct {
	dataDir string
	cfg     *config.Config

	mu      sync.Mutex
	numbers map[string][]int
}

// New returns a Registry rooted at dataDir, using cfg for per-stream
// partition targets.
func New(dataDir string, cfg *config.Config) *Registry {
	return &Registry{
		dataDir: dataDir,
		cfg:     cfg,
		numbers: make(map[string][]int),
	}
}

// PartitionNumbers returns stream's partition numbers, backfilling missing
// partitions up to the stream's configured target on first call. The
// result is cached; later calls return the same slice without touching
// disk again.
func (r *Registry) PartitionNumbers(stream string) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if numbers, ok := r.numbers[stream]; ok {
		return numbers, nil
	}

	numbers, err := r.discover(stream)
	if err != nil {
		return nil, err
	}

	target := r.cfg.PartitionsFor(stream)
	existing := len(numbers)
	if target > existing {
		for n := existing; n < target; n++ {
			for _, have := range numbers {
				if have == n {
					return nil, stopovererr.New(stopovererr.KindMissingPartitions, "registry.partitionNumbers",
						fmt.Sprintf("missing partitions among %v", numbers))
				}
			}
			p, err := partition.Open(r.dataDir, stream, n, true)
			if err != nil {
				return nil, stopovererr.Wrap(stopovererr.KindInternal, "registry.partitionNumbers", err)
			}
			if err := p.Close(); err != nil {
				return nil, stopovererr.Wrap(stopovererr.KindInternal, "registry.partitionNumbers", err)
			}
			numbers = append(numbers, n)
		}
	}

	r.numbers[stream] = numbers
	return numbers, nil
}

// discover lists the partition directories that already exist for stream,
// in ascending numeric order, ignoring any entry that isn't a bare integer.
func (r *Registry) discover(stream string) ([]int, error) {
	streamPath := r.streamPath(stream)

	entries, err := os.ReadDir(streamPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, stopovererr.Wrap(stopovererr.KindInternal, "registry.discover", err)
	}

	var numbers []int
	for _, entry := range entries {
		n, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers, nil
}

func (r *Registry) streamPath(stream string) string {
	return filepath.Join(r.dataDir, "streams", stream)
}

// Streams lists every directory under the streams root, whether or not it
// holds any partition directories, used by the prune loop to walk every
// known stream.
func (r *Registry) Streams() ([]string, error) {
	streamsPath := filepath.Join(r.dataDir, "streams")

	entries, err := os.ReadDir(streamsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, stopovererr.Wrap(stopovererr.KindInternal, "registry.streams", err)
	}

	streams := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			streams = append(streams, entry.Name())
		}
	}
	return streams, nil
}
