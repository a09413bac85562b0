package broker

import (
	"sort"
	"sync"
	"time"

	"github.com/labteral/stopover/internal/registry"
)

// coordinator tracks receiver liveness and partition assignments for every
// (stream, receiver_group) pair, and periodically rebalances assignments
// across whichever receivers have knocked recently enough.
type coordinator struct {
	registry        *registry.Registry
	receiverTimeout time.Duration

	mu         sync.Mutex
	lastSeen   map[string]map[string]int64      // group -> receiver -> unix ms
	assignment map[string]map[string]map[string][]int // stream -> group -> receiver -> partitions
}

func newCoordinator(reg *registry.Registry, receiverTimeout time.Duration) *coordinator {
	return &coordinator{
		registry:        reg,
		receiverTimeout: receiverTimeout,
		lastSeen:        make(map[string]map[string]int64),
		assignment:      make(map[string]map[string]map[string][]int),
	}
}

// knock records that receiver in receiverGroup is alive as of nowMs.
func (c *coordinator) knock(receiverGroup, receiver string, nowMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lastSeen[receiverGroup]; !ok {
		c.lastSeen[receiverGroup] = make(map[string]int64)
	}
	c.lastSeen[receiverGroup][receiver] = nowMs
}

// assignedPartitions returns a copy of receiver's current assignment for
// (stream, receiverGroup), registering an empty assignment if this is the
// first time the receiver has been seen for this stream.
func (c *coordinator) assignedPartitions(stream, receiverGroup, receiver string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.assignment[stream]; !ok {
		c.assignment[stream] = make(map[string]map[string][]int)
	}
	if _, ok := c.assignment[stream][receiverGroup]; !ok {
		c.assignment[stream][receiverGroup] = make(map[string][]int)
	}
	if _, ok := c.assignment[stream][receiverGroup][receiver]; !ok {
		c.assignment[stream][receiverGroup][receiver] = []int{}
	}

	numbers := c.assignment[stream][receiverGroup][receiver]
	out := make([]int, len(numbers))
	copy(out, numbers)
	return out
}

// rebalance recomputes partition assignments for every stream and
// receiver_group whose receivers have knocked within receiverTimeout,
// kicking any receiver that hasn't, the same way the original broker's
// rebalance pass does.
func (c *coordinator) rebalance(nowMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	type kick struct{ stream, group, receiver string }
	var toKick []kick

	for stream, groups := range c.assignment {
		partitionNumbers, err := c.registry.PartitionNumbers(stream)
		if err != nil {
			return err
		}

		for group, receivers := range groups {
			var live []string
			for _, receiver := range sortedKeys(receivers) {
				seenAt, ok := c.lastSeen[group][receiver]
				unseenSeconds := float64(nowMs-seenAt) / 1000
				if ok && unseenSeconds < c.receiverTimeout.Seconds() {
					live = append(live, receiver)
				} else {
					toKick = append(toKick, kick{stream, group, receiver})
				}
			}

			if len(live) == 0 {
				continue
			}

			assignPartitions(receivers, live, partitionNumbers)
		}
	}

	for _, k := range toKick {
		delete(c.assignment[k.stream][k.group], k.receiver)
		delete(c.lastSeen[k.group], k.receiver)
	}

	c.pruneEmptyLocked()
	return nil
}

// assignPartitions distributes partitionNumbers as evenly as possible
// across live, writing the result into receivers in place. When live has
// more entries than partitionNumbers, the partition count is raised to
// match so every receiver gets a slice (possibly empty) instead of
// dividing by a count smaller than the receiver pool.
func assignPartitions(receivers map[string][]int, live []string, partitionNumbers []int) {
	numberOfReceivers := len(live)
	numberOfPartitions := len(partitionNumbers)
	if numberOfReceivers > numberOfPartitions {
		numberOfPartitions = numberOfReceivers
	}

	step := numberOfPartitions / numberOfReceivers
	remainder := numberOfPartitions % numberOfReceivers

	for index := 0; index < numberOfPartitions-remainder; index += step {
		receiverIndex := index / step
		receivers[live[receiverIndex]] = pySlice(partitionNumbers, index, index+step)
	}

	for index := numberOfPartitions - remainder; index < numberOfPartitions; index++ {
		// The original assigns the trailing remainder using Python's
		// negative-index wraparound (list[-1] is the last element), so
		// the raw (often negative) offset is folded back into range
		// with a modulo rather than truncated.
		raw := index - numberOfPartitions + 1
		receiverIndex := ((raw % numberOfReceivers) + numberOfReceivers) % numberOfReceivers
		if n, ok := pyIndex(partitionNumbers, index); ok {
			receivers[live[receiverIndex]] = append(receivers[live[receiverIndex]], n)
		}
	}
}

// pruneEmptyLocked removes receiver_groups with no receivers and streams
// with no receiver_groups. Must be called with mu held.
func (c *coordinator) pruneEmptyLocked() {
	for stream, groups := range c.assignment {
		for group, receivers := range groups {
			if len(receivers) == 0 {
				delete(groups, group)
			}
		}
		if len(groups) == 0 {
			delete(c.assignment, stream)
		}
	}
}

// liveReceiverCount returns, for every receiver_group that has ever
// knocked, the number of receivers currently tracked as live.
func (c *coordinator) liveReceiverCount() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int, len(c.lastSeen))
	for group, receivers := range c.lastSeen {
		counts[group] = len(receivers)
	}
	return counts
}

// pySlice mimics Python's list[lo:hi]: out-of-range bounds clip instead of
// panicking, and an empty slice is returned rather than an error.
func pySlice(s []int, lo, hi int) []int {
	n := len(s)
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if lo >= hi || lo >= n {
		return []int{}
	}
	out := make([]int, hi-lo)
	copy(out, s[lo:hi])
	return out
}

// pyIndex mimics Python's list[i] bounds-checked: ok is false instead of
// panicking when i is out of range.
func pyIndex(s []int, i int) (int, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return s[i], true
}

func sortedKeys(m map[string][]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
