// Package broker ties together the partition store, the stream registry
// and the receiver-group coordinator into the six operations the wire
// protocol exposes: knock, put_message, get_message, get_partitions,
// commit_message and set_offset.
package broker

import (
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/labteral/stopover/internal/codec"
	"github.com/labteral/stopover/internal/config"
	"github.com/labteral/stopover/internal/registry"
	"github.com/labteral/stopover/internal/stopovererr"
)

// Broker is the single per-process coordinator for every stream. It owns
// the partition handle cache, the stream registry and the receiver-group
// coordinator, and runs the background rebalance and prune loops for as
// long as it is running.
type Broker struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	metrics  *Metrics

	partitions  *partitionCache
	coordinator *coordinator

	stopRebalance chan struct{}
	stopPrune     chan struct{}
}

// New builds a Broker over cfg.Global.DataDir using cfg for partition
// counts, TTLs and timing, registering its metrics against metricsRegistry.
func New(cfg *config.Config, logger *zap.Logger, metricsRegistry *prometheus.Registry) *Broker {
	reg := registry.New(cfg.Global.DataDir, cfg)

	return &Broker{
		cfg:         cfg,
		logger:      logger,
		registry:    reg,
		metrics:     NewMetrics(metricsRegistry),
		partitions:  newPartitionCache(cfg.Global.DataDir),
		coordinator: newCoordinator(reg, time.Duration(cfg.Global.ReceiverTimeout)*time.Second),
	}
}

// Run starts the background rebalance and prune loops. It returns
// immediately; call Shutdown to stop them.
func (b *Broker) Run() {
	b.stopRebalance = make(chan struct{})
	b.stopPrune = make(chan struct{})
	go b.rebalanceLoop()
	go b.pruneLoop()
}

// Shutdown stops the background loops and closes every open partition
// handle.
func (b *Broker) Shutdown() {
	if b.stopRebalance != nil {
		close(b.stopRebalance)
	}
	if b.stopPrune != nil {
		close(b.stopPrune)
	}
	b.partitions.closeAll()
}

func (b *Broker) rebalanceLoop() {
	interval := time.Duration(b.cfg.Global.RebalanceInterval) * time.Second
	for {
		select {
		case <-b.stopRebalance:
			return
		case <-time.After(interval):
			if err := b.RebalanceNow(); err != nil {
				b.logger.Warn("rebalance failed", zap.Error(err))
			}
		}
	}
}

// RebalanceNow runs one rebalance pass immediately, outside of the
// periodic loop. Exposed so operators and tests can force a pass without
// waiting for rebalance_interval to elapse.
func (b *Broker) RebalanceNow() error {
	if err := b.coordinator.rebalance(nowMs()); err != nil {
		return err
	}
	b.metrics.LastRebalanceAt.Set(float64(time.Now().Unix()))
	for group, count := range b.coordinator.liveReceiverCount() {
		b.metrics.LiveReceivers.WithLabelValues(group).Set(float64(count))
	}
	return nil
}

func (b *Broker) pruneLoop() {
	interval := time.Duration(b.cfg.Global.PruneInterval) * time.Second
	for {
		select {
		case <-b.stopPrune:
			return
		case <-time.After(interval):
			b.pruneOnce()
		}
	}
}

func (b *Broker) pruneOnce() {
	streams, err := b.registry.Streams()
	if err != nil {
		b.logger.Warn("prune: failed to list streams", zap.Error(err))
		return
	}

	now := nowMs()
	for _, stream := range streams {
		ttl := b.cfg.TTLFor(stream)
		numbers, err := b.registry.PartitionNumbers(stream)
		if err != nil {
			b.logger.Warn("prune: failed to list partitions", zap.String("stream", stream), zap.Error(err))
			continue
		}
		for _, number := range numbers {
			p, err := b.partitions.get(stream, number)
			if err != nil {
				b.logger.Warn("prune: failed to open partition",
					zap.String("stream", stream), zap.Int("partition", number), zap.Error(err))
				continue
			}
			deleted, err := p.Prune(ttl, now)
			if err != nil {
				b.logger.Warn("prune: failed", zap.String("stream", stream), zap.Int("partition", number), zap.Error(err))
				continue
			}
			if deleted > 0 {
				b.metrics.PrunedMessages.WithLabelValues(stream).Add(float64(deleted))
				b.logger.Info("pruned messages",
					zap.String("stream", stream), zap.Int("partition", number), zap.Int("count", deleted))
			}
		}
	}
}

// KnockResult is the response to a knock request.
type KnockResult struct {
	ReceiverGroup string
	Receiver      string
}

// Knock records that receiver is alive in receiverGroup.
func (b *Broker) Knock(receiverGroup, receiver string) KnockResult {
	b.coordinator.knock(receiverGroup, receiver, nowMs())
	return KnockResult{ReceiverGroup: receiverGroup, Receiver: receiver}
}

// PutMessageResult is the response to a put_message request.
type PutMessageResult struct {
	Stream    string
	Partition int
	Index     uint64
	Timestamp int64
}

// PutMessage appends value to stream, routing by an explicit partition
// number, a producer key, or (when neither is given) a random partition.
func (b *Broker) PutMessage(stream string, key *string, value []byte, explicitPartition *int) (PutMessageResult, error) {
	partitionNumbers, err := b.registry.PartitionNumbers(stream)
	if err != nil {
		return PutMessageResult{}, err
	}

	partitionNumber, err := resolvePartition(partitionNumbers, key, explicitPartition)
	if err != nil {
		return PutMessageResult{}, err
	}

	p, err := b.partitions.get(stream, partitionNumber)
	if err != nil {
		return PutMessageResult{}, err
	}

	timestamp := nowMs()
	index, err := p.Append(value, timestamp)
	if err != nil {
		return PutMessageResult{}, err
	}

	b.metrics.Appends.WithLabelValues(stream).Inc()

	return PutMessageResult{
		Stream:    stream,
		Partition: partitionNumber,
		Index:     index,
		Timestamp: timestamp,
	}, nil
}

func resolvePartition(partitionNumbers []int, key *string, explicitPartition *int) (int, error) {
	if explicitPartition != nil {
		for _, n := range partitionNumbers {
			if n == *explicitPartition {
				return *explicitPartition, nil
			}
		}
		return 0, stopovererr.New(stopovererr.KindPartitionNotFound, "broker.putMessage", "partition does not exist")
	}

	if key != nil {
		return codec.PartitionForKey(partitionNumbers, *key), nil
	}

	return partitionNumbers[rand.Intn(len(partitionNumbers))], nil
}

// GetMessageResult is the response to a get_message request.
type GetMessageResult struct {
	Stream             string
	ReceiverGroup      string
	Receiver           string
	Partition          *int
	Index              *uint64
	Value              []byte
	Timestamp          *int64
	AssignedPartitions []int
	Status             int
}

// GetMessage returns the next unread message for (receiverGroup, receiver)
// across whichever partitions are currently assigned to it, picking a
// random partition on each attempt and giving up once every assigned
// partition has been tried without success.
func (b *Broker) GetMessage(stream, receiverGroup, receiver string, explicitIndex *uint64) (GetMessageResult, error) {
	b.coordinator.knock(receiverGroup, receiver, nowMs())

	remaining := b.coordinator.assignedPartitions(stream, receiverGroup, receiver)
	if len(remaining) == 0 {
		return GetMessageResult{
			Stream:             stream,
			ReceiverGroup:      receiverGroup,
			Receiver:           receiver,
			AssignedPartitions: remaining,
			Status:             codec.StatusAllPartitionsAssigned,
		}, nil
	}

	for len(remaining) > 0 {
		i := rand.Intn(len(remaining))
		partitionNumber := remaining[i]
		remaining = append(remaining[:i], remaining[i+1:]...)

		p, err := b.partitions.get(stream, partitionNumber)
		if err != nil {
			return GetMessageResult{}, err
		}

		item, err := p.Read(receiverGroup, explicitIndex)
		if err != nil {
			return GetMessageResult{}, err
		}
		if item == nil {
			continue
		}

		b.metrics.Reads.WithLabelValues(stream, receiverGroup).Inc()

		index := item.Index
		timestamp := item.Timestamp
		return GetMessageResult{
			Stream:             stream,
			ReceiverGroup:      receiverGroup,
			Receiver:           receiver,
			Partition:          &partitionNumber,
			Index:              &index,
			Value:              item.Value,
			Timestamp:          &timestamp,
			AssignedPartitions: remaining,
			Status:             codec.StatusOK,
		}, nil
	}

	return GetMessageResult{
		Stream:             stream,
		ReceiverGroup:      receiverGroup,
		Receiver:           receiver,
		AssignedPartitions: remaining,
		Status:             codec.StatusEndOfStream,
	}, nil
}

// GetPartitionsResult is the response to a get_partitions request.
type GetPartitionsResult struct {
	Stream             string
	ReceiverGroup      string
	Receiver           string
	AssignedPartitions []int
}

// GetPartitions returns receiver's currently assigned partitions without
// consuming a message.
func (b *Broker) GetPartitions(stream, receiverGroup, receiver string) GetPartitionsResult {
	b.coordinator.knock(receiverGroup, receiver, nowMs())
	assigned := b.coordinator.assignedPartitions(stream, receiverGroup, receiver)
	return GetPartitionsResult{
		Stream:             stream,
		ReceiverGroup:      receiverGroup,
		Receiver:           receiver,
		AssignedPartitions: assigned,
	}
}

// CommitMessage advances receiverGroup's committed offset on the given
// partition.
func (b *Broker) CommitMessage(stream string, partitionNumber int, index uint64, receiverGroup string) error {
	p, err := b.partitions.get(stream, partitionNumber)
	if err != nil {
		return err
	}
	if err := p.Commit(index, receiverGroup); err != nil {
		return err
	}
	b.metrics.Commits.WithLabelValues(stream, receiverGroup).Inc()
	return nil
}

// SetOffset seeks receiverGroup's committed offset on the given partition.
func (b *Broker) SetOffset(stream string, partitionNumber int, index int64, receiverGroup string) error {
	p, err := b.partitions.get(stream, partitionNumber)
	if err != nil {
		return err
	}
	return p.SetOffset(receiverGroup, index)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
