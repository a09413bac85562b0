package broker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/labteral/stopover/internal/codec"
	"github.com/labteral/stopover/internal/config"
)

func testBroker(t *testing.T, partitions int) *Broker {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			DataDir:           t.TempDir(),
			Partitions:        partitions,
			TTL:               0,
			RebalanceInterval: 3600,
			PruneInterval:     3600,
			ReceiverTimeout:   60,
		},
	}
	return New(cfg, zap.NewNop(), prometheus.NewRegistry())
}

func TestAssignPartitionsEvenSplit(t *testing.T) {
	receivers := map[string][]int{"r0": nil, "r1": nil, "r2": nil}
	assignPartitions(receivers, []string{"r0", "r1", "r2"}, []int{0, 1, 2, 3, 4, 5, 6})

	total := 0
	for _, assigned := range receivers {
		total += len(assigned)
	}
	assert.Equal(t, 7, total, "every partition must be assigned exactly once")
}

func TestAssignPartitionsOverrunGivesSurplusReceiversEmptySlices(t *testing.T) {
	receivers := map[string][]int{"r0": nil, "r1": nil, "r2": nil, "r3": nil, "r4": nil}
	assignPartitions(receivers, []string{"r0", "r1", "r2", "r3", "r4"}, []int{0, 1})

	nonEmpty := 0
	for _, assigned := range receivers {
		if len(assigned) > 0 {
			nonEmpty++
		}
	}
	assert.Equal(t, 2, nonEmpty, "only as many receivers as partitions can get a non-empty assignment")
}

func TestCoordinatorRebalanceAssignsLiveReceivers(t *testing.T) {
	b := testBroker(t, 4)

	b.Knock("workers", "r0")
	b.Knock("workers", "r1")
	b.GetPartitions("orders", "workers", "r0")
	b.GetPartitions("orders", "workers", "r1")

	require.NoError(t, b.coordinator.rebalance(nowMs()))

	assigned0 := b.coordinator.assignedPartitions("orders", "workers", "r0")
	assigned1 := b.coordinator.assignedPartitions("orders", "workers", "r1")
	assert.Len(t, assigned0, 2)
	assert.Len(t, assigned1, 2)
}

func TestCoordinatorRebalanceKicksStaleReceivers(t *testing.T) {
	b := testBroker(t, 2)

	b.Knock("workers", "stale")
	b.GetPartitions("orders", "workers", "stale")

	// Rebalance far enough in the future that "stale" looks unseen.
	future := nowMs() + 120*1000
	require.NoError(t, b.coordinator.rebalance(future))

	counts := b.coordinator.liveReceiverCount()
	assert.Equal(t, 0, counts["workers"])
}

func TestPutMessageThenGetMessageRoundTrip(t *testing.T) {
	b := testBroker(t, 2)

	put, err := b.PutMessage("orders", nil, []byte("hello"), nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, put.Index)

	b.Knock("workers", "r0")
	b.GetPartitions("orders", "workers", "r0")
	require.NoError(t, b.coordinator.rebalance(nowMs()))

	got, err := b.GetMessage("orders", "workers", "r0", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Value)
	require.NotNil(t, got.Partition)
	require.NotNil(t, got.Index)

	require.NoError(t, b.CommitMessage("orders", *got.Partition, *got.Index, "workers"))
}

func TestPutMessageWithExplicitPartitionRejectsUnknown(t *testing.T) {
	b := testBroker(t, 2)

	bad := 99
	_, err := b.PutMessage("orders", nil, []byte("x"), &bad)
	assert.Error(t, err)
}

func TestPutMessageWithKeyIsDeterministic(t *testing.T) {
	b := testBroker(t, 4)

	key := "customer-42"
	first, err := b.PutMessage("orders", &key, []byte("a"), nil)
	require.NoError(t, err)

	second, err := b.PutMessage("orders", &key, []byte("b"), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Partition, second.Partition)
}

func TestGetMessageWithNoAssignmentReturnsAllPartitionsAssignedStatus(t *testing.T) {
	b := testBroker(t, 2)

	result, err := b.GetMessage("orders", "workers", "newcomer", nil)
	require.NoError(t, err)
	assert.Equal(t, codec.StatusAllPartitionsAssigned, result.Status)
}

func TestPruneOnceSkipsStreamsUnderTTL(t *testing.T) {
	b := testBroker(t, 1)

	_, err := b.PutMessage("orders", nil, []byte("x"), nil)
	require.NoError(t, err)

	// TTL 0 means "retain forever"; pruneOnce must leave the message alone.
	b.pruneOnce()

	p, err := b.partitions.get("orders", 0)
	require.NoError(t, err)
	head, err := p.HeadIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 0, head)

	// The head index survives pruning anyway, so check the message itself.
	index := uint64(0)
	item, err := p.Read("workers", &index)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("x"), item.Value)
}
