package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T) *Partition {
	t.Helper()
	p, err := Open(t.TempDir(), "orders", 0, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestAppendAssignsSequentialIndices(t *testing.T) {
	p := open(t)

	t.Run("first append gets index 0", func(t *testing.T) {
		index, err := p.Append([]byte("a"), 0)
		require.NoError(t, err)
		assert.EqualValues(t, 0, index)
	})

	t.Run("subsequent appends increment", func(t *testing.T) {
		index, err := p.Append([]byte("b"), 1)
		require.NoError(t, err)
		assert.EqualValues(t, 1, index)

		index, err = p.Append([]byte("c"), 2)
		require.NoError(t, err)
		assert.EqualValues(t, 2, index)
	})

	head, err := p.HeadIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 2, head)
}

func TestReadReturnsCommittedOffsetPlusOne(t *testing.T) {
	p := open(t)
	_, err := p.Append([]byte("a"), 0)
	require.NoError(t, err)
	_, err = p.Append([]byte("b"), 1)
	require.NoError(t, err)

	t.Run("no prior commit reads index 0", func(t *testing.T) {
		item, err := p.Read("g", nil)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.EqualValues(t, 0, item.Index)
		assert.Equal(t, []byte("a"), item.Value)
	})

	t.Run("after commit(0) reads index 1", func(t *testing.T) {
		require.NoError(t, p.Commit(0, "g"))

		item, err := p.Read("g", nil)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.EqualValues(t, 1, item.Index)
	})

	t.Run("exhausted stream returns nil", func(t *testing.T) {
		require.NoError(t, p.Commit(1, "g"))

		item, err := p.Read("g", nil)
		require.NoError(t, err)
		assert.Nil(t, item)
	})
}

func TestReadExplicitIndexDoesNotMutate(t *testing.T) {
	p := open(t)
	_, err := p.Append([]byte("a"), 0)
	require.NoError(t, err)

	want := uint64(0)
	item, err := p.Read("g", &want)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("a"), item.Value)

	offset, err := p.CommittedOffset("g")
	require.NoError(t, err)
	assert.EqualValues(t, -1, offset)
}

func TestCommitRejectsOutOfOrderOffset(t *testing.T) {
	p := open(t)
	_, err := p.Append([]byte("a"), 0)
	require.NoError(t, err)

	t.Run("commit(0) succeeds", func(t *testing.T) {
		require.NoError(t, p.Commit(0, "g"))
	})

	t.Run("committing 0 again is rejected", func(t *testing.T) {
		err := p.Commit(0, "g")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "trying to commit offset 0 but 1 was expected")
	})

	t.Run("offset is unchanged after a rejected commit", func(t *testing.T) {
		offset, err := p.CommittedOffset("g")
		require.NoError(t, err)
		assert.EqualValues(t, 0, offset)
	})
}

func TestSetOffsetClampsToHead(t *testing.T) {
	p := open(t)
	for i := 0; i < 3; i++ {
		_, err := p.Append([]byte("x"), int64(i))
		require.NoError(t, err)
	}

	t.Run("seeking past head clamps to head", func(t *testing.T) {
		require.NoError(t, p.SetOffset("g", 100))

		offset, err := p.CommittedOffset("g")
		require.NoError(t, err)
		assert.EqualValues(t, 2, offset)

		item, err := p.Read("g", nil)
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("seeking below -1 clamps to -1", func(t *testing.T) {
		require.NoError(t, p.SetOffset("g", -50))

		offset, err := p.CommittedOffset("g")
		require.NoError(t, err)
		assert.EqualValues(t, -1, offset)

		item, err := p.Read("g", nil)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.EqualValues(t, 0, item.Index)
	})
}

func TestPruneDeletesStaleMessagesAndFastForwardsReads(t *testing.T) {
	p := open(t)
	for i := 0; i < 3; i++ {
		_, err := p.Append([]byte("x"), 0)
		require.NoError(t, err)
	}

	deleted, err := p.Prune(1, 2000)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	head, err := p.HeadIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 2, head, "prune must not touch the head index")

	t.Run("read over the pruned hole returns nil", func(t *testing.T) {
		item, err := p.Read("g", nil)
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("committed offset fast-forwards past the hole", func(t *testing.T) {
		offset, err := p.CommittedOffset("g")
		require.NoError(t, err)
		assert.EqualValues(t, 2, offset)
	})
}

func TestPruneStopsAtFirstFreshMessage(t *testing.T) {
	p := open(t)
	_, err := p.Append([]byte("stale"), 0)
	require.NoError(t, err)
	_, err = p.Append([]byte("fresh"), 5000)
	require.NoError(t, err)

	deleted, err := p.Prune(1, 5500)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	item, err := p.Read("g", nil)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, []byte("fresh"), item.Value)
}

func TestPruneZeroTTLIsNoop(t *testing.T) {
	p := open(t)
	_, err := p.Append([]byte("x"), 0)
	require.NoError(t, err)

	deleted, err := p.Prune(0, 999999)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestOpenRefusesMissingPartitionWithoutCreate(t *testing.T) {
	_, err := Open(t.TempDir(), "orders", 7, false)
	assert.Error(t, err)
}
