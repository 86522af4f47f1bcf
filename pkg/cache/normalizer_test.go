package cache

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/erain9/mbocache/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// normalize runs a raw update through c and returns the canonical output
func normalize(t *testing.T, c *Cache, update *core.MarketByOrderUpdate) *core.MarketByOrderUpdate {
	t.Helper()
	var out *core.MarketByOrderUpdate
	calls := 0
	c.Normalize(update, func(u *core.MarketByOrderUpdate) {
		out = u
		calls++
	})
	require.Equal(t, 1, calls, "callback must run exactly once")
	checkInvariants(t, c)
	return out
}

func rawUpdate(seq int64, bids, asks []core.MBOUpdate) *core.MarketByOrderUpdate {
	return &core.MarketByOrderUpdate{
		StreamID:         7,
		Bids:             bids,
		Asks:             asks,
		UpdateType:       core.UpdateTypeIncremental,
		ExchangeSequence: seq,
	}
}

func TestNormalizeDropsUnknownCancel(t *testing.T) {
	c := New("test", "ABC")
	out := normalize(t, c, rawUpdate(1, []core.MBOUpdate{cancelOrder("ghost")}, []core.MBOUpdate{modifyOrder("ghost", 10, 1)}))

	assert.Empty(t, out.Bids)
	assert.Empty(t, out.Asks)
	assert.True(t, c.Empty())
	assert.Equal(t, int64(1), out.ExchangeSequence)
	assert.Equal(t, uint32(0), out.Checksum)
}

func TestNormalizeFoldsDuplicates(t *testing.T) {
	c := New("test", "ABC")
	out := normalize(t, c, rawUpdate(1, []core.MBOUpdate{
		newOrder("A", 100, 1),
		modifyOrder("A", 100, 3),
		newOrder("B", 99, 1),
		modifyOrder("A", 101, 2),
		newOrder("C", 98, 1),
		cancelOrder("C"),
	}, nil))

	require.Len(t, out.Bids, 2)
	assert.Equal(t, "A", out.Bids[0].OrderID)
	assert.Equal(t, core.ActionNew, out.Bids[0].Action)
	assert.Equal(t, 101.0, out.Bids[0].Price)
	assert.Equal(t, 2.0, out.Bids[0].Quantity)
	assert.Equal(t, "B", out.Bids[1].OrderID)
	assert.Less(t, out.Bids[0].Priority, out.Bids[1].Priority)

	_, found := c.FindOrder(core.Buy, "C")
	assert.False(t, found)

	// a restated add of a resident order becomes a modify
	out = normalize(t, c, rawUpdate(2, []core.MBOUpdate{newOrder("B", 99, 0.5)}, nil))
	require.Len(t, out.Bids, 1)
	assert.Equal(t, core.ActionModify, out.Bids[0].Action)
	assert.Equal(t, 0.5, out.Bids[0].Quantity)

	// unchanged restatement emits nothing
	out = normalize(t, c, rawUpdate(3, []core.MBOUpdate{modifyOrder("B", 99, 0.5)}, nil))
	assert.Empty(t, out.Bids)
}

func TestNormalizeModifyKeepsPriceWhenMissing(t *testing.T) {
	c := New("test", "ABC")
	normalize(t, c, rawUpdate(1, nil, []core.MBOUpdate{newOrder("A", 10, 5)}))

	out := normalize(t, c, rawUpdate(2, nil, []core.MBOUpdate{modifyOrder("A", 0, 4)}))
	require.Len(t, out.Asks, 1)
	assert.Equal(t, 10.0, out.Asks[0].Price)
	assert.Equal(t, 4.0, out.Asks[0].Quantity)

	out = normalize(t, c, rawUpdate(3, nil, []core.MBOUpdate{modifyOrder("A", math.NaN(), 0)}))
	require.Len(t, out.Asks, 1)
	assert.Equal(t, core.ActionCancel, out.Asks[0].Action)
	assert.Equal(t, 10.0, out.Asks[0].Price)
	assert.True(t, c.Empty())
}

func TestNormalizeIgnoresInvalidInstructions(t *testing.T) {
	c := New("test", "ABC")
	out := normalize(t, c, rawUpdate(1, []core.MBOUpdate{
		newOrder("nan", math.NaN(), 1),
		newOrder("negative", 100, -1),
		newOrder("", 100, 1),
		{OrderID: "undefined", Price: 100, Quantity: 1},
		newOrder("ok", 100, 1),
	}, nil))

	require.Len(t, out.Bids, 1)
	assert.Equal(t, "ok", out.Bids[0].OrderID)
}

func TestNormalizeStaleSequence(t *testing.T) {
	c := New("test", "ABC")
	first := normalize(t, c, rawUpdate(5, []core.MBOUpdate{newOrder("A", 100, 1)}, nil))
	require.Len(t, first.Bids, 1)

	for _, seq := range []int64{5, 4} {
		out := normalize(t, c, rawUpdate(seq, []core.MBOUpdate{cancelOrder("A"), newOrder("B", 101, 1)}, nil))
		assert.NotNil(t, out.Bids)
		assert.Empty(t, out.Bids)
		assert.Empty(t, out.Asks)
		assert.Equal(t, int64(5), out.ExchangeSequence)
		assert.Equal(t, first.Checksum, out.Checksum)
	}
	assert.True(t, c.Exists(core.Buy, 100))
	assert.False(t, c.Exists(core.Buy, 101))
}

func TestNormalizeLocalSequence(t *testing.T) {
	c := New("test", "ABC")
	out := normalize(t, c, rawUpdate(0, []core.MBOUpdate{newOrder("A", 100, 1)}, nil))
	assert.Equal(t, int64(1), out.ExchangeSequence)
	out = normalize(t, c, rawUpdate(0, []core.MBOUpdate{newOrder("B", 100, 1)}, nil))
	assert.Equal(t, int64(2), out.ExchangeSequence)
	out = normalize(t, c, rawUpdate(10, nil, nil))
	assert.Equal(t, int64(10), out.ExchangeSequence)
	assert.Equal(t, uint16(7), c.StreamID())
}

func TestNormalizeSnapshot(t *testing.T) {
	c := New("test", "ABC")
	normalize(t, c, rawUpdate(1, []core.MBOUpdate{
		newOrder("A", 100, 1), newOrder("B", 100, 2), newOrder("C", 99, 3),
	}, []core.MBOUpdate{newOrder("X", 101, 1)}))

	snapshot := rawUpdate(2, []core.MBOUpdate{newOrder("B", 100, 2), newOrder("D", 98, 4)}, nil)
	snapshot.UpdateType = core.UpdateTypeSnapshot
	out := normalize(t, c, snapshot)

	assert.Equal(t, core.UpdateTypeIncremental, out.UpdateType)
	require.Len(t, out.Bids, 3)
	assert.Equal(t, "A", out.Bids[0].OrderID)
	assert.Equal(t, core.ActionCancel, out.Bids[0].Action)
	assert.Equal(t, "C", out.Bids[1].OrderID)
	assert.Equal(t, core.ActionCancel, out.Bids[1].Action)
	assert.Equal(t, "D", out.Bids[2].OrderID)
	assert.Equal(t, core.ActionNew, out.Bids[2].Action)
	require.Len(t, out.Asks, 1)
	assert.Equal(t, core.ActionCancel, out.Asks[0].Action)

	bids, asks := c.Orders()
	assert.Equal(t, 2, bids)
	assert.Equal(t, 0, asks)
	assert.Equal(t, core.Position{Quantity: 2, Before: 0, Total: 2}, c.QueuePosition(core.Buy, "B"))
}

func TestNormalizeDepthRejection(t *testing.T) {
	c := NewFromReferenceData(core.ReferenceData{Exchange: "test", Symbol: "ABC", MaxDepth: 2})
	normalize(t, c, rawUpdate(1, []core.MBOUpdate{
		newOrder("A", 100, 1), newOrder("X", 99, 1), newOrder("Y", 99, 1),
	}, nil))

	out := normalize(t, c, rawUpdate(2, []core.MBOUpdate{newOrder("Z", 97, 1)}, nil))
	assert.Empty(t, out.Bids, "adds beyond the depth bound are not emitted")

	// requeue to a level beyond the bound becomes a cancel
	out = normalize(t, c, rawUpdate(3, []core.MBOUpdate{modifyOrder("X", 98, 1)}, nil))
	require.Len(t, out.Bids, 1)
	assert.Equal(t, core.ActionCancel, out.Bids[0].Action)
	assert.Equal(t, "X", out.Bids[0].OrderID)
	assert.Equal(t, 99.0, out.Bids[0].Price)
	_, found := c.FindOrder(core.Buy, "X")
	assert.False(t, found)
}

func TestChecksumIgnoresBatching(t *testing.T) {
	ops := []core.MBOUpdate{
		newOrder("A", 100, 1),
		newOrder("B", 100, 2),
		modifyOrder("A", 100, 4),
		newOrder("C", 99, 1),
		cancelOrder("B"),
		newOrder("B", 101, 1),
	}

	batched := New("test", "ABC")
	normalize(t, batched, rawUpdate(1, ops, nil))

	single := New("test", "ABC")
	for i, op := range ops {
		normalize(t, single, rawUpdate(int64(i+1), []core.MBOUpdate{op}, nil))
	}

	assert.Equal(t, single.Checksum(), batched.Checksum())
	b1, a1 := single.ExtractLayers(0)
	b2, a2 := batched.ExtractLayers(0)
	assert.Equal(t, b1, b2)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, uint32(0), single.Checksum())

	// B left level 100 either way
	assert.Equal(t, 0.0, batched.QueuePosition(core.Buy, "A").Before)
	assert.Equal(t, 0.0, single.QueuePosition(core.Buy, "A").Before)
}

func TestChecksumCoversTopLevelsOnly(t *testing.T) {
	c := New("test", "ABC")
	u := newTestUpdater(t, c)
	var bids []core.MBOUpdate
	for i := range ChecksumDepth {
		bids = append(bids, newOrder(fmt.Sprintf("b%d", i), float64(100-i), 1))
	}
	u.mustApply(bids, nil)
	top := c.Checksum()

	u.mustApply([]core.MBOUpdate{newOrder("deep", 50, 1)}, nil)
	assert.Equal(t, top, c.Checksum())

	u.mustApply([]core.MBOUpdate{modifyOrder("b0", 100, 2)}, nil)
	assert.NotEqual(t, top, c.Checksum())

	// the same aggregate restores the same checksum
	u.mustApply([]core.MBOUpdate{modifyOrder("b0", 100, 1)}, nil)
	assert.Equal(t, top, c.Checksum())

	// sides are distinguished
	other := New("test", "ABC")
	newTestUpdater(t, other).mustApply(nil, []core.MBOUpdate{newOrder("a", 100, 1)})
	mirror := New("test", "ABC")
	newTestUpdater(t, mirror).mustApply([]core.MBOUpdate{newOrder("a", 100, 1)}, nil)
	assert.NotEqual(t, other.Checksum(), mirror.Checksum())
}

// randomOps generates a noisy raw stream over a small id and price space
func randomOps(r *rand.Rand, n int) []core.MBOUpdate {
	ops := make([]core.MBOUpdate, n)
	for i := range ops {
		id := fmt.Sprintf("o%d", r.Intn(24))
		price := float64(95 + r.Intn(11))
		quantity := float64(r.Intn(6))
		switch r.Intn(10) {
		case 0, 1, 2, 3:
			ops[i] = newOrder(id, price, quantity+1)
		case 4, 5:
			ops[i] = modifyOrder(id, price, quantity)
		case 6:
			ops[i] = modifyOrder(id, 0, quantity)
		default:
			ops[i] = cancelOrder(id)
		}
	}
	return ops
}

// split partitions ops into batches of random size
func split(r *rand.Rand, ops []core.MBOUpdate) [][]core.MBOUpdate {
	var batches [][]core.MBOUpdate
	for len(ops) > 0 {
		n := min(1+r.Intn(8), len(ops))
		batches = append(batches, ops[:n])
		ops = ops[n:]
	}
	return batches
}

func TestNormalizeRandomized(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := range 20 {
		t.Run(fmt.Sprintf("round_%d", round), func(t *testing.T) {
			bidOps := randomOps(r, 300)
			askOps := randomOps(r, 300)

			// reference: one instruction per update
			reference := New("test", "ABC")
			for i := range bidOps {
				normalize(t, reference, rawUpdate(int64(i+1),
					[]core.MBOUpdate{bidOps[i]}, []core.MBOUpdate{askOps[i]}))
			}

			// batched, with a replica fed only the canonical deltas
			batched := New("test", "ABC")
			replica := New("test", "ABC")
			seq := int64(0)
			bidBatches, askBatches := split(r, bidOps), split(r, askOps)
			for i := 0; i < max(len(bidBatches), len(askBatches)); i++ {
				var bids, asks []core.MBOUpdate
				if i < len(bidBatches) {
					bids = bidBatches[i]
				}
				if i < len(askBatches) {
					asks = askBatches[i]
				}
				seq++
				out := normalize(t, batched, rawUpdate(seq, bids, asks))
				require.NoError(t, replica.ApplyOrderUpdate(out))
				require.Equal(t, out.Checksum, replica.Checksum())
			}
			checkInvariants(t, replica)

			assert.Equal(t, reference.Checksum(), batched.Checksum())
			refBids, refAsks := reference.ExtractLayers(0)
			gotBids, gotAsks := batched.ExtractLayers(0)
			assert.Equal(t, refBids, gotBids)
			assert.Equal(t, refAsks, gotAsks)

			wantBids, wantAsks := batched.ExtractOrders(0)
			replicaBids, replicaAsks := replica.ExtractOrders(0)
			require.Len(t, replicaBids, len(wantBids))
			require.Len(t, replicaAsks, len(wantAsks))
			for i := range wantBids {
				assert.Equal(t, wantBids[i].OrderID, replicaBids[i].OrderID)
			}
			for i := range wantAsks {
				assert.Equal(t, wantAsks[i].OrderID, replicaAsks[i].OrderID)
			}
		})
	}
}

func TestNormalizeRandomizedWithDepth(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	ref := core.ReferenceData{Exchange: "test", Symbol: "ABC", MaxDepth: 3}
	source := NewFromReferenceData(ref)
	replica := NewFromReferenceData(ref)

	ops := randomOps(r, 2000)
	for i, batch := range split(r, ops) {
		out := normalize(t, source, rawUpdate(int64(i+1), batch, nil))
		require.NoError(t, replica.ApplyOrderUpdate(out))
		checkInvariants(t, replica)
		require.Equal(t, source.Checksum(), replica.Checksum())
	}
	bids, _ := source.Size()
	assert.LessOrEqual(t, bids, 3)
}
