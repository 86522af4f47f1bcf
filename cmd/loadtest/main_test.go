package main

import (
	"context"
	"math/rand"
	"testing"

	"github.com/erain9/mbocache/pkg/feed"
	"github.com/erain9/mbocache/pkg/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorDrivesProcessor(t *testing.T) {
	ctx := context.Background()
	sender := &discardSender{}
	manager := server.NewCacheManager()
	processor := feed.NewProcessor(manager, sender, feed.DefaultConfig(), zerolog.Nop())

	gen := newGenerator(rand.New(rand.NewSource(3)), "T", 50)
	for i := range 500 {
		update := gen.next(int64(i+1), 8)
		assert.Equal(t, 8, len(update.Bids)+len(update.Asks))
		require.NoError(t, processor.HandleRaw(ctx, update))
	}

	info, err := manager.Get(ctx, "load:T")
	require.NoError(t, err)
	assert.Equal(t, int64(500), info.Sequence)
	assert.LessOrEqual(t, info.BidOrders+info.AskOrders, 50)
	assert.Positive(t, sender.count)
}
