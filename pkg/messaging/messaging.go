package messaging

import (
	"context"

	"github.com/erain9/mbocache/pkg/core"
)

// MessageSender publishes canonical book updates downstream.
// This keeps the feed path independent of a specific broker client.
type MessageSender interface {
	SendUpdate(ctx context.Context, update *core.MarketByOrderUpdate) error
	Close() error
}
