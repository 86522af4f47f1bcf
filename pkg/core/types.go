package core

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Decimals is the number of significant decimal places (-1 means undefined)
type Decimals int8

// Undefined precision
const DecimalsUndefined Decimals = -1

// Valid reports whether the precision has been configured
func (d Decimals) Valid() bool {
	return d >= 0 && d <= 15
}

// UpdateType distinguishes full snapshots from incremental updates
type UpdateType int

// Update types
const (
	UpdateTypeUndefined UpdateType = iota
	UpdateTypeSnapshot
	UpdateTypeIncremental
)

// String returns update type as string
func (t UpdateType) String() string {
	switch t {
	case UpdateTypeSnapshot:
		return "SNAPSHOT"
	case UpdateTypeIncremental:
		return "INCREMENTAL"
	default:
		return "UNDEFINED"
	}
}

// ParseUpdateType is the inverse of UpdateType.String
func ParseUpdateType(s string) (UpdateType, error) {
	switch strings.ToUpper(s) {
	case "SNAPSHOT":
		return UpdateTypeSnapshot, nil
	case "INCREMENTAL":
		return UpdateTypeIncremental, nil
	case "", "UNDEFINED":
		return UpdateTypeUndefined, nil
	}
	return UpdateTypeUndefined, fmt.Errorf("invalid update type: %q", s)
}

// ReferenceData carries the instrument configuration consumed by the cache
type ReferenceData struct {
	StreamID          uint16
	Exchange          string
	Symbol            string
	MaxDepth          int
	PriceIncrement    float64
	QuantityIncrement float64
	PriceDecimals     Decimals
	QuantityDecimals  Decimals
}

// MarketByOrderUpdate is a batch of per-order deltas plus update metadata
type MarketByOrderUpdate struct {
	StreamID         uint16
	Exchange         string
	Symbol           string
	Bids             []MBOUpdate
	Asks             []MBOUpdate
	UpdateType       UpdateType
	ExchangeTimeUTC  time.Duration
	ExchangeSequence int64
	PriceDecimals    Decimals
	QuantityDecimals Decimals
	MaxDepth         int
	// Checksum is the sender's book checksum after applying the update (0 when absent)
	Checksum uint32
}

// Key returns the instrument key used by managers and stores
func (u *MarketByOrderUpdate) Key() string {
	return InstrumentKey(u.Exchange, u.Symbol)
}

// Empty reports whether the update carries no deltas
func (u *MarketByOrderUpdate) Empty() bool {
	return len(u.Bids) == 0 && len(u.Asks) == 0
}

// Clone returns a deep copy of the update
func (u *MarketByOrderUpdate) Clone() *MarketByOrderUpdate {
	c := *u
	c.Bids = slices.Clone(u.Bids)
	c.Asks = slices.Clone(u.Asks)
	return &c
}

// String implements Stringer interface
func (u *MarketByOrderUpdate) String() string {
	return fmt.Sprintf("{stream_id=%d, exchange=%q, symbol=%q, bids=%d, asks=%d, update_type=%s, exchange_sequence=%d, checksum=%d}",
		u.StreamID, u.Exchange, u.Symbol, len(u.Bids), len(u.Asks), u.UpdateType, u.ExchangeSequence, u.Checksum)
}

// InstrumentKey joins exchange and symbol
func InstrumentKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// SplitInstrumentKey is the inverse of InstrumentKey
func SplitInstrumentKey(key string) (exchange, symbol string, ok bool) {
	return strings.Cut(key, ":")
}
