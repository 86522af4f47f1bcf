package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSideString(t *testing.T) {
	tests := []struct {
		name string
		side Side
		want string
	}{
		{"Buy", Buy, "BUY"},
		{"Sell", Sell, "SELL"},
		{"Undefined", Undefined, "UNDEFINED"},
		{"Invalid", Side(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.side.String(); got != tt.want {
				t.Errorf("Side.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSideJSON(t *testing.T) {
	data, err := json.Marshal(Sell)
	require.NoError(t, err)
	assert.Equal(t, `"SELL"`, string(data))

	var side Side
	require.NoError(t, json.Unmarshal([]byte(`"bid"`), &side))
	assert.Equal(t, Buy, side)

	assert.Error(t, json.Unmarshal([]byte(`"sideways"`), &side))
}

func TestParseUpdateAction(t *testing.T) {
	for _, a := range []UpdateAction{ActionNew, ActionModify, ActionCancel} {
		got, err := ParseUpdateAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseUpdateAction("TRADE")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestNotFoundPosition(t *testing.T) {
	p := NotFoundPosition()
	assert.True(t, math.IsNaN(p.Quantity))
	assert.True(t, math.IsNaN(p.Before))
	assert.True(t, math.IsNaN(p.Total))
	assert.False(t, p.Found())

	assert.True(t, Position{Quantity: 1, Before: 0, Total: 1}.Found())
}

func TestInstrumentKey(t *testing.T) {
	key := InstrumentKey("deribit", "BTC-PERPETUAL")
	assert.Equal(t, "deribit:BTC-PERPETUAL", key)

	exchange, symbol, ok := SplitInstrumentKey(key)
	require.True(t, ok)
	assert.Equal(t, "deribit", exchange)
	assert.Equal(t, "BTC-PERPETUAL", symbol)

	_, _, ok = SplitInstrumentKey("nocolon")
	assert.False(t, ok)
}

func TestEncoding(t *testing.T) {
	assert.Equal(t, "UNDEFINED", EncodingUndefined.String())
	assert.Equal(t, "FIX", EncodingFIX.String())
	assert.Equal(t, "FIX|SBE", (EncodingFIX | EncodingSBE).String())
	assert.Equal(t, "JSON|<UNKNOWN>", (EncodingJSON | Encoding(0x80)).String())

	e, err := ParseEncoding("fix|SBE")
	require.NoError(t, err)
	assert.True(t, e.Has(EncodingFIX))
	assert.True(t, e.Has(EncodingSBE))
	assert.False(t, e.Has(EncodingJSON))

	_, err = ParseEncoding("XML")
	assert.Error(t, err)
}

func TestRateLimitType(t *testing.T) {
	for _, r := range []RateLimitType{RateLimitUndefined, RateLimitOrderAction, RateLimitCreateOrder} {
		got, err := ParseRateLimitType(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	assert.Equal(t, "<UNKNOWN>", RateLimitType(42).String())
}

func TestDisconnectedString(t *testing.T) {
	d := Disconnected{StreamID: 3, OrderCancelPolicy: OrderCancelPolicyByAccount}
	assert.Equal(t, "{stream_id=3, order_cancel_policy=BY_ACCOUNT}", d.String())
}

func TestParseUpdateTypeAndPolicy(t *testing.T) {
	for _, ut := range []UpdateType{UpdateTypeUndefined, UpdateTypeSnapshot, UpdateTypeIncremental} {
		parsed, err := ParseUpdateType(ut.String())
		assert.NoError(t, err)
		assert.Equal(t, ut, parsed)
	}
	_, err := ParseUpdateType("partial")
	assert.Error(t, err)

	for _, p := range []OrderCancelPolicy{OrderCancelPolicyUndefined, OrderCancelPolicyManagedOrders, OrderCancelPolicyByAccount} {
		parsed, err := ParseOrderCancelPolicy(p.String())
		assert.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err = ParseOrderCancelPolicy("BY_STRATEGY")
	assert.Error(t, err)
}
