package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"github.com/erain9/mbocache/pkg/core"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrCorruptSnapshot is returned when a binary snapshot fails its frame check
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// frameHeader is [body length:4][crc32 of body:4], little endian
const frameHeader = 8

// update fields
const (
	fieldStreamID         protowire.Number = 1
	fieldExchange         protowire.Number = 2
	fieldSymbol           protowire.Number = 3
	fieldBids             protowire.Number = 4
	fieldAsks             protowire.Number = 5
	fieldUpdateType       protowire.Number = 6
	fieldExchangeTimeUTC  protowire.Number = 7
	fieldExchangeSequence protowire.Number = 8
	fieldPriceDecimals    protowire.Number = 9
	fieldQuantityDecimals protowire.Number = 10
	fieldMaxDepth         protowire.Number = 11
	fieldChecksum         protowire.Number = 12
)

// order fields
const (
	fieldOrderID  protowire.Number = 1
	fieldAction   protowire.Number = 2
	fieldPrice    protowire.Number = 3
	fieldQuantity protowire.Number = 4
	fieldPriority protowire.Number = 5
)

// EncodeSnapshot serializes an update into a CRC-checked protobuf frame.
// Prices and quantities are stored as raw float64 bits so replay is exact.
func EncodeSnapshot(u *core.MarketByOrderUpdate) []byte {
	var body []byte
	body = protowire.AppendTag(body, fieldStreamID, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(u.StreamID))
	body = protowire.AppendTag(body, fieldExchange, protowire.BytesType)
	body = protowire.AppendString(body, u.Exchange)
	body = protowire.AppendTag(body, fieldSymbol, protowire.BytesType)
	body = protowire.AppendString(body, u.Symbol)
	for _, o := range u.Bids {
		body = protowire.AppendTag(body, fieldBids, protowire.BytesType)
		body = protowire.AppendBytes(body, encodeOrder(o))
	}
	for _, o := range u.Asks {
		body = protowire.AppendTag(body, fieldAsks, protowire.BytesType)
		body = protowire.AppendBytes(body, encodeOrder(o))
	}
	body = protowire.AppendTag(body, fieldUpdateType, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(u.UpdateType))
	body = protowire.AppendTag(body, fieldExchangeTimeUTC, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(int64(u.ExchangeTimeUTC)))
	body = protowire.AppendTag(body, fieldExchangeSequence, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(u.ExchangeSequence))
	body = protowire.AppendTag(body, fieldPriceDecimals, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(int64(u.PriceDecimals)))
	body = protowire.AppendTag(body, fieldQuantityDecimals, protowire.VarintType)
	body = protowire.AppendVarint(body, protowire.EncodeZigZag(int64(u.QuantityDecimals)))
	body = protowire.AppendTag(body, fieldMaxDepth, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(u.MaxDepth))
	body = protowire.AppendTag(body, fieldChecksum, protowire.Fixed32Type)
	body = protowire.AppendFixed32(body, u.Checksum)

	frame := make([]byte, frameHeader, frameHeader+len(body))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(body))
	return append(frame, body...)
}

func encodeOrder(o core.MBOUpdate) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldOrderID, protowire.BytesType)
	b = protowire.AppendString(b, o.OrderID)
	b = protowire.AppendTag(b, fieldAction, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Action))
	b = protowire.AppendTag(b, fieldPrice, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(o.Price))
	b = protowire.AppendTag(b, fieldQuantity, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(o.Quantity))
	if o.Priority != 0 {
		b = protowire.AppendTag(b, fieldPriority, protowire.VarintType)
		b = protowire.AppendVarint(b, o.Priority)
	}
	return b
}

// DecodeSnapshot is the inverse of EncodeSnapshot. Unknown fields are skipped.
func DecodeSnapshot(frame []byte) (*core.MarketByOrderUpdate, error) {
	if len(frame) < frameHeader {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ErrCorruptSnapshot, len(frame))
	}
	size := binary.LittleEndian.Uint32(frame[:4])
	body := frame[frameHeader:]
	if uint32(len(body)) != size {
		return nil, fmt.Errorf("%w: length %d, header says %d", ErrCorruptSnapshot, len(body), size)
	}
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(frame[4:8]) {
		return nil, fmt.Errorf("%w: crc mismatch", ErrCorruptSnapshot)
	}

	u := &core.MarketByOrderUpdate{
		PriceDecimals:    core.DecimalsUndefined,
		QuantityDecimals: core.DecimalsUndefined,
	}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		body = body[n:]
		switch {
		case num == fieldExchange && typ == protowire.BytesType,
			num == fieldSymbol && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if num == fieldExchange {
				u.Exchange = v
			} else {
				u.Symbol = v
			}
			body = body[n:]
		case (num == fieldBids || num == fieldAsks) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			o, err := decodeOrder(v)
			if err != nil {
				return nil, err
			}
			if num == fieldBids {
				u.Bids = append(u.Bids, o)
			} else {
				u.Asks = append(u.Asks, o)
			}
			body = body[n:]
		case num == fieldChecksum && typ == protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			u.Checksum = v
			body = body[n:]
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			switch num {
			case fieldStreamID:
				u.StreamID = uint16(v)
			case fieldUpdateType:
				u.UpdateType = core.UpdateType(v)
			case fieldExchangeTimeUTC:
				u.ExchangeTimeUTC = time.Duration(protowire.DecodeZigZag(v))
			case fieldExchangeSequence:
				u.ExchangeSequence = protowire.DecodeZigZag(v)
			case fieldPriceDecimals:
				u.PriceDecimals = core.Decimals(protowire.DecodeZigZag(v))
			case fieldQuantityDecimals:
				u.QuantityDecimals = core.Decimals(protowire.DecodeZigZag(v))
			case fieldMaxDepth:
				u.MaxDepth = int(v)
			}
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			body = body[n:]
		}
	}
	return u, nil
}

func decodeOrder(b []byte) (core.MBOUpdate, error) {
	var o core.MBOUpdate
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return o, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldOrderID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return o, protowire.ParseError(n)
			}
			o.OrderID = v
			b = b[n:]
		case (num == fieldPrice || num == fieldQuantity) && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return o, protowire.ParseError(n)
			}
			if num == fieldPrice {
				o.Price = math.Float64frombits(v)
			} else {
				o.Quantity = math.Float64frombits(v)
			}
			b = b[n:]
		case (num == fieldAction || num == fieldPriority) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return o, protowire.ParseError(n)
			}
			if num == fieldAction {
				o.Action = core.UpdateAction(v)
			} else {
				o.Priority = v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return o, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return o, nil
}
