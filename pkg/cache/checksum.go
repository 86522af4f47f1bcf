package cache

import (
	"encoding/binary"
	"hash/crc32"
)

// ChecksumDepth is the number of top levels per side covered by the checksum.
// It is part of the checksum scheme and independent of the configured depth.
const ChecksumDepth = 10

const (
	checksumBidTag = 'B'
	checksumAskTag = 'A'
)

// computeChecksum is CRC-32 (IEEE) over the interleaved top levels:
// bid 0, ask 0, bid 1, ask 1, ... each as tag, price ticks and total units.
// Only prices and aggregates enter the hash, never insertion history.
func computeChecksum(bids, asks *sideBook) uint32 {
	var crc uint32
	var buf [25]byte
	for i := 0; i < ChecksumDepth; i++ {
		if i >= len(bids.levels) && i >= len(asks.levels) {
			break
		}
		if i < len(bids.levels) {
			crc = crc32.Update(crc, crc32.IEEETable, encodeLevel(buf[:], checksumBidTag, bids.levels[i]))
		}
		if i < len(asks.levels) {
			crc = crc32.Update(crc, crc32.IEEETable, encodeLevel(buf[:], checksumAskTag, asks.levels[i]))
		}
	}
	return crc
}

func encodeLevel(buf []byte, tag byte, lvl *priceLevel) []byte {
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:9], uint64(lvl.price))
	binary.LittleEndian.PutUint64(buf[9:17], lvl.total.lo)
	if lvl.total.hi == 0 {
		return buf[:17]
	}
	binary.LittleEndian.PutUint64(buf[17:25], lvl.total.hi)
	return buf[:25]
}
