package cos

import "hash/crc32"

// CRC32 is a thin rename of hash.Hash32, matching the call-site idiom
// (`crc := cos.NewCRC32(); crc.Write(b); crc.Sum32()`) used by the file
// aggregator's integrity check (spec §4.4).
type CRC32 = interface {
	Write(p []byte) (n int, err error)
	Sum32() uint32
}

// NewCRC32 returns an IEEE CRC-32 hasher.
func NewCRC32() CRC32 { return crc32.NewIEEE() }
