package kafka

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32OfMessage computes the checksum of a wire message: everything after
// the crc field itself, using the IEEE polynomial as mandated by message
// formats v0 and v1.
func crc32OfMessage(magicByte int8, attributes int8, timestamp int64, key, value []byte) int32 {
	var buf [10]byte
	sum := uint32(0)

	buf[0] = byte(magicByte)
	buf[1] = byte(attributes)
	n := 2
	if magicByte != 0 {
		binary.BigEndian.PutUint64(buf[2:], uint64(timestamp))
		n = 10
	}
	sum = crc32.Update(sum, crc32.IEEETable, buf[:n])

	sum = crc32UpdateBytes(sum, key)
	sum = crc32UpdateBytes(sum, value)
	return int32(sum)
}

func crc32UpdateBytes(sum uint32, b []byte) uint32 {
	var prefix [4]byte
	if b == nil {
		binary.BigEndian.PutUint32(prefix[:], 0xFFFFFFFF)
	} else {
		binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
	}
	sum = crc32.Update(sum, crc32.IEEETable, prefix[:])
	return crc32.Update(sum, crc32.IEEETable, b)
}
