package rdb

import "hash/crc64"

// Redis checksums RDB files with CRC-64/Jones: reflected polynomial
// 0x95ac9329ac4bc9b5, zero initial value and no final xor.
var jonesTable = crc64.MakeTable(0x95ac9329ac4bc9b5)

// crc64Update extends crc with p. The standard library inverts the register
// on entry and exit, so the inversions are undone here.
func crc64Update(crc uint64, p []byte) uint64 {
	return ^crc64.Update(^crc, jonesTable, p)
}
