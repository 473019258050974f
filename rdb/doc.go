// Package rdb reads and writes the Redis RDB snapshot format.
//
// Load decodes a snapshot into an Image; any corruption or unsupported
// content aborts with a *FormatError, so a caller never installs half a
// snapshot. Encode and SaveFile write the format back, including the
// CRC-64 trailer that Load verifies.
//
// Supported value types are strings (raw, integer and LZF encodings), plain
// lists, sets and hashes. Compact encodings such as listpacks and ziplists
// are reported as unsupported.
package rdb
