package rdb

import (
	"fmt"
)

// lzfDecompress expands an LZF block (the compressed string encoding of RDB)
// into exactly uncompressedLen bytes.
func lzfDecompress(compressed []byte, uncompressedLen int) ([]byte, error) {
	if len(compressed) == 0 {
		if uncompressedLen != 0 {
			return nil, fmt.Errorf("lzf: empty input for %d output bytes", uncompressedLen)
		}
		return []byte{}, nil
	}

	out := make([]byte, uncompressedLen)
	op, ip := 0, 0

	for ip < len(compressed) && op < uncompressedLen {
		ctrl := int(compressed[ip])
		ip++

		if ctrl < 32 {
			// literal run of ctrl+1 bytes
			n := ctrl + 1
			if ip+n > len(compressed) {
				return nil, fmt.Errorf("lzf: literal run past end of input")
			}
			if op+n > uncompressedLen {
				return nil, fmt.Errorf("lzf: literal run overflows output")
			}
			copy(out[op:], compressed[ip:ip+n])
			op += n
			ip += n
			continue
		}

		// back reference
		n := ctrl >> 5
		if n == 7 {
			if ip >= len(compressed) {
				return nil, fmt.Errorf("lzf: missing extended length")
			}
			n += int(compressed[ip])
			ip++
		}
		n += 2

		if ip >= len(compressed) {
			return nil, fmt.Errorf("lzf: missing back reference offset")
		}
		ref := op - ((ctrl&0x1f)<<8 | int(compressed[ip])) - 1
		ip++

		if ref < 0 {
			return nil, fmt.Errorf("lzf: back reference before start of output")
		}
		if op+n > uncompressedLen {
			return nil, fmt.Errorf("lzf: back reference overflows output")
		}
		// byte by byte: source and destination may overlap
		for i := 0; i < n; i++ {
			out[op] = out[ref]
			op++
			ref++
		}
	}

	if op != uncompressedLen {
		return nil, fmt.Errorf("lzf: decompressed %d bytes, expected %d", op, uncompressedLen)
	}
	return out, nil
}
