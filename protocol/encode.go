package protocol

import "strconv"

// AppendValue appends the canonical encoding of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Type {
	case TypeSimpleString:
		return appendLine(append(dst, '+'), v.Data)
	case TypeError:
		return appendLine(append(dst, '-'), v.Data)
	case TypeInteger:
		dst = strconv.AppendInt(append(dst, ':'), v.Integer, 10)
		return append(dst, CRLF...)
	case TypeBulkString:
		if v.IsNull {
			return append(dst, "$-1\r\n"...)
		}
		dst = appendHeader(dst, '$', len(v.Data))
		dst = append(dst, v.Data...)
		return append(dst, CRLF...)
	case TypeArray:
		if v.IsNull {
			return append(dst, "*-1\r\n"...)
		}
		dst = appendHeader(dst, '*', len(v.Array))
		for _, elem := range v.Array {
			dst = AppendValue(dst, elem)
		}
		return dst
	}
	// A Value is only ever built with one of the five wire types; reaching
	// here means the caller hand-assembled an invalid one.
	panic("protocol: cannot encode value of type " + v.Type.String())
}

// Encode returns the canonical encoding of v.
func Encode(v Value) []byte {
	return AppendValue(nil, v)
}

// EncodeCommand encodes name and args as an array of bulk strings.
func EncodeCommand(name string, args ...string) []byte {
	return NewCommand(name, args...).Encode()
}

// EncodedLen returns len(Encode(v)) without building the encoding.
func EncodedLen(v Value) int {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return 1 + len(v.Data) + 2
	case TypeInteger:
		return 1 + len(strconv.FormatInt(v.Integer, 10)) + 2
	case TypeBulkString:
		if v.IsNull {
			return 5
		}
		return headerLen(len(v.Data)) + len(v.Data) + 2
	case TypeArray:
		if v.IsNull {
			return 5
		}
		n := headerLen(len(v.Array))
		for _, elem := range v.Array {
			n += EncodedLen(elem)
		}
		return n
	}
	panic("protocol: cannot size value of type " + v.Type.String())
}

// appendLine writes a '+' or '-' payload; stray CR or LF bytes in a
// hand-built Value are written as spaces.
func appendLine(dst, line []byte) []byte {
	for _, c := range line {
		if c == '\r' || c == '\n' {
			c = ' '
		}
		dst = append(dst, c)
	}
	return append(dst, CRLF...)
}

func appendHeader(dst []byte, prefix byte, n int) []byte {
	dst = strconv.AppendInt(append(dst, prefix), int64(n), 10)
	return append(dst, CRLF...)
}

func headerLen(n int) int {
	return 1 + len(strconv.Itoa(n)) + 2
}
