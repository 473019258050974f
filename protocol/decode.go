package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (512MB, same as Redis proto-max-bulk-len)
	maxBulkSize = 512 * 1024 * 1024

	// maxArraySize is the maximum number of elements in one array
	maxArraySize = 1024 * 1024

	// maxLineLength bounds a header or simple line that has not been terminated yet
	maxLineLength = 64 * 1024

	// maxNesting bounds array recursion
	maxNesting = 32
)

// ErrIncomplete reports that the buffer ends before the current element does.
// Nothing was consumed; append more bytes and decode again.
var ErrIncomplete = errors.New("protocol: incomplete element")

// ProtocolError is malformed framing or an unknown type tag. It is fatal to
// the connection that produced it.
type ProtocolError struct {
	Message string
	Data    []byte
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("protocol error: %s (near %q)", e.Message, e.Data)
	}
	return "protocol error: " + e.Message
}

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Decode parses the first complete element in buf and returns it together with
// the number of bytes it occupied. It returns ErrIncomplete when buf holds only
// a prefix of an element and a *ProtocolError when the bytes can never form one.
// The returned value does not alias buf.
func Decode(buf []byte) (Value, int, error) {
	var s frameScanner
	n, err := s.scan(buf)
	if err != nil {
		return Value{}, 0, err
	}
	v, _, err := decodeAt(buf[:n], 0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, n, nil
}

// DecodeCommand is Decode restricted to client requests.
func DecodeCommand(buf []byte) (*Command, int, error) {
	v, n, err := Decode(buf)
	if err != nil {
		return nil, 0, err
	}
	cmd, err := ParseCommand(v)
	if err != nil {
		return nil, 0, err
	}
	return cmd, n, nil
}

// frameScanner validates framing and finds where one element ends without
// building any values. Its position survives ErrIncomplete, so a caller that
// appends bytes and scans again continues from the last complete header.
type frameScanner struct {
	pos     int
	pending []int // elements still expected by each open array
}

func (s *frameScanner) reset() {
	s.pos = 0
	s.pending = s.pending[:0]
}

// scan returns the length of the element starting at buf[0].
func (s *frameScanner) scan(buf []byte) (int, error) {
	for {
		if len(s.pending) > maxNesting {
			return 0, &ProtocolError{Message: "arrays nested too deeply"}
		}
		next, children, err := scanElement(buf, s.pos)
		if err != nil {
			return 0, err
		}
		s.pos = next
		if children > 0 {
			s.pending = append(s.pending, children)
			continue
		}

		for len(s.pending) > 0 {
			top := len(s.pending) - 1
			s.pending[top]--
			if s.pending[top] > 0 {
				break
			}
			s.pending = s.pending[:top]
		}
		if len(s.pending) == 0 {
			n := s.pos
			s.reset()
			return n, nil
		}
	}
}

// scanElement checks the element at pos and returns the offset past it. For a
// non-empty array only the header is consumed and children is its length.
func scanElement(buf []byte, pos int) (int, int, error) {
	t, line, next, err := readHeader(buf, pos)
	if err != nil {
		return 0, 0, err
	}

	switch t {
	case TypeInteger:
		if _, err := parseInt64(line); err != nil {
			return 0, 0, &ProtocolError{Message: "invalid integer", Data: line}
		}
	case TypeBulkString:
		length, err := parseLength(line, maxBulkSize)
		if err != nil {
			return 0, 0, err
		}
		if length >= 0 {
			return bulkEnd(buf, next, length)
		}
	case TypeArray:
		length, err := parseLength(line, maxArraySize)
		if err != nil {
			return 0, 0, err
		}
		if length > 0 {
			return next, length, nil
		}
	}
	return next, 0, nil
}

func bulkEnd(buf []byte, start, length int) (int, int, error) {
	end := start + length
	if len(buf) < end+2 {
		return 0, 0, ErrIncomplete
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return 0, 0, &ProtocolError{Message: "bulk string not terminated by CRLF"}
	}
	return end + 2, 0, nil
}

// readHeader checks the type byte at pos and returns the rest of its line.
func readHeader(buf []byte, pos int) (ValueType, []byte, int, error) {
	if pos >= len(buf) {
		return 0, nil, 0, ErrIncomplete
	}

	t := ValueType(buf[pos])
	switch t {
	case TypeSimpleString, TypeError, TypeInteger, TypeBulkString, TypeArray:
	default:
		if t == 0 {
			return 0, nil, 0, &ProtocolError{Message: "unknown RESP type: empty byte"}
		}
		return 0, nil, 0, &ProtocolError{Message: fmt.Sprintf("unknown RESP type %q (0x%02x)", byte(t), byte(t))}
	}

	line, next, err := readLine(buf, pos+1)
	if err != nil {
		return 0, nil, 0, err
	}
	return t, line, next, nil
}

// decodeAt materializes the element at pos. buf must already have passed
// frameScanner, which owns the nesting limit.
func decodeAt(buf []byte, pos int) (Value, int, error) {
	t, line, next, err := readHeader(buf, pos)
	if err != nil {
		return Value{}, 0, err
	}

	switch t {
	case TypeSimpleString, TypeError:
		return Value{Type: t, Data: append([]byte{}, line...)}, next, nil

	case TypeInteger:
		n, err := parseInt64(line)
		if err != nil {
			return Value{}, 0, &ProtocolError{Message: "invalid integer", Data: line}
		}
		return Integer(n), next, nil

	case TypeBulkString:
		length, err := parseLength(line, maxBulkSize)
		if err != nil {
			return Value{}, 0, err
		}
		if length < 0 {
			return NullBulkString(), next, nil
		}
		end, _, err := bulkEnd(buf, next, length)
		if err != nil {
			return Value{}, 0, err
		}
		return Value{Type: TypeBulkString, Data: append([]byte{}, buf[next:end-2]...)}, end, nil

	default: // TypeArray
		length, err := parseLength(line, maxArraySize)
		if err != nil {
			return Value{}, 0, err
		}
		if length < 0 {
			return NullArray(), next, nil
		}
		elems := make([]Value, 0, length)
		for i := 0; i < length; i++ {
			var elem Value
			elem, next, err = decodeAt(buf, next)
			if err != nil {
				return Value{}, 0, err
			}
			elems = append(elems, elem)
		}
		return ArrayOf(elems...), next, nil
	}
}

// readLine returns the bytes between pos and the next CRLF and the offset just
// past that CRLF.
func readLine(buf []byte, pos int) ([]byte, int, error) {
	if pos > len(buf) {
		return nil, 0, ErrIncomplete
	}
	i := bytes.IndexByte(buf[pos:], '\n')
	if i < 0 {
		if len(buf)-pos > maxLineLength {
			return nil, 0, &ProtocolError{Message: "line too long"}
		}
		return nil, 0, ErrIncomplete
	}
	end := pos + i
	if i == 0 || buf[end-1] != '\r' {
		return nil, 0, &ProtocolError{Message: "line not terminated by CRLF", Data: tail(buf[pos:end+1], 16)}
	}
	return buf[pos : end-1], end + 1, nil
}

// parseLength validates a bulk or array header. -1 denotes null and is
// returned as -1; any other negative value is rejected.
func parseLength(line []byte, limit int64) (int, error) {
	n, err := parseInt64(line)
	if err != nil {
		return 0, &ProtocolError{Message: "invalid length", Data: line}
	}
	if n == -1 {
		return -1, nil
	}
	if n < 0 {
		return 0, &ProtocolError{Message: "negative length " + strconv.FormatInt(n, 10)}
	}
	if n > limit {
		return 0, &ProtocolError{Message: "length " + strconv.FormatInt(n, 10) + " exceeds limit"}
	}
	return int(n), nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	neg := b[0] == '-'
	i := 0
	if neg || b[0] == '+' {
		i = 1
	}
	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	// accumulate with the final sign so MinInt64 parses
	var n int64
	for ; i < len(b); i++ {
		c := b[i]
		if c < '0' || c > '9' {
			return 0, strconv.ErrSyntax
		}
		d := int64(c - '0')
		if neg {
			if n < (math.MinInt64+d)/10 {
				return 0, strconv.ErrRange
			}
			n = n*10 - d
		} else {
			if n > (math.MaxInt64-d)/10 {
				return 0, strconv.ErrRange
			}
			n = n*10 + d
		}
	}
	return n, nil
}

func tail(b []byte, n int) []byte {
	if len(b) > n {
		return b[len(b)-n:]
	}
	return b
}
