package protocol

import (
	"errors"
	"fmt"
	"io"
)

const (
	initialBufferSize = 4096

	// maxBufferSize caps how much undecoded input one connection may hold
	maxBufferSize = maxBulkSize + maxLineLength
)

// Reader frames a byte stream into RESP values. It accumulates input in its
// own buffer and resumes framing after each refill, so TCP fragmentation is
// invisible to callers and an element is materialized once, when complete.
type Reader struct {
	rd    io.Reader
	buf   []byte
	start int
	end   int
	frame frameScanner
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		rd:  r,
		buf: make([]byte, initialBufferSize),
	}
}

// ReadNext reads the next RESP value from the stream
func (r *Reader) ReadNext() (Value, error) {
	v, _, err := r.ReadValue()
	return v, err
}

// ReadValue reads the next value and reports how many stream bytes it spanned.
func (r *Reader) ReadValue() (Value, int, error) {
	for {
		n, err := r.frame.scan(r.buf[r.start:r.end])
		if err == nil {
			v, _, err := decodeAt(r.buf[r.start:r.start+n], 0)
			if err != nil {
				return Value{}, 0, err
			}
			r.start += n
			return v, n, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			r.frame.reset()
			return Value{}, 0, err
		}
		if err := r.fill(); err != nil {
			return Value{}, 0, err
		}
	}
}

// ReadCommand reads the next client request and its encoded length.
func (r *Reader) ReadCommand() (*Command, int, error) {
	v, n, err := r.ReadValue()
	if err != nil {
		return nil, 0, err
	}
	cmd, err := ParseCommand(v)
	if err != nil {
		return nil, 0, err
	}
	return cmd, n, nil
}

// ReadSnapshotPayload reads a "$<len>\r\n" header followed by exactly len raw
// bytes. Unlike a bulk string no CRLF follows the payload; this is the framing
// a master uses for the snapshot after FULLRESYNC.
func (r *Reader) ReadSnapshotPayload(limit int64) ([]byte, error) {
	var (
		line []byte
		next int
		err  error
	)
	for {
		// a master sends bare newlines as keepalives while it prepares the payload
		for r.end > r.start && r.buf[r.start] == '\n' {
			r.start++
		}
		if r.end > r.start {
			if r.buf[r.start] != byte(TypeBulkString) {
				return nil, &ProtocolError{Message: fmt.Sprintf("expected snapshot payload, got type %q", r.buf[r.start])}
			}
			line, next, err = readLine(r.buf[:r.end], r.start+1)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrIncomplete) {
				return nil, err
			}
		}
		if err := r.fill(); err != nil {
			return nil, err
		}
	}

	length, err := parseInt64(line)
	if err != nil || length < 0 {
		return nil, &ProtocolError{Message: "invalid snapshot payload length", Data: line}
	}
	if limit > 0 && length > limit {
		return nil, &ProtocolError{Message: fmt.Sprintf("snapshot payload of %d bytes exceeds limit %d", length, limit)}
	}
	r.start = next

	payload := make([]byte, length)
	copied := copy(payload, r.buf[r.start:r.end])
	r.start += copied
	if copied < len(payload) {
		if _, err := io.ReadFull(r.rd, payload[copied:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("failed to read snapshot payload (%d/%d bytes): %w", copied, length, err)
		}
	}
	return payload, nil
}

// fill reads at least one more byte into the buffer, compacting or growing it
// as needed.
func (r *Reader) fill() error {
	if r.start > 0 {
		copy(r.buf, r.buf[r.start:r.end])
		r.end -= r.start
		r.start = 0
	}
	if r.end == len(r.buf) {
		if len(r.buf) >= maxBufferSize {
			return &ProtocolError{Message: "element exceeds maximum buffer size"}
		}
		grown := make([]byte, min(len(r.buf)*2, maxBufferSize))
		copy(grown, r.buf[:r.end])
		r.buf = grown
	}

	for i := 0; i < 100; i++ {
		n, err := r.rd.Read(r.buf[r.end:])
		r.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.end > r.start {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return io.ErrNoProgress
}
