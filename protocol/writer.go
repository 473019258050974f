package protocol

import (
	"bufio"
	"io"
	"strconv"
)

// Writer provides buffered writing of RESP protocol messages. Nothing reaches
// the underlying writer until Flush.
type Writer struct {
	bw      *bufio.Writer
	scratch []byte
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:      bufio.NewWriter(w),
		scratch: make([]byte, 0, 256),
	}
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	w.scratch = AppendValue(w.scratch[:0], v)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteValue(SimpleString(s))
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	return w.WriteValue(ErrorValue(msg))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.WriteValue(Integer(n))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	return w.WriteValue(BulkString(data))
}

// WriteBulkStringFromString writes a bulk string from a string
func (w *Writer) WriteBulkStringFromString(s string) error {
	return w.WriteValue(BulkStringFromString(s))
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	return w.WriteValue(NullBulkString())
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	return w.WriteValue(ArrayOf(values...))
}

// WriteNullArray writes a null array
func (w *Writer) WriteNullArray() error {
	return w.WriteValue(NullArray())
}

// WriteCommand writes a Redis command as a RESP array of bulk strings
func (w *Writer) WriteCommand(cmd string, args ...string) error {
	return w.WriteValue(NewCommand(cmd, args...).Value())
}

// WriteSnapshotPayload writes "$<len>\r\n" followed by data with no trailing
// CRLF, the framing of a full-resync snapshot.
func (w *Writer) WriteSnapshotPayload(data []byte) error {
	w.scratch = strconv.AppendInt(append(w.scratch[:0], '$'), int64(len(data)), 10)
	w.scratch = append(w.scratch, CRLF...)
	if _, err := w.bw.Write(w.scratch); err != nil {
		return err
	}
	_, err := w.bw.Write(data)
	return err
}

// WriteRaw writes already-encoded bytes unchanged.
func (w *Writer) WriteRaw(b []byte) error {
	_, err := w.bw.Write(b)
	return err
}

// WriteOK writes a simple "OK" response
func (w *Writer) WriteOK() error {
	return w.WriteSimpleString("OK")
}

// WritePONG writes a simple "PONG" response
func (w *Writer) WritePONG() error {
	return w.WriteSimpleString("PONG")
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}
