package rdb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// Handler receives the contents of a snapshot in file order.
type Handler interface {
	// OnDatabase is called when switching to a new database
	OnDatabase(index int) error

	// OnKey is called for each key. value.Expiry is set when the record was
	// preceded by an expiry directive.
	OnKey(key []byte, value *storage.Value) error

	// OnAux is called for auxiliary fields
	OnAux(key, value []byte) error

	// OnEnd is called after the checksum has been verified
	OnEnd() error
}

// opKind classifies the byte that starts each top-level item of the file.
type opKind int

const (
	opRecord opKind = iota // value type tag; a key/value record follows
	opEOF
	opSelectDB
	opResizeDB
	opAux
	opExpirySec
	opExpiryMs
	opSkipIdle     // LRU idle time, not interpreted
	opSkipFreq     // LFU counter, not interpreted
	opSkipSlotInfo // cluster slot sizing hint, not interpreted
	opUnsupported  // module and function payloads cannot be skipped safely
)

func classify(b byte) opKind {
	switch b {
	case OpcodeEOF:
		return opEOF
	case OpcodeSelectDB:
		return opSelectDB
	case OpcodeResizeDB:
		return opResizeDB
	case OpcodeAux:
		return opAux
	case OpcodeExpiry:
		return opExpirySec
	case OpcodeExpiryMs:
		return opExpiryMs
	case OpcodeIdle:
		return opSkipIdle
	case OpcodeFreq:
		return opSkipFreq
	case OpcodeSlotInfo:
		return opSkipSlotInfo
	case OpcodeModuleAux, OpcodeFunction, OpcodeFunction2:
		return opUnsupported
	}
	return opRecord
}

// perKey reports whether k may sit between an expiry directive and the
// record it belongs to. Redis writes IDLE and FREQ there.
func (k opKind) perKey() bool {
	switch k {
	case opRecord, opSkipIdle, opSkipFreq, opUnsupported:
		return true
	}
	return false
}

// source tracks the read position and running checksum of the input.
type source struct {
	br  *bufio.Reader
	crc uint64
	pos int64
	buf [8]byte
}

func (s *source) ReadByte() (byte, error) {
	b, err := s.br.ReadByte()
	if err != nil {
		return 0, err
	}
	s.buf[0] = b
	s.crc = crc64Update(s.crc, s.buf[:1])
	s.pos++
	return b, nil
}

func (s *source) ReadFull(p []byte) error {
	n, err := io.ReadFull(s.br, p)
	s.crc = crc64Update(s.crc, p[:n])
	s.pos += int64(n)
	return err
}

// Parser decodes an RDB stream, reporting its contents to a Handler.
type Parser struct {
	src     *source
	handler Handler
	version int
}

// NewParser creates a new RDB parser
func NewParser(r io.Reader, handler Handler) *Parser {
	return &Parser{
		src:     &source{br: bufio.NewReaderSize(r, 64*1024)},
		handler: handler,
	}
}

// Parse reads the whole stream. Any malformed or unsupported content yields a
// *FormatError; errors returned by the handler are passed through unchanged.
func (p *Parser) Parse() error {
	if err := p.readHeader(); err != nil {
		return err
	}

	var expiry *time.Time
	for {
		b, err := p.src.ReadByte()
		if err != nil {
			return p.fail("missing EOF opcode", err)
		}

		kind := classify(b)
		if expiry != nil && !kind.perKey() {
			return p.fail(fmt.Sprintf("expiry not followed by a key (opcode 0x%02X)", b), nil)
		}

		switch kind {
		case opEOF:
			if err := p.verifyChecksum(); err != nil {
				return err
			}
			return p.handler.OnEnd()

		case opSelectDB:
			db, err := p.readLength()
			if err != nil {
				return err
			}
			if err := p.handler.OnDatabase(int(db)); err != nil {
				return err
			}

		case opResizeDB:
			// hash table size hints
			if _, err := p.readLength(); err != nil {
				return err
			}
			if _, err := p.readLength(); err != nil {
				return err
			}

		case opAux:
			key, err := p.readString()
			if err != nil {
				return err
			}
			value, err := p.readString()
			if err != nil {
				return err
			}
			if err := p.handler.OnAux(key, value); err != nil {
				return err
			}

		case opExpirySec:
			if err := p.src.ReadFull(p.src.buf[:4]); err != nil {
				return p.fail("truncated expiry", err)
			}
			t := time.Unix(int64(binary.LittleEndian.Uint32(p.src.buf[:4])), 0)
			expiry = &t

		case opExpiryMs:
			if err := p.src.ReadFull(p.src.buf[:8]); err != nil {
				return p.fail("truncated expiry", err)
			}
			t := time.UnixMilli(int64(binary.LittleEndian.Uint64(p.src.buf[:8])))
			expiry = &t

		case opSkipIdle:
			if _, err := p.readLength(); err != nil {
				return err
			}

		case opSkipFreq:
			if _, err := p.src.ReadByte(); err != nil {
				return p.fail("truncated LFU frequency", err)
			}

		case opSkipSlotInfo:
			for i := 0; i < 3; i++ {
				if _, err := p.readLength(); err != nil {
					return err
				}
			}

		case opUnsupported:
			return p.fail(fmt.Sprintf("unsupported opcode 0x%02X", b), nil)

		case opRecord:
			key, err := p.readString()
			if err != nil {
				return err
			}
			value, err := p.readValue(b)
			if err != nil {
				return err
			}
			// an expiry applies to the next record only
			value.Expiry = expiry
			expiry = nil
			if err := p.handler.OnKey(key, value); err != nil {
				return err
			}
		}
	}
}

func (p *Parser) readHeader() error {
	header := make([]byte, 9)
	if err := p.src.ReadFull(header); err != nil {
		return p.fail("truncated header", err)
	}
	if string(header[:5]) != "REDIS" {
		return p.fail(fmt.Sprintf("invalid magic %q", header[:5]), nil)
	}
	version, err := strconv.Atoi(string(header[5:]))
	if err != nil {
		return p.fail(fmt.Sprintf("invalid version %q", header[5:]), nil)
	}
	if version < 1 || version > MaxSupportedVersion {
		return p.fail(fmt.Sprintf("unsupported version %d (max supported: %d)", version, MaxSupportedVersion), nil)
	}
	p.version = version
	return nil
}

// verifyChecksum reads the trailing CRC64. Files older than version 5 have
// none, and a stored zero means checksumming was disabled when saving.
func (p *Parser) verifyChecksum() error {
	if p.version < 5 {
		return nil
	}
	expected := p.src.crc
	var sum [8]byte
	if _, err := io.ReadFull(p.src.br, sum[:]); err != nil {
		return p.fail("truncated checksum", err)
	}
	stored := binary.LittleEndian.Uint64(sum[:])
	if stored != 0 && stored != expected {
		return p.fail(fmt.Sprintf("checksum mismatch: stored %016x, computed %016x", stored, expected), nil)
	}
	return nil
}

// readLengthOrEncoding decodes the variable-width length prefix. When the
// top two bits are 11 the remaining six bits name a special string encoding
// instead, reported with encoded=true.
func (p *Parser) readLengthOrEncoding() (n uint64, encoded bool, err error) {
	b, err := p.src.ReadByte()
	if err != nil {
		return 0, false, p.fail("truncated length", err)
	}

	switch b >> 6 {
	case len6Bit:
		return uint64(b & 0x3F), false, nil

	case len14Bit:
		b2, err := p.src.ReadByte()
		if err != nil {
			return 0, false, p.fail("truncated length", err)
		}
		return uint64(b&0x3F)<<8 | uint64(b2), false, nil

	case len32Or64:
		switch b {
		case len32Bit:
			if err := p.src.ReadFull(p.src.buf[:4]); err != nil {
				return 0, false, p.fail("truncated length", err)
			}
			return uint64(binary.BigEndian.Uint32(p.src.buf[:4])), false, nil
		case len64Bit:
			if err := p.src.ReadFull(p.src.buf[:8]); err != nil {
				return 0, false, p.fail("truncated length", err)
			}
			return binary.BigEndian.Uint64(p.src.buf[:8]), false, nil
		}
		return 0, false, p.fail(fmt.Sprintf("invalid length prefix 0x%02X", b), nil)
	}

	return uint64(b & 0x3F), true, nil
}

func (p *Parser) readLength() (uint64, error) {
	n, encoded, err := p.readLengthOrEncoding()
	if err != nil {
		return 0, err
	}
	if encoded {
		return 0, p.fail("encoded value where a length was expected", nil)
	}
	return n, nil
}

// readString reads a length-prefixed string. Integer encodings are returned
// as their decimal text, as Redis does.
func (p *Parser) readString() ([]byte, error) {
	n, encoded, err := p.readLengthOrEncoding()
	if err != nil {
		return nil, err
	}
	if !encoded {
		return p.readBytes(n)
	}

	switch n {
	case encInt8:
		b, err := p.src.ReadByte()
		if err != nil {
			return nil, p.fail("truncated integer", err)
		}
		return strconv.AppendInt(nil, int64(int8(b)), 10), nil

	case encInt16:
		if err := p.src.ReadFull(p.src.buf[:2]); err != nil {
			return nil, p.fail("truncated integer", err)
		}
		return strconv.AppendInt(nil, int64(int16(binary.LittleEndian.Uint16(p.src.buf[:2]))), 10), nil

	case encInt32:
		if err := p.src.ReadFull(p.src.buf[:4]); err != nil {
			return nil, p.fail("truncated integer", err)
		}
		return strconv.AppendInt(nil, int64(int32(binary.LittleEndian.Uint32(p.src.buf[:4]))), 10), nil

	case encLZF:
		clen, err := p.readLength()
		if err != nil {
			return nil, err
		}
		ulen, err := p.readLength()
		if err != nil {
			return nil, err
		}
		if ulen > maxStringLength {
			return nil, p.fail(fmt.Sprintf("compressed string expands to %d bytes", ulen), nil)
		}
		compressed, err := p.readBytes(clen)
		if err != nil {
			return nil, err
		}
		out, err := lzfDecompress(compressed, int(ulen))
		if err != nil {
			return nil, p.fail("corrupt compressed string", err)
		}
		return out, nil
	}

	return nil, p.fail(fmt.Sprintf("unknown string encoding %d", n), nil)
}

func (p *Parser) readBytes(n uint64) ([]byte, error) {
	if n > maxStringLength {
		return nil, p.fail(fmt.Sprintf("string length %d exceeds limit", n), nil)
	}
	data := make([]byte, n)
	if err := p.src.ReadFull(data); err != nil {
		return nil, p.fail("truncated string", err)
	}
	return data, nil
}

// readValue reads a value based on its type tag
func (p *Parser) readValue(valueType byte) (*storage.Value, error) {
	switch valueType {
	case TypeString:
		data, err := p.readString()
		if err != nil {
			return nil, err
		}
		return &storage.Value{Type: storage.ValueTypeString, Data: &storage.StringValue{Data: data}}, nil

	case TypeList:
		n, err := p.readCount()
		if err != nil {
			return nil, err
		}
		elements := make([][]byte, 0, min(n, 1024))
		for i := uint64(0); i < n; i++ {
			el, err := p.readString()
			if err != nil {
				return nil, err
			}
			elements = append(elements, el)
		}
		return storage.NewList(elements, nil), nil

	case TypeSet:
		n, err := p.readCount()
		if err != nil {
			return nil, err
		}
		members := make([]string, 0, min(n, 1024))
		for i := uint64(0); i < n; i++ {
			m, err := p.readString()
			if err != nil {
				return nil, err
			}
			members = append(members, string(m))
		}
		return storage.NewSet(members, nil), nil

	case TypeHash:
		n, err := p.readCount()
		if err != nil {
			return nil, err
		}
		fields := make(map[string][]byte, min(n, 1024))
		for i := uint64(0); i < n; i++ {
			f, err := p.readString()
			if err != nil {
				return nil, err
			}
			v, err := p.readString()
			if err != nil {
				return nil, err
			}
			fields[string(f)] = v
		}
		return storage.NewHash(fields, nil), nil
	}

	return nil, p.fail(fmt.Sprintf("unsupported value type %d", valueType), nil)
}

func (p *Parser) readCount() (uint64, error) {
	n, err := p.readLength()
	if err != nil {
		return 0, err
	}
	if n > maxStringLength {
		return 0, p.fail(fmt.Sprintf("element count %d exceeds limit", n), nil)
	}
	return n, nil
}

func (p *Parser) fail(msg string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &FormatError{Offset: p.src.pos, Msg: msg, Err: err}
}

// Parse is a convenience function to parse an RDB stream
func Parse(r io.Reader, handler Handler) error {
	return NewParser(r, handler).Parse()
}

// imageBuilder collects parsed records into an Image.
type imageBuilder struct {
	img *Image
	db  int
}

func (b *imageBuilder) OnDatabase(index int) error {
	b.db = index
	return nil
}

func (b *imageBuilder) OnKey(key []byte, value *storage.Value) error {
	b.img.Records = append(b.img.Records, Record{DB: b.db, Key: string(key), Value: value})
	return nil
}

func (b *imageBuilder) OnAux(key, value []byte) error {
	b.img.Aux[string(key)] = string(value)
	return nil
}

func (b *imageBuilder) OnEnd() error {
	return nil
}

// Load decodes a complete snapshot. On error no image is returned.
func Load(r io.Reader) (*Image, error) {
	parser := NewParser(r, nil)
	b := &imageBuilder{img: &Image{Aux: map[string]string{}}}
	parser.handler = b
	if err := parser.Parse(); err != nil {
		return nil, err
	}
	b.img.Version = parser.version
	return b.img, nil
}

// LoadBytes decodes a snapshot held in memory, such as a full-resync payload.
func LoadBytes(data []byte) (*Image, error) {
	return Load(bytes.NewReader(data))
}

// LoadFile decodes the snapshot at path. A missing file is reported with an
// error satisfying errors.Is(err, os.ErrNotExist).
func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}
