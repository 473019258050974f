package rdb

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// RedisVersion is reported in the redis-ver aux field of written snapshots.
const RedisVersion = "7.2.0"

// Encode serializes img in RDB version 11. Records are grouped by database
// and written in key order; aux fields in img.Aux override the defaults.
func Encode(img *Image) ([]byte, error) {
	e := &encoder{buf: make([]byte, 0, 256)}
	e.buf = append(e.buf, fmt.Sprintf("REDIS%04d", Version)...)

	aux := map[string]string{
		"redis-ver":  RedisVersion,
		"redis-bits": "64",
		"ctime":      strconv.FormatInt(time.Now().Unix(), 10),
		"used-mem":   "0",
		"aof-base":   "0",
	}
	for k, v := range img.Aux {
		aux[k] = v
	}
	for _, k := range sortedKeys(aux) {
		e.buf = append(e.buf, OpcodeAux)
		e.writeString([]byte(k))
		e.writeString([]byte(aux[k]))
	}

	byDB := map[int][]Record{}
	for _, rec := range img.Records {
		byDB[rec.DB] = append(byDB[rec.DB], rec)
	}
	for _, db := range img.Databases() {
		records := byDB[db]
		sort.SliceStable(records, func(i, j int) bool { return records[i].Key < records[j].Key })

		expires := 0
		for _, rec := range records {
			if rec.Value.Expiry != nil {
				expires++
			}
		}
		e.buf = append(e.buf, OpcodeSelectDB)
		e.writeLength(uint64(db))
		e.buf = append(e.buf, OpcodeResizeDB)
		e.writeLength(uint64(len(records)))
		e.writeLength(uint64(expires))

		for _, rec := range records {
			if err := e.writeRecord(rec); err != nil {
				return nil, err
			}
		}
	}

	e.buf = append(e.buf, OpcodeEOF)
	return binary.LittleEndian.AppendUint64(e.buf, crc64Update(0, e.buf)), nil
}

// Save writes the encoding of img to w.
func Save(w io.Writer, img *Image) error {
	data, err := Encode(img)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveFile writes img to path atomically: the snapshot is written to a
// temporary file in the same directory and renamed over path.
func SaveFile(path string, img *Image) error {
	data, err := Encode(img)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "temp-*.rdb")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// EncodeEntries is Encode(FromEntries(entries)).
func EncodeEntries(entries []storage.Entry) ([]byte, error) {
	return Encode(FromEntries(entries))
}

type encoder struct {
	buf []byte
}

func (e *encoder) writeRecord(rec Record) error {
	v := rec.Value
	if v.Expiry != nil {
		e.buf = append(e.buf, OpcodeExpiryMs)
		e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v.Expiry.UnixMilli()))
	}

	switch data := v.Data.(type) {
	case *storage.StringValue:
		e.buf = append(e.buf, TypeString)
		e.writeString([]byte(rec.Key))
		e.writeString(data.Data)

	case *storage.ListValue:
		e.buf = append(e.buf, TypeList)
		e.writeString([]byte(rec.Key))
		e.writeLength(uint64(len(data.Elements)))
		for _, el := range data.Elements {
			e.writeString(el)
		}

	case *storage.SetValue:
		e.buf = append(e.buf, TypeSet)
		e.writeString([]byte(rec.Key))
		e.writeLength(uint64(len(data.Members)))
		for _, m := range sortedKeys(data.Members) {
			e.writeString([]byte(m))
		}

	case *storage.HashValue:
		e.buf = append(e.buf, TypeHash)
		e.writeString([]byte(rec.Key))
		e.writeLength(uint64(len(data.Fields)))
		for _, f := range sortedKeys(data.Fields) {
			e.writeString([]byte(f))
			e.writeString(data.Fields[f])
		}

	default:
		return fmt.Errorf("rdb: cannot encode %s value for key %q", v.Type, rec.Key)
	}
	return nil
}

func (e *encoder) writeLength(n uint64) {
	switch {
	case n < 1<<6:
		e.buf = append(e.buf, byte(n))
	case n < 1<<14:
		e.buf = append(e.buf, byte(n>>8)|len14Bit<<6, byte(n))
	case n <= 0xFFFFFFFF:
		e.buf = append(e.buf, len32Bit)
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
	default:
		e.buf = append(e.buf, len64Bit)
		e.buf = binary.BigEndian.AppendUint64(e.buf, n)
	}
}

// writeString stores s, using the compact integer encodings when s is the
// canonical decimal form of a value that fits in 32 bits.
func (e *encoder) writeString(s []byte) {
	if n, ok := canonicalInt(s); ok {
		switch {
		case n >= -1<<7 && n < 1<<7:
			e.buf = append(e.buf, lenEnc<<6|encInt8, byte(int8(n)))
			return
		case n >= -1<<15 && n < 1<<15:
			e.buf = append(e.buf, lenEnc<<6|encInt16)
			e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(int16(n)))
			return
		case n >= -1<<31 && n < 1<<31:
			e.buf = append(e.buf, lenEnc<<6|encInt32)
			e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(int32(n)))
			return
		}
	}
	e.writeLength(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func canonicalInt(s []byte) (int64, bool) {
	if len(s) == 0 || len(s) > 11 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil || strconv.FormatInt(n, 10) != string(s) {
		return 0, false
	}
	return n, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
