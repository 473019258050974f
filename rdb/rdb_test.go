package rdb_test

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/rdb"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// emptyRDB is a snapshot of an empty Redis 7.2 server.
const emptyRDB = "524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

func TestLoadEmptySnapshot(t *testing.T) {
	data, _ := hex.DecodeString(emptyRDB)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if img.Version != 11 {
		t.Errorf("Version = %d, want 11", img.Version)
	}
	if img.Aux["redis-ver"] != "7.2.0" || img.Aux["redis-bits"] != "64" {
		t.Errorf("Aux = %v", img.Aux)
	}
	if len(img.Records) != 0 {
		t.Errorf("Records = %v, want none", img.Records)
	}
}

func TestRoundTrip(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	big := strings.Repeat("x", 70000)
	entries := []storage.Entry{
		{Key: "str", Value: storage.NewString([]byte("hello"), nil)},
		{Key: "int", Value: storage.NewString([]byte("-12345"), nil)},
		{Key: "notint", Value: storage.NewString([]byte("007"), nil)},
		{Key: "huge", Value: storage.NewString([]byte("12345678901"), nil)},
		{Key: "big", Value: storage.NewString([]byte(big), nil)},
		{Key: "ttl", Value: storage.NewString([]byte("soon"), &expiry)},
		{Key: "list", Value: storage.NewList([][]byte{[]byte("a"), []byte("1")}, nil)},
		{Key: "set", Value: storage.NewSet([]string{"m1", "m2"}, nil)},
		{Key: "hash", Value: storage.NewHash(map[string][]byte{"f": []byte("v")}, &expiry)},
	}

	src := storage.New(storage.WithCleanup(storage.CleanupConfigDisabled))
	defer src.Close()
	src.ReplaceAll(entries)

	data, err := rdb.EncodeEntries(src.Snapshot())
	if err != nil {
		t.Fatalf("EncodeEntries() error = %v", err)
	}
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}

	dst := storage.New(storage.WithCleanup(storage.CleanupConfigDisabled))
	defer dst.Close()
	dst.ReplaceAll(img.Entries(0, time.Now()))

	if src.Digest() != dst.Digest() {
		t.Errorf("digest mismatch after round trip: %x != %x", src.Digest(), dst.Digest())
	}
	if v, _, _ := dst.Get("big"); string(v) != big {
		t.Errorf("big value length = %d, want %d", len(v), len(big))
	}
	if ttl := dst.PTTL("ttl"); ttl <= 0 {
		t.Errorf("PTTL(ttl) = %v, want positive", ttl)
	}
}

func TestIntegerEncodedValueLoadsAsString(t *testing.T) {
	data := snapshot(
		[]byte{rdb.OpcodeSelectDB, 0x00},
		[]byte{rdb.TypeString, 0x01, 'a', 0xC0, 123},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	entries := img.Entries(0, time.Now())
	if len(entries) != 1 {
		t.Fatalf("Entries() = %v", entries)
	}
	if v, _ := entries[0].Value.Bytes(); string(v) != "123" {
		t.Errorf("value = %q, want \"123\"", v)
	}
}

func TestSpecialIntegerEncodingsAreSigned(t *testing.T) {
	data := snapshot(
		[]byte{rdb.TypeString, 0x01, 'a', 0xC0, 0xFF},
		[]byte{rdb.TypeString, 0x01, 'b', 0xC1, 0x00, 0x80},
		[]byte{rdb.TypeString, 0x01, 'c', 0xC2, 0xFF, 0xFF, 0xFF, 0xFF},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	want := map[string]string{"a": "-1", "b": "-32768", "c": "-1"}
	for _, rec := range img.Records {
		if v, _ := rec.Value.Bytes(); string(v) != want[rec.Key] {
			t.Errorf("%s = %s, want %s", rec.Key, v, want[rec.Key])
		}
	}
}

func TestExpiryAppliesToNextRecordOnly(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	var ms [8]byte
	binary.LittleEndian.PutUint64(ms[:], uint64(future))

	data := snapshot(
		append([]byte{rdb.OpcodeExpiryMs}, ms[:]...),
		[]byte{rdb.TypeString, 0x01, 'x', 0x01, 'v'},
		[]byte{rdb.TypeString, 0x01, 'y', 0x01, 'v'},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if len(img.Records) != 2 {
		t.Fatalf("Records = %d, want 2", len(img.Records))
	}
	if exp := img.Records[0].Value.Expiry; exp == nil || exp.UnixMilli() != future {
		t.Errorf("x expiry = %v, want %d", exp, future)
	}
	if exp := img.Records[1].Value.Expiry; exp != nil {
		t.Errorf("y expiry = %v, want none", exp)
	}
}

func TestExpiryCarriesOverKeyMetadataOnly(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	var ms [8]byte
	binary.LittleEndian.PutUint64(ms[:], uint64(future))
	expiry := append([]byte{rdb.OpcodeExpiryMs}, ms[:]...)

	data := snapshot(
		expiry,
		[]byte{rdb.OpcodeIdle, 0x05, rdb.OpcodeFreq, 0x07},
		[]byte{rdb.TypeString, 0x01, 'x', 0x01, 'v'},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if exp := img.Records[0].Value.Expiry; exp == nil || exp.UnixMilli() != future {
		t.Errorf("x expiry = %v, want %d", exp, future)
	}

	dangling := map[string][]byte{
		"select db":   {rdb.OpcodeSelectDB, 0x01},
		"resize db":   {rdb.OpcodeResizeDB, 0x01, 0x00},
		"aux":         {rdb.OpcodeAux, 0x01, 'a', 0x01, 'b'},
		"expiry":      append([]byte{rdb.OpcodeExpiryMs}, ms[:]...),
		"end of file": nil,
	}
	for name, between := range dangling {
		t.Run(name, func(t *testing.T) {
			parts := [][]byte{expiry, between}
			if between != nil {
				parts = append(parts, []byte{rdb.TypeString, 0x01, 'y', 0x01, 'v'})
			}
			if _, err := rdb.LoadBytes(snapshot(parts...)); !rdb.IsFormatError(err) {
				t.Errorf("LoadBytes() error = %v, want FormatError", err)
			}
		})
	}
}

func TestExpiredRecordsAreDropped(t *testing.T) {
	var sec [4]byte
	binary.LittleEndian.PutUint32(sec[:], uint32(time.Now().Add(-time.Hour).Unix()))

	data := snapshot(
		append([]byte{rdb.OpcodeExpiry}, sec[:]...),
		[]byte{rdb.TypeString, 0x03, 'o', 'l', 'd', 0x01, 'v'},
		[]byte{rdb.TypeString, 0x03, 'n', 'e', 'w', 0x01, 'v'},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	entries := img.Entries(0, time.Now())
	if len(entries) != 1 || entries[0].Key != "new" {
		t.Errorf("Entries() = %v, want only new", entries)
	}
}

func TestSkippedOpcodesAndOtherDatabases(t *testing.T) {
	data := snapshot(
		[]byte{rdb.OpcodeAux, 0x03, 'f', 'o', 'o', 0x03, 'b', 'a', 'r'},
		[]byte{rdb.OpcodeSelectDB, 0x00, rdb.OpcodeResizeDB, 0x01, 0x00},
		[]byte{rdb.OpcodeIdle, 0x05, rdb.OpcodeFreq, 0x07},
		[]byte{rdb.TypeString, 0x01, 'a', 0x01, '1'},
		[]byte{rdb.OpcodeSelectDB, 0x03},
		[]byte{rdb.TypeString, 0x01, 'b', 0x01, '2'},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if img.Aux["foo"] != "bar" {
		t.Errorf("Aux[foo] = %q", img.Aux["foo"])
	}
	if dbs := img.Databases(); len(dbs) != 2 || dbs[1] != 3 {
		t.Errorf("Databases() = %v, want [0 3]", dbs)
	}
	if entries := img.Entries(0, time.Now()); len(entries) != 1 || entries[0].Key != "a" {
		t.Errorf("Entries(0) = %v", entries)
	}
}

func TestLZFCompressedString(t *testing.T) {
	data := snapshot(
		[]byte{rdb.TypeString, 0x01, 'z', 0xC3, 0x06, 0x09, 0x02, 'a', 'b', 'c', 0x80, 0x02},
	)
	img, err := rdb.LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes() error = %v", err)
	}
	if v, _ := img.Records[0].Value.Bytes(); string(v) != "abcabcabc" {
		t.Errorf("value = %q, want abcabcabc", v)
	}
}

func TestFormatErrors(t *testing.T) {
	valid, err := rdb.EncodeEntries([]storage.Entry{{Key: "k", Value: storage.NewString([]byte("value"), nil)}})
	if err != nil {
		t.Fatal(err)
	}
	corrupt := append([]byte{}, valid...)
	corrupt[len(corrupt)-12] ^= 0xFF

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("RADIS0011\xff")},
		{"bad version", []byte("REDIS00x1\xff")},
		{"future version", []byte("REDIS0099\xff")},
		{"missing EOF", valid[:len(valid)-9]},
		{"truncated checksum", valid[:len(valid)-3]},
		{"checksum mismatch", corrupt},
		{"unsupported type", snapshot([]byte{0x03, 0x01, 'z', 0x00})},
		{"listpack hash", snapshot([]byte{0x10, 0x01, 'h', 0x00})},
		{"module aux", snapshot([]byte{rdb.OpcodeModuleAux, 0x00})},
		{"truncated value", []byte("REDIS0011\x00\x01k\x05ab")},
		{"bad length prefix", snapshot([]byte{rdb.TypeString, 0x82})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := rdb.LoadBytes(tt.data)
			if !rdb.IsFormatError(err) {
				t.Fatalf("LoadBytes() error = %v, want FormatError", err)
			}
			if img != nil {
				t.Error("LoadBytes() returned an image alongside an error")
			}
		})
	}
}

func TestSaveFileLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.rdb")

	if _, err := rdb.LoadFile(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadFile(missing) error = %v, want os.ErrNotExist", err)
	}

	img := rdb.FromEntries([]storage.Entry{{Key: "k", Value: storage.NewString([]byte("v"), nil)}})
	if err := rdb.SaveFile(path, img); err != nil {
		t.Fatalf("SaveFile() error = %v", err)
	}
	loaded, err := rdb.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(loaded.Records) != 1 || loaded.Records[0].Key != "k" {
		t.Errorf("Records = %+v", loaded.Records)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "temp-*"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestEncodeIsLoadable(t *testing.T) {
	data, err := rdb.Encode(&rdb.Image{})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("REDIS0011")) {
		t.Errorf("header = %q", data[:9])
	}
	if _, err := rdb.LoadBytes(data); err != nil {
		t.Errorf("LoadBytes(Encode(empty)) error = %v", err)
	}
}

// snapshot assembles a version 11 file from raw body parts with the checksum
// disabled.
func snapshot(parts ...[]byte) []byte {
	out := []byte("REDIS0011")
	for _, p := range parts {
		out = append(out, p...)
	}
	out = append(out, rdb.OpcodeEOF)
	return append(out, make([]byte, 8)...)
}
