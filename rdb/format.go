package rdb

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// RDB format constants
const (
	// Version written by Save. Load accepts 1 through MaxSupportedVersion.
	Version             = 11
	MaxSupportedVersion = 12

	OpcodeSlotInfo  = 0xF4
	OpcodeFunction2 = 0xF5
	OpcodeFunction  = 0xF6
	OpcodeModuleAux = 0xF7
	OpcodeIdle      = 0xF8
	OpcodeFreq      = 0xF9
	OpcodeAux       = 0xFA
	OpcodeResizeDB  = 0xFB
	OpcodeExpiryMs  = 0xFC
	OpcodeExpiry    = 0xFD
	OpcodeSelectDB  = 0xFE
	OpcodeEOF       = 0xFF

	// Value type tags
	TypeString = 0
	TypeList   = 1
	TypeSet    = 2
	TypeHash   = 4

	// Length encoding
	len6Bit   = 0
	len14Bit  = 1
	len32Or64 = 2
	lenEnc    = 3
	len32Bit  = 0x80
	len64Bit  = 0x81

	encInt8  = 0
	encInt16 = 1
	encInt32 = 2
	encLZF   = 3

	// maxStringLength mirrors Redis' proto-max-bulk-len
	maxStringLength = 512 * 1024 * 1024
)

// FormatError reports corrupt or unsupported snapshot bytes. A load that
// returns a FormatError has produced no usable image.
type FormatError struct {
	Offset int64
	Msg    string
	Err    error
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rdb format error at byte %d: %s: %v", e.Offset, e.Msg, e.Err)
	}
	return fmt.Sprintf("rdb format error at byte %d: %s", e.Offset, e.Msg)
}

// Unwrap returns the wrapped error
func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err is or wraps a *FormatError
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// Record is one key of a snapshot. The value's Expiry carries the record's
// expiry directive, if any.
type Record struct {
	DB    int
	Key   string
	Value *storage.Value
}

// Image is a decoded snapshot, in file order.
type Image struct {
	Version int
	Aux     map[string]string
	Records []Record
}

// FromEntries builds an image of database 0 from keyspace entries.
func FromEntries(entries []storage.Entry) *Image {
	img := &Image{Version: Version, Aux: map[string]string{}, Records: make([]Record, 0, len(entries))}
	for _, e := range entries {
		img.Records = append(img.Records, Record{DB: 0, Key: e.Key, Value: e.Value})
	}
	return img
}

// Entries returns the records of database db that have not expired by now,
// ready for storage.Keyspace.ReplaceAll. A later record for the same key wins.
func (img *Image) Entries(db int, now time.Time) []storage.Entry {
	latest := make(map[string]*storage.Value, len(img.Records))
	for _, rec := range img.Records {
		if rec.DB != db {
			continue
		}
		if rec.Value.IsExpired(now) {
			delete(latest, rec.Key)
			continue
		}
		latest[rec.Key] = rec.Value
	}

	entries := make([]storage.Entry, 0, len(latest))
	for key, v := range latest {
		entries = append(entries, storage.Entry{Key: key, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Databases returns the distinct database indexes present, ascending.
func (img *Image) Databases() []int {
	seen := map[int]bool{}
	var dbs []int
	for _, rec := range img.Records {
		if !seen[rec.DB] {
			seen[rec.DB] = true
			dbs = append(dbs, rec.DB)
		}
	}
	sort.Ints(dbs)
	return dbs
}
