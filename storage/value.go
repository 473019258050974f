package storage

import (
	"errors"
	"time"
)

// ErrWrongType is returned when an operation expects a different value type
var ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")

// ValueType represents the Redis data type
type ValueType int

const (
	ValueTypeString ValueType = iota
	ValueTypeList
	ValueTypeSet
	ValueTypeHash
)

// String returns the Redis-compatible type name
func (vt ValueType) String() string {
	switch vt {
	case ValueTypeString:
		return "string"
	case ValueTypeList:
		return "list"
	case ValueTypeSet:
		return "set"
	case ValueTypeHash:
		return "hash"
	default:
		return "none"
	}
}

// Value is a stored value with its expiry. Values are never modified after
// they are installed in a Keyspace; a write replaces the whole Value, which
// lets snapshots share them without copying.
type Value struct {
	Type   ValueType
	Data   interface{}
	Expiry *time.Time
}

// StringValue represents a string value
type StringValue struct {
	Data []byte
}

// ListValue represents a list value
type ListValue struct {
	Elements [][]byte
}

// SetValue represents a set value
type SetValue struct {
	Members map[string]struct{}
}

// HashValue represents a hash value
type HashValue struct {
	Fields map[string][]byte
}

// NewString builds a string value. data is copied.
func NewString(data []byte, expiry *time.Time) *Value {
	return &Value{
		Type:   ValueTypeString,
		Data:   &StringValue{Data: append([]byte{}, data...)},
		Expiry: expiry,
	}
}

// NewList builds a list value.
func NewList(elements [][]byte, expiry *time.Time) *Value {
	return &Value{Type: ValueTypeList, Data: &ListValue{Elements: elements}, Expiry: expiry}
}

// NewSet builds a set value.
func NewSet(members []string, expiry *time.Time) *Value {
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return &Value{Type: ValueTypeSet, Data: &SetValue{Members: set}, Expiry: expiry}
}

// NewHash builds a hash value.
func NewHash(fields map[string][]byte, expiry *time.Time) *Value {
	return &Value{Type: ValueTypeHash, Data: &HashValue{Fields: fields}, Expiry: expiry}
}

// IsExpired reports whether the value's expiry is at or before now
func (v *Value) IsExpired(now time.Time) bool {
	return v.Expiry != nil && !now.Before(*v.Expiry)
}

// Bytes returns the payload of a string value.
func (v *Value) Bytes() ([]byte, error) {
	s, ok := v.Data.(*StringValue)
	if !ok || v.Type != ValueTypeString {
		return nil, ErrWrongType
	}
	return s.Data, nil
}

// WithExpiry returns a copy of v sharing its payload but expiring at expiry.
func (v *Value) WithExpiry(expiry *time.Time) *Value {
	return &Value{Type: v.Type, Data: v.Data, Expiry: expiry}
}

// Entry is one key of a keyspace snapshot.
type Entry struct {
	Key   string
	Value *Value
}

// ExpiryAt converts unix milliseconds into an expiry pointer; 0 means none.
func ExpiryAt(unixMs int64) *time.Time {
	if unixMs <= 0 {
		return nil
	}
	t := time.UnixMilli(unixMs)
	return &t
}
