package protocol

import (
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP2 value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// String returns the human readable name of the type
func (t ValueType) String() string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	}
	return "unknown(" + strconv.Quote(string(rune(t))) + ")"
}

// Value is one decoded RESP element. Type selects which of the remaining
// fields is meaningful; IsNull only applies to bulk strings and arrays.
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// lineSanitizer keeps '+' and '-' payloads on a single line.
var lineSanitizer = strings.NewReplacer("\r", " ", "\n", " ")

// SimpleString builds a '+' value. CR and LF become spaces.
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(lineSanitizer.Replace(s))}
}

// ErrorValue builds a '-' value. CR and LF become spaces, so client text
// quoted in an error cannot split the reply.
func ErrorValue(msg string) Value {
	return Value{Type: TypeError, Data: []byte(lineSanitizer.Replace(msg))}
}

// Integer builds a ':' value.
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// BulkString builds a '$' value holding b.
func BulkString(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Type: TypeBulkString, Data: b}
}

// BulkStringFromString builds a '$' value holding s.
func BulkStringFromString(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulkString builds the "$-1" value.
func NullBulkString() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// ArrayOf builds a '*' value from its elements.
func ArrayOf(values ...Value) Value {
	if values == nil {
		values = []Value{}
	}
	return Value{Type: TypeArray, Array: values}
}

// NullArray builds the "*-1" value.
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString, TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return "(" + v.Type.String() + ")"
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error value
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// Error returns the error message if this is an error value
func (v Value) Error() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// Command is a client request: an array of bulk strings whose first
// element names the command.
type Command struct {
	Name string // upper-cased
	Args [][]byte
}

// NewCommand builds a command from its name and arguments.
func NewCommand(name string, args ...string) *Command {
	cmd := &Command{Name: strings.ToUpper(name), Args: make([][]byte, len(args))}
	for i, a := range args {
		cmd.Args[i] = []byte(a)
	}
	return cmd
}

// ParseCommand converts a decoded array of bulk strings into a Command.
// Any other shape is a *ProtocolError.
func ParseCommand(v Value) (*Command, error) {
	if v.Type != TypeArray || v.IsNull {
		return nil, &ProtocolError{Message: "expected array of bulk strings, got " + v.Type.String()}
	}
	if len(v.Array) == 0 {
		return nil, &ProtocolError{Message: "empty command array"}
	}

	cmd := &Command{Args: make([][]byte, len(v.Array)-1)}
	for i, elem := range v.Array {
		if elem.Type != TypeBulkString || elem.IsNull {
			return nil, &ProtocolError{Message: "command element " + strconv.Itoa(i) + " is not a bulk string"}
		}
		if i == 0 {
			cmd.Name = strings.ToUpper(string(elem.Data))
			continue
		}
		cmd.Args[i-1] = elem.Data
	}
	return cmd, nil
}

// Value returns the command as an array of bulk strings.
func (c *Command) Value() Value {
	elems := make([]Value, 0, len(c.Args)+1)
	elems = append(elems, BulkStringFromString(c.Name))
	for _, arg := range c.Args {
		elems = append(elems, BulkString(arg))
	}
	return ArrayOf(elems...)
}

// Encode returns the canonical RESP encoding of the command.
func (c *Command) Encode() []byte {
	return AppendValue(nil, c.Value())
}

// Arg returns argument i as a string, or "" when out of range.
func (c *Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return string(c.Args[i])
}

// String returns a string representation of the command
func (c *Command) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = string(arg)
	}
	return strings.TrimSpace(c.Name + " " + strings.Join(args, " "))
}
