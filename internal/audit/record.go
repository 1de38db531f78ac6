// Package audit replays a raptorjit-style audit log into a queryable
// object graph: the memory map of typed views, the prototype and ctype
// tables, the trace table, and the ordered event list.
package audit

import (
	"fmt"

	"github.com/raptorjit/birdwatch/internal/msgpack"
)

// RecordKind identifies the variant of an audit log record.
type RecordKind int

const (
	RecordMemory RecordKind = iota
	RecordBlob
	RecordEvent
)

func (k RecordKind) String() string {
	switch k {
	case RecordMemory:
		return "memory"
	case RecordBlob:
		return "blob"
	case RecordEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Record is one decoded audit log entry: a memory snapshot, an embedded
// blob (the DWARF-carrying ELF object), or an event.
type Record struct {
	Kind RecordKind

	// memory
	Address uint64
	Hint    string
	Data    []byte

	// blob
	Name string
	// Data is shared with memory's payload field.

	// event
	Event    string
	Nanotime uint64
	Fields   map[string]msgpack.Value
}

// UnknownRecordTypeError is returned when a record's "type" field names
// something other than memory, blob, or event.
type UnknownRecordTypeError struct {
	Type string
}

func (e *UnknownRecordTypeError) Error() string {
	return fmt.Sprintf("audit: unknown record type %q", e.Type)
}

// MissingFieldError is returned when a record lacks a field required by
// its declared type.
type MissingFieldError struct {
	RecordType string
	Field      string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("audit: %s record missing field %q", e.RecordType, e.Field)
}

// decodeRecord converts one decoded msgpack fixmap into a Record.
func decodeRecord(v msgpack.Value) (Record, error) {
	typeVal, ok := v.Field("type")
	if !ok {
		return Record{}, &MissingFieldError{RecordType: "?", Field: "type"}
	}
	typeName, ok := typeVal.Str()
	if !ok {
		return Record{}, &MissingFieldError{RecordType: "?", Field: "type"}
	}

	switch typeName {
	case "memory":
		return decodeMemoryRecord(v)
	case "blob":
		return decodeBlobRecord(v)
	case "event":
		return decodeEventRecord(v)
	default:
		return Record{}, &UnknownRecordTypeError{Type: typeName}
	}
}

func field(v msgpack.Value, recordType, name string) (msgpack.Value, error) {
	fv, ok := v.Field(name)
	if !ok {
		return msgpack.Value{}, &MissingFieldError{RecordType: recordType, Field: name}
	}
	return fv, nil
}

func decodeMemoryRecord(v msgpack.Value) (Record, error) {
	addr, err := field(v, "memory", "address")
	if err != nil {
		return Record{}, err
	}
	hint, err := field(v, "memory", "hint")
	if err != nil {
		return Record{}, err
	}
	data, err := field(v, "memory", "data")
	if err != nil {
		return Record{}, err
	}
	addrVal, _ := addr.Uint64()
	hintVal, _ := hint.Str()
	dataVal, _ := data.Bytes()
	return Record{
		Kind:    RecordMemory,
		Address: addrVal,
		Hint:    hintVal,
		Data:    dataVal,
	}, nil
}

func decodeBlobRecord(v msgpack.Value) (Record, error) {
	name, err := field(v, "blob", "name")
	if err != nil {
		return Record{}, err
	}
	data, err := field(v, "blob", "data")
	if err != nil {
		return Record{}, err
	}
	nameVal, _ := name.Str()
	dataVal, _ := data.Bytes()
	return Record{
		Kind: RecordBlob,
		Name: nameVal,
		Data: dataVal,
	}, nil
}

func decodeEventRecord(v msgpack.Value) (Record, error) {
	evt, err := field(v, "event", "event")
	if err != nil {
		return Record{}, err
	}
	nt, err := field(v, "event", "nanotime")
	if err != nil {
		return Record{}, err
	}
	evtVal, _ := evt.Str()
	ntVal, _ := nt.Uint64()
	fields := make(map[string]msgpack.Value)
	for _, e := range v.Map() {
		if k, ok := e.Key.Str(); ok {
			fields[k] = e.Value
		}
	}
	return Record{
		Kind:     RecordEvent,
		Event:    evtVal,
		Nanotime: ntVal,
		Fields:   fields,
	}, nil
}
