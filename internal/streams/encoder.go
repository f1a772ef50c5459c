package streams

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSchema  = errors.New("invalid schema definition")
	ErrSchemaMismatch = errors.New("values do not match schema")
)

// SchemaField is one "type name" pair of a schema definition.
type SchemaField struct {
	Name string
	Type string
}

// SchemaItem is a named, typed value of an encoded or decoded row.
type SchemaItem struct {
	Name  string
	Type  string
	Value any
}

// SchemaEncoder encodes and decodes rows of a schema definition such as
// "uint64 timestamp, bytes32 roomId, string content". Rows use standard ABI
// encoding of the fields as a tuple.
type SchemaEncoder struct {
	schema string
	fields []SchemaField
	args   abi.Arguments
}

// NewSchemaEncoder parses a comma-separated schema definition.
func NewSchemaEncoder(schema string) (*SchemaEncoder, error) {
	parts := strings.Split(schema, ",")
	enc := &SchemaEncoder{
		schema: schema,
		fields: make([]SchemaField, 0, len(parts)),
		args:   make(abi.Arguments, 0, len(parts)),
	}

	seen := make(map[string]bool)
	for _, part := range parts {
		tokens := strings.Fields(part)
		if len(tokens) != 2 {
			return nil, fmt.Errorf("%w: %q is not \"type name\"", ErrInvalidSchema, strings.TrimSpace(part))
		}
		typ, name := tokens[0], tokens[1]
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, name)
		}
		seen[name] = true

		abiType, err := abi.NewType(typ, "", nil)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidSchema, name, err)
		}
		enc.fields = append(enc.fields, SchemaField{Name: name, Type: typ})
		enc.args = append(enc.args, abi.Argument{Name: name, Type: abiType})
	}

	return enc, nil
}

// MustSchemaEncoder is like NewSchemaEncoder but panics on error.
func MustSchemaEncoder(schema string) *SchemaEncoder {
	enc, err := NewSchemaEncoder(schema)
	if err != nil {
		panic(err)
	}
	return enc
}

// Schema returns the definition string the encoder was built from.
func (e *SchemaEncoder) Schema() string {
	return e.schema
}

// Fields returns the parsed fields in order.
func (e *SchemaEncoder) Fields() []SchemaField {
	out := make([]SchemaField, len(e.fields))
	copy(out, e.fields)
	return out
}

// SchemaID returns the content-derived identifier of the schema.
func (e *SchemaEncoder) SchemaID() common.Hash {
	return ComputeSchemaID(e.schema)
}

// EncodeData ABI-encodes items, which must follow the schema's field order.
func (e *SchemaEncoder) EncodeData(items []SchemaItem) ([]byte, error) {
	if len(items) != len(e.fields) {
		return nil, fmt.Errorf("%w: want %d items, got %d", ErrSchemaMismatch, len(e.fields), len(items))
	}

	values := make([]any, len(items))
	for i, item := range items {
		f := e.fields[i]
		if item.Name != f.Name || item.Type != f.Type {
			return nil, fmt.Errorf("%w: item %d is %s %s, schema has %s %s",
				ErrSchemaMismatch, i, item.Type, item.Name, f.Type, f.Name)
		}
		values[i] = item.Value
	}

	data, err := e.args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	return data, nil
}

// DecodeData decodes one encoded row into schema items.
func (e *SchemaEncoder) DecodeData(data []byte) ([]SchemaItem, error) {
	values, err := e.args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	items := make([]SchemaItem, len(values))
	for i, v := range values {
		items[i] = SchemaItem{Name: e.fields[i].Name, Type: e.fields[i].Type, Value: v}
	}
	return items, nil
}

// DeserialiseRawData decodes every raw row. It fails on the first row that
// does not match the schema.
func (e *SchemaEncoder) DeserialiseRawData(rows [][]byte) ([][]SchemaItem, error) {
	out := make([][]SchemaItem, 0, len(rows))
	for i, row := range rows {
		items, err := e.DecodeData(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, items)
	}
	return out, nil
}

// ComputeSchemaID derives a schema id as keccak256 of the definition string.
func ComputeSchemaID(schema string) common.Hash {
	return crypto.Keccak256Hash([]byte(schema))
}
