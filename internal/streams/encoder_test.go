package streams

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatSchema = "uint64 timestamp, bytes32 roomId, string content, string senderName, address sender"

func chatItems(ts uint64, room [32]byte, content, name string, sender common.Address) []SchemaItem {
	return []SchemaItem{
		{Name: "timestamp", Type: "uint64", Value: ts},
		{Name: "roomId", Type: "bytes32", Value: room},
		{Name: "content", Type: "string", Value: content},
		{Name: "senderName", Type: "string", Value: name},
		{Name: "sender", Type: "address", Value: sender},
	}
}

func TestNewSchemaEncoderParsesFields(t *testing.T) {
	enc, err := NewSchemaEncoder(chatSchema)
	require.NoError(t, err)

	fields := enc.Fields()
	require.Len(t, fields, 5)
	assert.Equal(t, SchemaField{Name: "timestamp", Type: "uint64"}, fields[0])
	assert.Equal(t, SchemaField{Name: "sender", Type: "address"}, fields[4])
	assert.Equal(t, chatSchema, enc.Schema())
}

func TestNewSchemaEncoderRejectsBadDefinitions(t *testing.T) {
	for _, schema := range []string{
		"",
		"uint64",
		"uint64 a, uint64 a",
		"notatype field",
		"uint64 a b",
	} {
		_, err := NewSchemaEncoder(schema)
		assert.ErrorIs(t, err, ErrInvalidSchema, "schema %q", schema)
	}
}

func TestEncodeDecodeChatRow(t *testing.T) {
	enc := MustSchemaEncoder(chatSchema)
	var room [32]byte
	copy(room[:], "general")
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")

	data, err := enc.EncodeData(chatItems(1700000000123, room, "hello", "Alice", sender))
	require.NoError(t, err)

	items, err := enc.DecodeData(data)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, uint64(1700000000123), items[0].Value)
	assert.Equal(t, room, items[1].Value)
	assert.Equal(t, "hello", items[2].Value)
	assert.Equal(t, "Alice", items[3].Value)
	assert.Equal(t, sender, items[4].Value)
	assert.Equal(t, "senderName", items[3].Name)
}

func TestEncodeDataRejectsMismatchedItems(t *testing.T) {
	enc := MustSchemaEncoder(chatSchema)

	_, err := enc.EncodeData(chatItems(1, [32]byte{}, "x", "y", common.Address{})[:4])
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	items := chatItems(1, [32]byte{}, "x", "y", common.Address{})
	items[0], items[2] = items[2], items[0]
	_, err = enc.EncodeData(items)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	items = chatItems(1, [32]byte{}, "x", "y", common.Address{})
	items[0].Value = "not a number"
	_, err = enc.EncodeData(items)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestDeserialiseRawDataFailsOnBadRow(t *testing.T) {
	enc := MustSchemaEncoder(chatSchema)
	good, err := enc.EncodeData(chatItems(1, [32]byte{}, "a", "b", common.Address{}))
	require.NoError(t, err)

	rows, err := enc.DeserialiseRawData([][]byte{good, good})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = enc.DeserialiseRawData([][]byte{good, {0x01, 0x02}})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestComputeSchemaIDIsDeterministic(t *testing.T) {
	a := ComputeSchemaID(chatSchema)
	b := MustSchemaEncoder(chatSchema).SchemaID()
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ComputeSchemaID(chatSchema+", bool extra"))
	assert.NotEqual(t, common.Hash{}, a)
}
