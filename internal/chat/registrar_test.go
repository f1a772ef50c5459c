package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/streamchat/internal/streams"
)

func newTestRegistrar(t *testing.T, proto *fakeProtocol) *Registrar {
	t.Helper()
	return NewRegistrar(proto, fakeSigner{addr: alice}, testEncoder(t), zerolog.Nop())
}

func TestEnsureSchemaAlreadyRegistered(t *testing.T) {
	proto := &fakeProtocol{schemaRegistered: true}
	reg := newTestRegistrar(t, proto)

	id, err := reg.EnsureSchema(context.Background())
	require.NoError(t, err)

	assert.Equal(t, streams.ComputeSchemaID(SchemaDefinition), id)
	assert.Zero(t, proto.schemaRegs)
}

func TestEnsureSchemaRegistersOnce(t *testing.T) {
	proto := &fakeProtocol{}
	reg := newTestRegistrar(t, proto)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.EnsureSchema(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, proto.schemaRegs)
}

func TestEnsureSchemaNotVisibleAfterConfirmation(t *testing.T) {
	proto := &fakeProtocol{hideRegistrations: true}
	reg := newTestRegistrar(t, proto)

	_, err := reg.EnsureSchema(context.Background())
	assert.ErrorIs(t, err, ErrRegistrationNotVisible)

	// Not memoised: the next call tries again.
	_, err = reg.EnsureSchema(context.Background())
	assert.ErrorIs(t, err, ErrRegistrationNotVisible)
	assert.Equal(t, 2, proto.schemaRegs)
}

func TestEnsureSchemaSignerError(t *testing.T) {
	proto := &fakeProtocol{}
	reg := NewRegistrar(proto, fakeSigner{err: errBoom}, testEncoder(t), zerolog.Nop())

	_, err := reg.EnsureSchema(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, proto.schemaRegs)
}

func TestEnsureEventSchemaAlreadyRegistered(t *testing.T) {
	proto := &fakeProtocol{eventRegistered: true}
	reg := newTestRegistrar(t, proto)

	require.NoError(t, reg.EnsureEventSchema(context.Background()))
	assert.Zero(t, proto.eventRegs)
}

func TestEnsureEventSchemaRegisters(t *testing.T) {
	proto := &fakeProtocol{}
	reg := newTestRegistrar(t, proto)

	require.NoError(t, reg.EnsureEventSchema(context.Background()))
	require.NoError(t, reg.EnsureEventSchema(context.Background()))
	assert.Equal(t, 1, proto.eventRegs)
}

func TestEnsureEventSchemaLookupRevertMeansUnregistered(t *testing.T) {
	proto := &fakeProtocol{eventLookupErr: errBoom}
	reg := newTestRegistrar(t, proto)

	require.NoError(t, reg.EnsureEventSchema(context.Background()))
	assert.Equal(t, 1, proto.eventRegs)
}

func TestEnsureEventSchemaNotVisible(t *testing.T) {
	proto := &fakeProtocol{hideRegistrations: true}
	reg := newTestRegistrar(t, proto)

	err := reg.EnsureEventSchema(context.Background())
	assert.ErrorIs(t, err, ErrRegistrationNotVisible)
}

func TestRegistrarEventTopic(t *testing.T) {
	reg := newTestRegistrar(t, &fakeProtocol{})
	ev, err := streams.ParseEventSignature(EventSignature)
	require.NoError(t, err)

	assert.Equal(t, ev.EventTopic, reg.EventTopic())
	assert.Equal(t, streams.ComputeSchemaID(SchemaDefinition), reg.SchemaID())
}
