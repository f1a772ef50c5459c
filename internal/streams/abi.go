// Package streams is a typed client for the on-chain data streams protocol:
// schema registration, combined data writes with event emission, publisher
// reads and push subscriptions with attached call simulations.
package streams

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const protocolABIJSON = `[
  {"type":"function","name":"isSchemaRegistered","stateMutability":"view",
   "inputs":[{"name":"schemaId","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"registerSchemas","stateMutability":"nonpayable",
   "inputs":[{"name":"registrations","type":"tuple[]","components":[
     {"name":"id","type":"string"},
     {"name":"schema","type":"string"},
     {"name":"parentSchemaId","type":"bytes32"}]}],
   "outputs":[]},
  {"type":"function","name":"getEventSchemasById","stateMutability":"view",
   "inputs":[{"name":"ids","type":"string[]"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"params","type":"tuple[]","components":[
       {"name":"name","type":"string"},
       {"name":"paramType","type":"string"},
       {"name":"isIndexed","type":"bool"}]},
     {"name":"eventTopic","type":"bytes32"}]}]},
  {"type":"function","name":"registerEventSchemas","stateMutability":"nonpayable",
   "inputs":[{"name":"ids","type":"string[]"},
     {"name":"schemas","type":"tuple[]","components":[
       {"name":"params","type":"tuple[]","components":[
         {"name":"name","type":"string"},
         {"name":"paramType","type":"string"},
         {"name":"isIndexed","type":"bool"}]},
       {"name":"eventTopic","type":"bytes32"}]}],
   "outputs":[]},
  {"type":"function","name":"esstores","stateMutability":"nonpayable",
   "inputs":[
     {"name":"dataStreams","type":"tuple[]","components":[
       {"name":"id","type":"bytes32"},
       {"name":"schemaId","type":"bytes32"},
       {"name":"data","type":"bytes"}]},
     {"name":"eventStreams","type":"tuple[]","components":[
       {"name":"id","type":"string"},
       {"name":"argumentTopics","type":"bytes32[]"},
       {"name":"data","type":"bytes"}]}],
   "outputs":[]},
  {"type":"function","name":"getAllPublisherDataForSchema","stateMutability":"view",
   "inputs":[{"name":"schemaId","type":"bytes32"},{"name":"publisher","type":"address"}],
   "outputs":[{"name":"","type":"bytes[]"}]},
  {"type":"error","name":"NoData","inputs":[]}
]`

const (
	methodIsSchemaRegistered   = "isSchemaRegistered"
	methodRegisterSchemas      = "registerSchemas"
	methodGetEventSchemas      = "getEventSchemasById"
	methodRegisterEventSchemas = "registerEventSchemas"
	methodSetAndEmit           = "esstores"
	methodGetPublisherData     = "getAllPublisherDataForSchema"
)

// ProtocolABI is the parsed interface of the streams protocol contract.
var ProtocolABI = mustParseABI(protocolABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("streams: invalid protocol ABI: " + err.Error())
	}
	return parsed
}

// Wire shapes. Field names follow abi.ToCamelCase of the component names so
// the ABI package can copy decoded tuples into them.
type dataSchemaRegistrationABI struct {
	Id             string
	Schema         string
	ParentSchemaId [32]byte
}

type eventParameterABI struct {
	Name      string
	ParamType string
	IsIndexed bool
}

type eventSchemaABI struct {
	Params     []eventParameterABI
	EventTopic [32]byte
}

type dataStreamABI struct {
	Id       [32]byte
	SchemaId [32]byte
	Data     []byte
}

type eventStreamABI struct {
	Id             string
	ArgumentTopics [][32]byte
	Data           []byte
}

// DataSchemaRegistration names a schema definition for registration.
type DataSchemaRegistration struct {
	ID             string
	Schema         string
	ParentSchemaID common.Hash
}

// EventParameter is one parameter of a registered event signature.
type EventParameter struct {
	Name      string
	ParamType string
	IsIndexed bool
}

// EventSchema describes an event: its parameters and its topic0.
type EventSchema struct {
	Params     []EventParameter
	EventTopic common.Hash
}

// DataStream is one row written under a schema.
type DataStream struct {
	ID       common.Hash
	SchemaID common.Hash
	Data     []byte
}

// EventStream is one event emitted alongside a write.
type EventStream struct {
	ID             string
	ArgumentTopics []common.Hash
	Data           []byte
}

func (s EventSchema) toABI() eventSchemaABI {
	params := make([]eventParameterABI, len(s.Params))
	for i, p := range s.Params {
		params[i] = eventParameterABI{Name: p.Name, ParamType: p.ParamType, IsIndexed: p.IsIndexed}
	}
	return eventSchemaABI{Params: params, EventTopic: s.EventTopic}
}

func (s eventSchemaABI) toSchema() EventSchema {
	params := make([]EventParameter, len(s.Params))
	for i, p := range s.Params {
		params[i] = EventParameter{Name: p.Name, ParamType: p.ParamType, IsIndexed: p.IsIndexed}
	}
	return EventSchema{Params: params, EventTopic: common.Hash(s.EventTopic)}
}

func (e EventStream) toABI() eventStreamABI {
	topics := make([][32]byte, len(e.ArgumentTopics))
	for i, t := range e.ArgumentTopics {
		topics[i] = t
	}
	data := e.Data
	if data == nil {
		data = []byte{}
	}
	return eventStreamABI{Id: e.ID, ArgumentTopics: topics, Data: data}
}
