// Command register makes sure the chat data schema and event schema exist on
// chain, so the first send does not pay for registration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/streamchat/internal/chain"
	"github.com/eldtechnologies/streamchat/internal/chat"
	"github.com/eldtechnologies/streamchat/internal/config"
	"github.com/eldtechnologies/streamchat/internal/crypto"
	"github.com/eldtechnologies/streamchat/internal/streams"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall deadline for both registrations")
	flag.Parse()

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if cfg.PrivateKey == "" {
		fmt.Fprintln(os.Stderr, "Usage: PRIVATE_KEY=0x... STREAMS_PROTOCOL_ADDRESS=0x... register [-timeout 2m]")
		os.Exit(1)
	}
	key, err := crypto.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid private key: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	network := cfg.Network()
	clients, err := chain.Dial(ctx, chain.Options{Network: network, PrivateKey: key})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Chain connection failed: %v\n", err)
		os.Exit(1)
	}
	defer clients.Close()

	protocol := streams.NewClient(network.StreamsProtocol, clients.HTTP)
	registrar := chat.NewRegistrar(protocol, clients, streams.MustSchemaEncoder(chat.SchemaDefinition), logger)

	schemaID, err := registrar.EnsureSchema(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Data schema registration failed: %v\n", err)
		os.Exit(1)
	}
	if err := registrar.EnsureEventSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Event schema registration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Schema ID:   %s\n", schemaID.Hex())
	fmt.Printf("Event topic: %s\n", registrar.EventTopic().Hex())
	fmt.Printf("Sender:      %s\n", clients.Sender().Hex())
}
