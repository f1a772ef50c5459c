// streamchat CLI - command line client for a streamchat server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/eldtechnologies/streamchat/clients/go/streamchat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := streamchat.NewClient(os.Getenv("STREAMCHAT_URL"))
	client.SendKey = os.Getenv("STREAMCHAT_SEND_KEY")
	name := os.Getenv("STREAMCHAT_NAME")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: streamchat send <room> <message>")
			os.Exit(1)
		}
		resp, err := client.Send(ctx, os.Args[2], os.Args[3], name)
		exitOnError(err)
		fmt.Printf("Sent: %s\n", resp.TxHash)

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: streamchat read <room> [limit]")
			os.Exit(1)
		}
		limit := 20
		if len(os.Args) > 3 {
			if n, err := strconv.Atoi(os.Args[3]); err == nil {
				limit = n
			}
		}
		resp, err := client.Messages(ctx, os.Args[2], limit)
		exitOnError(err)
		for _, msg := range resp.Messages {
			printMessage(msg)
		}

	case "watch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: streamchat watch <room>")
			os.Exit(1)
		}
		var last int64
		err := client.Watch(ctx, os.Args[2], func(s streamchat.Snapshot) {
			if s.Error != "" {
				fmt.Fprintln(os.Stderr, "feed error:", s.Error)
			}
			for _, msg := range s.Messages {
				if msg.Timestamp > last {
					printMessage(msg)
					last = msg.Timestamp
				}
			}
		})
		exitOnError(err)

	case "stats":
		resp, err := client.Stats(ctx)
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`streamchat CLI - on-chain chat rooms

Usage: streamchat <command> [options]

Commands:
  send <room> <message>   Publish a message
  read <room> [limit]     Read recent messages
  watch <room>            Follow a room live
  stats                   Show send statistics
  health                  Check server health

Environment:
  STREAMCHAT_URL        Server URL (default: http://localhost:8080)
  STREAMCHAT_NAME       Display name attached to sends
  STREAMCHAT_SEND_KEY   Send key, if the server requires one`)
}

func printMessage(msg streamchat.Message) {
	ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
	from := msg.SenderName
	if from == "" {
		from = msg.Sender
		if len(from) > 10 {
			from = from[:10]
		}
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, msg.Content)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
