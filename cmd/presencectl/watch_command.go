package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"presence-rpc/client"
	"presence-rpc/message"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var id string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch <event>...",
		Short: "Subscribe to events and print them as JSON lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newEventPrinter(cmd.OutOrStdout())
			return ctx.withSession(cmd.Context(), session{onEvent: out.print, metricsAddr: metricsAddr}, func(cli *client.Client) error {
				for _, arg := range args {
					evt := message.Event(strings.ToUpper(strings.TrimSpace(arg)))
					if _, err := cli.Subscribe(cmd.Context(), evt, id); err != nil {
						return fmt.Errorf("subscribe %s: %w", evt, err)
					}
				}
				select {
				case <-cmd.Context().Done():
					return nil
				case <-cli.Done():
					return cli.Err()
				}
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Guild or channel id the subscription is scoped to")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", `Serve Prometheus metrics on this address while watching (e.g. "127.0.0.1:9464")`)
	return cmd
}

type eventPrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w)}
}

type eventLine struct {
	Evt   message.Event   `json:"evt"`
	Nonce string          `json:"nonce,omitempty"`
	Error bool            `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// print skips READY; it only completes the handshake.
func (p *eventPrinter) print(n message.Notification) {
	if n.Evt == message.EvtReady {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(eventLine{Evt: n.Evt, Nonce: n.Nonce, Error: n.IsError, Data: n.Data})
}
