package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"presence-rpc/config"
	"presence-rpc/registry"
	"presence-rpc/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var socketPath string
	var clientID string

	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Run a local stand-in peer on an IPC socket",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			logger, err := ctx.logger(&cfg)
			if err != nil {
				return err
			}

			if socketPath == "" {
				socketPath = filepath.Join(registry.DefaultDirs()[0], registry.DefaultName+"-0")
			}
			if _, err := os.Stat(socketPath); err == nil {
				return fmt.Errorf("socket %s already exists; is another peer running?", socketPath)
			}

			svr := server.NewServer(server.WithClientID(clientID), server.WithLogger(logger))
			errCh := make(chan error, 1)
			go func() { errCh <- svr.Serve("unix", socketPath) }()
			defer os.Remove(socketPath)

			fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", socketPath)
			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			logger.Info("shutting down", slog.String("socket", socketPath))
			return svr.Shutdown(3 * time.Second)
		},
	}

	cmd.Flags().StringVar(&socketPath, "socket", "", "Socket path (default <runtime dir>/discord-ipc-0)")
	cmd.Flags().StringVar(&clientID, "accept-client-id", "", "Only accept handshakes from this client id")
	return cmd
}
