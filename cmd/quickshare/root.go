package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"quickshare/internal/config"

	"github.com/spf13/cobra"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "quickshare",
		Short: "Exchange short text messages with one peer over WebSocket",
		Long: `quickshare connects two hosts directly: one side listens, the other connects,
and every line typed on stdin is sent to the peer with a timestamp.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}
	config.BindFlags(root.PersistentFlags(), cfg)

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for a peer to connect on --port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, listenMode{port: cfg.Port})
		},
	}

	connectCmd := &cobra.Command{
		Use:   "connect address",
		Short: "Connect to a listening peer at address:--port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, connectMode{address: args[0], port: cfg.Port})
		},
	}

	root.AddCommand(listenCmd, connectCmd)
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
