package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"screenrelay/internal/devserver"

	"github.com/spf13/cobra"
)

func devserverCmd() *cobra.Command {
	var (
		addr  string
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a stand-in inference server for local testing",
		Long:  "Accepts the same requests as the real inference server, checks the image and streams back a short description one word per line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := devserver.New(devserver.Config{
				Addr:   addr,
				Delay:  delay,
				Logger: logger,
			})
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "listen address")
	cmd.Flags().DurationVar(&delay, "delay", 80*time.Millisecond, "delay between streamed tokens")
	return cmd
}
