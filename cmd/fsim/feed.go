package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"fsmarket.sim/internal/transport/feed"
)

func feedCmd() *cobra.Command {
	var (
		addr     string
		interval time.Duration
		remote   bool
	)
	c := &cobra.Command{
		Use:   "feed <run dir>",
		Short: "Serve a recorded tick log over websocket",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			meta, err := readRunMeta(args[0])
			if err != nil {
				return err
			}
			hub := feed.NewHub(meta.RunID, meta.Params)
			fs := feed.NewServer(hub, logger)
			fs.AllowRemote = remote
			srv := &http.Server{Addr: addr, Handler: fs.Handler()}

			ctx, cancel := context.WithCancel(c.Context())
			defer cancel()
			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()
			go func() {
				n, err := feed.Play(ctx, hub, args[0], interval)
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Printf("play: %v", err)
				}
				logger.Printf("played %d ticks", n)
			}()

			logger.Printf("serving run %s on ws://%s/v1/feed/ws", meta.RunID, addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	c.Flags().StringVar(&addr, "addr", "127.0.0.1:8081", "listen address")
	c.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "delay between ticks")
	c.Flags().BoolVar(&remote, "allow-remote", false, "accept non-loopback clients")
	return c
}
