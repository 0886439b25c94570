package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/reflex/internal/server"
	"github.com/rcliao/reflex/internal/watcher"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: listen_addr config)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr, _ := cmd.Flags().GetString("addr")

	a := openApp(ctx)
	err := serve(ctx, a, addr)
	// Close drains queued pattern writes and must run before exitErr.
	a.Close()
	if err != nil {
		exitErr("serve", err)
	}
}

func serve(ctx context.Context, a *app, addr string) error {
	if addr == "" {
		addr = a.cfg.ListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewServer(a.engine, server.WithRateLimit(a.cfg.RateLimitRPM)).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var w *watcher.Watcher
	if a.cfg.WatchReload {
		var err error
		w, err = watcher.New(a.cfg.DBPath, func(ctx context.Context) error {
			_, err := a.engine.ReloadDynamicPatterns(ctx)
			return err
		}, watcher.WithVersion(a.db.PatternsVersion))
		if err != nil {
			return fmt.Errorf("watch database: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("reflex listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if w != nil {
		g.Go(func() error { return w.Run(ctx) })
	}
	return g.Wait()
}
