// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"sqlgate/cli/internal/health"
	"sqlgate/cli/internal/logging"
	"sqlgate/cli/internal/pipeline"
	"sqlgate/cli/internal/server"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveAddr string

// serveCmd runs migrations and then serves the API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Apply migrations and serve queries over HTTP and WebSocket",
	Long: `The serve command connects to the configured database, applies pending
migrations, then serves every query file:

  GET|POST <api_prefix>/<name>   HTTP; parameters from the query string and JSON body
  GET      /ws                   JSON-RPC 2.0 over WebSocket; method = query name
  GET      /healthz              liveness

If any migration fails the server does not start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		if serveAddr != "" {
			a.cfg.HTTP.Addr = serveAddr
		}
		logger := a.logger

		sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		// Health starts first so orchestrators see NOT_SERVING during migrations.
		var hs *health.Server
		if a.cfg.Health.Addr != "" {
			hs = health.New(logger)
			g.Go(func() error { return hs.Serve(gctx, a.cfg.Health.Addr) })
		}

		db, src, applied, err := a.setup(gctx, func(name string) {
			logger.Info("applying migration", logger.Args("name", name))
		})
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		defer db.Close()
		logger.Info("migrations complete", logger.Args("applied", len(applied), "database", logging.Mask(a.cfg.Database.URL)))

		if a.cfg.SQLWatch {
			if _, err := src.Watch(gctx); err != nil {
				logger.Warn("sql watch disabled", logger.Args("error", logging.Err(err)))
			}
		}

		srv := server.New(pipeline.New(db, src, logger), server.Options{
			APIPrefix:   a.cfg.HTTP.APIPrefix,
			StaticDir:   a.cfg.HTTP.StaticDir,
			CORSOrigins: a.cfg.HTTP.CORSOrigins,
			Auth:        server.NewAuthenticator(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer),
			Logger:      logger,
		})
		g.Go(func() error { return srv.Serve(gctx, a.cfg.HTTP.Addr) })
		if hs != nil {
			hs.SetServing(true)
			g.Go(func() error {
				<-gctx.Done()
				hs.SetServing(false)
				return nil
			})
		}

		err = g.Wait()
		logger.Info("shutdown complete")
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides http.addr)")
}
