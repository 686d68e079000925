package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortex-sre/cortex/internal/adapters/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration HTTP server",
	Long:  `Starts Cortex in server mode, exposing the JSON control API and the websocket event stream.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		a, err := buildApp(cfg)
		if err != nil {
			fmt.Printf("Error initializing cortex: %v\n", err)
			os.Exit(1)
		}

		handler := httpapi.NewServer(a.registry,
			httpapi.WithHealthChecker(a.client),
			httpapi.WithMetrics(a.metrics),
			httpapi.WithLogger(a.logger),
		).Handler()

		srv := &http.Server{
			Addr:    cfg.Server.Addr,
			Handler: handler,
		}

		janitorCtx, stopJanitor := context.WithCancel(context.Background())
		defer stopJanitor()
		go a.registry.Janitor(janitorCtx)

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)

		go func() {
			a.logger.Info("cortex server listening", "addr", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			fmt.Printf("Server error: %v\n", err)
			os.Exit(1)

		case sig := <-shutdown:
			a.logger.Info("shutdown started", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			// Stop accepting connections first, then abort in-flight runs so
			// their trees close out with explicit terminal events.
			if err := srv.Shutdown(ctx); err != nil {
				a.logger.Error("graceful shutdown incomplete", "err", err)
				if err := srv.Close(); err != nil {
					a.logger.Error("server close failed", "err", err)
				}
			}
			if err := a.registry.Shutdown(ctx); err != nil {
				a.logger.Error("registry shutdown incomplete", "err", err)
			}
			a.logger.Info("cortex server stopped")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address, overrides the config file")
}
