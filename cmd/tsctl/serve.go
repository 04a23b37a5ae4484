package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/graphkeep/triplestore/pkg/log"
	"github.com/graphkeep/triplestore/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the store and run its metrics/health endpoints until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("store", true, "ready")
		metrics.RegisterComponent("persistence", true, "ready")

		collector := metrics.NewCollector(s)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- err
			}
		}()
		fmt.Printf("metrics endpoint: http://%s/metrics\n", metricsAddr)
		log.Logger.Info().Str("addr", metricsAddr).Msg("tsctl serve started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the metrics/health HTTP server")
}
