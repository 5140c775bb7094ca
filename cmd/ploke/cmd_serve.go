package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"ploke/internal/metrics"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics for the editing pipeline",
	RunE:  runServeMetrics,
}

func init() {
	rootCmd.AddCommand(serveMetricsCmd)
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Metrics.Addr
	if addr == "" {
		addr = "127.0.0.1:9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	fmt.Fprintf(cmd.OutOrStdout(), "serving metrics on http://%s/metrics\n", addr)
	return http.ListenAndServe(addr, mux)
}
