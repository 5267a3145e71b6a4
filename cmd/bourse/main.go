package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/efreitasn/bourse/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pricing and order ledger HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that a running server answers /healthz",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return healthcheck(cmd.Context(), fmt.Sprintf("http://localhost:%d/healthz", cfg.Port))
		},
	}

	rootCmd := &cobra.Command{
		Use:          "bourse",
		Short:        "Dynamic pricing and order ledger for B2B products",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BOURSE_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, healthcheckCmd)
	return rootCmd
}

// healthcheck exits non-zero unless url answers 200.
func healthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: unexpected status %d", resp.StatusCode)
	}
	return nil
}
