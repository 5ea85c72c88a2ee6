package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"btc-borrow/config"
	"btc-borrow/pkg/broadcast"
	"btc-borrow/pkg/client"
	"btc-borrow/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "btc-borrow",
	Short: "Borrow stablecoins against native BTC through a bridge order",
	Long: `btc-borrow deposits native BTC as loan collateral. It creates a bridge order,
pays it from your Bitcoin wallet (signing the PSBT the bridge prepares when
asked to) and follows the order until the loan position is active.

Examples:
  btc-borrow offers --borrow-usd 500 --target-ltv 0.5
  btc-borrow borrow 0.01 BTC --receive 0x04a1...
  btc-borrow sign <order-id> --psbt <base64> --raw
  btc-borrow status <order-id> --watch`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbose, _ := cmd.Flags().GetBool("verbose")
		return setupLogging(verbose)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Ctrl+C cancels the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func setupLogging(verbose bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger.Init(level)

	if cfg.LogDir != "" {
		if err := logger.AddFileLogger(cfg.LogDir); err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
	}
	return nil
}

// httpClient returns an HTTP client bounded by the configured http_timeout.
func httpClient(cfg *config.Config) *http.Client {
	return &http.Client{Timeout: cfg.HTTPTimeout}
}

func newBackend(cfg *config.Config) *client.AmplifiClient {
	return client.NewAmplifiClient(cfg.APIURL,
		client.WithHTTPClient(httpClient(cfg)),
		client.WithLogger(logger.Logger))
}

func newExplorer(cfg *config.Config) *broadcast.Client {
	return broadcast.NewClient(cfg.MempoolURL,
		broadcast.WithHTTPClient(httpClient(cfg)),
		broadcast.WithLogger(logger.Logger))
}

func mustConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	return cfg
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}
