// Command reqprof runs a profiled demo server and inspects stored runs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fllarpy/reqprof"
	"github.com/fllarpy/reqprof/pkg/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "reqprof",
		Short: "Request profiler",
		Long: `reqprof profiles individual HTTP requests and commands, appends one line per
request to xhprof.log and writes slow-query and outbound HTTP reports per run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (environment variables take precedence)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newProbe(ctx context.Context) (*reqprof.Probe, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return reqprof.NewProbe(ctx, "reqprof", cfg)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reqprof %s\n", reqprof.Version)
		},
	}
}
