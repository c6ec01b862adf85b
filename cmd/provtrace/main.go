// Command provtrace scans a ways directory and writes a traceability
// manifest linking every way to the policies and controls it cites.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"provtrace/internal/config"
)

const appName = "provtrace"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// flags holds every command-line option. Values only override the config
// file when the flag was set explicitly.
type flags struct {
	configPath  string
	logLevel    string
	waysDir     string
	output      string
	format      string
	document    string
	metricsFile string
	workers     int
	vaultDir    string
}

func rootCmd() *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Build a provenance traceability manifest for a ways directory",
		Long: `provtrace walks a ways directory laid out as <domain>/<name>/way.md,
reads the provenance block from each way's front matter and writes a manifest
mapping ways to the policies they implement and the controls they address.

Without a subcommand provtrace runs a scan.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, &f)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Config file path (default ./"+config.FileName+" if present)")
	pf.StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&f.waysDir, "ways-dir", "", "Ways directory to scan (default ~/.claude/hooks/ways)")
	pf.StringVar(&f.document, "document", "", "File name of each way (default way.md)")
	pf.IntVar(&f.workers, "workers", 0, "Concurrent document reads (0 = GOMAXPROCS)")
	pf.StringVarP(&f.output, "output", "o", "", "Manifest output file (default stdout)")
	pf.StringVar(&f.format, "format", "", "Manifest format (json, yaml)")
	pf.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics to this path")

	cmd.AddCommand(&cobra.Command{
		Use:   "scan",
		Short: "Scan the ways directory and write the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, &f)
		},
	})

	vault := &cobra.Command{
		Use:   "vault",
		Short: "Write a markdown traceability vault",
		Long: `vault scans the ways directory and writes an Obsidian-compatible vault
with one note per policy, control and way, plus an index and a gaps report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVault(cmd, &f)
		},
	}
	vault.Flags().StringVar(&f.vaultDir, "out", "", "Vault output directory")
	_ = vault.MarkFlagRequired("out")
	cmd.AddCommand(vault)

	cmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Regenerate the manifest whenever a way changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, &f)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create " + config.FileName + " interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, &f)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	})

	return cmd
}
