package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitwit/apmkit"
	"github.com/vitwit/apmkit/config"
	"github.com/vitwit/apmkit/logger"
	"github.com/vitwit/apmkit/types"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "apmkit",
		Short:        "apmkit - drive alternative payment method authorizations from the terminal",
		Version:      apmkit.Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(authorizeCmd())
	rootCmd.AddCommand(tokenizeCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(captureCmd())
	rootCmd.AddCommand(initConfigCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*types.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newClient() (*apmkit.Client, *types.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	client, err := apmkit.New(cfg, apmkit.WithLogger(logger.NewZapLogger(cfg.LogLevel)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create client: %w", err)
	}
	return client, cfg, nil
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "apmkit.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			for k, v := range apmkit.GetVersion() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", k, v)
			}
		},
	}
}
