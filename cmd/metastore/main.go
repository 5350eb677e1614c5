// Command metastore runs the epoch/history metadata service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devrev/pairdb/metastore/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "metastore",
		Short:        "Epoch and history metadata service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"),
		"path to the YAML configuration file (default: ./config.yaml or /etc/metastore/config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the metastore service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	rootCmd.AddCommand(serveCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
