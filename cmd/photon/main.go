// Command photon runs the geocoder: it imports a Nominatim database (or a
// JSON dump) into a search index, serves the search API and keeps the
// index current from Nominatim's change tracking.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/logger"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	dataDir    string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "photon",
	Short:         "Search-as-you-type geocoder for OpenStreetMap data",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			c.Index.DataDir = dataDir
		}
		logger.SetupWriter(os.Stderr, c.Logging.Level, c.Logging.Format)
		cfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory of the search index (overrides index.dataDir)")

	rootCmd.AddCommand(serveCmd, importCmd, dumpCmd, updateCmd, updateInitCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "photon: %v\n", err)
		os.Exit(1)
	}
}
