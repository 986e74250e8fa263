package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/safewalk-io/safewalk/internal/config"
	"github.com/safewalk-io/safewalk/internal/version"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "safewalk",
		Short:   "SafeWalk personal safety check-in server",
		Version: version.Version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml")

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
