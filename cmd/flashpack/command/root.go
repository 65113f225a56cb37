// Package command wires flashpack's cobra commands to an install.Engine,
// the way the corpus's registry package wires its serve/garbage-collect
// commands to a configuration.Configuration.
package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flashpack/flashpack/config"
)

var (
	configPath string
	logLevel   string
	setValues  []string
)

// RootCmd is the main command for the flashpack binary.
var RootCmd = &cobra.Command{
	Use:   "flashpack",
	Short: "flashpack caches and materializes node_modules trees",
	Long:  "flashpack caches and materializes node_modules trees from a content-addressed local store and project snapshots.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", logLevel, err)
		}
		logrus.SetLevel(level)
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a flashpack YAML configuration file")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	RootCmd.PersistentFlags().StringArrayVar(&setValues, "set", nil, "override a configuration field, e.g. --set concurrency=8 (repeatable)")

	RootCmd.AddCommand(installCmd)
	RootCmd.AddCommand(syncCmd)
	RootCmd.AddCommand(cleanCmd)
	RootCmd.AddCommand(verifyCmd)
}

// loadConfig resolves the engine configuration from --config (falling back
// to Default()), overlaid with environment variables and then any --set
// overrides, in that order of increasing precedence.
func loadConfig() (config.Configuration, error) {
	cfg := config.Default()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			return config.Configuration{}, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()

		cfg, err = config.Parse(f)
		if err != nil {
			return config.Configuration{}, err
		}
	}
	cfg = config.FromEnv(cfg)
	return config.FromMap(cfg, parseSetFlags(setValues))
}

// parseSetFlags turns a list of "key=value" strings into the untyped
// parameter map config.FromMap expects.
func parseSetFlags(values []string) map[string]interface{} {
	if len(values) == 0 {
		return nil
	}
	params := make(map[string]interface{}, len(values))
	for _, v := range values {
		key, value, ok := strings.Cut(v, "=")
		if !ok {
			continue
		}
		params[key] = value
	}
	return params
}
