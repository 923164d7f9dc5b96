package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/mioband/pkg/config"
)

// configureLogger creates a logger writing to the command's stderr.
// --log-level takes precedence over --verbose, which takes precedence over the config file.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		cfg.LogLevel = logLevelStr
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	if _, err := cfg.Level(); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	return cfg.NewLogger(cmd.ErrOrStderr()), nil
}
