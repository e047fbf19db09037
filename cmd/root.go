// Package cmd is the command-line entry point of the agent.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spicy-cat/internal/config"
	"github.com/xkilldash9x/spicy-cat/internal/observability"
)

var cfgFile string

// exitError carries a process exit code out of a command without printing an error.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// ExitCode extracts the exit status a command asked for; 1 for any other error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spicy-cat",
		Short:         "spicy-cat disguises this host's network fingerprint.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()

			// 1. Defaults, file and environment.
			if err := initializeConfig(v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "spicy-cat"})
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// 2. Unmarshal, validate and store.
			if err := config.Load(v); err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "spicy-cat"})
				return fmt.Errorf("invalid configuration: %w", err)
			}
			cfg := config.Get()

			// 3. Logger.
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Configuration loaded", zap.String("version", Version))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or /etc/spicy-cat/config.yaml)")

	rootCmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newHealthcheckCmd(),
		newProfileCmd(),
		newJournalCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree. ctx is cancelled on SIGINT/SIGTERM by main.
func Execute(ctx context.Context) error {
	err := newRootCmd().ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	// Cancellation during shutdown is not a failure worth reporting.
	if ctx.Err() == nil || !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// initializeConfig reads the config file and environment variables into v.
func initializeConfig(v *viper.Viper) error {
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/spicy-cat")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	config.ConfigureEnv(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a malformed one is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
