package main

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/local/masterdoc/internal/config"
	logpkg "github.com/local/masterdoc/internal/logger"
	"github.com/local/masterdoc/internal/metrics"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		if err := logpkg.Init(logpkg.FromConfig(cfg)); err != nil {
			c.configErr = err
			return
		}
		metrics.Init()
		c.config = cfg
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "masterdoc",
		Short:         "Pack OCRed sub-documents into category master documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logpkg.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(
		newRunCommand(ctx),
		newScanCommand(ctx),
		newEnqueueCommand(ctx),
		newRangeCommand(ctx),
		newRemoveCommand(ctx),
		newCompactCommand(ctx),
		newMoveCommand(ctx),
		newMigrateCommand(ctx),
		newServeCommand(ctx),
	)
	return rootCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
