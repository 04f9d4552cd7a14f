package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/greenlight-sh/greenlight/internal/config"
)

const EnvVariableConfig = "GREENLIGHT_CONFIG"

type rootOpts struct {
	configPath string
	config     *config.Config
	logger     *zap.Logger
	verbose    bool
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
greenlight rolls a service onto a new container image, blue-green style.

Workflow:
  greenlight deploy --cluster=prod --service=checkout --image=registry.example.com/checkout:v2
  greenlight deploy --cluster=prod --service=checkout --image=... --dry-run   # validate without touching anything
  greenlight history <deployment-id>                                          # phase-by-phase audit trail
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "greenlight",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("path to the YAML configuration file; you can also set the environment variable %s", EnvVariableConfig))
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(
		newDeploy(opts).Command(),
		newHistory(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	var err error

	zapCfg := zap.NewDevelopmentConfig()
	if !opts.verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	opts.logger, err = zapCfg.Build()
	if err != nil {
		return err
	}

	path := os.Getenv(EnvVariableConfig)
	if cmd.Flags().Changed("config") || path == "" {
		path = opts.configPath
	}
	if path == "" {
		opts.config = config.Default()
		return nil
	}
	opts.config, err = config.LoadFromFile(path)
	return err
}
