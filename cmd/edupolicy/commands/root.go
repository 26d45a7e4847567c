// Package commands defines all Cobra CLI commands for the edupolicy binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/edupolicy-go/internal/audit"
	"github.com/54b3r/edupolicy-go/internal/config"
	"github.com/54b3r/edupolicy-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFiles holds the --env-file flag values.
var envFiles []string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "edupolicy",
		Short: "Education policy question answering over a cited document corpus",
		Long: `edupolicy answers questions about Indian education policy (admissions,
academic regulations, scholarships, accreditation) from an ingested corpus.

Each question runs through an iterative controller that gathers evidence
from dense, sparse and knowledge-graph retrieval, fuses it, drafts an answer
with an LLM, and keeps only the citations it can verify.

Settings come from environment variables, optionally seeded from .env files
and a YAML config file (~/.edupolicy/config.yaml). Env vars always win.
See 'edupolicy --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.LoadDotEnv(logging.New(), envFiles...)

			// Built after the env files so LOG_LEVEL and LOG_FORMAT apply.
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.edupolicy/config.yaml)")
	root.PersistentFlags().StringArrayVar(&envFiles, "env-file", nil, "Env file to load before the config file (repeatable, default: ./.env)")

	root.AddCommand(
		NewAskCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewMCPCmd(),
		NewVersionCmd(),
	)

	return root
}
