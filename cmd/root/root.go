// Package root implements the command line interface for framer.
package root

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/app"
	"github.com/framer-cd/framer/cmd/cleanup"
	"github.com/framer-cd/framer/cmd/deploy"
	"github.com/framer-cd/framer/cmd/job"
	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/project"
	"github.com/framer-cd/framer/cmd/serve"
	"github.com/framer-cd/framer/cmd/setup"
	"github.com/framer-cd/framer/cmd/update"
	"github.com/framer-cd/framer/cmd/utils"
	"github.com/framer-cd/framer/cmd/version"
	"github.com/framer-cd/framer/cmd/worker"
	"github.com/framer-cd/framer/config"
	"github.com/framer-cd/framer/logging"
)

// Commands that run without configuration, database or providers
var skipInitCommands = []string{"version", "worker", "help", "completion"}

func Execute() {
	err := NewCmdRoot(config.GetDefaultDataDir()).Execute()
	if a := utils.App(); a != nil {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("Failed to close application", "layer", "cmd", "error", closeErr)
		}
	}
	if err != nil {
		os.Exit(1)
	}
}

func NewCmdRoot(defaultDataDir string) *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "framer",
		Short: "Generate, publish and deploy frame projects",
		Long: `Framer turns a prompt into a deployed web project.
	It generates the code, pushes it to a git repository, attaches a deployment
	target and tracks builds until they are live, with full job history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if slices.Contains(skipInitCommands, cmd.Name()) {
				return nil
			}

			cfg, err := config.NewConfigForCLI(dataDir)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			// CLI flags override config
			colorDisabled := !cfg.ColorEnabled
			if output.NoColor.IsSet() {
				colorDisabled = true
			}
			output.InitColors(colorDisabled)

			logLevel := cfg.LogLevel
			if logging.LogLevel.IsSet() {
				logLevel = logging.LogLevel.String()
			}
			logging.InitLoggingWithFormat(logLevel, cfg.LogFormat)

			a, err := app.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			utils.SetApp(a)
			return nil
		},
	}

	cmd.PersistentFlags().
		StringVarP(&dataDir, "data-dir", "d", defaultDataDir, "Data directory for framer configuration, database and working trees")
	cmd.PersistentFlags().VarP(logging.LogLevel, "log-level", "l", "Set log verbosity level")
	cmd.PersistentFlags().VarP(output.NoColor, "no-color", "c", "Disable colored terminal output")
	cmd.PersistentFlags().Lookup("no-color").NoOptDefVal = "true"

	cmd.AddCommand(setup.NewCmdSetup())
	cmd.AddCommand(setup.NewCmdResume())
	cmd.AddCommand(update.NewCmdUpdate())
	cmd.AddCommand(deploy.NewCmdDeploy())
	cmd.AddCommand(deploy.NewCmdPoll())
	cmd.AddCommand(job.NewCmdJob())
	cmd.AddCommand(project.NewCmdProject())
	cmd.AddCommand(cleanup.NewCmdCleanup())
	cmd.AddCommand(serve.NewCmdServe())
	cmd.AddCommand(worker.NewCmdWorker())
	cmd.AddCommand(version.NewCmdVersion())
	return cmd
}
