// Package worker provides the hidden command the supervisor runs as its child process.
package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/utils"
	"github.com/framer-cd/framer/sandbox"
)

func NewCmdWorker() *cobra.Command {
	var (
		tool        string
		dir         string
		gracePeriod time.Duration
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run the code generation tool and report the outcome",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := sandbox.ReportWriterFromEnv()
			if err != nil {
				return fmt.Errorf("worker must be started by the supervisor: %w", err)
			}
			defer func() { _ = report.Close() }()

			if dir == "" {
				if dir, err = os.Getwd(); err != nil {
					return fmt.Errorf("failed to resolve working directory: %w", err)
				}
			}

			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()
			return sandbox.RunWorker(ctx, tool, dir, cmd.InOrStdin(), report, gracePeriod)
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Shell command of the code generation tool")
	cmd.Flags().StringVar(&dir, "dir", "", "Working tree to generate into")
	cmd.Flags().DurationVar(&gracePeriod, "grace-period", 10*time.Second, "Time the tool gets to exit after SIGTERM")
	return cmd
}
