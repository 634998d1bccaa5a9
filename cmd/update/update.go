// Package update provides the command that regenerates an existing project's code.
package update

import (
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/utils"
)

func NewCmdUpdate() *cobra.Command {
	var (
		prompt string
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Regenerate a project's code from a new prompt",
		Long: `Pull the project's working tree, run the code generator with the new
prompt, check that the result builds, push it and submit a build.

Updates of the same project are serialized on its working tree lock.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := utils.ParseID("project", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()

			svc, err := utils.App().Setup()
			if err != nil {
				return utils.CommandError(cmd, "update", err)
			}

			job, err := svc.Updater().Run(ctx, projectID, prompt)
			if job != nil {
				if printErr := utils.PrintJob(cmd, job); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return utils.CommandError(cmd, "update", err)
			}
			if err := output.FprintSuccess(cmd, "Code updated"); err != nil {
				return err
			}

			if detach {
				return nil
			}
			return utils.WaitForBuilds(ctx, cmd, &projectID)
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Requested change (required)")
	cmd.Flags().BoolVar(&detach, "detach", false, "Do not wait for the build to finish")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}
