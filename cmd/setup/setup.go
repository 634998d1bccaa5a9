// Package setup provides the commands that create and resume project setups.
package setup

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/utils"
	"github.com/framer-cd/framer/domain"
)

func defaultUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "local"
}

func NewCmdSetup() *cobra.Command {
	var (
		input  domain.SetupInput
		detach bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Create a new project from a prompt",
		Long: `Run the full setup pipeline for a new project:
validate the input, create the git repository, attach a deployment target,
generate and push the code, record the project metadata, assign a domain
and notify the owner.

Interrupting the command fails the job as interrupted; run 'framer resume'
to continue from the first unfinished step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()

			svc, err := utils.App().Setup()
			if err != nil {
				return utils.CommandError(cmd, "setup", err)
			}

			_ = output.FprintPlain(cmd, "Setting up project...")
			job, err := svc.Start(ctx, input)
			if job != nil {
				if printErr := utils.PrintJob(cmd, job); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return utils.CommandError(cmd, "setup", err)
			}
			if err := output.FprintSuccess(cmd, "Setup completed"); err != nil {
				return err
			}

			if detach {
				return nil
			}
			return utils.WaitForBuilds(ctx, cmd, job.ProjectID)
		},
	}

	cmd.Flags().StringVarP(&input.Prompt, "prompt", "p", "", "What the project should be (required)")
	cmd.Flags().StringVarP(&input.ProjectName, "name", "n", "", "Project name hint; a unique suffix is always added")
	cmd.Flags().StringVar(&input.Description, "description", "", "Repository description")
	cmd.Flags().StringVarP(&input.UserID, "user", "u", defaultUser(), "Owner of the project")
	cmd.Flags().StringVar(&input.Recipient, "notify", "", "Notification recipient (defaults to the owner)")
	cmd.Flags().BoolVar(&detach, "detach", false, "Do not wait for the build to finish")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func NewCmdResume() *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "resume <job-id>",
		Short: "Resume a failed setup job",
		Long: `Start a retry job from the saved context of a failed setup job.
Steps that completed in an earlier run are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := utils.ParseID("job", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()

			svc, err := utils.App().Setup()
			if err != nil {
				return utils.CommandError(cmd, "resume", err)
			}

			job, err := svc.Resume(ctx, jobID)
			if job != nil {
				if printErr := utils.PrintJob(cmd, job); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return utils.CommandError(cmd, "resume", err)
			}
			if err := output.FprintSuccess(cmd, "Setup completed"); err != nil {
				return err
			}

			if detach {
				return nil
			}
			return utils.WaitForBuilds(ctx, cmd, job.ProjectID)
		},
	}

	cmd.Flags().BoolVar(&detach, "detach", false, "Do not wait for the build to finish")
	return cmd
}
