// Package deploy provides commands that trigger and track deployments.
package deploy

import (
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/utils"
)

func NewCmdDeploy() *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "deploy <project-id>",
		Short: "Redeploy a project's latest commit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := utils.ParseID("project", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()

			svc, err := utils.App().Setup()
			if err != nil {
				return utils.CommandError(cmd, "deploy", err)
			}

			job, err := svc.Redeployer().Run(ctx, projectID)
			if job != nil {
				if printErr := utils.PrintJob(cmd, job); printErr != nil {
					return printErr
				}
			}
			if err != nil {
				return utils.CommandError(cmd, "deploy", err)
			}
			if err := output.FprintSuccess(cmd, "Deployment triggered"); err != nil {
				return err
			}

			if detach {
				return nil
			}
			return utils.WaitForBuilds(ctx, cmd, &projectID)
		},
	}

	cmd.Flags().BoolVar(&detach, "detach", false, "Do not wait for the build to finish")
	return cmd
}

func NewCmdPoll() *cobra.Command {
	return &cobra.Command{
		Use:   "poll <build-id>",
		Short: "Track a build until it reaches a terminal state",
		Long: `Check the deployment provider for a build's status until it succeeds,
fails or the polling budget runs out. A build that is already terminal is
checked once and its recorded status is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildID, err := utils.ParseID("build", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()

			builds, err := utils.App().Poller()
			if err != nil {
				return utils.CommandError(cmd, "poll", err)
			}

			outcome, err := builds.PollBuild(ctx, buildID)
			if err != nil {
				return utils.CommandError(cmd, "poll", err)
			}

			build, err := utils.App().Repos.Builds.FindByID(ctx, buildID)
			if err != nil {
				return utils.CommandError(cmd, "retrieving build", err)
			}
			logs, err := utils.App().Repos.Logs.ListBySubjectID(ctx, buildID)
			if err != nil {
				return utils.CommandError(cmd, "retrieving build log", err)
			}
			out, err := output.PrintBuildDetails(build, logs)
			if err != nil {
				return utils.CommandError(cmd, "formatting build details", err)
			}
			if err := output.FprintPlain(cmd, "%s", out); err != nil {
				return err
			}
			return output.FprintPlain(cmd, "Checked %d time(s)", outcome.Attempts)
		},
	}
}
