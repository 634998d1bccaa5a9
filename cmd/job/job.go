// Package job provides commands for inspecting pipeline jobs and their logs.
package job

import (
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/utils"
)

func NewCmdJob() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect pipeline jobs",
	}

	cmd.AddCommand(NewCmdJobList())
	cmd.AddCommand(NewCmdJobShow())
	return cmd
}

func NewCmdJobList() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := utils.App().Repos.Jobs.List(cmd.Context(), limit)
			if err != nil {
				return utils.CommandError(cmd, "listing jobs", err)
			}

			out, err := output.PrintJobList(jobs)
			if err != nil {
				return utils.CommandError(cmd, "printing job list table", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	return cmd
}

func NewCmdJobShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job and its log",
		Long:  "Display a job's type, status, current state, last error and every log entry it recorded.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := utils.ParseID("job", args[0])
			if err != nil {
				return err
			}

			repos := utils.App().Repos
			job, err := repos.Jobs.FindByID(cmd.Context(), jobID)
			if err != nil {
				return utils.CommandError(cmd, "retrieving job", err)
			}
			logs, err := repos.Logs.ListBySubjectID(cmd.Context(), jobID)
			if err != nil {
				return utils.CommandError(cmd, "retrieving job log", err)
			}

			out, err := output.PrintJobDetails(job, logs)
			if err != nil {
				return utils.CommandError(cmd, "formatting job details", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}
