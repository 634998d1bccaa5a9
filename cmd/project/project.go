// Package project provides commands for inspecting generated projects.
package project

import (
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/utils"
)

func NewCmdProject() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect generated projects",
	}

	cmd.AddCommand(NewCmdProjectList())
	cmd.AddCommand(NewCmdProjectShow())
	return cmd
}

func NewCmdProjectList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all projects",
		Long: `Display all projects created by framer.

Shows the project name, owner, current status (with color coding),
deployment URL and creation time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := utils.App().Repos.Projects.List(cmd.Context())
			if err != nil {
				return utils.CommandError(cmd, "listing projects", err)
			}

			out, err := output.PrintProjectList(projects)
			if err != nil {
				return utils.CommandError(cmd, "printing project list table", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}

func NewCmdProjectShow() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show detailed project information",
		Long:  "Display a project's repository, deployment target, current status and build history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID, err := utils.ParseID("project", args[0])
			if err != nil {
				return err
			}

			repos := utils.App().Repos
			project, err := repos.Projects.FindByID(cmd.Context(), projectID)
			if err != nil {
				return utils.CommandError(cmd, "retrieving project", err)
			}
			builds, err := repos.Builds.ListByProjectID(cmd.Context(), projectID)
			if err != nil {
				return utils.CommandError(cmd, "retrieving builds", err)
			}

			out, err := output.PrintProjectDetails(project, builds)
			if err != nil {
				return utils.CommandError(cmd, "formatting project details", err)
			}
			return output.FprintPlain(cmd, "%s", out)
		},
	}
}
