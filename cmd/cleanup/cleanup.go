// Package cleanup provides the command that prunes stale working trees.
package cleanup

import (
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/cmd/utils"
)

func NewCmdCleanup() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale working trees",
		Long: `Keep the most recently used working trees and remove the rest.
Trees locked by a running job are never removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := utils.App()
			if keep <= 0 {
				keep = a.Config.Git.KeepTrees
			}

			removed, err := a.Workspace.CleanupStale(a.Config.WorkspaceDir, keep)
			if err != nil {
				return utils.CommandError(cmd, "cleanup", err)
			}
			if len(removed) == 0 {
				return output.FprintPlain(cmd, "No stale working trees found.")
			}
			for _, path := range removed {
				if err := output.FprintPlain(cmd, "Removed %s", path); err != nil {
					return err
				}
			}
			return output.FprintSuccess(cmd, "Removed %d working tree(s)", len(removed))
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "Number of trees to keep (defaults to git.keep_trees)")
	return cmd
}
