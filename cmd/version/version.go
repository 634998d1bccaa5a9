// Package version provides the version command for framer.
package version

import (
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/app"
	"github.com/framer-cd/framer/cmd/output"
)

// NewCmdVersion creates the version command
func NewCmdVersion() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version information for framer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd)
		},
	}

	return cmd
}

func runVersion(cmd *cobra.Command) error {
	return output.FprintPlain(cmd, "%s", app.Version)
}
