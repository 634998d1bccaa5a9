// Package serve provides the command that runs the status HTTP server.
package serve

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/app"
	"github.com/framer-cd/framer/cmd/utils"
	"github.com/framer-cd/framer/server"
)

func NewCmdServe() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve job, build and project status over HTTP",
		Long: `Start a read-only HTTP API with /health, /metrics (Prometheus),
/api/projects, /api/jobs/{id} and /api/builds/{id}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := utils.App()
			if host == "" {
				host = a.Config.HTTPHost
			}
			if port == 0 {
				port = a.Config.HTTPPort
			}

			ctx, cancel := utils.SignalContext(cmd.Context())
			defer cancel()

			address := fmt.Sprintf("%s:%d", host, port)
			if err := server.Run(ctx, address, server.NewRouter(a.Repos, app.Version)); err != nil {
				return utils.CommandError(cmd, "serve", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (defaults to http_host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (defaults to http_port)")
	return cmd
}
