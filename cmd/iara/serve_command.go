package main

import (
	"github.com/spf13/cobra"

	"iara/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var (
		transportFlag string
		hostFlag      string
		portFlag      int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server",
		Long: `Run the tool server on the configured transport.

The pipe transport reads one JSON request per line from stdin and writes one
response per line to stdout; logs go to stderr. The http and sse transports
listen on listen_host:listen_port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("transport") {
				cfg.Server.Transport = transportFlag
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.ListenHost = hostFlag
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.ListenPort = portFlag
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return server.Run(cmd.Context(), cfg, version)
		},
	}

	cmd.Flags().StringVarP(&transportFlag, "transport", "t", "", "Transport binding: pipe, http, or sse")
	cmd.Flags().StringVar(&hostFlag, "host", "", "Listen host for http and sse")
	cmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Listen port for http and sse")
	return cmd
}
