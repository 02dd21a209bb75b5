package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MrWong99/mp3voice/internal/mcpserver"
)

func newMCPCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the send_voice_message tool over MCP stdio",
		Long: `Runs a Model Context Protocol server on stdin/stdout. The
send_voice_message tool posts a local MP3 file to a channel as a voice
message. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			rest := rt.restClient(nil)
			srv := mcpserver.New(mcpserver.Config{
				Converter:   rt.converter(rest),
				Credential:  rt.cfg.Discord.Credential(),
				MaxFileSize: int64(rt.cfg.Discord.MaxFileSize),
				Version:     version,
			})
			return srv.Run(ctx)
		},
	}
}
