package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"github.com/MrWong99/mp3voice/internal/discord"
)

func newSendCommand(configPath *string) *cobra.Command {
	var (
		channelID string
		content   string
	)

	cmd := &cobra.Command{
		Use:   "send --channel ID FILE...",
		Short: "Send files to a channel, MP3s as voice messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if channelID == "" {
				return errors.New("--channel is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := setup(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.close()

			return runSend(ctx, cmd, rt, channelID, content, args)
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "target channel ID")
	cmd.Flags().StringVar(&content, "content", "", "text sent along with non-MP3 files")
	return cmd
}

func runSend(ctx context.Context, cmd *cobra.Command, rt *runtime, channelID, content string, paths []string) error {
	session, err := rt.restSession()
	if err != nil {
		return err
	}
	rest := rt.restClient(session.Ratelimiter)
	sender := discord.NewSender(session, rt.converter(rest), rt.cfg.Discord.Credential())

	msg := &discordgo.MessageSend{Content: content}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		defer f.Close()
		msg.Files = append(msg.Files, &discordgo.File{
			Name:        filepath.Base(p),
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
			Reader:      f,
		})
	}

	out := cmd.OutOrStdout()
	sent, batch, sendErr := sender.Send(ctx, channelID, msg)
	if sent != nil {
		fmt.Fprintf(out, "regular message sent (%s)\n", sent.ID)
	}

	results := batch.Wait()
	for _, r := range results {
		fmt.Fprintln(out, r.String())
	}

	var errs []error
	if sendErr != nil {
		errs = append(errs, sendErr)
	}
	if failed := batch.Failed(); len(failed) > 0 {
		errs = append(errs, fmt.Errorf("%d of %d voice messages failed", len(failed), len(results)))
	}
	return errors.Join(errs...)
}
