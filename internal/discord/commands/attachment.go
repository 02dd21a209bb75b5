package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

// DownloadedAttachment holds the result of downloading a Discord file attachment.
type DownloadedAttachment struct {
	// Body is the response body, limited to the download limit plus one byte
	// so oversized files surface as a read past the limit.
	// The caller is responsible for closing it.
	Body io.ReadCloser

	// Filename is the original filename from Discord.
	Filename string

	// ContentType is the MIME type Discord reported for the attachment.
	ContentType string

	// Size is the attachment size as reported by Discord (before download).
	Size int
}

// PendingFile converts the download into pipeline input.
func (d *DownloadedAttachment) PendingFile() voicemsg.PendingFile {
	return voicemsg.PendingFile{
		Filename: d.Filename,
		MIMEType: d.ContentType,
		Reader:   d.Body,
	}
}

// IsMP3Attachment applies the voice-message classification to an attachment.
func IsMP3Attachment(a *discordgo.MessageAttachment) bool {
	if a == nil {
		return false
	}
	return voicemsg.IsMP3(a.Filename, a.ContentType, "")
}

// FirstAttachment extracts the first attachment from an interaction's resolved
// data. Returns nil if no attachments are present or the interaction is not
// an application command.
func FirstAttachment(i *discordgo.InteractionCreate) *discordgo.MessageAttachment {
	if i.Type != discordgo.InteractionApplicationCommand {
		return nil
	}
	data := i.ApplicationCommandData()
	if data.Resolved == nil || len(data.Resolved.Attachments) == 0 {
		return nil
	}
	// Prefer the attachment referenced by the command option.
	for _, opt := range data.Options {
		if opt.Type != discordgo.ApplicationCommandOptionAttachment {
			continue
		}
		if id, ok := opt.Value.(string); ok {
			if a, ok := data.Resolved.Attachments[id]; ok {
				return a
			}
		}
	}
	for _, a := range data.Resolved.Attachments {
		return a
	}
	return nil
}

// DownloadAttachment downloads a Discord attachment with the given context.
// The returned body yields at most limit+1 bytes, or the whole response when
// limit is not positive. A nil client uses
// [http.DefaultClient]. The caller must close the returned
// DownloadedAttachment.Body when done.
func DownloadAttachment(ctx context.Context, client *http.Client, attachment *discordgo.MessageAttachment, limit int64) (*DownloadedAttachment, error) {
	if attachment == nil {
		return nil, errors.New("attachment is nil")
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("download attachment: HTTP %d", resp.StatusCode)
	}

	body := resp.Body
	if limit > 0 {
		body = struct {
			io.Reader
			io.Closer
		}{io.LimitReader(resp.Body, limit+1), resp.Body}
	}

	return &DownloadedAttachment{
		Body:        body,
		Filename:    attachment.Filename,
		ContentType: attachment.ContentType,
		Size:        attachment.Size,
	}, nil
}
