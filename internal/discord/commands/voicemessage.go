// Package commands implements the Discord slash commands of the mp3voice bot.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/MrWong99/mp3voice/internal/convert"
	"github.com/MrWong99/mp3voice/internal/discord"
	"github.com/MrWong99/mp3voice/pkg/discordrest"
	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

// defaultCommandTimeout bounds download plus conversion of one attachment.
const defaultCommandTimeout = 2 * time.Minute

// Converter runs the voice-message pipeline for a single file.
// [*convert.Converter] implements it.
type Converter interface {
	ConvertOne(ctx context.Context, cred discordrest.Credential, channelID string, f voicemsg.PendingFile) convert.FileResult
}

var _ Converter = (*convert.Converter)(nil)

// VoiceMessageConfig holds dependencies for creating VoiceMessageCommands.
type VoiceMessageConfig struct {
	// Router receives the /voicemessage registration. Optional; call
	// [VoiceMessageCommands.Register] later when nil.
	Router *discord.CommandRouter

	Perms      *discord.PermissionChecker
	Converter  Converter
	Credential discordrest.Credential

	// HTTPClient downloads attachments. Nil uses [http.DefaultClient].
	HTTPClient *http.Client

	// MaxFileSize rejects larger attachments before they are downloaded.
	MaxFileSize int64

	// Timeout bounds one invocation. Zero uses two minutes.
	Timeout time.Duration

	// Context is the bot lifetime. Cancelling it aborts in-flight downloads
	// and conversions. Nil uses [context.Background].
	Context context.Context
}

// VoiceMessageCommands handles /voicemessage.
type VoiceMessageCommands struct {
	base    context.Context
	perms   *discord.PermissionChecker
	conv    Converter
	cred    discordrest.Credential
	client  *http.Client
	timeout time.Duration
	maxSize atomic.Int64
}

// NewVoiceMessageCommands creates a VoiceMessageCommands and registers it with
// cfg.Router when set.
func NewVoiceMessageCommands(cfg VoiceMessageConfig) *VoiceMessageCommands {
	vc := &VoiceMessageCommands{
		base:    cfg.Context,
		perms:   cfg.Perms,
		conv:    cfg.Converter,
		cred:    cfg.Credential,
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
	}
	if vc.perms == nil {
		vc.perms = discord.NewPermissionChecker("")
	}
	if vc.base == nil {
		vc.base = context.Background()
	}
	if vc.timeout <= 0 {
		vc.timeout = defaultCommandTimeout
	}
	vc.maxSize.Store(cfg.MaxFileSize)
	if cfg.Router != nil {
		vc.Register(cfg.Router)
	}
	return vc
}

// SetMaxFileSize changes the attachment size limit. Safe for concurrent use.
func (vc *VoiceMessageCommands) SetMaxFileSize(n int64) {
	vc.maxSize.Store(n)
}

// Register registers /voicemessage with the router.
func (vc *VoiceMessageCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand(vc.Definition(), vc.handle)
}

// Definition returns the /voicemessage command definition.
func (vc *VoiceMessageCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voicemessage",
		Description: "Send an MP3 file to this channel as a voice message",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        "file",
				Description: "The MP3 file to send",
				Required:    true,
			},
		},
	}
}

func (vc *VoiceMessageCommands) handle(s discord.Responder, i *discordgo.InteractionCreate) {
	if !vc.perms.Allowed(i) {
		discord.RespondEphemeral(s, i, "You do not have the role required to send voice messages.")
		return
	}

	attachment := FirstAttachment(i)
	if attachment == nil {
		discord.RespondEphemeral(s, i, "Please attach an MP3 file.")
		return
	}
	if !IsMP3Attachment(attachment) {
		discord.RespondEphemeral(s, i, "Only MP3 files can be sent as voice messages.")
		return
	}
	limit := vc.maxSize.Load()
	if limit > 0 && int64(attachment.Size) > limit {
		discord.RespondEphemeral(s, i, fmt.Sprintf("File too large (%s). Maximum is %s.",
			humanize.IBytes(uint64(attachment.Size)), humanize.IBytes(uint64(limit))))
		return
	}

	discord.DeferReply(s, i)

	ctx, cancel := context.WithTimeout(vc.base, vc.timeout)
	defer cancel()

	dl, err := DownloadAttachment(ctx, vc.client, attachment, limit)
	if err != nil {
		slog.Warn("voicemessage: download failed", "filename", attachment.Filename, "err", err)
		discord.FollowUp(s, i, fmt.Sprintf("Failed to download attachment: %v", err))
		return
	}
	defer dl.Body.Close()

	res := vc.conv.ConvertOne(ctx, vc.cred, i.ChannelID, dl.PendingFile())
	discord.FollowUp(s, i, res.String())
}
