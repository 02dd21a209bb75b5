package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mp3voice/internal/convert"
	"github.com/MrWong99/mp3voice/pkg/discordrest"
	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

// MessageSender is the part of [discordgo.Session] that creates messages.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Interceptor splits MP3 files out of an upload and converts them.
// [*convert.Converter] implements it.
type Interceptor interface {
	Intercept(ctx context.Context, cred discordrest.Credential, channelID string, files []voicemsg.PendingFile) ([]voicemsg.PendingFile, *convert.Batch)
}

// Compile-time checks.
var (
	_ MessageSender = (*discordgo.Session)(nil)
	_ Interceptor   = (*convert.Converter)(nil)
)

// Sender sends messages through discordgo, turning every MP3 attachment into
// a separate voice message on the way.
type Sender struct {
	session MessageSender
	conv    Interceptor
	cred    discordrest.Credential
}

// NewSender creates a Sender. cred authenticates the voice-message calls and
// must belong to the same account as session.
func NewSender(session MessageSender, conv Interceptor, cred discordrest.Credential) *Sender {
	return &Sender{session: session, conv: conv, cred: cred}
}

// Send posts msg to channelID. MP3 files are removed from the message and
// converted in the returned batch; the remaining files keep their original
// *discordgo.File values and order. The regular message is only sent when it
// still carries files, content, or embeds, so msg may return a nil message.
//
// msg itself is not modified. The batch keeps running when the regular send
// fails.
func (s *Sender) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, *convert.Batch, error) {
	pending := make([]voicemsg.PendingFile, len(msg.Files))
	for i, f := range msg.Files {
		pending[i] = voicemsg.PendingFile{Filename: f.Name, MIMEType: f.ContentType, Reader: f.Reader}
	}
	_, batch := s.conv.Intercept(ctx, s.cred, channelID, pending)

	// Same classification as Intercept, applied to the original values.
	var kept []*discordgo.File
	for i, f := range msg.Files {
		if !pending[i].IsMP3() {
			kept = append(kept, f)
		}
	}

	out := *msg
	out.Files = kept
	if len(out.Files) == 0 && out.Content == "" && len(out.Embeds) == 0 {
		return nil, batch, nil
	}

	sent, err := s.session.ChannelMessageSendComplex(channelID, &out, discordgo.WithContext(ctx))
	if err != nil {
		return nil, batch, fmt.Errorf("discord: send message: %w", err)
	}
	return sent, batch, nil
}
