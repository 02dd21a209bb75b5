// Package mock provides a test double for convert.RESTClient.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mp3voice/pkg/discordrest"
	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

// NegotiateCall records one RequestUploadSlot call.
type NegotiateCall struct {
	ChannelID string
	Size      int64
}

// UploadCall records one UploadBytes call.
type UploadCall struct {
	UploadURL string
	Data      []byte
}

// PostCall records one PostVoiceMessage call.
type PostCall struct {
	ChannelID  string
	Attachment voicemsg.VoiceAttachment
}

// RESTClient records every call and answers with predictable slots and
// messages. The Err fields, when set, are consulted per call with the
// zero-based call index and may return an error to inject.
type RESTClient struct {
	mu sync.Mutex

	Negotiations []NegotiateCall
	Uploads      []UploadCall
	Posts        []PostCall

	NegotiateErr func(call int) error
	UploadErr    func(call int) error
	PostErr      func(call int) error
}

// RequestUploadSlot records the call and returns slot "slot-<n>".
func (m *RESTClient) RequestUploadSlot(_ context.Context, _ discordrest.Credential, channelID string, size int64) (voicemsg.UploadSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Negotiations)
	m.Negotiations = append(m.Negotiations, NegotiateCall{ChannelID: channelID, Size: size})
	if m.NegotiateErr != nil {
		if err := m.NegotiateErr(n); err != nil {
			return voicemsg.UploadSlot{}, err
		}
	}
	return voicemsg.UploadSlot{
		UploadURL:        fmt.Sprintf("https://upload.example/slot-%d", n),
		UploadedFilename: fmt.Sprintf("uploads/slot-%d/voice-message.ogg", n),
	}, nil
}

// UploadBytes records the call.
func (m *RESTClient) UploadBytes(_ context.Context, uploadURL string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Uploads)
	m.Uploads = append(m.Uploads, UploadCall{UploadURL: uploadURL, Data: append([]byte(nil), data...)})
	if m.UploadErr != nil {
		return m.UploadErr(n)
	}
	return nil
}

// PostVoiceMessage records the call and returns message "msg-<n>".
func (m *RESTClient) PostVoiceMessage(_ context.Context, _ discordrest.Credential, channelID string, att voicemsg.VoiceAttachment) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Posts)
	m.Posts = append(m.Posts, PostCall{ChannelID: channelID, Attachment: att})
	if m.PostErr != nil {
		if err := m.PostErr(n); err != nil {
			return nil, err
		}
	}
	return &discordgo.Message{
		ID:        fmt.Sprintf("msg-%d", n),
		ChannelID: channelID,
		Flags:     discordgo.MessageFlagsIsVoiceMessage,
	}, nil
}

// Counts returns the number of calls per endpoint.
func (m *RESTClient) Counts() (negotiate, upload, post int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Negotiations), len(m.Uploads), len(m.Posts)
}
