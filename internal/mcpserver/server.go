// Package mcpserver exposes the voice-message pipeline as an MCP tool so
// agents can post local MP3 files to Discord.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/mp3voice/internal/convert"
	"github.com/MrWong99/mp3voice/internal/observe"
	"github.com/MrWong99/mp3voice/pkg/discordrest"
	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

const toolSendVoiceMessage = "send_voice_message"

// Converter runs the voice-message pipeline for a single file.
type Converter interface {
	ConvertOne(ctx context.Context, cred discordrest.Credential, channelID string, f voicemsg.PendingFile) convert.FileResult
}

var _ Converter = (*convert.Converter)(nil)

// Config holds the dependencies of a [Server].
type Config struct {
	Converter  Converter
	Credential discordrest.Credential

	// MaxFileSize rejects larger files before they are opened. Zero disables
	// the check.
	MaxFileSize int64

	// Version is reported to clients in the implementation info.
	Version string
}

// Server is the MCP tool server.
type Server struct {
	cfg Config
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Server{cfg: cfg}
}

// MCPServer builds an SDK server with all tools registered.
func (s *Server) MCPServer() *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "mp3voice", Version: s.cfg.Version}, &mcpsdk.ServerOptions{
		Instructions: "Posts local MP3 files to Discord channels as native voice messages.",
	})
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        toolSendVoiceMessage,
		Description: "Send a local MP3 file to a Discord channel as a voice message.",
	}, s.handleSendVoiceMessage)
	return srv
}

// Run serves MCP over stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	if err := s.MCPServer().Run(ctx, &mcpsdk.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

type sendVoiceMessageInput struct {
	ChannelID string `json:"channel_id" jsonschema:"Discord channel ID to post into"`
	Path      string `json:"path" jsonschema:"Path of the MP3 file on the server's filesystem"`
}

type sendVoiceMessageOutput struct {
	MessageID        string `json:"message_id"`
	DurationSecs     int    `json:"duration_secs"`
	UploadedFilename string `json:"uploaded_filename"`
}

func (s *Server) handleSendVoiceMessage(ctx context.Context, _ *mcpsdk.CallToolRequest, input sendVoiceMessageInput) (*mcpsdk.CallToolResult, sendVoiceMessageOutput, error) {
	channelID := strings.TrimSpace(input.ChannelID)
	if channelID == "" {
		return nil, sendVoiceMessageOutput{}, errors.New("channel_id is required")
	}
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return nil, sendVoiceMessageOutput{}, errors.New("path is required")
	}

	name := filepath.Base(path)
	if !voicemsg.IsMP3(name, "", "") {
		return nil, sendVoiceMessageOutput{}, fmt.Errorf("%s is not an MP3 file", name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, sendVoiceMessageOutput{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, sendVoiceMessageOutput{}, fmt.Errorf("%s is not a regular file", path)
	}
	if s.cfg.MaxFileSize > 0 && info.Size() > s.cfg.MaxFileSize {
		return nil, sendVoiceMessageOutput{}, fmt.Errorf("%s is %s, maximum is %s", name,
			humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(s.cfg.MaxFileSize)))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, sendVoiceMessageOutput{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	observe.Logger(ctx).Info("mcpserver: sending voice message", "channel_id", channelID, "path", path)

	res := s.cfg.Converter.ConvertOne(ctx, s.cfg.Credential, channelID, voicemsg.PendingFile{
		Filename: name,
		Reader:   f,
	})
	if !res.OK() {
		return nil, sendVoiceMessageOutput{}, fmt.Errorf("%s failed at %s: %w", name, res.Stage, res.Err)
	}

	out := sendVoiceMessageOutput{
		DurationSecs:     res.DurationSecs,
		UploadedFilename: res.UploadedFilename,
	}
	if res.Message != nil {
		out.MessageID = res.Message.ID
	}
	return nil, out, nil
}
