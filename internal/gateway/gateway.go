// Package gateway serves an HTTP endpoint that accepts multipart uploads for
// a Discord channel. MP3 parts are posted as voice messages; every other part
// is forwarded as a regular message.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mp3voice/internal/convert"
	"github.com/MrWong99/mp3voice/internal/health"
	"github.com/MrWong99/mp3voice/internal/observe"
	"github.com/MrWong99/mp3voice/pkg/discordrest"
	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

const (
	// defaultMaxRequestSize caps a whole multipart request body.
	defaultMaxRequestSize = 64 << 20

	// maxMemory is the part of a multipart form kept in memory; the rest
	// spills to temporary files.
	maxMemory = 8 << 20

	// formField is the multipart field carrying the files.
	formField = "files"
)

// Processor converts MP3 files synchronously. [*convert.Converter] implements it.
type Processor interface {
	Process(ctx context.Context, cred discordrest.Credential, channelID string, files []voicemsg.PendingFile) []convert.FileResult
}

// Forwarder sends a regular Discord message. [*discord.Sender] implements it.
type Forwarder interface {
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, *convert.Batch, error)
}

var _ Processor = (*convert.Converter)(nil)

// VoiceMessageResult reports one converted MP3 part.
type VoiceMessageResult struct {
	JobID        string `json:"job_id"`
	Filename     string `json:"filename"`
	OK           bool   `json:"ok"`
	Stage        string `json:"stage"`
	DurationSecs int    `json:"duration_secs,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// PassthroughResult reports the regular message carrying the other parts.
type PassthroughResult struct {
	Files     []string `json:"files"`
	MessageID string   `json:"message_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// UploadResponse is the JSON body of a completed upload.
type UploadResponse struct {
	VoiceMessages []VoiceMessageResult `json:"voice_messages"`
	Passthrough   *PassthroughResult   `json:"passthrough,omitempty"`
}

// Failed reports whether any part could not be delivered.
func (u UploadResponse) Failed() bool {
	for _, v := range u.VoiceMessages {
		if !v.OK {
			return true
		}
	}
	return u.Passthrough != nil && u.Passthrough.Error != ""
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithMaxRequestSize caps the request body. Larger requests get 413.
func WithMaxRequestSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxRequestSize = n
		}
	}
}

// WithHealthCheckers adds readiness checkers to /readyz.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, checkers...)
	}
}

// WithMetrics sets the metrics used by the request middleware. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithMetricsHandler replaces the /metrics handler. Default: [promhttp.Handler].
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.metricsHandler = h
		}
	}
}

// Server is the upload gateway.
type Server struct {
	proc           Processor
	fwd            Forwarder
	cred           discordrest.Credential
	maxRequestSize int64
	checkers       []health.Checker
	metrics        *observe.Metrics
	metricsHandler http.Handler
}

// New creates a Server. MP3 parts go through proc with cred; other parts
// are sent with fwd.
func New(proc Processor, fwd Forwarder, cred discordrest.Credential, opts ...Option) *Server {
	s := &Server{
		proc:           proc,
		fwd:            fwd,
		cred:           cred,
		maxRequestSize: defaultMaxRequestSize,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// Handler returns the full HTTP handler: the upload route plus /healthz,
// /readyz and /metrics, wrapped in [observe.Middleware].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/channels/{channelID}/uploads", s.handleUpload)
	health.New(s.checkers...).Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
	return observe.Middleware(s.metrics)(mux)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channelID := r.PathValue("channelID")
	log := observe.Logger(ctx, "channel_id", channelID)

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestSize)
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request exceeds %s", humanize.IBytes(uint64(tooLarge.Limit))))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File[formField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("no %q parts in request", formField))
		return
	}

	files := make([]voicemsg.PendingFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("open part %q: %v", fh.Filename, err))
			return
		}
		defer f.Close()
		files = append(files, pendingFile(fh, f))
	}

	mp3s, rest := voicemsg.SplitMP3(files)
	log.Info("gateway: upload received", "mp3", len(mp3s), "other", len(rest))

	var resp UploadResponse
	resp.VoiceMessages = make([]VoiceMessageResult, 0, len(mp3s))
	for _, res := range s.proc.Process(ctx, s.cred, channelID, mp3s) {
		resp.VoiceMessages = append(resp.VoiceMessages, voiceMessageResult(res))
	}

	content := r.FormValue("content")
	if len(rest) > 0 || content != "" {
		resp.Passthrough = s.forward(ctx, channelID, content, rest)
		if resp.Passthrough.Error != "" {
			log.Warn("gateway: passthrough message failed", "err", resp.Passthrough.Error)
		}
	}

	status := http.StatusOK
	if resp.Failed() {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

// forward sends the non-MP3 parts and optional text as one regular message.
func (s *Server) forward(ctx context.Context, channelID, content string, files []voicemsg.PendingFile) *PassthroughResult {
	pr := &PassthroughResult{Files: make([]string, 0, len(files))}
	msg := &discordgo.MessageSend{Content: content}
	for _, f := range files {
		pr.Files = append(pr.Files, f.Filename)
		msg.Files = append(msg.Files, &discordgo.File{
			Name:        f.Filename,
			ContentType: f.MIMEType,
			Reader:      f.Reader,
		})
	}

	sent, _, err := s.fwd.Send(ctx, channelID, msg)
	if err != nil {
		pr.Error = err.Error()
		return pr
	}
	if sent != nil {
		pr.MessageID = sent.ID
	}
	return pr
}

func pendingFile(fh *multipart.FileHeader, f multipart.File) voicemsg.PendingFile {
	return voicemsg.PendingFile{
		Filename: fh.Filename,
		MIMEType: fh.Header.Get("Content-Type"),
		Reader:   f,
	}
}

func voiceMessageResult(res convert.FileResult) VoiceMessageResult {
	v := VoiceMessageResult{
		JobID:        res.JobID.String(),
		Filename:     res.Filename,
		OK:           res.OK(),
		Stage:        string(res.Stage),
		DurationSecs: res.DurationSecs,
	}
	if res.Message != nil {
		v.MessageID = res.Message.ID
	}
	if res.Err != nil {
		v.Error = res.Err.Error()
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
