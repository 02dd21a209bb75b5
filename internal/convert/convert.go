// Package convert turns MP3 attachments into Discord voice messages.
//
// A [Converter] sits in front of a normal upload path. [Converter.Intercept]
// takes the full list of files a user is about to send, hands the non-MP3
// files straight back for the normal path, and converts the MP3 files in a
// background [Batch]. Each MP3 runs through the same pipeline:
//
//	read → describe → negotiate → upload → post
//
// Files are processed one at a time in input order. A failure ends the
// pipeline of that file only; it is recorded on the file's [FileResult] and
// the next file starts normally. Nothing is retried.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mp3voice/internal/observe"
	"github.com/MrWong99/mp3voice/pkg/discordrest"
	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

// ErrFileTooLarge is wrapped in an [voicemsg.IOError] when a file exceeds the
// converter's size limit.
var ErrFileTooLarge = errors.New("convert: file exceeds size limit")

// errNoReader is wrapped in an [voicemsg.IOError] for files without content.
var errNoReader = errors.New("convert: file has no reader")

// RESTClient is the subset of [discordrest.Client] the pipeline needs.
type RESTClient interface {
	RequestUploadSlot(ctx context.Context, cred discordrest.Credential, channelID string, size int64) (voicemsg.UploadSlot, error)
	UploadBytes(ctx context.Context, uploadURL string, data []byte) error
	PostVoiceMessage(ctx context.Context, cred discordrest.Credential, channelID string, att voicemsg.VoiceAttachment) (*discordgo.Message, error)
}

// Compile-time check.
var _ RESTClient = (*discordrest.Client)(nil)

// Stage names the last pipeline step a file reached.
type Stage string

const (
	StageRead      Stage = "read"
	StageNegotiate Stage = "negotiate"
	StageUpload    Stage = "upload"
	StagePost      Stage = "post"
	StageDone      Stage = "done"
)

// FileResult is the outcome of converting one MP3 file.
type FileResult struct {
	// JobID identifies this file's pipeline in logs and traces.
	JobID uuid.UUID

	Filename string

	// Size is the number of bytes read, 0 if reading failed.
	Size int64

	// DurationSecs is the duration announced to Discord.
	DurationSecs int

	// UploadedFilename is the storage key Discord assigned, set once the
	// upload slot was negotiated.
	UploadedFilename string

	// Stage is where the pipeline stopped. StageDone on success.
	Stage Stage

	// Message is the created voice message on success.
	Message *discordgo.Message

	// Err is nil on success. Otherwise it is a *voicemsg.IOError,
	// *voicemsg.NetworkError, *voicemsg.ProtocolError or a context error.
	Err error
}

// OK reports whether the voice message was posted.
func (r FileResult) OK() bool { return r.Err == nil && r.Stage == StageDone }

// String renders a one-line, user-facing summary.
func (r FileResult) String() string {
	if r.OK() {
		return fmt.Sprintf("%s: sent as voice message (%ds)", r.Filename, r.DurationSecs)
	}
	return fmt.Sprintf("%s: failed at %s: %v", r.Filename, r.Stage, r.Err)
}

// Option is a functional option for configuring a [Converter].
type Option func(*Converter)

// WithMetrics sets the metrics the converter records to. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Converter) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithMaxFileSize rejects files larger than n bytes with an IOError wrapping
// [ErrFileTooLarge]. Zero disables the check.
func WithMaxFileSize(n int64) Option {
	return func(c *Converter) {
		c.maxFileSize.Store(n)
	}
}

// WithDescriber replaces the synthetic descriptor generator. Tests use it to
// make waveforms deterministic.
func WithDescriber(fn func(size int64) voicemsg.Descriptor) Option {
	return func(c *Converter) {
		if fn != nil {
			c.describe = fn
		}
	}
}

// Converter runs the MP3-to-voice-message pipeline. It holds no per-call
// state and is safe for concurrent use.
type Converter struct {
	client      RESTClient
	metrics     *observe.Metrics
	maxFileSize atomic.Int64
	describe    func(size int64) voicemsg.Descriptor
}

// New creates a Converter that talks to Discord through client.
func New(client RESTClient, opts ...Option) *Converter {
	c := &Converter{
		client:   client,
		describe: voicemsg.Describe,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Intercept splits files into MP3 and non-MP3 files. Non-MP3 files are
// returned unchanged and in order for the caller's normal upload path. The
// MP3 files are converted in a background goroutine; the returned [Batch]
// reports their results.
//
// The batch runs under ctx. Callers whose ctx ends with the request should
// pass [context.WithoutCancel] to let conversions finish.
func (c *Converter) Intercept(ctx context.Context, cred discordrest.Credential, channelID string, files []voicemsg.PendingFile) ([]voicemsg.PendingFile, *Batch) {
	mp3s, rest := voicemsg.SplitMP3(files)
	if len(mp3s) == 0 {
		return rest, emptyBatch()
	}

	b := &Batch{
		done:  make(chan struct{}),
		files: len(mp3s),
	}
	c.metrics.ActiveBatches.Add(ctx, 1)
	go func() {
		defer close(b.done)
		defer c.metrics.ActiveBatches.Add(context.WithoutCancel(ctx), -1)
		b.results = c.Process(ctx, cred, channelID, mp3s)
	}()
	return rest, b
}

// Process converts every file in order and returns one result per file, in
// the same order. It does not classify: callers pass MP3 files only.
//
// Once ctx is done, the remaining files are not started and their results
// carry ctx.Err().
func (c *Converter) Process(ctx context.Context, cred discordrest.Credential, channelID string, files []voicemsg.PendingFile) []FileResult {
	results := make([]FileResult, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			results[i] = FileResult{JobID: uuid.New(), Filename: f.Filename, Stage: StageRead, Err: err}
			continue
		}
		results[i] = c.convert(ctx, cred, channelID, f)
	}
	return results
}

// ConvertOne converts a single file. It is [Converter.Process] for one file.
func (c *Converter) ConvertOne(ctx context.Context, cred discordrest.Credential, channelID string, f voicemsg.PendingFile) FileResult {
	return c.Process(ctx, cred, channelID, []voicemsg.PendingFile{f})[0]
}

// convert runs the pipeline for one file. Every failure is returned in the
// result; nothing escapes.
func (c *Converter) convert(ctx context.Context, cred discordrest.Credential, channelID string, f voicemsg.PendingFile) (res FileResult) {
	res = FileResult{JobID: uuid.New(), Filename: f.Filename, Stage: StageRead}

	ctx, span := observe.StartSpan(ctx, "convert.file",
		trace.WithAttributes(
			attribute.String("job_id", res.JobID.String()),
			attribute.String("channel_id", channelID),
			attribute.String("filename", f.Filename),
		),
	)
	defer span.End()

	log := observe.Logger(ctx,
		"job_id", res.JobID.String(),
		"channel_id", channelID,
		"filename", f.Filename,
	)

	defer func() {
		status := "ok"
		if res.Err != nil {
			status = "error"
			observe.FailSpan(span, res.Err)
			log.Warn("convert: voice message failed", "stage", string(res.Stage), "err", res.Err)
		} else {
			var msgID string
			if res.Message != nil {
				msgID = res.Message.ID
			}
			log.Info("convert: voice message sent", "message_id", msgID, "duration_secs", res.DurationSecs)
		}
		c.metrics.RecordConversion(ctx, status, string(res.Stage))
	}()

	data, err := c.read(f)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = int64(len(data))
	span.SetAttributes(attribute.Int64("size", res.Size))

	desc := c.describe(res.Size)
	res.DurationSecs = desc.DurationSecs
	log.Debug("convert: converting", "size", humanize.IBytes(uint64(res.Size)), "duration_secs", desc.DurationSecs)

	res.Stage = StageNegotiate
	var slot voicemsg.UploadSlot
	err = c.stage(ctx, "negotiate", c.metrics.NegotiateDuration, func(ctx context.Context) error {
		var err error
		slot, err = c.client.RequestUploadSlot(ctx, cred, channelID, res.Size)
		return err
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.UploadedFilename = slot.UploadedFilename

	res.Stage = StageUpload
	err = c.stage(ctx, "upload", c.metrics.UploadDuration, func(ctx context.Context) error {
		return c.client.UploadBytes(ctx, slot.UploadURL, data)
	})
	if err != nil {
		res.Err = err
		return res
	}
	c.metrics.UploadedBytes.Add(ctx, res.Size)

	res.Stage = StagePost
	att := voicemsg.NewVoiceAttachment(slot, desc)
	err = c.stage(ctx, "post", c.metrics.PostDuration, func(ctx context.Context) error {
		var err error
		res.Message, err = c.client.PostVoiceMessage(ctx, cred, channelID, att)
		return err
	})
	if err != nil {
		res.Err = err
		return res
	}

	res.Stage = StageDone
	return res
}

// SetMaxFileSize changes the size limit for files not yet started. Zero
// disables the check.
func (c *Converter) SetMaxFileSize(n int64) {
	c.maxFileSize.Store(n)
}

// read consumes f's reader, honouring the size limit.
func (c *Converter) read(f voicemsg.PendingFile) ([]byte, error) {
	if f.Reader == nil {
		return nil, &voicemsg.IOError{Filename: f.Filename, Err: errNoReader}
	}
	limit := c.maxFileSize.Load()
	r := f.Reader
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &voicemsg.IOError{Filename: f.Filename, Err: err}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, &voicemsg.IOError{
			Filename: f.Filename,
			Err:      fmt.Errorf("%w (%s)", ErrFileTooLarge, humanize.IBytes(uint64(limit))),
		}
	}
	return data, nil
}

// stage runs fn inside a child span and records its latency to h.
func (c *Converter) stage(ctx context.Context, name string, h metric.Float64Histogram, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, "convert."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		span.SetStatus(codes.Error, err.Error())
	}
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("status", status)))
	return err
}
