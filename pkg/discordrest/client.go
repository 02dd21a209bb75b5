// Package discordrest is a small Discord REST client for the three calls a
// voice message needs: negotiating an upload slot, PUTting the bytes to the
// pre-signed URL, and creating the message that references the upload.
//
// Authentication is explicit: every authenticated call takes a [Credential].
// The client holds no token of its own, so one client can serve many
// accounts.
//
// Requests are serialised per route through a discordgo [discordgo.RateLimiter]
// so Discord's rate-limit headers are honoured by waiting. Failed requests are
// never re-sent.
//
// Usage:
//
//	c := discordrest.New(discordrest.WithTimeout(30 * time.Second))
//	slot, err := c.RequestUploadSlot(ctx, discordrest.BotToken(tok), channelID, size)
//	err = c.UploadBytes(ctx, slot.UploadURL, data)
//	msg, err := c.PostVoiceMessage(ctx, cred, channelID, attachment)
package discordrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	// DefaultBaseURL is Discord's REST API root, without the version segment.
	DefaultBaseURL = "https://discord.com/api"

	apiVersion       = "v10"
	defaultUserAgent = "DiscordBot (https://github.com/MrWong99/mp3voice, 1.0)"

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 4 << 10
)

// ErrMissingCredential is returned by authenticated calls made with an empty
// [Credential].
var ErrMissingCredential = errors.New("discordrest: credential is empty")

// Credential is the value sent in the Authorization header.
type Credential struct {
	header string
}

// BotToken returns the credential for a bot token ("Bot <token>").
func BotToken(token string) Credential {
	if token == "" {
		return Credential{}
	}
	return Credential{header: "Bot " + token}
}

// UserToken returns a credential that sends token verbatim, the way the
// official client does.
func UserToken(token string) Credential {
	return Credential{header: token}
}

// IsZero reports whether c carries no token.
func (c Credential) IsZero() bool { return c.header == "" }

// String hides the token so credentials can be logged safely.
func (c Credential) String() string {
	if c.IsZero() {
		return "<none>"
	}
	return "<redacted>"
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithBaseURL overrides the API root (e.g. a test server or a proxy). The
// "/v10" segment is appended by the client.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every single request. Zero keeps the HTTP client's own
// setting.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header sent to Discord.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRateLimiter shares a rate limiter with other Discord clients, typically
// a discordgo.Session's Ratelimiter so both respect the same buckets.
func WithRateLimiter(rl *discordgo.RateLimiter) Option {
	return func(c *Client) {
		if rl != nil {
			c.limiter = rl
		}
	}
}

// Client talks to the Discord REST API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *discordgo.RateLimiter
}

// New creates a Client with the given options applied over the defaults.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{},
		limiter:    discordgo.NewRatelimiter(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// endpoint joins the versioned API root with path segments.
func (c *Client) endpoint(parts ...string) string {
	return c.baseURL + "/" + apiVersion + "/" + strings.Join(parts, "/")
}

// response is a fully read HTTP response. readErr is set when the status line
// arrived but the body could not be read.
type response struct {
	status  int
	header  http.Header
	body    []byte
	readErr error
}

func (r *response) ok() bool { return r.status >= 200 && r.status < 300 }

// do sends req under the rate-limit bucket and reads the whole body. A
// non-nil error means no response was received at all.
func (c *Client) do(req *http.Request, bucketID string) (*response, error) {
	req.Header.Set("User-Agent", c.userAgent)

	var bucket *discordgo.Bucket
	if bucketID != "" {
		bucket = c.limiter.LockBucket(bucketID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if bucket != nil {
			_ = bucket.Release(nil)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if bucket != nil {
		if relErr := bucket.Release(resp.Header); relErr != nil {
			slog.Debug("discordrest: ignoring malformed rate-limit headers", "bucket", bucketID, "err", relErr)
		}
	}

	body, readErr := io.ReadAll(resp.Body)
	return &response{
		status:  resp.StatusCode,
		header:  resp.Header,
		body:    body,
		readErr: readErr,
	}, nil
}

// newJSONRequest builds an authenticated JSON request.
func (c *Client) newJSONRequest(ctx context.Context, method, url string, cred Credential, payload []byte) (*http.Request, error) {
	if cred.IsZero() {
		return nil, ErrMissingCredential
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("discordrest: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", cred.header)
	return req, nil
}

// truncateBody returns at most maxErrorBody bytes of b as a string.
func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "…"
	}
	return string(b)
}

// Ping checks that the API root answers. It calls the unauthenticated
// gateway endpoint and is meant for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("gateway"), nil)
	if err != nil {
		return fmt.Errorf("discordrest: create request: %w", err)
	}
	resp, err := c.do(req, "")
	if err != nil {
		return fmt.Errorf("discordrest: ping: %w", err)
	}
	if !resp.ok() {
		return fmt.Errorf("discordrest: ping: HTTP %d", resp.status)
	}
	return nil
}
