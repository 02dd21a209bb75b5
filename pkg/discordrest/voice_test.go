package discordrest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

// newTestClient starts an httptest server with handler and returns a Client
// pointed at it.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(WithBaseURL(srv.URL+"/api"), WithTimeout(5*time.Second)), srv
}

func TestCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cred       Credential
		wantHeader string
		wantZero   bool
	}{
		{"bot token", BotToken("abc"), "Bot abc", false},
		{"user token", UserToken("abc"), "abc", false},
		{"empty bot token", BotToken(""), "", true},
		{"empty user token", UserToken(""), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.cred.header != tt.wantHeader {
				t.Errorf("header = %q, want %q", tt.cred.header, tt.wantHeader)
			}
			if tt.cred.IsZero() != tt.wantZero {
				t.Errorf("IsZero() = %v, want %v", tt.cred.IsZero(), tt.wantZero)
			}
			if strings.Contains(tt.cred.String(), "abc") {
				t.Errorf("String() leaks the token: %q", tt.cred.String())
			}
		})
	}
}

func TestRequestUploadSlot_Success(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/v10/channels/123/attachments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bot tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bot tok")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		want := map[string]any{
			"files": []any{map[string]any{
				"filename":  "voice-message.ogg",
				"file_size": float64(48000),
				"id":        "0",
			}},
		}
		if diff := cmp.Diff(want, body); diff != "" {
			t.Errorf("request body mismatch (-want +got):\n%s", diff)
		}

		_, _ = io.WriteString(w, `{"attachments":[{"id":0,"upload_url":"https://up.example/put/1","upload_filename":"uploads/1/voice-message.ogg"},{"upload_url":"ignored","upload_filename":"ignored"}]}`)
	})

	slot, err := c.RequestUploadSlot(context.Background(), BotToken("tok"), "123", 48000)
	if err != nil {
		t.Fatalf("RequestUploadSlot: %v", err)
	}
	want := voicemsg.UploadSlot{
		UploadURL:        "https://up.example/put/1",
		UploadedFilename: "uploads/1/voice-message.ogg",
	}
	if diff := cmp.Diff(want, slot); diff != "" {
		t.Errorf("slot mismatch (-want +got):\n%s", diff)
	}
}

func TestRequestUploadSlot_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantNetwork  bool
		wantProtocol bool
		wantInMsg    string
	}{
		{"forbidden", http.StatusForbidden, `{"message":"Missing Access","code":50001}`, true, false, "403"},
		{"server error", http.StatusInternalServerError, ``, true, false, "500"},
		{"empty attachments", http.StatusOK, `{"attachments":[]}`, false, true, "no attachments"},
		{"missing attachments key", http.StatusOK, `{}`, false, true, "no attachments"},
		{"missing upload url", http.StatusOK, `{"attachments":[{"upload_filename":"x"}]}`, false, true, "upload_url"},
		{"not json", http.StatusOK, `<html>`, false, true, "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.RequestUploadSlot(context.Background(), BotToken("tok"), "123", 1)
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var netErr *voicemsg.NetworkError
			var protoErr *voicemsg.ProtocolError
			if got := errors.As(err, &netErr); got != tt.wantNetwork {
				t.Errorf("NetworkError = %v, want %v (err: %v)", got, tt.wantNetwork, err)
			}
			if got := errors.As(err, &protoErr); got != tt.wantProtocol {
				t.Errorf("ProtocolError = %v, want %v (err: %v)", got, tt.wantProtocol, err)
			}
			if netErr != nil && netErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", netErr.StatusCode, tt.status)
			}
			if !strings.Contains(err.Error(), tt.wantInMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantInMsg)
			}
		})
	}
}

func TestRequestUploadSlot_MissingCredential(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := c.RequestUploadSlot(context.Background(), Credential{}, "123", 1)
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
	if calls.Load() != 0 {
		t.Errorf("server received %d requests, want 0", calls.Load())
	}
}

func TestRequestUploadSlot_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(WithBaseURL(url))
	_, err := c.RequestUploadSlot(context.Background(), BotToken("tok"), "123", 1)

	var netErr *voicemsg.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if netErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for transport failure", netErr.StatusCode)
	}
}

func TestUploadBytes(t *testing.T) {
	t.Parallel()

	data := []byte("ID3\x04fake mp3 bytes")
	var got []byte
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "audio/mpeg" {
			t.Errorf("Content-Type = %q, want audio/mpeg", ct)
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			t.Errorf("Authorization = %q, want none on pre-signed upload", auth)
		}
		got, _ = io.ReadAll(r.Body)
	})

	if err := c.UploadBytes(context.Background(), srv.URL+"/bucket/obj?sig=1", data); err != nil {
		t.Fatalf("UploadBytes: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("uploaded %q, want %q", got, data)
	}
}

func TestUploadBytes_NonSuccess(t *testing.T) {
	t.Parallel()

	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	})

	err := c.UploadBytes(context.Background(), srv.URL+"/obj", []byte("x"))
	var netErr *voicemsg.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
	if netErr.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("StatusCode = %d, want 413", netErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "413") {
		t.Errorf("error %q should contain status code", err)
	}
}

func TestPostVoiceMessage_Success(t *testing.T) {
	t.Parallel()

	att := voicemsg.VoiceAttachment{
		ID:               "0",
		Filename:         "voice-message.ogg",
		UploadedFilename: "uploads/1/voice-message.ogg",
		DurationSecs:     3,
		Waveform:         "AAEC",
	}

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v10/channels/chan-9/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "user-token" {
			t.Errorf("Authorization = %q", got)
		}

		var body struct {
			Flags       int                        `json:"flags"`
			Attachments []voicemsg.VoiceAttachment `json:"attachments"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Flags != 1<<13 {
			t.Errorf("flags = %d, want %d", body.Flags, 1<<13)
		}
		if diff := cmp.Diff([]voicemsg.VoiceAttachment{att}, body.Attachments); diff != "" {
			t.Errorf("attachments mismatch (-want +got):\n%s", diff)
		}

		_, _ = io.WriteString(w, `{"id":"msg-1","channel_id":"chan-9","flags":8192,"attachments":[{"id":"a1","filename":"voice-message.ogg"}]}`)
	})

	msg, err := c.PostVoiceMessage(context.Background(), UserToken("user-token"), "chan-9", att)
	if err != nil {
		t.Fatalf("PostVoiceMessage: %v", err)
	}
	if msg.ID != "msg-1" {
		t.Errorf("ID = %q, want msg-1", msg.ID)
	}
	if msg.Flags&discordgo.MessageFlagsIsVoiceMessage == 0 {
		t.Error("returned message is missing the voice-message flag")
	}
	if len(msg.Attachments) != 1 {
		t.Errorf("attachments = %d, want 1", len(msg.Attachments))
	}
}

func TestPostVoiceMessage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		status       int
		body         string
		wantProtocol bool
		wantInMsg    []string
	}{
		{
			name:         "discord error body",
			status:       http.StatusBadRequest,
			body:         `{"code":50035,"message":"Invalid Form Body"}`,
			wantProtocol: true,
			wantInMsg:    []string{"400", "Invalid Form Body"},
		},
		{
			name:         "plain text body",
			status:       http.StatusBadGateway,
			body:         `upstream down`,
			wantProtocol: true,
			wantInMsg:    []string{"502", "upstream down"},
		},
		{
			name:         "empty body",
			status:       http.StatusServiceUnavailable,
			body:         ``,
			wantProtocol: false,
			wantInMsg:    []string{"503"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.PostVoiceMessage(context.Background(), BotToken("tok"), "c", voicemsg.VoiceAttachment{})
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var protoErr *voicemsg.ProtocolError
			var netErr *voicemsg.NetworkError
			if got := errors.As(err, &protoErr); got != tt.wantProtocol {
				t.Errorf("ProtocolError = %v, want %v (err: %v)", got, tt.wantProtocol, err)
			}
			if got := errors.As(err, &netErr); got == tt.wantProtocol {
				t.Errorf("NetworkError = %v, want %v (err: %v)", got, !tt.wantProtocol, err)
			}
			for _, want := range tt.wantInMsg {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q should contain %q", err, want)
				}
			}
		})
	}
}

func TestPostVoiceMessage_APIErrorParsed(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":50013,"message":"Missing Permissions"}`)
	})

	_, err := c.PostVoiceMessage(context.Background(), BotToken("tok"), "c", voicemsg.VoiceAttachment{})
	var protoErr *voicemsg.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if protoErr.APIError == nil {
		t.Fatal("APIError is nil")
	}
	if protoErr.APIError.Code != 50013 {
		t.Errorf("APIError.Code = %d, want 50013", protoErr.APIError.Code)
	}
}

func TestRateLimiter_SharedBucketWaits(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset-After", "0.3")
		_, _ = io.WriteString(w, `{"attachments":[{"upload_url":"https://up.example/1","upload_filename":"u/1"}]}`)
	}))
	t.Cleanup(srv.Close)

	rl := discordgo.NewRatelimiter()
	c := New(WithBaseURL(srv.URL+"/api"), WithRateLimiter(rl))

	if _, err := c.RequestUploadSlot(context.Background(), BotToken("tok"), "42", 10); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if b := rl.GetBucket(discordgo.EndpointChannel("42") + "/attachments"); b.Remaining != 0 {
		t.Errorf("shared bucket Remaining = %d, want 0", b.Remaining)
	}

	start := time.Now()
	if _, err := c.RequestUploadSlot(context.Background(), BotToken("tok"), "42", 10); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("second call took %v, want it to wait for the bucket reset", elapsed)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v10/gateway" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"url":"wss://gateway.discord.gg"}`)
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c := New()
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", c.BaseURL(), DefaultBaseURL)
	}
	if got := c.endpoint("channels", "1", "messages"); got != "https://discord.com/api/v10/channels/1/messages" {
		t.Errorf("endpoint = %q", got)
	}

	c = New(WithBaseURL("http://proxy.local/api/"), WithTimeout(time.Second))
	if c.BaseURL() != "http://proxy.local/api" {
		t.Errorf("trailing slash not trimmed: %q", c.BaseURL())
	}
	if c.httpClient.Timeout != time.Second {
		t.Errorf("Timeout = %v, want 1s", c.httpClient.Timeout)
	}
}
