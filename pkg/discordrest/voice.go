package discordrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mp3voice/pkg/voicemsg"
)

const (
	opNegotiate = "negotiate upload"
	opUpload    = "upload bytes"
	opPost      = "post voice message"
)

// ---- wire types ----

// uploadRequest is the body of POST /channels/{id}/attachments.
type uploadRequest struct {
	Files []uploadFile `json:"files"`
}

type uploadFile struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	ID       string `json:"id"`
}

// uploadResponse is the reply of POST /channels/{id}/attachments.
type uploadResponse struct {
	Attachments []struct {
		UploadURL      string `json:"upload_url"`
		UploadFilename string `json:"upload_filename"`
	} `json:"attachments"`
}

// messageRequest is the body of POST /channels/{id}/messages for a voice
// message.
type messageRequest struct {
	Flags       discordgo.MessageFlags      `json:"flags"`
	Attachments []voicemsg.VoiceAttachment `json:"attachments"`
}

// buildUploadRequest returns the negotiation body for a file of size bytes.
func buildUploadRequest(size int64) ([]byte, error) {
	return json.Marshal(uploadRequest{
		Files: []uploadFile{{
			Filename: voicemsg.AttachmentFilename,
			FileSize: size,
			ID:       voicemsg.AttachmentID,
		}},
	})
}

// buildMessageRequest returns the message body carrying att and the
// voice-message flag.
func buildMessageRequest(att voicemsg.VoiceAttachment) ([]byte, error) {
	return json.Marshal(messageRequest{
		Flags:       discordgo.MessageFlagsIsVoiceMessage,
		Attachments: []voicemsg.VoiceAttachment{att},
	})
}

// parseUploadResponse extracts the first upload slot from a negotiation
// response body.
func parseUploadResponse(status int, body []byte) (voicemsg.UploadSlot, error) {
	var parsed uploadResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return voicemsg.UploadSlot{}, &voicemsg.ProtocolError{
			Op: opNegotiate, StatusCode: status, Body: truncateBody(body),
			Reason: "invalid JSON: " + err.Error(),
		}
	}
	if len(parsed.Attachments) == 0 {
		return voicemsg.UploadSlot{}, &voicemsg.ProtocolError{
			Op: opNegotiate, StatusCode: status, Reason: "no attachments in response",
		}
	}
	first := parsed.Attachments[0]
	if first.UploadURL == "" || first.UploadFilename == "" {
		return voicemsg.UploadSlot{}, &voicemsg.ProtocolError{
			Op: opNegotiate, StatusCode: status, Body: truncateBody(body),
			Reason: "attachment is missing upload_url or upload_filename",
		}
	}
	return voicemsg.UploadSlot{
		UploadURL:        first.UploadURL,
		UploadedFilename: first.UploadFilename,
	}, nil
}

// parseAPIError decodes Discord's {code, message} error body, if present.
func parseAPIError(body []byte) *discordgo.APIErrorMessage {
	var apiErr discordgo.APIErrorMessage
	if err := json.Unmarshal(body, &apiErr); err != nil || (apiErr.Code == 0 && apiErr.Message == "") {
		return nil
	}
	return &apiErr
}

// ---- operations ----

// RequestUploadSlot asks Discord for a pre-signed upload destination for one
// voice-message file of size bytes in channelID.
//
// Errors are *voicemsg.NetworkError for transport failures and non-success
// statuses, and *voicemsg.ProtocolError when the response lacks a usable
// attachment.
func (c *Client) RequestUploadSlot(ctx context.Context, cred Credential, channelID string, size int64) (voicemsg.UploadSlot, error) {
	if channelID == "" {
		return voicemsg.UploadSlot{}, errors.New("discordrest: channelID must not be empty")
	}
	payload, err := buildUploadRequest(size)
	if err != nil {
		return voicemsg.UploadSlot{}, fmt.Errorf("discordrest: encode upload request: %w", err)
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoint("channels", channelID, "attachments"), cred, payload)
	if err != nil {
		return voicemsg.UploadSlot{}, err
	}

	resp, err := c.do(req, discordgo.EndpointChannel(channelID)+"/attachments")
	if err != nil {
		return voicemsg.UploadSlot{}, &voicemsg.NetworkError{Op: opNegotiate, Err: err}
	}
	if !resp.ok() {
		return voicemsg.UploadSlot{}, &voicemsg.NetworkError{Op: opNegotiate, StatusCode: resp.status}
	}
	if resp.readErr != nil {
		return voicemsg.UploadSlot{}, &voicemsg.NetworkError{Op: opNegotiate, StatusCode: resp.status, Err: resp.readErr}
	}
	return parseUploadResponse(resp.status, resp.body)
}

// UploadBytes PUTs data to a pre-signed uploadURL. The URL carries its own
// authorisation, so no credential is sent. The Content-Type is always
// audio/mpeg even though the message later names the file ".ogg"; Discord's
// voice player does not re-check the codec.
func (c *Client) UploadBytes(ctx context.Context, uploadURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("discordrest: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", voicemsg.MP3MIMEType)
	req.ContentLength = int64(len(data))

	resp, err := c.do(req, "")
	if err != nil {
		return &voicemsg.NetworkError{Op: opUpload, Err: err}
	}
	if !resp.ok() {
		return &voicemsg.NetworkError{Op: opUpload, StatusCode: resp.status}
	}
	return nil
}

// PostVoiceMessage creates a message in channelID that carries att with the
// voice-message flag set, and returns the created message.
//
// A non-success status yields *voicemsg.ProtocolError when the server sent a
// readable error body and *voicemsg.NetworkError when it did not.
func (c *Client) PostVoiceMessage(ctx context.Context, cred Credential, channelID string, att voicemsg.VoiceAttachment) (*discordgo.Message, error) {
	if channelID == "" {
		return nil, errors.New("discordrest: channelID must not be empty")
	}
	payload, err := buildMessageRequest(att)
	if err != nil {
		return nil, fmt.Errorf("discordrest: encode message request: %w", err)
	}

	req, err := c.newJSONRequest(ctx, http.MethodPost, c.endpoint("channels", channelID, "messages"), cred, payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req, discordgo.EndpointChannelMessages(channelID))
	if err != nil {
		return nil, &voicemsg.NetworkError{Op: opPost, Err: err}
	}

	if !resp.ok() {
		if resp.readErr != nil || len(resp.body) == 0 {
			return nil, &voicemsg.NetworkError{Op: opPost, StatusCode: resp.status, Err: resp.readErr}
		}
		return nil, &voicemsg.ProtocolError{
			Op:         opPost,
			StatusCode: resp.status,
			Body:       truncateBody(resp.body),
			APIError:   parseAPIError(resp.body),
		}
	}
	if resp.readErr != nil {
		return nil, &voicemsg.NetworkError{Op: opPost, StatusCode: resp.status, Err: resp.readErr}
	}

	var msg discordgo.Message
	if err := json.Unmarshal(resp.body, &msg); err != nil {
		return nil, &voicemsg.ProtocolError{
			Op: opPost, StatusCode: resp.status, Body: truncateBody(resp.body),
			Reason: "invalid message JSON: " + err.Error(),
		}
	}
	return &msg, nil
}
