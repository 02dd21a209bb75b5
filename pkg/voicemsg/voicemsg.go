// Package voicemsg defines the data model shared by every stage of the
// MP3-to-voice-message pipeline: the pending files handed in by the caller,
// the upload slot Discord hands back, and the attachment that is finally
// posted with the voice-message flag.
//
// The package has no I/O. Network clients live in pkg/discordrest and the
// orchestration in internal/convert; both depend on the types defined here
// so that callers can inspect results and errors without importing them.
package voicemsg

import (
	"io"
	"strings"
)

const (
	// AttachmentID is the placeholder attachment id used for the single
	// attachment in both the negotiation and the message request.
	AttachmentID = "0"

	// AttachmentFilename is the filename Discord sees for every voice
	// message, regardless of the real source filename.
	AttachmentFilename = "voice-message.ogg"

	// MP3MIMEType is the MIME type used both for classification and for the
	// binary upload's Content-Type header.
	MP3MIMEType = "audio/mpeg"

	mp3Suffix = ".mp3"
)

// PendingFile is one item of an outgoing upload, as supplied by the caller.
// It is consumed once and never modified.
type PendingFile struct {
	// Filename is the name the user picked for the file.
	Filename string

	// MIMEType is the declared MIME type, if known.
	MIMEType string

	// Type is a second MIME hint some sources carry next to MIMEType
	// (browser File objects, multipart part headers).
	Type string

	// Reader yields the raw file bytes. It is read to EOF exactly once.
	Reader io.Reader
}

// IsMP3 reports whether f should be sent as a voice message.
func (f PendingFile) IsMP3() bool {
	return IsMP3(f.Filename, f.MIMEType, f.Type)
}

// IsMP3 classifies a file as MP3 when its lowercased name ends in ".mp3" or
// either MIME hint equals "audio/mpeg".
func IsMP3(filename, mimeType, typ string) bool {
	return strings.HasSuffix(strings.ToLower(filename), mp3Suffix) ||
		mimeType == MP3MIMEType ||
		typ == MP3MIMEType
}

// SplitMP3 partitions files into MP3 files and everything else. Both slices
// keep the input order and the original values.
func SplitMP3(files []PendingFile) (mp3s, rest []PendingFile) {
	for _, f := range files {
		if f.IsMP3() {
			mp3s = append(mp3s, f)
		} else {
			rest = append(rest, f)
		}
	}
	return mp3s, rest
}

// UploadSlot is a pre-signed destination obtained from the attachment
// negotiation endpoint. It is valid for exactly one PUT.
type UploadSlot struct {
	// UploadURL is the pre-signed PUT destination.
	UploadURL string

	// UploadedFilename is the opaque server-assigned object name that the
	// message request refers back to.
	UploadedFilename string
}

// VoiceAttachment is the attachment object posted with a voice message.
type VoiceAttachment struct {
	ID               string `json:"id"`
	Filename         string `json:"filename"`
	UploadedFilename string `json:"uploaded_filename"`
	DurationSecs     int    `json:"duration_secs"`
	Waveform         string `json:"waveform"`
}

// NewVoiceAttachment builds the attachment for an uploaded slot using the
// fixed id and filename conventions.
func NewVoiceAttachment(slot UploadSlot, d Descriptor) VoiceAttachment {
	return VoiceAttachment{
		ID:               AttachmentID,
		Filename:         AttachmentFilename,
		UploadedFilename: slot.UploadedFilename,
		DurationSecs:     d.DurationSecs,
		Waveform:         d.Waveform,
	}
}
