package voicemsg

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// NetworkError reports a transport failure or a non-success HTTP status whose
// body could not be used. StatusCode is 0 when no response was received.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a response that was received and read but did not
// have the expected meaning: a non-success status with an error body, or a
// success status whose body lacks required fields.
type ProtocolError struct {
	Op         string
	StatusCode int

	// Body is the raw server text, if any.
	Body string

	// APIError is Discord's structured error, when the body carried one.
	APIError *discordgo.APIErrorMessage

	// Reason describes what was missing or malformed.
	Reason string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	switch {
	case e.APIError != nil && e.APIError.Message != "":
		msg += fmt.Sprintf(" - %s (code %d)", e.APIError.Message, e.APIError.Code)
	case e.Body != "":
		msg += " - " + e.Body
	}
	return msg
}

// IOError reports a failure to read a pending file's bytes.
type IOError struct {
	Filename string
	Err      error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %q: %v", e.Filename, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
