package gemini

import (
	"errors"
	"fmt"
	"net/http"
)

// Roles accepted by the generative API.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Operation labels an upstream call in stats and metrics.
type Operation string

const (
	OperationText   Operation = "text"
	OperationSpeech Operation = "speech"
)

var (
	// ErrEmptyResponse is returned when the model produced no candidate.
	ErrEmptyResponse = errors.New("model returned no candidates")

	// ErrNoAudio is returned when a speech response carries no inline audio.
	ErrNoAudio = errors.New("speech response contained no audio")
)

// Part is either text or inline binary data.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// TextPart returns a text part.
func TextPart(s string) Part {
	return Part{Text: s}
}

// BlobPart returns an inline data part.
func BlobPart(data []byte, mimeType string) Part {
	return Part{Data: data, MIMEType: mimeType}
}

// Turn is one message in a conversation.
type Turn struct {
	Role  string
	Parts []Part
}

// TextRequest asks the chat model for a text reply.
type TextRequest struct {
	// System is sent as the system instruction when non-empty.
	System string
	Turns  []Turn
}

// Speech is synthesized audio as returned by the speech model.
type Speech struct {
	// PCM is raw signed 16-bit little-endian audio.
	PCM      []byte
	MIMEType string
}

// APIError is an error response from the generative API.
type APIError struct {
	Code    int
	Status  string
	Message string
	Cause   error
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini API error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini API error %d: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the request may succeed when repeated.
func (e *APIError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}
