package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/skypro1111/genai-relay/internal/relay"
	"github.com/skypro1111/genai-relay/internal/upload"
)

// formOverhead is the room left for boundaries and text fields on top of a
// route's file limit.
const formOverhead = 2 << 20

var errBadJSON = errors.New("invalid JSON body")

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type converseRequest struct {
	Messages []relay.Message `json:"messages"`
	System   string          `json:"system"`
}

type ttsRequest struct {
	Text      string `json:"text"`
	VoiceName string `json:"voiceName"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

type transcriptResponse struct {
	Text string `json:"text"`
}

// handleChat implements POST /chat
func (h *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req chatRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	reply, err := h.relay.Chat(r.Context(), req.Prompt)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

// handleChatImage implements POST /chat-image
func (h *HTTPServer) handleChatImage(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	policy := upload.ImagePolicy(h.config.Uploads.ImageMaxBytes)
	r.Body = http.MaxBytesReader(w, r.Body, policy.MaxBytes+formOverhead)

	up, err := h.uploads.Receive(r, policy)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data, err := up.File.ReadAndRemove()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	reply, err := h.relay.ChatImage(r.Context(),
		relay.Attachment{Data: data, MIMEType: up.File.MIMEType}, up.Fields["prompt"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

// handleConverse implements POST /chat-converse and its /api/claude/chat alias
func (h *HTTPServer) handleConverse(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req converseRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	reply, err := h.relay.Converse(r.Context(), req.Messages, req.System)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

// handleSTT implements POST /stt
func (h *HTTPServer) handleSTT(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	policy := upload.AudioPolicy(h.config.Uploads.AudioMaxBytes)
	r.Body = http.MaxBytesReader(w, r.Body, policy.MaxBytes+formOverhead)

	up, err := h.uploads.Receive(r, policy)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data, err := up.File.ReadAndRemove()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	text, err := h.relay.Transcribe(r.Context(), relay.Attachment{Data: data, MIMEType: up.File.MIMEType})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, transcriptResponse{Text: text})
}

// handleTTS implements POST /tts
func (h *HTTPServer) handleTTS(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req ttsRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.relay.Speak(r.Context(), req.Text, req.VoiceName)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// decodeJSON reads a size-limited JSON body into dst. An empty body leaves
// dst untouched so the relay reports the missing field.
func (h *HTTPServer) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, h.config.HTTP.JSONBodyLimit)

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}

		return fmt.Errorf("%w: %v", errBadJSON, err)
	}

	return nil
}

// statusFor maps an error to the HTTP status returned to the client.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError

	switch {
	case errors.Is(err, relay.ErrInvalidRequest),
		errors.Is(err, upload.ErrMissingFile),
		errors.Is(err, upload.ErrUnsupportedType),
		errors.Is(err, errBadJSON):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrFileTooLarge), errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// fail logs err and writes it as a JSON error body.
func (h *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Request failed",
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)

	writeError(w, status, err.Error())
}
