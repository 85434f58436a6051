// Package geminitest provides a stand-in for the Gemini generateContent
// endpoint. It answers text requests with a canned reply and speech requests
// with raw PCM, and records what it was sent.
package geminitest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// SpeechMIMEType is what the real speech model reports for its PCM output.
const SpeechMIMEType = "audio/L16;codec=pcm;rate=24000"

// Blob is inline data on the wire; JSON carries it as base64.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Part is a content part on the wire.
type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

// Content is a message on the wire.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	SpeechConfig       *struct {
		VoiceConfig *struct {
			PrebuiltVoiceConfig *struct {
				VoiceName string `json:"voiceName"`
			} `json:"prebuiltVoiceConfig"`
		} `json:"voiceConfig"`
	} `json:"speechConfig,omitempty"`
}

type wireRequest struct {
	Contents          []Content        `json:"contents"`
	SystemInstruction *Content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

// Request is a recorded generateContent call.
type Request struct {
	Model              string
	APIKey             string
	Contents           []Content
	System             string
	ResponseMIMEType   string
	ResponseModalities []string
	Voice              string
}

// WantsAudio reports whether the request asked for an audio response.
func (r *Request) WantsAudio() bool {
	for _, m := range r.ResponseModalities {
		if strings.EqualFold(m, "AUDIO") {
			return true
		}
	}
	return false
}

// Texts returns all text parts in order.
func (r *Request) Texts() []string {
	var out []string
	for _, c := range r.Contents {
		for _, p := range c.Parts {
			if p.Text != "" {
				out = append(out, p.Text)
			}
		}
	}
	return out
}

// Handler serves generateContent. The zero value is not usable; call NewHandler.
type Handler struct {
	// TextReply builds the reply for text requests.
	TextReply func(r *Request) string
	// SpeechPCM builds the PCM payload for audio requests. Returning nil
	// produces a candidate without audio.
	SpeechPCM func(r *Request) []byte

	mu       sync.Mutex
	requests []Request
	failures []int
}

// NewHandler returns a handler that echoes the last text part as Markdown and
// answers speech with a short tone.
func NewHandler() *Handler {
	return &Handler{
		TextReply: func(r *Request) string {
			texts := r.Texts()
			if len(texts) == 0 {
				return ""
			}
			return "**Echo:** " + texts[len(texts)-1]
		},
		SpeechPCM: func(r *Request) []byte {
			return Tone(24000, 0.1)
		},
	}
}

// NewServer starts an httptest server around h.
func NewServer(h *Handler) *httptest.Server {
	return httptest.NewServer(h)
}

// FailNext makes the next len(codes) calls fail with the given HTTP statuses.
func (h *Handler) FailNext(codes ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, codes...)
}

// Requests returns a copy of everything received so far.
func (h *Handler) Requests() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Request, len(h.requests))
	copy(out, h.requests)
	return out
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	model, ok := modelFromPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown method "+r.URL.Path)
		return
	}

	var body wireRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}

	req := Request{
		Model:              model,
		APIKey:             r.Header.Get("x-goog-api-key"),
		Contents:           body.Contents,
		ResponseMIMEType:   body.GenerationConfig.ResponseMIMEType,
		ResponseModalities: body.GenerationConfig.ResponseModalities,
	}
	if body.SystemInstruction != nil {
		var parts []string
		for _, p := range body.SystemInstruction.Parts {
			parts = append(parts, p.Text)
		}
		req.System = strings.Join(parts, "")
	}
	if sc := body.GenerationConfig.SpeechConfig; sc != nil && sc.VoiceConfig != nil && sc.VoiceConfig.PrebuiltVoiceConfig != nil {
		req.Voice = sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName
	}

	h.mu.Lock()
	h.requests = append(h.requests, req)
	var failWith int
	if len(h.failures) > 0 {
		failWith = h.failures[0]
		h.failures = h.failures[1:]
	}
	h.mu.Unlock()

	if failWith != 0 {
		writeError(w, failWith, fmt.Sprintf("injected failure %d", failWith))
		return
	}

	var part Part
	if req.WantsAudio() {
		if pcm := h.SpeechPCM(&req); pcm != nil {
			part.InlineData = &Blob{MIMEType: SpeechMIMEType, Data: pcm}
		}
	} else {
		part.Text = h.TextReply(&req)
	}

	resp := map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content":      Content{Role: "model", Parts: []Part{part}},
				"finishReason": "STOP",
				"index":        0,
			},
		},
		"modelVersion": model,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// modelFromPath extracts the model from ".../models/{model}:generateContent".
func modelFromPath(path string) (string, bool) {
	const suffix = ":generateContent"
	if !strings.HasSuffix(path, suffix) {
		return "", false
	}
	path = strings.TrimSuffix(path, suffix)
	i := strings.LastIndex(path, "models/")
	if i < 0 {
		return "", false
	}
	return path[i+len("models/"):], true
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"status":  statusName(code),
		},
	})
}

func statusName(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// Tone returns mono PCM-16 of a 440Hz sine wave.
func Tone(sampleRate int, seconds float64) []byte {
	n := int(float64(sampleRate) * seconds)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		s := int16(8000 * math.Sin(2*math.Pi*440*t))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}
