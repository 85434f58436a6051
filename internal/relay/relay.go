package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skypro1111/genai-relay/internal/audio"
	"github.com/skypro1111/genai-relay/internal/gemini"
	"github.com/skypro1111/genai-relay/internal/metrics"
	"github.com/skypro1111/genai-relay/internal/text"
)

// ErrInvalidRequest marks caller mistakes such as a blank prompt.
var ErrInvalidRequest = errors.New("invalid request")

// WAVMIMEType is reported for every synthesized clip.
const WAVMIMEType = "audio/wav"

// Generator is implemented by *gemini.Client.
type Generator interface {
	GenerateText(ctx context.Context, req *gemini.TextRequest) (string, error)
	Synthesize(ctx context.Context, text, voice string) (*gemini.Speech, error)
}

// Options holds the per-deployment prompt and audio settings.
type Options struct {
	// PlainTextInstruction is sent with every chat request.
	PlainTextInstruction string
	// TranscriptionLanguage is the language tag named in the transcription prompt.
	TranscriptionLanguage string
	DefaultVoice          string
	// Format describes the speech model's PCM output.
	Format audio.FormatParams
}

// Message is one entry of a client-held conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Attachment is an uploaded file passed inline to the model.
type Attachment struct {
	Data     []byte
	MIMEType string
}

// SpeechResult is a WAV clip ready for a JSON response.
type SpeechResult struct {
	AudioBase64 string `json:"audioBase64"`
	MIMEType    string `json:"mimeType"`
}

// Relay turns client requests into model calls and shapes the replies.
type Relay struct {
	gen     Generator
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a relay. m may be nil.
func New(gen Generator, opts Options, m *metrics.Metrics, logger *slog.Logger) (*Relay, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator cannot be nil")
	}

	if err := opts.Format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid speech format: %w", err)
	}

	if opts.DefaultVoice == "" {
		return nil, fmt.Errorf("default voice cannot be empty")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Relay{
		gen:     gen,
		opts:    opts,
		metrics: m,
		logger:  logger.With(slog.String("component", "relay")),
	}, nil
}

// Chat answers a single prompt.
func (r *Relay) Chat(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: field \"prompt\" is required", ErrInvalidRequest)
	}

	return r.generate(ctx, &gemini.TextRequest{
		Turns: []gemini.Turn{{
			Role: gemini.RoleUser,
			Parts: []gemini.Part{
				gemini.TextPart(r.opts.PlainTextInstruction),
				gemini.TextPart(prompt),
			},
		}},
	})
}

// ChatImage answers a prompt about an image. The prompt may be empty.
func (r *Relay) ChatImage(ctx context.Context, image Attachment, prompt string) (string, error) {
	if len(image.Data) == 0 {
		return "", fmt.Errorf("%w: field \"image\" is required", ErrInvalidRequest)
	}

	return r.generate(ctx, &gemini.TextRequest{
		Turns: []gemini.Turn{{
			Role: gemini.RoleUser,
			Parts: []gemini.Part{
				gemini.BlobPart(image.Data, image.MIMEType),
				gemini.TextPart(r.opts.PlainTextInstruction),
				gemini.TextPart(prompt),
			},
		}},
	})
}

// Converse continues a conversation held by the client. Any role other than
// "model" is sent as "user".
func (r *Relay) Converse(ctx context.Context, messages []Message, system string) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: messages[] is required", ErrInvalidRequest)
	}

	turns := make([]gemini.Turn, 0, len(messages))
	for _, m := range messages {
		role := gemini.RoleUser
		if m.Role == gemini.RoleModel {
			role = gemini.RoleModel
		}
		turns = append(turns, gemini.Turn{
			Role:  role,
			Parts: []gemini.Part{gemini.TextPart(m.Content)},
		})
	}

	instruction := r.opts.PlainTextInstruction
	if system != "" {
		instruction = system + " " + instruction
	}

	return r.generate(ctx, &gemini.TextRequest{System: instruction, Turns: turns})
}

// Transcribe returns the speech in an audio clip as plain text.
func (r *Relay) Transcribe(ctx context.Context, clip Attachment) (string, error) {
	if len(clip.Data) == 0 {
		return "", fmt.Errorf("%w: field \"audio\" is required", ErrInvalidRequest)
	}

	mimeType := clip.MIMEType
	if mimeType == "" {
		mimeType = "audio/wav"
	}

	return r.generate(ctx, &gemini.TextRequest{
		Turns: []gemini.Turn{{
			Role: gemini.RoleUser,
			Parts: []gemini.Part{
				gemini.BlobPart(clip.Data, mimeType),
				gemini.TextPart(r.TranscriptionPrompt()),
			},
		}},
	})
}

// TranscriptionPrompt is the instruction sent alongside audio.
func (r *Relay) TranscriptionPrompt() string {
	return fmt.Sprintf("Transcribe the audio in %s. Output: plain text, without comments.",
		r.opts.TranscriptionLanguage)
}

// Speak synthesizes text and wraps the PCM in a WAV container. An empty voice
// selects the default.
func (r *Relay) Speak(ctx context.Context, input, voice string) (*SpeechResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("%w: field \"text\" is required", ErrInvalidRequest)
	}

	if voice == "" {
		voice = r.opts.DefaultVoice
	}

	speech, err := r.gen.Synthesize(ctx, input, voice)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}

	if err := audio.ValidatePCM(speech.PCM, r.opts.Format.Channels); err != nil {
		// The payload is still wrapped as-is.
		r.logger.Warn("Speech model returned malformed PCM",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(speech.PCM)),
			slog.String("mime_type", speech.MIMEType),
		)
	}

	wav, err := audio.EncodeWAV(speech.PCM, r.opts.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode WAV: %w", err)
	}

	if r.metrics != nil {
		r.metrics.RecordWAVEncoded(len(wav))
	}

	duration, _ := audio.GetWAVDuration(wav)
	r.logger.Debug("Speech synthesized",
		slog.String("voice", voice),
		slog.Int("pcm_bytes", len(speech.PCM)),
		slog.Int("wav_bytes", len(wav)),
		slog.Float64("duration_seconds", duration),
	)

	return &SpeechResult{
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
		MIMEType:    WAVMIMEType,
	}, nil
}

// generate calls the chat model and strips Markdown from the reply.
func (r *Relay) generate(ctx context.Context, req *gemini.TextRequest) (string, error) {
	reply, err := r.gen.GenerateText(ctx, req)
	if err != nil {
		return "", err
	}

	plain := text.StripMarkdown(reply)

	if r.metrics != nil {
		r.metrics.RecordMarkdownStripped(len(reply), len(plain))
	}

	return plain, nil
}
