// Command mockgemini serves a fake Gemini generateContent endpoint so the
// relay can run without network access or an API key.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/genai-relay/internal/gemini/geminitest"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9090", "Listen address")
	reply := flag.String("reply", "", "Fixed text reply (default: echo the prompt in Markdown)")
	toneSeconds := flag.Float64("tone", 1.0, "Length of the synthesized tone in seconds")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	h := geminitest.NewHandler()
	if *reply != "" {
		h.TextReply = func(*geminitest.Request) string { return *reply }
	}
	h.SpeechPCM = func(*geminitest.Request) []byte {
		return geminitest.Tone(24000, *toneSeconds)
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		time.Sleep(*delay)
		h.ServeHTTP(w, r)

		reqs := h.Requests()
		if len(reqs) == 0 {
			return
		}
		last := reqs[len(reqs)-1]
		logger.Info("generateContent",
			slog.String("model", last.Model),
			slog.Bool("audio", last.WantsAudio()),
			slog.String("voice", last.Voice),
			slog.Int("contents", len(last.Contents)),
			slog.Bool("system", last.System != ""),
			slog.Duration("elapsed", time.Since(start)),
		)
	})

	logger.Info("Mock Gemini server starting", slog.String("address", *addr))
	logger.Info("Point the relay at it with GEMINI_BASE_URL=http://" + *addr)

	if err := http.ListenAndServe(*addr, handler); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
