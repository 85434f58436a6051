// Package gemini is the relay's client for the Gemini generative API.
// It wraps google.golang.org/genai with a concurrency cap, retries with
// exponential backoff, request statistics and metrics.
package gemini
