// Package relay implements the request pipelines behind each HTTP route.
//
// Every chat reply is normalized to plain text with text.StripMarkdown, and
// speech is returned as a base64 WAV built from the model's raw PCM with
// audio.EncodeWAV. The relay keeps no state between calls.
package relay
