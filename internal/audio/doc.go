// Package audio handles PCM-16 audio containers.
// It wraps raw interleaved little-endian PCM returned by the speech model in a
// canonical 44-byte RIFF/WAVE header and reads such headers back for inspection.
package audio
