// Command relayctl exposes the relay's local transforms on the command line.
//
// Usage:
//
//	relayctl wav   -i speech.pcm -o speech.wav [--rate 24000] [--channels 1]
//	relayctl info  speech.wav
//	relayctl strip [reply.md]
//
// "-" or an omitted path means stdin or stdout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
