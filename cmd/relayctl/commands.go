package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/genai-relay/internal/audio"
	"github.com/skypro1111/genai-relay/internal/text"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Local tools for the Gemini relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newWAVCmd(), newPCMCmd(), newInfoCmd(), newStripCmd())
	return root
}

func newWAVCmd() *cobra.Command {
	var (
		input    string
		output   string
		rate     int
		channels int
	)

	cmd := &cobra.Command{
		Use:   "wav",
		Short: "Wrap raw PCM16 in a WAV container",
		Long: `Wrap raw signed 16-bit little-endian PCM in a 44-byte RIFF/WAVE header.

The payload is copied verbatim. A length that is not a whole number of
frames is reported as a warning and still encoded.

Example:
  relayctl wav -i speech.pcm -o speech.wav --rate 24000 --channels 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pcm, err := readInput(cmd, input)
			if err != nil {
				return err
			}

			params := audio.FormatParams{SampleRate: rate, Channels: channels}
			if err := params.Validate(); err != nil {
				return err
			}

			if err := audio.ValidatePCM(pcm, channels); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", err)
			}

			wav, err := audio.EncodeWAV(pcm, params)
			if err != nil {
				return err
			}

			return writeOutput(cmd, output, wav)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "PCM input file")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "WAV output file")
	cmd.Flags().IntVar(&rate, "rate", audio.DefaultSampleRate, "Sample rate in Hz")
	cmd.Flags().IntVar(&channels, "channels", audio.DefaultChannels, "Interleaved channel count")
	return cmd
}

func newPCMCmd() *cobra.Command {
	var (
		input  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "pcm",
		Short: "Extract raw PCM16 from a WAV file",
		Long: `Strip the 44-byte RIFF/WAVE header and write the PCM payload.

The format is printed to stderr so the payload can be wrapped again with
"relayctl wav".

Example:
  relayctl pcm -i speech.wav -o speech.pcm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, input)
			if err != nil {
				return err
			}

			pcm, params, err := audio.DecodeWAV(data)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Format: %d Hz, %d channel(s), 16-bit\n", params.SampleRate, params.Channels)
			return writeOutput(cmd, output, pcm)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "-", "WAV input file")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "PCM output file")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [file.wav]",
		Short: "Print the header of a WAV file as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, argOrStdin(args))
			if err != nil {
				return err
			}

			info, err := audio.GetWAVInfo(data)
			if err != nil {
				return err
			}

			if _, _, err := audio.DecodeWAV(data); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning:", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

func newStripCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "strip [file]",
		Short: "Reduce Markdown to plain text the way chat replies are",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, argOrStdin(args))
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), text.StripMarkdown(string(data)))
			return err
		},
	}
}

func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" || path == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("input file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" || path == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(data), path)
	return nil
}
