package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// WAVHeaderSize is the size of the canonical PCM WAV header.
	WAVHeaderSize = 44

	// BitsPerSample is fixed: every payload handled here is signed 16-bit PCM.
	BitsPerSample = 16

	bytesPerSample = BitsPerSample / 8

	// DefaultSampleRate matches the speech model's PCM output.
	DefaultSampleRate = 24000
	// DefaultChannels is mono.
	DefaultChannels = 1
)

var (
	// ErrInvalidFormatParams is returned when the sample rate or channel count
	// cannot be written into a valid WAV header.
	ErrInvalidFormatParams = errors.New("invalid audio format params")

	// ErrMalformedPCM is reported by ValidatePCM when a buffer is not a whole
	// number of frames.
	ErrMalformedPCM = errors.New("malformed PCM buffer")
)

// FormatParams describes interleaved 16-bit little-endian PCM.
type FormatParams struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
}

// DefaultFormatParams returns 24 kHz mono.
func DefaultFormatParams() FormatParams {
	return FormatParams{SampleRate: DefaultSampleRate, Channels: DefaultChannels}
}

// BlockAlign is the size of one frame in bytes.
func (p FormatParams) BlockAlign() int {
	return p.Channels * bytesPerSample
}

// ByteRate is the number of payload bytes per second.
func (p FormatParams) ByteRate() int {
	return p.SampleRate * p.Channels * bytesPerSample
}

// Validate checks that the params fit the header fields.
func (p FormatParams) Validate() error {
	if p.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidFormatParams, p.SampleRate)
	}
	if p.Channels <= 0 {
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidFormatParams, p.Channels)
	}
	if p.Channels > math.MaxUint16/bytesPerSample {
		return fmt.Errorf("%w: too many channels: %d", ErrInvalidFormatParams, p.Channels)
	}
	if uint64(p.SampleRate)*uint64(p.Channels)*bytesPerSample > math.MaxUint32 {
		return fmt.Errorf("%w: byte rate overflows header (rate %d, channels %d)",
			ErrInvalidFormatParams, p.SampleRate, p.Channels)
	}
	return nil
}

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newWAVHeader builds the header for dataSize bytes of PCM described by p.
// p must already be valid.
func newWAVHeader(p FormatParams, dataSize uint32) WAVHeader {
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(p.Channels),
		SampleRate:    uint32(p.SampleRate),
		ByteRate:      uint32(p.ByteRate()),
		BlockAlign:    uint16(p.BlockAlign()),
		BitsPerSample: BitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV wraps raw interleaved PCM-16 bytes in a RIFF/WAVE container.
//
// The payload is copied verbatim after the 44-byte header; sample content
// and frame alignment are not checked (see ValidatePCM). An empty buffer
// produces a bare header with zero data size.
func EncodeWAV(pcm []byte, params FormatParams) ([]byte, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	if uint64(len(pcm)) > math.MaxUint32-36 {
		return nil, fmt.Errorf("%w: PCM payload too large for a WAV container: %d bytes",
			ErrInvalidFormatParams, len(pcm))
	}

	header := newWAVHeader(params, uint32(len(pcm)))

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	buf.Write(pcm)

	return buf.Bytes(), nil
}

// ValidatePCM reports ErrMalformedPCM when len(pcm) is not a multiple of
// the frame size for the given channel count.
func ValidatePCM(pcm []byte, channels int) error {
	if channels <= 0 {
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidFormatParams, channels)
	}
	frame := channels * bytesPerSample
	if rem := len(pcm) % frame; rem != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte frame (%d trailing)",
			ErrMalformedPCM, len(pcm), frame, rem)
	}
	return nil
}

// ParseWAVHeader reads the canonical 44-byte header back out of data.
func ParseWAVHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	return &header, nil
}

// DecodeWAV returns the PCM payload and its format params.
func DecodeWAV(data []byte) ([]byte, FormatParams, error) {
	header, err := ParseWAVHeader(data)
	if err != nil {
		return nil, FormatParams{}, err
	}

	if header.AudioFormat != 1 {
		return nil, FormatParams{}, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != BitsPerSample {
		return nil, FormatParams{}, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	end := WAVHeaderSize + int(header.Subchunk2Size)
	if end > len(data) {
		return nil, FormatParams{}, fmt.Errorf("WAV data truncated: header declares %d bytes, have %d",
			header.Subchunk2Size, len(data)-WAVHeaderSize)
	}

	params := FormatParams{SampleRate: int(header.SampleRate), Channels: int(header.NumChannels)}
	return data[WAVHeaderSize:end], params, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo is a summary of a WAV header.
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	header, err := ParseWAVHeader(data)
	if err != nil {
		return nil, err
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid block align: 0")
	}

	numFrames := header.Subchunk2Size / uint32(header.BlockAlign)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numFrames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}
