package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Canonical waveform format every uploaded clip is converted to before
// transcription and playback.
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16

	// ContentType is the MIME type used when serving canonical audio.
	ContentType = "audio/wav"

	headerSize = 44
)

// WAVHeader represents the 44-byte header of a linear-PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// EncodePCM encodes mono PCM-16 samples into a canonical WAV container
func EncodePCM(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     headerSize - 8 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   CanonicalChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * CanonicalChannels * CanonicalBitDepth / 8,
		BlockAlign:    CanonicalChannels * CanonicalBitDepth / 8,
		BitsPerSample: CanonicalBitDepth,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// wavFormat is the decoded fmt chunk plus the location of the data chunk
type wavFormat struct {
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataOffset    int
	DataSize      uint32
}

// parseWAV walks the RIFF chunk list to locate the fmt and data chunks.
// Encoders routinely place extra chunks (LIST/INFO metadata, fact) between
// them, so neither sits at a fixed offset.
func parseWAV(data []byte) (*wavFormat, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		format  wavFormat
		haveFmt bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			format.AudioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			format.NumChannels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			format.SampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			format.BitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			if uint64(body)+uint64(size) > uint64(len(data)) {
				// Streaming encoders leave a placeholder size here;
				// clamp to the bytes actually present.
				size = uint32(len(data) - body)
			}
			format.DataOffset = body
			format.DataSize = size
			return &format, nil
		}

		// Chunks are word aligned; odd sizes carry one pad byte.
		pos = body + int(size)
		if size%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// DecodePCM decodes canonical WAV data back to PCM-16 samples, returning
// the samples and the sample rate
func DecodePCM(data []byte) ([]int16, int, error) {
	format, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	if format.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format.AudioFormat)
	}

	if format.BitsPerSample != CanonicalBitDepth {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", format.BitsPerSample)
	}

	if format.NumChannels != CanonicalChannels {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", format.NumChannels)
	}

	numSamples := int(format.DataSize) / 2
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	reader := bytes.NewReader(data[format.DataOffset:])
	if err := binary.Read(reader, binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(format.SampleRate), nil
}

// Validate checks that data carries a plausible linear-PCM WAV container
// with both fmt and data chunks present
func Validate(data []byte) error {
	_, err := parseWAV(data)
	return err
}

// IsCanonical reports whether data is already in the canonical format:
// linear PCM, mono, 16-bit, 16 kHz
func IsCanonical(data []byte) bool {
	format, err := parseWAV(data)
	if err != nil {
		return false
	}

	return format.AudioFormat == 1 &&
		format.NumChannels == CanonicalChannels &&
		format.BitsPerSample == CanonicalBitDepth &&
		format.SampleRate == CanonicalSampleRate
}

// Info contains basic metadata extracted from a WAV file
type Info struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
}

// GetInfo extracts metadata from a WAV file
func GetInfo(data []byte) (*Info, error) {
	format, err := parseWAV(data)
	if err != nil {
		return nil, err
	}

	if format.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	bytesPerSample := uint32(format.BitsPerSample) / 8
	if bytesPerSample == 0 {
		return nil, fmt.Errorf("invalid bit depth: %d", format.BitsPerSample)
	}

	numSamples := format.DataSize / bytesPerSample
	duration := float64(numSamples) / float64(format.SampleRate) / float64(format.NumChannels)

	return &Info{
		SampleRate:    format.SampleRate,
		Channels:      format.NumChannels,
		BitsPerSample: format.BitsPerSample,
		Duration:      duration,
		DataSize:      format.DataSize,
	}, nil
}
