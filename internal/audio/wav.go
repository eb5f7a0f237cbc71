package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical PCM header
const WAVHeaderSize = 44

// ErrEmptyUtterance is returned when encoding an utterance without samples
var ErrEmptyUtterance = errors.New("cannot encode empty utterance")

// WAVHeader represents the header structure of a WAV file
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

// FloatToPCM16 quantizes a normalized sample. Values are clamped to [-1, 1];
// negative values scale by 2^15 and non-negative values by 2^15-1.
func FloatToPCM16(s float32) int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}

	if v < 0 {
		return int16(v * 0x8000)
	}
	return int16(v * 0x7fff)
}

// PCM16ToFloat is the inverse scaling of FloatToPCM16
func PCM16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(s) / 0x8000
	}
	return float32(s) / 0x7fff
}

// EncodeUtterance merges the frames in order and encodes them as a mono 16-bit WAV
func EncodeUtterance(frames []Frame, sampleRate int) ([]byte, error) {
	merged := MergeFrames(frames)
	if len(merged) == 0 {
		return nil, ErrEmptyUtterance
	}
	return EncodeFloatWAV(merged, sampleRate)
}

// EncodeFloatWAV quantizes normalized samples and encodes them as a mono 16-bit WAV
func EncodeFloatWAV(samples []float32, sampleRate int) ([]byte, error) {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = FloatToPCM16(s)
	}
	return EncodeWAV(pcm, sampleRate)
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(Channels)
	bitsPerSample := uint16(BitsPerSample)
	dataSize := uint32(len(samples) * 2)
	fileSize := 36 + dataSize

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     fileSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a canonical mono 16-bit WAV back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	if len(data) < WAVHeaderSize {
		return nil, 0, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	buf := bytes.NewReader(data)
	var header WAVHeader

	if err := binary.Read(buf, binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if err := ValidateWAV(data); err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.NumChannels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	numSamples := int(header.Subchunk2Size) / 2
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	if err := binary.Read(buf, binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(header.SampleRate), nil
}

// DecodeFloatWAV decodes a canonical WAV into normalized samples
func DecodeFloatWAV(data []byte) ([]float32, int, error) {
	pcm, sampleRate, err := DecodeWAV(data)
	if err != nil {
		return nil, 0, err
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = PCM16ToFloat(s)
	}
	return samples, sampleRate, nil
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

// WAVInfo contains basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a canonical WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 || header.BitsPerSample == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid WAV header: zero sample rate, bit depth or channel count")
	}

	numSamples := header.Subchunk2Size / (uint32(header.BitsPerSample) / 8) / uint32(header.NumChannels)
	duration := float64(numSamples) / float64(header.SampleRate)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      duration,
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// PCMStream is 16-bit PCM audio read from an arbitrary RIFF/WAVE file
type PCMStream struct {
	SampleRate int
	Channels   int
	Samples    []int16 // interleaved
}

// Mono returns the stream downmixed to one normalized channel
func (p *PCMStream) Mono() []float32 {
	if p.Channels <= 1 {
		out := make([]float32, len(p.Samples))
		for i, s := range p.Samples {
			out[i] = PCM16ToFloat(s)
		}
		return out
	}

	frames := len(p.Samples) / p.Channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < p.Channels; ch++ {
			sum += PCM16ToFloat(p.Samples[i*p.Channels+ch])
		}
		out[i] = sum / float32(p.Channels)
	}
	return out
}

// ReadWAV parses a 16-bit PCM WAV file, skipping unknown chunks such as LIST
func ReadWAV(r io.Reader) (*PCMStream, error) {
	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		stream  PCMStream
		haveFmt bool
	)
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("invalid WAV file: missing data chunk")
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var fmtChunk struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if chunk.Size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", chunk.Size)
			}
			if err := binary.Read(r, binary.LittleEndian, &fmtChunk); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if err := skip(r, int64(chunk.Size)-16+int64(chunk.Size%2)); err != nil {
				return nil, err
			}
			if fmtChunk.AudioFormat != 1 {
				return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", fmtChunk.AudioFormat)
			}
			if fmtChunk.BitsPerSample != 16 {
				return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", fmtChunk.BitsPerSample)
			}
			if fmtChunk.NumChannels == 0 || fmtChunk.SampleRate == 0 {
				return nil, fmt.Errorf("invalid fmt chunk: channels=%d sample_rate=%d", fmtChunk.NumChannels, fmtChunk.SampleRate)
			}
			stream.SampleRate = int(fmtChunk.SampleRate)
			stream.Channels = int(fmtChunk.NumChannels)
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			stream.Samples = make([]int16, chunk.Size/2)
			if err := binary.Read(r, binary.LittleEndian, stream.Samples); err != nil {
				return nil, fmt.Errorf("failed to read audio samples: %w", err)
			}
			return &stream, nil

		default:
			if err := skip(r, int64(chunk.Size)+int64(chunk.Size%2)); err != nil {
				return nil, err
			}
		}
	}
}

func skip(r io.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, r, n); err != nil {
		return fmt.Errorf("failed to skip %d bytes: %w", n, err)
	}
	return nil
}
