package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

func TestEncodeWAV(t *testing.T) {
	// 440Hz sine wave for 0.1 seconds at 16kHz
	sampleRate := SampleRate
	numSamples := sampleRate / 10
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		ts := float64(i) / float64(sampleRate)
		samples[i] = int16(16383.0 * math.Sin(2*math.Pi*440*ts))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := WAVHeaderSize + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if info.NumSamples != uint32(numSamples) {
		t.Errorf("Expected %d samples, got %d", numSamples, info.NumSamples)
	}

	expectedDuration := float64(numSamples) / float64(sampleRate)
	if math.Abs(info.Duration-expectedDuration) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", expectedDuration, info.Duration)
	}
}

func TestWAVHeaderLayout(t *testing.T) {
	wavData, err := EncodeFloatWAV(make([]float32, 100), SampleRate)
	if err != nil {
		t.Fatalf("EncodeFloatWAV failed: %v", err)
	}

	le := binary.LittleEndian
	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"chunk size", le.Uint32(wavData[4:8]), 36 + 200},
		{"fmt size", le.Uint32(wavData[16:20]), 16},
		{"audio format", uint32(le.Uint16(wavData[20:22])), 1},
		{"channels", uint32(le.Uint16(wavData[22:24])), 1},
		{"sample rate", le.Uint32(wavData[24:28]), 16000},
		{"byte rate", le.Uint32(wavData[28:32]), 32000},
		{"block align", uint32(le.Uint16(wavData[32:34])), 2},
		{"bits per sample", uint32(le.Uint16(wavData[34:36])), 16},
		{"data size", le.Uint32(wavData[40:44]), 200},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{1.5, 32767},
		{-2, -32768},
		{0.5, 16383},
		{-0.5, -16384},
	}

	for _, tt := range tests {
		if got := FloatToPCM16(tt.in); got != tt.want {
			t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeUtteranceRoundTrip(t *testing.T) {
	const frames, frameLen = 4, 256
	samples := make([]float32, frames*frameLen)
	for i := range samples {
		samples[i] = float32(0.8 * math.Sin(2*math.Pi*float64(i)/37))
	}
	samples[10] = 1
	samples[11] = -1

	split := SplitFrames(samples, frameLen, 0, time.Unix(0, 0), SampleRate)
	wavData, err := EncodeUtterance(split, SampleRate)
	if err != nil {
		t.Fatalf("EncodeUtterance failed: %v", err)
	}

	if len(wavData) != WAVHeaderSize+2*frames*frameLen {
		t.Fatalf("Expected %d bytes, got %d", WAVHeaderSize+2*frames*frameLen, len(wavData))
	}

	decoded, rate, err := DecodeFloatWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeFloatWAV failed: %v", err)
	}
	if rate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, rate)
	}
	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if diff := math.Abs(float64(decoded[i] - samples[i])); diff > 1.0/32767 {
			t.Fatalf("Sample %d: expected %v, got %v (diff %v)", i, samples[i], decoded[i], diff)
		}
	}
}

func TestEncodeUtteranceEmpty(t *testing.T) {
	if _, err := EncodeUtterance(nil, SampleRate); !errors.Is(err, ErrEmptyUtterance) {
		t.Errorf("Expected ErrEmptyUtterance, got %v", err)
	}

	if _, err := EncodeUtterance([]Frame{{Sequence: 1}}, SampleRate); !errors.Is(err, ErrEmptyUtterance) {
		t.Errorf("Expected ErrEmptyUtterance for frames without samples, got %v", err)
	}
}

func TestDecodeWAV(t *testing.T) {
	originalSamples := []int16{100, -200, 300, -400, 500}

	wavData, err := EncodeWAV(originalSamples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decodedSamples, decodedRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedRate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, decodedRate)
	}

	if len(decodedSamples) != len(originalSamples) {
		t.Fatalf("Expected %d samples, got %d", len(originalSamples), len(decodedSamples))
	}

	for i, expected := range originalSamples {
		if decodedSamples[i] != expected {
			t.Errorf("Sample %d: expected %d, got %d", i, expected, decodedSamples[i])
		}
	}
}

func TestEncodeWAVEmpty(t *testing.T) {
	if _, err := EncodeWAV([]int16{}, SampleRate); err == nil {
		t.Error("Expected error for empty samples, got nil")
	}
}

func TestEncodeWAVInvalidSampleRate(t *testing.T) {
	samples := []int16{100, 200, 300}

	if _, err := EncodeWAV(samples, 0); err == nil {
		t.Error("Expected error for zero sample rate, got nil")
	}

	if _, err := EncodeWAV(samples, -1000); err == nil {
		t.Error("Expected error for negative sample rate, got nil")
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for short data, got nil")
	}

	invalidData := make([]byte, WAVHeaderSize)
	copy(invalidData[0:4], "XXXX")
	if err := ValidateWAV(invalidData); err == nil {
		t.Error("Expected error for invalid RIFF header, got nil")
	}
}

func TestReadWAVSkipsUnknownChunks(t *testing.T) {
	var buf bytes.Buffer
	le := binary.LittleEndian
	pcm := []int16{1000, -1000, 2000, -2000, 3000, -3000}

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(0))
	buf.WriteString("WAVE")

	// LIST chunk with odd size and a pad byte
	buf.WriteString("LIST")
	_ = binary.Write(&buf, le, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0})

	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1))     // PCM
	_ = binary.Write(&buf, le, uint16(2))     // stereo
	_ = binary.Write(&buf, le, uint32(44100)) // rate
	_ = binary.Write(&buf, le, uint32(44100*4))
	_ = binary.Write(&buf, le, uint16(4))
	_ = binary.Write(&buf, le, uint16(16))

	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(len(pcm)*2))
	_ = binary.Write(&buf, le, pcm)

	stream, err := ReadWAV(&buf)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}

	if stream.SampleRate != 44100 || stream.Channels != 2 {
		t.Errorf("Expected 44100Hz stereo, got %dHz %d channels", stream.SampleRate, stream.Channels)
	}

	mono := stream.Mono()
	if len(mono) != 3 {
		t.Fatalf("Expected 3 mono samples, got %d", len(mono))
	}
	for i, s := range mono {
		if math.Abs(float64(s)) > 1e-4 {
			t.Errorf("Mono sample %d: expected 0 after downmix, got %v", i, s)
		}
	}
}

func TestReadWAVRejectsFloatFormat(t *testing.T) {
	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(0))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(3)) // IEEE float
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint32(16000))
	_ = binary.Write(&buf, le, uint32(64000))
	_ = binary.Write(&buf, le, uint16(4))
	_ = binary.Write(&buf, le, uint16(32))

	if _, err := ReadWAV(&buf); err == nil {
		t.Error("Expected error for float WAV, got nil")
	}
}
