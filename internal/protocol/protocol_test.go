package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expected    *Header
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid control header",
			data: []byte{
				0x01,       // PacketType: Control
				0x00, 0x11, // PacketLen: 17 (8 + 9)
				0x00, 0x00, 0x30, 0x39, // SourceID: 12345
				0x00, // Encoding: unused
			},
			expected: &Header{
				PacketType: PacketTypeControl,
				PacketLen:  17,
				SourceID:   12345,
			},
		},
		{
			name: "valid audio header",
			data: []byte{
				0x02,       // PacketType: Audio
				0x10, 0x0C, // PacketLen: 4108
				0x12, 0x34, 0x56, 0x78, // SourceID: 305419896
				0x01, // Encoding: PCM16
			},
			expected: &Header{
				PacketType: PacketTypeAudio,
				PacketLen:  4108,
				SourceID:   305419896,
				Encoding:   EncodingPCM16,
			},
		},
		{
			name:        "header too short",
			data:        []byte{0x01, 0x00},
			expectError: true,
			errorMsg:    "header too short",
		},
		{
			name:        "empty data",
			data:        []byte{},
			expectError: true,
			errorMsg:    "header too short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseHeader(tt.data)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if *result != *tt.expected {
				t.Errorf("Expected header %+v, got %+v", tt.expected, result)
			}
		})
	}
}

func TestParseControlPayload(t *testing.T) {
	valid := make([]byte, ControlPayloadSize)
	valid[0] = CommandStart
	binary.BigEndian.PutUint32(valid[1:], 48000)
	binary.BigEndian.PutUint32(valid[5:], 1701234567)

	badCommand := make([]byte, ControlPayloadSize)
	badCommand[0] = 0x7f

	tests := []struct {
		name        string
		data        []byte
		expectError bool
		errorMsg    string
	}{
		{name: "valid start", data: valid},
		{name: "payload too short", data: valid[:4], expectError: true, errorMsg: "control payload too short"},
		{name: "unknown command", data: badCommand, expectError: true, errorMsg: "unknown control command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseControlPayload(tt.data)

			if tt.expectError {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing '%s', got %v", tt.errorMsg, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			if result.Command != CommandStart || result.SampleRate != 48000 || result.Timestamp != 1701234567 {
				t.Errorf("Unexpected payload: %+v", result)
			}
		})
	}
}

func TestParseAudioPayload(t *testing.T) {
	audioData := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	data := make([]byte, 4+len(audioData))
	binary.BigEndian.PutUint32(data[0:], 12345)
	copy(data[4:], audioData)

	payload, err := ParseAudioPayload(data)
	if err != nil {
		t.Fatalf("ParseAudioPayload failed: %v", err)
	}
	if payload.Sequence != 12345 || !bytes.Equal(payload.AudioData, audioData) {
		t.Errorf("Unexpected payload: %+v", payload)
	}

	// Payload must not alias the input buffer
	data[4] = 0xff
	if payload.AudioData[0] != 0x01 {
		t.Error("AudioData aliases the input buffer")
	}

	empty, err := ParseAudioPayload([]byte{0x00, 0x00, 0x00, 0x01})
	if err != nil || empty.Sequence != 1 || len(empty.AudioData) != 0 {
		t.Errorf("Expected sequence-only payload, got %+v, %v", empty, err)
	}

	if _, err := ParseAudioPayload([]byte{0x00, 0x00}); err == nil {
		t.Error("Expected error for short payload")
	}
}

func TestAudioPacketRoundTrip(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1, -1, 0.25}

	for _, enc := range []uint8{EncodingPCM16, EncodingFloat32} {
		packet, err := EncodeAudioPacket(42, 7, enc, samples)
		if err != nil {
			t.Fatalf("EncodeAudioPacket(0x%02x) failed: %v", enc, err)
		}

		parsed, err := ParsePacket(packet)
		if err != nil {
			t.Fatalf("ParsePacket(0x%02x) failed: %v", enc, err)
		}
		if parsed.Header.SourceID != 42 || parsed.Header.Encoding != enc {
			t.Errorf("Unexpected header: %s", parsed.Header)
		}
		if parsed.Audio == nil || parsed.Audio.Sequence != 7 {
			t.Fatalf("Expected audio payload with sequence 7, got %+v", parsed.Audio)
		}

		decoded, err := DecodeSamples(parsed.Audio.AudioData, enc)
		if err != nil {
			t.Fatalf("DecodeSamples(0x%02x) failed: %v", enc, err)
		}
		if len(decoded) != len(samples) {
			t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
		}
		for i := range samples {
			if math.Abs(float64(decoded[i]-samples[i])) > 1.0/32767 {
				t.Errorf("Encoding 0x%02x sample %d: expected %v, got %v", enc, i, samples[i], decoded[i])
			}
		}
	}
}

func TestControlPacketRoundTrip(t *testing.T) {
	packet := EncodeControlPacket(9, ControlPayload{Command: CommandStop, SampleRate: 16000, Timestamp: 99})

	parsed, err := ParsePacket(packet)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if parsed.Control == nil || parsed.Audio != nil {
		t.Fatalf("Expected control packet, got %+v", parsed)
	}
	if *parsed.Control != (ControlPayload{Command: CommandStop, SampleRate: 16000, Timestamp: 99}) {
		t.Errorf("Unexpected control payload: %s", parsed.Control)
	}
}

func TestParsePacketErrors(t *testing.T) {
	valid, _ := EncodeAudioPacket(1, 1, EncodingPCM16, []float32{0, 0})

	invalidType := append([]byte(nil), valid...)
	invalidType[0] = 0x99

	lengthMismatch := append([]byte(nil), valid...)
	binary.BigEndian.PutUint16(lengthMismatch[1:], 999)

	invalidEncoding := append([]byte(nil), valid...)
	invalidEncoding[7] = 0x09

	oddFloat := make([]byte, HeaderSize+AudioPayloadHeaderSize+6)
	oddFloat[0] = PacketTypeAudio
	binary.BigEndian.PutUint16(oddFloat[1:], uint16(len(oddFloat)))
	oddFloat[7] = EncodingFloat32

	tests := []struct {
		name     string
		data     []byte
		errorMsg string
	}{
		{"too short", []byte{0x02}, "packet too short"},
		{"invalid packet type", invalidType, "invalid packet type"},
		{"length mismatch", lengthMismatch, "packet length mismatch"},
		{"invalid encoding", invalidEncoding, "invalid encoding"},
		{"partial sample", oddFloat, "not a multiple of sample width"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePacket(tt.data)
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestEncodeAudioPacketTooLarge(t *testing.T) {
	if _, err := EncodeAudioPacket(1, 1, EncodingFloat32, make([]float32, 20000)); err == nil {
		t.Error("Expected error for oversized packet")
	}
}

func TestStringMethods(t *testing.T) {
	h := &Header{PacketType: PacketTypeAudio, PacketLen: 12, SourceID: 3, Encoding: EncodingFloat32}
	if got := h.String(); got != "Header{Type:Audio, Len:12, SourceID:3, Encoding:Float32}" {
		t.Errorf("Unexpected header string: %s", got)
	}

	a := &AudioPayload{Sequence: 5, AudioData: make([]byte, 4)}
	if got := a.String(); got != "AudioPayload{Sequence:5, AudioDataLen:4}" {
		t.Errorf("Unexpected audio string: %s", got)
	}
}
