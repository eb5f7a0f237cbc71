package capture

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startUDP(t *testing.T) (*UDPSource, <-chan audio.Frame, *net.UDPConn) {
	t.Helper()

	cfg := &config.CaptureConfig{
		Type:        config.CaptureUDP,
		BindAddress: "127.0.0.1",
		UDPPort:     0,
		BufferSize:  1 << 16,
		QueueSize:   16,
	}
	src := NewUDPSource(cfg, 2048, testLogger(), nil)

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { src.Stop() })

	conn, err := net.DialUDP("udp", nil, src.Addr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return src, frames, conn
}

func sendAudio(t *testing.T, conn *net.UDPConn, seq uint32, value float32, n int) {
	t.Helper()

	samples := make([]float32, n)
	for i := range samples {
		samples[i] = value
	}
	packet, err := protocol.EncodeAudioPacket(1, seq, protocol.EncodingFloat32, samples)
	if err != nil {
		t.Fatalf("EncodeAudioPacket failed: %v", err)
	}
	if _, err := conn.Write(packet); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func receiveFrame(t *testing.T, frames <-chan audio.Frame) audio.Frame {
	t.Helper()

	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("Frame channel closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for frame")
	}
	return audio.Frame{}
}

func TestUDPSourceFramesPackets(t *testing.T) {
	src, frames, conn := startUDP(t)

	start := protocol.EncodeControlPacket(1, protocol.ControlPayload{Command: protocol.CommandStart, SampleRate: 16000})
	if _, err := conn.Write(start); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for seq := uint32(0); seq < 4; seq++ {
		sendAudio(t, conn, seq, 0.25*float32(seq+1), 1024)
	}

	first := receiveFrame(t, frames)
	second := receiveFrame(t, frames)

	if first.Sequence != 0 || second.Sequence != 1 {
		t.Errorf("Expected sequences 0 and 1, got %d and %d", first.Sequence, second.Sequence)
	}
	if len(first.Samples) != 2048 {
		t.Fatalf("Expected 2048 samples, got %d", len(first.Samples))
	}
	if first.Samples[0] != 0.25 || first.Samples[2047] != 0.5 || second.Samples[0] != 0.75 {
		t.Errorf("Unexpected sample layout: %v %v %v", first.Samples[0], first.Samples[2047], second.Samples[0])
	}

	stats := src.Stats()
	if !stats.Running || stats.FramesDelivered != 2 || stats.InputSampleRate != 16000 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestUDPSourceCountsGapsAndParseErrors(t *testing.T) {
	src, frames, conn := startUDP(t)

	sendAudio(t, conn, 10, 0.1, 2048)
	receiveFrame(t, frames)

	if _, err := conn.Write([]byte{0xde, 0xad}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sendAudio(t, conn, 13, 0.1, 2048)
	receiveFrame(t, frames)

	stats := src.Stats()
	if stats.SequenceGaps != 2 {
		t.Errorf("Expected 2 missing packets, got %d", stats.SequenceGaps)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("Expected 1 parse error, got %d", stats.ParseErrors)
	}
}

func TestUDPSourceStopClosesChannel(t *testing.T) {
	src, frames, _ := startUDP(t)

	if _, err := src.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case _, ok := <-frames:
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Channel not closed after Stop")
	}

	if src.Stats().Running {
		t.Error("Expected source stopped")
	}
}
