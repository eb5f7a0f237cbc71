package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
	"github.com/skypro1111/handsfree-vad/internal/protocol"
)

// UDPSource receives frame datagrams from a remote capture process. One
// receive loop parses, resamples and frames packets in arrival order.
type UDPSource struct {
	config    *config.CaptureConfig
	frameSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics

	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
	frames chan audio.Frame

	// Stream state, owned by the receive loop
	framer    *Framer
	resampler *Resampler
	sourceID  uint32
	locked    bool
	lastSeq   uint32
	haveSeq   bool

	// Statistics
	running         bool
	inputRate       int
	packetsReceived uint64
	framesDelivered uint64
	framesDropped   uint64
	sequenceGaps    uint64
	parseErrors     uint64
	foreignPackets  uint64
	mu              sync.RWMutex
}

// NewUDPSource creates a UDP frame receiver
func NewUDPSource(cfg *config.CaptureConfig, frameSize int, logger *slog.Logger, m *metrics.Metrics) *UDPSource {
	if m == nil {
		m = metrics.NewUnregistered()
	}

	return &UDPSource{
		config:    cfg,
		frameSize: frameSize,
		logger:    logger,
		metrics:   m,
		framer:    NewFramer(frameSize, audio.SampleRate),
		inputRate: audio.SampleRate,
	}
}

// Name identifies the source in logs and stats
func (s *UDPSource) Name() string {
	return "udp"
}

// Addr returns the bound address, or nil before Start
func (s *UDPSource) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Start begins listening for frame datagrams
func (s *UDPSource) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, ErrAlreadyStarted
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if err := conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.cancel = cancel
	s.frames = make(chan audio.Frame, s.config.QueueSize)
	s.running = true
	s.resetStream()

	s.logger.Info("UDP capture started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("queue_size", s.config.QueueSize),
	)

	s.wg.Add(1)
	go s.receiveLoop(loopCtx, conn, s.frames)

	return s.frames, nil
}

// Stop closes the socket and waits for the receive loop to exit
func (s *UDPSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	conn := s.conn
	s.mu.Unlock()

	// Close connection to unblock the receive loop
	if err := conn.Close(); err != nil {
		s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
	}

	s.wg.Wait()

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()

	stats := s.Stats()
	s.logger.Info("UDP capture stopped",
		slog.Uint64("frames_delivered", stats.FramesDelivered),
		slog.Uint64("frames_dropped", stats.FramesDropped),
		slog.Uint64("sequence_gaps", stats.SequenceGaps),
		slog.Uint64("parse_errors", stats.ParseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop. It owns the frames channel
// and closes it on exit.
func (s *UDPSource) receiveLoop(ctx context.Context, conn *net.UDPConn, frames chan audio.Frame) {
	defer s.wg.Done()
	defer close(frames)

	buffer := make([]byte, protocol.MaxPacketSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read deadline lets the loop notice cancellation
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()

		s.handlePacket(buffer[:n], remoteAddr, frames)
	}
}

// handlePacket processes a single datagram
func (s *UDPSource) handlePacket(data []byte, remoteAddr *net.UDPAddr, frames chan<- audio.Frame) {
	packet, err := protocol.ParsePacket(data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Int("packet_size", len(data)),
			slog.String("error", err.Error()),
		)
		return
	}

	switch packet.Header.PacketType {
	case protocol.PacketTypeControl:
		s.processControlPacket(packet.Header, packet.Control)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(packet.Header, packet.Audio, frames)
	}
}

// processControlPacket handles capture session start/stop
func (s *UDPSource) processControlPacket(header *protocol.Header, payload *protocol.ControlPayload) {
	switch payload.Command {
	case protocol.CommandStart:
		rate := int(payload.SampleRate)
		if rate == 0 {
			rate = audio.SampleRate
		}

		resampler, err := NewResampler(rate, audio.SampleRate)
		if err != nil {
			s.logger.Error("Rejected capture session",
				slog.Uint64("source_id", uint64(header.SourceID)),
				slog.Int("sample_rate", rate),
				slog.String("error", err.Error()),
			)
			return
		}

		s.resetStream()
		s.resampler = resampler
		s.sourceID = header.SourceID
		s.locked = true

		s.mu.Lock()
		s.inputRate = rate
		s.mu.Unlock()

		s.logger.Info("Capture session started",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.Int("sample_rate", rate),
			slog.Bool("resampling", !resampler.Passthrough()),
		)

	case protocol.CommandStop:
		if s.locked && header.SourceID != s.sourceID {
			return
		}
		s.logger.Info("Capture session stopped",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.Int("discarded_samples", s.framer.Pending()),
		)
		s.resetStream()
	}
}

// processAudioPacket decodes, resamples and frames one audio block
func (s *UDPSource) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, frames chan<- audio.Frame) {
	if !s.locked {
		// Audio without a start packet is taken as 16 kHz from its first sender
		s.sourceID = header.SourceID
		s.locked = true
	}

	if header.SourceID != s.sourceID {
		s.mu.Lock()
		s.foreignPackets++
		s.mu.Unlock()
		s.logger.Debug("Ignoring audio from inactive source",
			slog.Uint64("source_id", uint64(header.SourceID)),
			slog.Uint64("active_source_id", uint64(s.sourceID)),
		)
		return
	}

	if s.haveSeq {
		if payload.Sequence <= s.lastSeq {
			s.logger.Warn("Dropping reordered audio packet",
				slog.Uint64("sequence", uint64(payload.Sequence)),
				slog.Uint64("last_sequence", uint64(s.lastSeq)),
			)
			return
		}
		if gap := payload.Sequence - s.lastSeq - 1; gap > 0 {
			s.mu.Lock()
			s.sequenceGaps += uint64(gap)
			s.mu.Unlock()
			s.metrics.RecordSequenceGap(uint64(gap))
			s.logger.Warn("Audio packets lost",
				slog.Uint64("sequence", uint64(payload.Sequence)),
				slog.Uint64("missing", uint64(gap)),
			)
		}
	}
	s.lastSeq = payload.Sequence
	s.haveSeq = true

	samples, err := protocol.DecodeSamples(payload.AudioData, header.Encoding)
	if err != nil {
		s.logger.Error("Failed to decode audio payload", slog.String("error", err.Error()))
		return
	}

	if s.resampler != nil {
		samples, err = s.resampler.Process(samples)
		if err != nil {
			s.logger.Error("Failed to resample audio", slog.String("error", err.Error()))
			return
		}
	}

	for _, frame := range s.framer.Push(samples, time.Now()) {
		s.deliver(frame, frames)
	}
}

// deliver hands a frame to the engine without blocking the receive loop
func (s *UDPSource) deliver(frame audio.Frame, frames chan<- audio.Frame) {
	select {
	case frames <- frame:
		s.mu.Lock()
		s.framesDelivered++
		s.mu.Unlock()
		s.metrics.RecordCaptureFrame()
	default:
		s.mu.Lock()
		s.framesDropped++
		s.mu.Unlock()
		s.metrics.RecordCaptureDrop()
		s.logger.Warn("Frame queue full, dropping frame",
			slog.Uint64("sequence", frame.Sequence),
		)
	}
}

func (s *UDPSource) resetStream() {
	s.framer.Reset()
	s.resampler = nil
	s.locked = false
	s.haveSeq = false
	s.lastSeq = 0
}

// Stats returns capture statistics
func (s *UDPSource) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Source:          s.Name(),
		Running:         s.running,
		FramesDelivered: s.framesDelivered,
		FramesDropped:   s.framesDropped,
		SequenceGaps:    s.sequenceGaps,
		ParseErrors:     s.parseErrors,
		InputSampleRate: s.inputRate,
	}
}
