package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/skypro1111/handsfree-vad/internal/audio"
	"github.com/skypro1111/handsfree-vad/internal/transport"
)

// voiceReply mirrors the JSON body of the voice service
type voiceReply struct {
	UserText    string  `json:"user_text,omitempty"`
	ReplyText   string  `json:"reply_text,omitempty"`
	AudioBase64 *string `json:"audio_base64"`
	AudioMIME   *string `json:"audio_mime"`
	SessionDone bool    `json:"session_done"`
	Error       string  `json:"error,omitempty"`
}

type handlerConfig struct {
	MinDuration time.Duration // shorter uploads count as empty transcripts
	Turns       int           // session_done after this many replies, 0 for never
	Audio       bool          // attach a synthesized reply tone
	Delay       time.Duration
}

// voiceHandler stands in for the transcription, dialogue and speech
// synthesis chain behind /api/voice
type voiceHandler struct {
	config handlerConfig
	logger *slog.Logger

	turns int
	mu    sync.Mutex
}

func newVoiceHandler(cfg handlerConfig, logger *slog.Logger) *voiceHandler {
	return &voiceHandler{config: cfg, logger: logger}
}

func (h *voiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeReply(w, http.StatusBadRequest, voiceReply{Error: "no_audio"})
		return
	}

	file, header, err := r.FormFile(transport.AudioField)
	if err != nil {
		h.logger.Warn("Upload without audio")
		writeReply(w, http.StatusBadRequest, voiceReply{Error: "no_audio"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeReply(w, http.StatusInternalServerError, voiceReply{Error: "server_error"})
		return
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		h.logger.Warn("Rejected upload", slog.String("error", err.Error()))
		writeReply(w, http.StatusBadRequest, voiceReply{Error: "invalid_audio"})
		return
	}

	h.logger.Info("Received audio upload",
		slog.String("filename", header.Filename),
		slog.String("utterance_id", r.FormValue("utterance_id")),
		slog.String("request_id", r.Header.Get("X-Request-ID")),
		slog.Int("size", len(data)),
		slog.Float64("duration", info.Duration),
	)

	if h.config.Delay > 0 {
		select {
		case <-time.After(h.config.Delay):
		case <-r.Context().Done():
			return
		}
	}

	if info.Duration < h.config.MinDuration.Seconds() {
		writeReply(w, http.StatusOK, voiceReply{Error: "empty_transcript"})
		return
	}

	h.mu.Lock()
	h.turns++
	turn := h.turns
	h.mu.Unlock()

	reply := voiceReply{
		UserText:    fmt.Sprintf("(%.1fs of speech)", info.Duration),
		ReplyText:   fmt.Sprintf("Reply number %d", turn),
		SessionDone: h.config.Turns > 0 && turn >= h.config.Turns,
	}

	if h.config.Audio {
		tone, err := replyTone(int(info.SampleRate), 0.5)
		if err == nil {
			encoded := base64.StdEncoding.EncodeToString(tone)
			mime := transport.AudioMIME
			reply.AudioBase64 = &encoded
			reply.AudioMIME = &mime
		}
	}

	h.logger.Info("Final response",
		slog.String("user_text", reply.UserText),
		slog.String("reply_text", reply.ReplyText),
		slog.Bool("session_done", reply.SessionDone),
	)
	writeReply(w, http.StatusOK, reply)
}

func writeReply(w http.ResponseWriter, status int, reply voiceReply) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(reply)
}

// replyTone synthesizes a faded 440 Hz tone as a WAV file
func replyTone(sampleRate int, seconds float64) ([]byte, error) {
	n := int(float64(sampleRate) * seconds)
	samples := make([]float32, n)
	for i := range samples {
		fade := math.Min(1, math.Min(float64(i), float64(n-i))/float64(sampleRate/50))
		samples[i] = float32(0.3 * fade * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return audio.EncodeFloatWAV(samples, sampleRate)
}
