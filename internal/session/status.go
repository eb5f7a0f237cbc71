package session

import "time"

// Status is the engine status reported to the UI
type Status string

const (
	StatusIdle        Status = "idle"
	StatusCalibrating Status = "calibrating"
	StatusListening   Status = "listening"
	StatusProcessing  Status = "processing"
	StatusSpeaking    Status = "speaking"
)

// Display texts accompanying status changes
const (
	TextIdle             = "Idle"
	TextError            = "Error"
	TextCalibratingNoise = "Calibrating (Noise)…"
	TextCalibratingVoice = "Calibrating (Voice)…"
	TextListening        = "Listening…"
	TextProcessing       = "Processing…"
	TextSpeaking         = "Speaking…"
)

// EventKind distinguishes status changes from log lines
type EventKind string

const (
	EventStatus EventKind = "status"
	EventLog    EventKind = "log"
)

// Event is one notification to the UI collaborator
type Event struct {
	Kind    EventKind `json:"kind"`
	Status  Status    `json:"status,omitempty"`
	Text    string    `json:"text,omitempty"`
	Level   string    `json:"level,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives engine events. Notify is called from the engine
// goroutine and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(Event)

// Notify calls f(ev)
func (f NotifierFunc) Notify(ev Event) {
	f(ev)
}
