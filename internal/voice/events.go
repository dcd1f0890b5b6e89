package voice

import "strings"

// Alternative is one recognition hypothesis
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Result is an interim or final recognition event
type Result struct {
	Transcript   string        `json:"transcript"`
	Final        bool          `json:"is_final"`
	Confidence   float64       `json:"confidence"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// best returns the transcript and confidence to use for a result: the
// highest-confidence alternative when there are any.
func (r Result) best() (string, float64) {
	text, conf := r.Transcript, r.Confidence
	for _, alt := range r.Alternatives {
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if text == "" || alt.Confidence > conf {
			text, conf = alt.Transcript, alt.Confidence
		}
	}
	return strings.TrimSpace(text), conf
}

// ErrorKind classifies recognition failures
type ErrorKind string

const (
	ErrorNoSpeech           ErrorKind = "no-speech"
	ErrorNotAllowed         ErrorKind = "not-allowed"
	ErrorAudioCapture       ErrorKind = "audio-capture"
	ErrorNetwork            ErrorKind = "network"
	ErrorServiceUnavailable ErrorKind = "service-not-allowed"
	ErrorAborted            ErrorKind = "aborted"
	ErrorUnknown            ErrorKind = "unknown"
)

// ParseErrorKind maps the error names reported by recognition engines
func ParseErrorKind(s string) ErrorKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "no-speech", "no_speech", "nospeech":
		return ErrorNoSpeech
	case "not-allowed", "not_allowed", "permission-denied", "permission_denied":
		return ErrorNotAllowed
	case "audio-capture", "audio_capture":
		return ErrorAudioCapture
	case "network":
		return ErrorNetwork
	case "service-not-allowed", "service_not_allowed", "unavailable", "service-unavailable":
		return ErrorServiceUnavailable
	case "aborted":
		return ErrorAborted
	default:
		return ErrorUnknown
	}
}

var advisories = map[ErrorKind]string{
	ErrorNoSpeech:           "No speech was detected. Please try again.",
	ErrorNotAllowed:         "Microphone access was denied. Please allow microphone access and try again.",
	ErrorAudioCapture:       "No microphone was found. Please check your audio device.",
	ErrorNetwork:            "Speech recognition failed because of a network problem. Please check your connection.",
	ErrorServiceUnavailable: "Speech recognition is currently unavailable. Please type your query instead.",
	ErrorAborted:            "Speech recognition was interrupted.",
	ErrorUnknown:            "Speech recognition failed. Please try again.",
}

// Advisory is the user-facing message for the kind
func (k ErrorKind) Advisory() string {
	if msg, ok := advisories[k]; ok {
		return msg
	}
	return advisories[ErrorUnknown]
}

// CommitTrigger says why an utterance was committed
type CommitTrigger string

const (
	TriggerTimeout CommitTrigger = "timeout"
	TriggerStop    CommitTrigger = "stop"
	TriggerEnd     CommitTrigger = "end"
)

// Commit is a finalized utterance
type Commit struct {
	Session    uint64
	Raw        string
	Normalized string
	Trigger    CommitTrigger
}

// Advisory reports an abandoned listening session
type Advisory struct {
	Session uint64
	Kind    ErrorKind
	Message string
}

// Handlers receive accumulator output. They are called after the
// accumulator's lock is released, on the goroutine that delivered the event
// or on the timer's goroutine. Nil handlers are skipped.
type Handlers struct {
	OnPreview  func(session uint64, text string)
	OnCommit   func(Commit)
	OnAdvisory func(Advisory)
	OnStopped  func(session uint64)
}

// Normalizer cleans up a committed utterance
type Normalizer interface {
	Normalize(text string) string
}
