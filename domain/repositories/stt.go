package repositories

import "context"

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// RecognitionAlternative is one hypothesis of a recognition result
type RecognitionAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// RecognitionResult is an interim or final recognition event
type RecognitionResult struct {
	Transcript   string                   `json:"transcript"`
	Final        bool                     `json:"is_final"`
	Confidence   float64                  `json:"confidence"`
	Alternatives []RecognitionAlternative `json:"alternatives,omitempty"`
}

// RecognitionHandler receives the events of one recognition session
type RecognitionHandler interface {
	OnResult(result RecognitionResult)
	// OnError reports a failure kind such as "network" or "no-speech"
	OnError(kind string, err error)
	OnEnd()
}

// SpeechRecognizer abstracts streaming speech recognition services
type SpeechRecognizer interface {
	// Start opens a recognition session delivering events to handler
	Start(ctx context.Context, config AudioConfig, handler RecognitionHandler) (RecognitionStream, error)
}

// RecognitionStream is an open recognition session
type RecognitionStream interface {
	// Write feeds raw audio
	Write(audio []byte) error
	// Stop ends the audio; remaining results and OnEnd are still delivered
	Stop() error
}
