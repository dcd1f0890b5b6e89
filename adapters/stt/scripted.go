package stt

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain/repositories"
)

// DefaultScriptedBytesPerWord is how much audio reveals one more word
const DefaultScriptedBytesPerWord = 3200

// ScriptedRecognizer implements repositories.SpeechRecognizer without a
// speech service: it reveals a fixed transcript word by word as audio
// arrives and finalizes it on Stop. It backs demos and smoke tests of the
// server-side audio path.
type ScriptedRecognizer struct {
	transcript   string
	bytesPerWord int
	logger       *zap.Logger
}

// NewScriptedRecognizer creates a recognizer that always hears transcript
func NewScriptedRecognizer(transcript string, logger *zap.Logger) *ScriptedRecognizer {
	return &ScriptedRecognizer{
		transcript:   transcript,
		bytesPerWord: DefaultScriptedBytesPerWord,
		logger:       logger,
	}
}

// Start implements repositories.SpeechRecognizer
func (r *ScriptedRecognizer) Start(ctx context.Context, config repositories.AudioConfig, handler repositories.RecognitionHandler) (repositories.RecognitionStream, error) {
	if _, err := getAudioEncoding(config.Encoding); err != nil {
		return nil, err
	}

	r.logger.Info("Starting scripted recognition",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &scriptedStream{
		words:        strings.Fields(r.transcript),
		bytesPerWord: r.bytesPerWord,
		handler:      handler,
	}, nil
}

type scriptedStream struct {
	mu           sync.Mutex
	words        []string
	bytesPerWord int
	received     int
	revealed     int
	stopped      bool
	handler      repositories.RecognitionHandler
}

// Write implements repositories.RecognitionStream
func (s *scriptedStream) Write(audio []byte) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStreamStopped
	}
	s.received += len(audio)
	n := s.received / s.bytesPerWord
	if n > len(s.words) {
		n = len(s.words)
	}
	if n == s.revealed {
		s.mu.Unlock()
		return nil
	}
	s.revealed = n
	text := strings.Join(s.words[:n], " ")
	s.mu.Unlock()

	s.handler.OnResult(repositories.RecognitionResult{Transcript: text, Confidence: 0.5})
	return nil
}

// Stop implements repositories.RecognitionStream. Delivery happens on its
// own goroutine so Stop can be called from inside a handler.
func (s *scriptedStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	heard := s.received > 0
	text := strings.Join(s.words, " ")
	s.mu.Unlock()

	go func() {
		if !heard || text == "" {
			s.handler.OnError("no-speech", nil)
		} else {
			s.handler.OnResult(repositories.RecognitionResult{Transcript: text, Final: true, Confidence: 0.95})
		}
		s.handler.OnEnd()
	}()
	return nil
}
