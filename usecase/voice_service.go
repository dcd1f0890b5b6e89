package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
	"github.com/satriahrh/bmschat/internal/metrics"
	"github.com/satriahrh/bmschat/internal/voice"
)

var (
	// ErrRecognizerUnavailable is returned when server-side recognition is requested but not configured
	ErrRecognizerUnavailable = errors.New("server-side speech recognition is not configured")
	// ErrNotListening is returned when audio arrives outside a server-side listening session
	ErrNotListening = errors.New("no server-side listening session")
)

// Listening modes
const (
	// ModeBrowser: the client recognizes speech and forwards recognition events
	ModeBrowser = "browser"
	// ModeServer: the client streams raw audio and the gateway recognizes it
	ModeServer = "server"
)

// EventType names a voice session event; the names are the websocket frame types
type EventType string

const (
	EventListeningStarted    EventType = "listening_started"
	EventTranscriptPreview   EventType = "transcript_preview"
	EventTranscriptCommitted EventType = "transcript_committed"
	EventVoiceAdvisory       EventType = "voice_advisory"
	EventListeningStopped    EventType = "listening_stopped"
	EventChatResponse        EventType = "chat_response"
	EventSpeakingStart       EventType = "speaking_start"
	EventSpeakingAudio       EventType = "speaking_audio"
	EventSpeakingEnd         EventType = "speaking_end"
	EventError               EventType = "error"
)

// EmptyUtteranceMessage is the advisory for an utterance that normalized to nothing
const EmptyUtteranceMessage = "Nothing to send: no query words were recognised."

const tableSpokenSummary = "Here are the results. Please see the table on screen."

// VoiceEvent is one thing a voice session tells its client
type VoiceEvent struct {
	Type       EventType `json:"type"`
	Session    uint64    `json:"session,omitempty"`
	Text       string    `json:"text,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	Normalized string    `json:"normalized,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	Reply      *Reply    `json:"reply,omitempty"`
	Audio      []byte    `json:"-"`
}

// VoiceSink receives voice session events. Deliver is called from several
// goroutines and must not block for long.
type VoiceSink interface {
	Deliver(event VoiceEvent)
}

// ListenOptions describe one listening session
type ListenOptions struct {
	Mode       string
	Language   string
	SampleRate int
	Encoding   string
}

// VoiceConfig holds voice pipeline settings
type VoiceConfig struct {
	Accumulator   voice.Config
	Language      string
	SpokenReplies bool
}

// VoiceService creates voice sessions that turn speech into chat queries
type VoiceService struct {
	chat       *ChatService
	normalizer voice.Normalizer
	recognizer repositories.SpeechRecognizer
	tts        repositories.TextToSpeech
	config     VoiceConfig
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *zap.Logger
}

// VoiceOption configures a VoiceService
type VoiceOption func(*VoiceService)

// WithRecognizer enables server-side recognition
func WithRecognizer(r repositories.SpeechRecognizer) VoiceOption {
	return func(v *VoiceService) { v.recognizer = r }
}

// WithTextToSpeech enables spoken replies through tts
func WithTextToSpeech(tts repositories.TextToSpeech) VoiceOption {
	return func(v *VoiceService) { v.tts = tts }
}

// WithVoiceConfig sets the pipeline settings
func WithVoiceConfig(config VoiceConfig) VoiceOption {
	return func(v *VoiceService) { v.config = config }
}

// WithVoiceMetrics records voice events on m
func WithVoiceMetrics(m *metrics.Metrics) VoiceOption {
	return func(v *VoiceService) { v.metrics = m }
}

// WithVoiceClock replaces the accumulator clock, used by tests
func WithVoiceClock(c clock.Clock) VoiceOption {
	return func(v *VoiceService) { v.clock = c }
}

// NewVoiceService creates a new voice service
func NewVoiceService(chat *ChatService, normalizer voice.Normalizer, logger *zap.Logger, opts ...VoiceOption) *VoiceService {
	v := &VoiceService{
		chat:       chat,
		normalizer: normalizer,
		config:     VoiceConfig{Language: "en-IN"},
		metrics:    metrics.NewNop(),
		clock:      clock.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.config.SpokenReplies && v.tts == nil {
		logger.Warn("Spoken replies requested but no text-to-speech is configured")
		v.config.SpokenReplies = false
	}
	return v
}

// VoiceSession is the voice pipeline of one connected client
type VoiceSession struct {
	svc       *VoiceService
	sessionID string
	sink      VoiceSink
	acc       *voice.Accumulator
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	stream    repositories.RecognitionStream
	streamGen uint64
}

// NewSession creates the voice pipeline of a login session's client
func (v *VoiceService) NewSession(ctx context.Context, sessionID string, sink VoiceSink) *VoiceSession {
	ctx, cancel := context.WithCancel(ctx)
	s := &VoiceSession{
		svc:       v,
		sessionID: sessionID,
		sink:      sink,
		logger:    v.logger.With(zap.String("sessionID", sessionID)),
		ctx:       ctx,
		cancel:    cancel,
	}

	opts := []voice.Option{voice.WithClock(v.clock)}
	if v.normalizer != nil {
		opts = append(opts, voice.WithNormalizer(v.normalizer))
	}
	s.acc = voice.NewAccumulator(v.config.Accumulator, voice.Handlers{
		OnPreview:  s.onPreview,
		OnCommit:   s.onCommit,
		OnAdvisory: s.onAdvisory,
		OnStopped:  s.onStopped,
	}, s.logger, opts...)
	return s
}

// Start begins a listening session, discarding one still in progress
func (s *VoiceSession) Start(opts ListenOptions) error {
	s.stopStream()
	gen := s.acc.Start()
	s.svc.metrics.VoiceSessions.Inc()

	if opts.Mode == ModeServer {
		if s.svc.recognizer == nil {
			s.acc.Discard()
			return ErrRecognizerUnavailable
		}

		config := repositories.AudioConfig{
			SampleRate: opts.SampleRate,
			Encoding:   opts.Encoding,
			Language:   opts.Language,
		}
		if config.SampleRate <= 0 {
			config.SampleRate = 16000
		}
		if config.Encoding == "" {
			config.Encoding = "LINEAR16"
		}
		if config.Language == "" {
			config.Language = s.svc.config.Language
		}

		stream, err := s.svc.recognizer.Start(s.ctx, config, &recognitionRelay{session: s, gen: gen})
		if err != nil {
			s.acc.Discard()
			return fmt.Errorf("failed to start recognition: %w", err)
		}
		s.mu.Lock()
		s.stream, s.streamGen = stream, gen
		s.mu.Unlock()
	}

	s.logger.Info("Listening started", zap.Uint64("session", gen), zap.String("mode", opts.Mode))
	s.sink.Deliver(VoiceEvent{Type: EventListeningStarted, Session: gen})
	return nil
}

// HandleResult feeds a client-side recognition result
func (s *VoiceSession) HandleResult(r voice.Result) {
	s.acc.HandleResult(r)
}

// HandleError feeds a client-side recognition error name
func (s *VoiceSession) HandleError(kind string) {
	s.acc.HandleError(voice.ParseErrorKind(kind))
}

// HandleEnd feeds the client-side end-of-session signal
func (s *VoiceSession) HandleEnd() {
	s.acc.HandleEnd()
}

// Stop is the user's explicit stop. A server-side recognizer only has its
// audio ended here; its last results and end signal then commit the
// utterance.
func (s *VoiceSession) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream != nil {
		err := stream.Stop()
		if err == nil {
			return
		}
		s.logger.Debug("Failed to end recognition audio", zap.Error(err))
	}
	s.acc.Stop()
}

// WriteAudio forwards raw audio to the server-side recognizer
func (s *VoiceSession) WriteAudio(audio []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return ErrNotListening
	}
	return stream.Write(audio)
}

// SelectDevice scopes later queries to a device
func (s *VoiceSession) SelectDevice(deviceID string) error {
	return s.svc.chat.SelectDevice(s.ctx, s.sessionID, deviceID)
}

// Close discards any listening session and waits for pending queries to
// give up
func (s *VoiceSession) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.acc.Discard()
	s.stopStream()
	s.cancel()
	s.wg.Wait()
}

func (s *VoiceSession) onPreview(session uint64, text string) {
	s.sink.Deliver(VoiceEvent{Type: EventTranscriptPreview, Session: session, Text: text})
}

func (s *VoiceSession) onCommit(c voice.Commit) {
	s.svc.metrics.RecordVoiceCommit(string(c.Trigger))
	s.sink.Deliver(VoiceEvent{
		Type:       EventTranscriptCommitted,
		Session:    c.Session,
		Raw:        c.Raw,
		Normalized: c.Normalized,
	})

	if strings.TrimSpace(c.Normalized) == "" {
		s.sink.Deliver(VoiceEvent{Type: EventVoiceAdvisory, Session: c.Session, Kind: "empty", Message: EmptyUtteranceMessage})
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go s.ask(c.Normalized)
}

func (s *VoiceSession) onAdvisory(a voice.Advisory) {
	s.svc.metrics.RecordVoiceAdvisory(string(a.Kind))
	s.sink.Deliver(VoiceEvent{Type: EventVoiceAdvisory, Session: a.Session, Kind: string(a.Kind), Message: a.Message})
}

func (s *VoiceSession) onStopped(session uint64) {
	s.mu.Lock()
	var stream repositories.RecognitionStream
	if s.stream != nil && s.streamGen == session {
		stream = s.stream
		s.stream = nil
	}
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			s.logger.Debug("Failed to stop recognition stream", zap.Error(err))
		}
	}
	s.sink.Deliver(VoiceEvent{Type: EventListeningStopped, Session: session})
}

func (s *VoiceSession) stopStream() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Stop(); err != nil {
			s.logger.Debug("Failed to stop recognition stream", zap.Error(err))
		}
	}
}

// ask sends a committed utterance through the chat service
func (s *VoiceSession) ask(query string) {
	defer s.wg.Done()

	reply, err := s.svc.chat.Send(s.ctx, s.sessionID, query, "")
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrSessionExpired):
		s.sink.Deliver(VoiceEvent{Type: EventError, Kind: "session_expired", Message: SessionExpiredMessage})
		return
	case errors.Is(err, ErrRequestInFlight):
		s.sink.Deliver(VoiceEvent{Type: EventError, Kind: "busy", Message: "Please wait for the current answer."})
		return
	case s.ctx.Err() != nil:
		return
	default:
		s.logger.Error("Voice query failed", zap.Error(err))
		s.sink.Deliver(VoiceEvent{Type: EventError, Kind: "chat_failed", Message: ErrorMessage})
		return
	}

	s.sink.Deliver(VoiceEvent{Type: EventChatResponse, Reply: reply})
	if s.svc.config.SpokenReplies && reply.Message.Status == entities.MessageStatusDelivered {
		s.speak(reply)
	}
}

// speak streams the reply as audio. Tables are not read out.
func (s *VoiceSession) speak(reply *Reply) {
	text := reply.Message.Text
	if reply.Document.HasTable() {
		text = tableSpokenSummary
	}

	audio, err := s.svc.tts.ConvertTextToSpeech(s.ctx, text)
	if err != nil {
		s.svc.metrics.SpokenReplyErrors.Inc()
		s.logger.Error("Failed to convert text to speech", zap.Error(err))
		return
	}

	s.sink.Deliver(VoiceEvent{Type: EventSpeakingStart, Text: text})
	for chunk := range audio {
		s.sink.Deliver(VoiceEvent{Type: EventSpeakingAudio, Audio: chunk})
	}
	s.sink.Deliver(VoiceEvent{Type: EventSpeakingEnd})
}

// recognitionRelay forwards server-side recognition events of one
// listening session to the accumulator
type recognitionRelay struct {
	session *VoiceSession
	gen     uint64
}

func (r *recognitionRelay) OnResult(res repositories.RecognitionResult) {
	result := voice.Result{Transcript: res.Transcript, Final: res.Final, Confidence: res.Confidence}
	for _, alt := range res.Alternatives {
		result.Alternatives = append(result.Alternatives, voice.Alternative{Transcript: alt.Transcript, Confidence: alt.Confidence})
	}
	r.session.acc.HandleResultFor(r.gen, result)
}

func (r *recognitionRelay) OnError(kind string, err error) {
	r.session.logger.Warn("Recognition failed", zap.String("kind", kind), zap.Error(err))
	r.session.acc.HandleErrorFor(r.gen, voice.ParseErrorKind(kind))
}

func (r *recognitionRelay) OnEnd() {
	r.session.acc.HandleEndFor(r.gen)
}
