// Package voice turns a stream of speech recognition events into committed
// utterances, tolerating pauses in the middle of a sentence.
package voice

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// DefaultPauseWindow is how long the accumulator waits after the last final
// segment before committing.
const DefaultPauseWindow = 15 * time.Second

// Config holds accumulator settings
type Config struct {
	PauseWindow time.Duration
	// MinConfidence drops final segments reporting a lower confidence.
	// Zero disables the filter; a reported confidence of zero means unknown.
	MinConfidence float64
}

// Accumulator owns the transcript of one listening session at a time
type Accumulator struct {
	mu         sync.Mutex
	clock      clock.Clock
	window     time.Duration
	minConf    float64
	normalizer Normalizer
	handlers   Handlers
	logger     *zap.Logger

	active     bool
	generation uint64
	segments   []string
	timer      *clock.Timer
	armed      uint64
}

// Option configures an Accumulator
type Option func(*Accumulator)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.Clock) Option {
	return func(a *Accumulator) { a.clock = c }
}

// WithNormalizer normalizes committed text
func WithNormalizer(n Normalizer) Option {
	return func(a *Accumulator) { a.normalizer = n }
}

// NewAccumulator creates an idle accumulator
func NewAccumulator(config Config, handlers Handlers, logger *zap.Logger, opts ...Option) *Accumulator {
	window := config.PauseWindow
	if window <= 0 {
		window = DefaultPauseWindow
	}
	a := &Accumulator{
		clock:    clock.New(),
		window:   window,
		minConf:  config.MinConfidence,
		handlers: handlers,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start begins a new listening session and returns its id. A session that
// is still active is discarded without committing.
func (a *Accumulator) Start() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		a.logger.Debug("Discarding active listening session",
			zap.Uint64("session", a.generation),
			zap.Int("segments", len(a.segments)))
	}
	a.reset()
	a.generation++
	a.active = true
	return a.generation
}

// HandleResult feeds a recognition event. Interim results only update the
// preview; final results are appended and restart the pause countdown.
func (a *Accumulator) HandleResult(r Result) {
	a.handleResult(0, r)
}

// HandleResultFor is HandleResult for a result that belongs to the given
// listening session. It is dropped once that session has ended.
func (a *Accumulator) HandleResultFor(session uint64, r Result) {
	a.handleResult(session, r)
}

func (a *Accumulator) handleResult(owner uint64, r Result) {
	var emit []func()

	a.mu.Lock()
	if !a.accepts(owner) {
		a.mu.Unlock()
		return
	}

	text, conf := r.best()
	session := a.generation

	if !r.Final {
		preview := a.joined()
		if text != "" {
			preview = strings.TrimSpace(preview + " " + text)
		}
		emit = append(emit, a.previewEvent(session, preview))
		a.mu.Unlock()
		dispatch(emit)
		return
	}

	if text == "" {
		a.mu.Unlock()
		return
	}
	if a.minConf > 0 && conf > 0 && conf < a.minConf {
		a.logger.Debug("Dropping low confidence segment",
			zap.Uint64("session", session),
			zap.Float64("confidence", conf))
		a.mu.Unlock()
		return
	}

	a.segments = append(a.segments, text)
	a.arm()
	emit = append(emit, a.previewEvent(session, a.joined()))
	a.mu.Unlock()
	dispatch(emit)
}

// HandleError abandons the session and reports an advisory
func (a *Accumulator) HandleError(kind ErrorKind) {
	a.handleError(0, kind)
}

// HandleErrorFor is HandleError scoped to one listening session
func (a *Accumulator) HandleErrorFor(session uint64, kind ErrorKind) {
	a.handleError(session, kind)
}

func (a *Accumulator) handleError(owner uint64, kind ErrorKind) {
	a.mu.Lock()
	if !a.accepts(owner) {
		a.mu.Unlock()
		return
	}
	session := a.generation
	a.logger.Info("Abandoning listening session",
		zap.Uint64("session", session),
		zap.String("kind", string(kind)),
		zap.Int("discardedSegments", len(a.segments)))
	a.reset()

	var emit []func()
	if h := a.handlers.OnAdvisory; h != nil {
		adv := Advisory{Session: session, Kind: kind, Message: kind.Advisory()}
		emit = append(emit, func() { h(adv) })
	}
	emit = append(emit, a.stoppedEvent(session))
	a.mu.Unlock()
	dispatch(emit)
}

// HandleEnd is the recognition source's end-of-session signal
func (a *Accumulator) HandleEnd() {
	a.finish(0, TriggerEnd)
}

// HandleEndFor is HandleEnd scoped to one listening session
func (a *Accumulator) HandleEndFor(session uint64) {
	a.finish(session, TriggerEnd)
}

// Stop is the user's explicit stop. Accumulated text is committed at once.
func (a *Accumulator) Stop() {
	a.finish(0, TriggerStop)
}

// Active reports whether a listening session is in progress
func (a *Accumulator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Current returns the id of the active listening session
func (a *Accumulator) Current() (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation, a.active
}

// Discard ends the active session without committing or reporting anything
func (a *Accumulator) Discard() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reset()
}

// Pending returns the accumulated, not yet committed text
func (a *Accumulator) Pending() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.joined()
}

func (a *Accumulator) finish(owner uint64, trigger CommitTrigger) {
	a.mu.Lock()
	if !a.accepts(owner) {
		a.mu.Unlock()
		return
	}
	emit := a.commitLocked(trigger)
	a.mu.Unlock()
	dispatch(emit)
}

// expire runs on the timer goroutine. It commits only if it belongs to the
// current session and is the latest countdown.
func (a *Accumulator) expire(session, armed uint64) {
	a.mu.Lock()
	if !a.active || session != a.generation || armed != a.armed {
		a.mu.Unlock()
		return
	}
	emit := a.commitLocked(TriggerTimeout)
	a.mu.Unlock()
	dispatch(emit)
}

// accepts reports whether an event for owner applies to the active session.
// An owner of zero means whichever session is active.
func (a *Accumulator) accepts(owner uint64) bool {
	return a.active && (owner == 0 || owner == a.generation)
}

// commitLocked ends the session, returning the events to dispatch
func (a *Accumulator) commitLocked(trigger CommitTrigger) []func() {
	session := a.generation
	raw := a.joined()
	a.reset()

	var emit []func()
	if raw != "" {
		normalized := raw
		if a.normalizer != nil {
			normalized = a.normalizer.Normalize(raw)
		}
		a.logger.Info("Committing utterance",
			zap.Uint64("session", session),
			zap.String("trigger", string(trigger)),
			zap.String("raw", raw),
			zap.String("normalized", normalized))
		if h := a.handlers.OnCommit; h != nil {
			c := Commit{Session: session, Raw: raw, Normalized: normalized, Trigger: trigger}
			emit = append(emit, func() { h(c) })
		}
	}
	return append(emit, a.stoppedEvent(session))
}

// arm restarts the pause countdown
func (a *Accumulator) arm() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.armed++
	session, armed := a.generation, a.armed
	a.timer = a.clock.AfterFunc(a.window, func() { a.expire(session, armed) })
}

// reset cancels the countdown and clears the session state
func (a *Accumulator) reset() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.armed++
	a.segments = nil
	a.active = false
}

func (a *Accumulator) joined() string {
	return strings.Join(a.segments, " ")
}

func (a *Accumulator) previewEvent(session uint64, text string) func() {
	h := a.handlers.OnPreview
	if h == nil {
		return nil
	}
	return func() { h(session, text) }
}

func (a *Accumulator) stoppedEvent(session uint64) func() {
	h := a.handlers.OnStopped
	if h == nil {
		return nil
	}
	return func() { h(session) }
}

func dispatch(events []func()) {
	for _, fn := range events {
		if fn != nil {
			fn()
		}
	}
}
