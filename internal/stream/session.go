// Package stream implements live transcription sessions. Audio arrives in
// small chunks over a websocket, is batched, and each batch is recognized
// as it fills. The transport is kept out of this package; the HTTP layer
// feeds chunks in and drains events out.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/speecher/stt-engine/internal/config"
)

// State is a session lifecycle state.
type State string

const (
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateStreaming     State = "streaming"
	StateFinalizing    State = "finalizing"
	StateClosed        State = "closed"
	StateError         State = "error"
)

// Event types sent to the client.
const (
	EventPartial = "partial_result"
	EventFinal   = "final_result"
	EventError   = "error"
	EventState   = "state"
)

// Error codes carried on error events.
const (
	ErrRateLimited   = "rate_limited"
	ErrChunkTooLarge = "chunk_too_large"
	ErrRecognition   = "recognition_error"
)

// Event is one message to the client.
type Event struct {
	Type  string `json:"type"`
	State State  `json:"state,omitempty"`
	Seq   int    `json:"seq,omitempty"`
	Text  string `json:"text,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Recognizer transcribes one batch of raw audio. Implementations wrap a
// provider's synchronous or short-audio recognition call.
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, language string) (string, error)
}

// RecognizerFunc adapts a function to the Recognizer interface.
type RecognizerFunc func(ctx context.Context, audio []byte, language string) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, audio []byte, language string) (string, error) {
	return f(ctx, audio, language)
}

// Session is one live transcription stream. Chunks go in through Push,
// events come out of Events. Run owns all session state; Push and Finalize
// only hand work to it.
type Session struct {
	ID       string
	Language string

	recognizer Recognizer
	cfg        config.StreamConfig
	limiter    *rate.Limiter
	log        zerolog.Logger

	chunks chan []byte
	events chan Event
	state  atomic.Value // State

	// mu serializes Push sends against the Finalize close of chunks.
	mu     sync.Mutex
	closed bool

	// owned by the Run goroutine
	buffer []byte
	parts  []string
	seq    int
}

// NewSession creates a session in the connecting state. Call Run on its own
// goroutine before pushing chunks.
func NewSession(id, language string, recognizer Recognizer, cfg config.StreamConfig, log zerolog.Logger) *Session {
	s := &Session{
		ID:         id,
		Language:   language,
		recognizer: recognizer,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.ChunksPerSec), cfg.ChunksPerSec),
		log:        log.With().Str("component", "stream").Str("session_id", id).Logger(),
		chunks:     make(chan []byte, 16),
		events:     make(chan Event, cfg.SendBufferSize),
	}
	s.state.Store(StateConnecting)
	return s
}

// Events returns the outbound event channel. It is closed when the session
// ends; the final_result event, when one is produced, precedes the close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.state.Load().(State)
}

// Authenticate moves the session from connecting to authenticated. The
// transport calls this after verifying the client's credentials.
func (s *Session) Authenticate() {
	if s.State() == StateConnecting {
		s.setState(StateAuthenticated)
	}
}

// Push hands one audio chunk to the session. Returns an error once the
// session is finalizing or closed.
func (s *Session) Push(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s is finalizing", s.ID)
	}
	switch s.State() {
	case StateFinalizing, StateClosed, StateError:
		return fmt.Errorf("session %s is %s", s.ID, s.State())
	}
	select {
	case s.chunks <- chunk:
		return nil
	default:
		return fmt.Errorf("session %s input backlogged", s.ID)
	}
}

// Finalize asks the session to flush and close. Safe to call more than once,
// and safe to race with Push from another goroutine.
func (s *Session) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.chunks)
}

// Run drives the session until it finalizes. Exactly one final_result is
// emitted on any normal shutdown path: an explicit Finalize, the idle
// window elapsing, or context cancellation after audio was received.
func (s *Session) Run(ctx context.Context) {
	defer close(s.events)

	idle := time.NewTimer(s.cfg.IdleWindow)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.setState(StateClosed)
			return
		case <-idle.C:
			s.log.Debug().Msg("idle window elapsed")
			s.finalize(ctx)
			return
		case chunk, ok := <-s.chunks:
			if !ok {
				s.finalize(ctx)
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.cfg.IdleWindow)
			s.ingest(ctx, chunk)
		}
	}
}

// ingest validates and buffers one chunk, recognizing a batch whenever
// enough audio has accumulated. Rejected chunks are dropped, never buffered.
func (s *Session) ingest(ctx context.Context, chunk []byte) {
	if len(chunk) > s.cfg.MaxChunkBytes {
		s.emit(ctx, Event{
			Type: EventError, Code: ErrChunkTooLarge,
			Error: fmt.Sprintf("chunk of %d bytes exceeds limit %d", len(chunk), s.cfg.MaxChunkBytes),
		})
		return
	}
	if !s.limiter.Allow() {
		s.emit(ctx, Event{
			Type: EventError, Code: ErrRateLimited,
			Error: fmt.Sprintf("over %d chunks per second", s.cfg.ChunksPerSec),
		})
		return
	}

	if s.State() != StateStreaming {
		s.setState(StateStreaming)
		s.emit(ctx, Event{Type: EventState, State: StateStreaming})
	}

	s.buffer = append(s.buffer, chunk...)
	for len(s.buffer) >= s.cfg.BatchBytes {
		batch := s.buffer[:s.cfg.BatchBytes]
		s.buffer = append([]byte(nil), s.buffer[s.cfg.BatchBytes:]...)
		s.recognizeBatch(ctx, batch)
	}
}

func (s *Session) recognizeBatch(ctx context.Context, batch []byte) {
	text, err := s.recognizer.Recognize(ctx, batch, s.Language)
	if err != nil {
		s.log.Warn().Err(err).Msg("batch recognition failed")
		s.emit(ctx, Event{Type: EventError, Code: ErrRecognition, Error: err.Error()})
		return
	}
	if text == "" {
		return
	}
	s.parts = append(s.parts, text)
	s.seq++
	// Partials carry the cumulative transcript so far, not just this batch.
	s.emit(ctx, Event{Type: EventPartial, Seq: s.seq, Text: strings.Join(s.parts, " ")})
}

// finalize flushes the remaining buffer and emits the single final_result.
func (s *Session) finalize(ctx context.Context) {
	s.setState(StateFinalizing)
	s.emit(ctx, Event{Type: EventState, State: StateFinalizing})

	if len(s.buffer) > 0 {
		s.recognizeBatch(ctx, s.buffer)
		s.buffer = nil
	}

	s.emit(ctx, Event{Type: EventFinal, Text: strings.TrimSpace(strings.Join(s.parts, " "))})
	s.setState(StateClosed)
}

func (s *Session) setState(st State) {
	s.state.Store(st)
}

// emit delivers an event without wedging the session when the client has
// gone away.
func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
