package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/constants"
	"voice-assistant/backend/internal/events"
	"voice-assistant/backend/internal/hub"
	"voice-assistant/backend/internal/metrics"
	"voice-assistant/backend/internal/protocol"
	"voice-assistant/backend/internal/stt"
)

const (
	readyWaitTimeout   = 5 * time.Second
	notReadyWarnEvery  = 5 * time.Second
	defaultAckEvery    = 50
	defaultMaxRestarts = 3
)

// Transcriber is one streaming transcription session. Implementations are
// single use; the session builds a new one for every restart.
type Transcriber interface {
	Start(ctx context.Context) error
	Events() <-chan stt.Event
	SendAudio(frame []byte) bool
	IsReady() bool
	Stop() error
}

// TranscriberFactory returns a fresh transcriber
type TranscriberFactory func() Transcriber

// ClientConn is the client socket as seen by a session
type ClientConn interface {
	hub.Sender
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// SessionConfig holds the per-connection settings resolved at upgrade time
type SessionConfig struct {
	ConnectionID  string
	SessionID     string
	UserID        string
	WebSearch     bool
	Language      string
	Persona       string
	Cooldown      time.Duration
	AckEvery      int
	CaptureDir    string
	MaxRestarts   int
	Authenticated bool
}

// SessionDeps are the process-wide collaborators of a session
type SessionDeps struct {
	Orchestrator *Orchestrator
	Registry     *hub.Registry
	Transcribers TranscriberFactory // nil disables transcription
	Metrics      *metrics.Metrics
	Events       *events.Publisher
	Logger       *zap.Logger
}

// Session is the state of one audio WebSocket connection
type Session struct {
	cfg          SessionConfig
	conn         ClientConn
	orchestrator *Orchestrator
	registry     *hub.Registry
	transcribers TranscriberFactory
	filter       *Filter
	metrics      *metrics.Metrics
	events       *events.Publisher
	logger       *zap.Logger
	now          func() time.Time
	backoff      func(attempt int) time.Duration

	mu          sync.Mutex
	sessionID   string
	webSearch   bool
	transcriber Transcriber

	capture      *CaptureFile
	captureFails bool
	chunks       int
	totalBytes   int64
	lastWarnAt   time.Time

	readyOnce sync.Once
	readyCh   chan struct{}
}

// NewSession prepares a session for conn. Run drives it.
func NewSession(conn ClientConn, cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.AckEvery <= 0 {
		cfg.AckEvery = defaultAckEvery
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 2 * time.Second
	}
	if cfg.ConnectionID == "" {
		cfg.ConnectionID = cfg.SessionID
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Session{
		cfg:          cfg,
		conn:         conn,
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		transcribers: deps.Transcribers,
		filter:       NewFilter(cfg.Cooldown),
		metrics:      deps.Metrics,
		events:       deps.Events,
		logger:       logger.With(zap.String("connection_id", cfg.ConnectionID)),
		now:          time.Now,
		backoff:      transcriberBackoff,
		sessionID:    cfg.SessionID,
		webSearch:    cfg.WebSearch,
		readyCh:      make(chan struct{}),
	}
}

// SessionID returns the current session id, which a client frame may change
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// WebSearchEnabled reports the current web search flag
func (s *Session) WebSearchEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.webSearch
}

// Run serves the connection until the client disconnects, sends
// stop_streaming, or ctx is cancelled. The connection is closed on return.
func (s *Session) Run(ctx context.Context) {
	defer func() { _ = s.conn.Close() }()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// unblock ReadMessage on shutdown
	stopClose := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stopClose()

	if s.registry != nil {
		s.registry.Connect(s.cfg.ConnectionID, s.conn)
		defer s.registry.Disconnect(s.cfg.ConnectionID)
	}
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	s.logger.Info("Audio stream session started",
		zap.String("session_id", s.SessionID()),
		zap.Bool("authenticated", s.cfg.Authenticated),
		zap.Bool("web_search", s.WebSearchEnabled()))

	s.openCapture()

	var wg sync.WaitGroup
	if s.transcribers != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTranscription(ctx)
		}()

		select {
		case <-s.readyCh:
		case <-time.After(readyWaitTimeout):
			s.logger.Warn("Transcription not ready yet, continuing")
		case <-ctx.Done():
		}
	}

	s.send(&protocol.AudioStreamReady{
		Message:              "Ready to receive audio stream with real-time transcription",
		SessionID:            s.SessionID(),
		AudioFilename:        s.captureName(),
		TranscriptionEnabled: s.transcribers != nil,
		TranscriptionReady:   s.transcriptionReady(),
		WebSearchEnabled:     s.WebSearchEnabled(),
		Language:             s.cfg.Language,
		Persona:              s.cfg.Persona,
		Authenticated:        s.cfg.Authenticated,
	})

	s.readLoop(ctx)

	s.send(&protocol.AudioStreamComplete{
		Message:       fmt.Sprintf("Audio stream completed. Total chunks: %d, Total bytes: %d", s.chunks, s.totalBytes),
		SessionID:     s.SessionID(),
		AudioFilename: s.captureName(),
		TotalChunks:   s.chunks,
		TotalBytes:    s.totalBytes,
	})

	cancel()
	if t := s.currentTranscriber(); t != nil {
		_ = t.Stop()
	}
	wg.Wait()

	if s.capture != nil {
		if err := s.capture.Close(); err != nil {
			s.logger.Warn("Failed to finalise audio capture", zap.Error(err))
		}
	}

	s.logger.Info("Audio stream session ended",
		zap.String("session_id", s.SessionID()),
		zap.Int("total_chunks", s.chunks),
		zap.Int64("total_bytes", s.totalBytes))
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Info("Client closed audio stream")
			} else {
				s.logger.Debug("Audio stream read ended", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			s.handleAudio(data)
		case websocket.TextMessage:
			if stop := s.handleControl(string(data)); stop {
				return
			}
		}
	}
}

func (s *Session) handleAudio(frame []byte) {
	s.chunks++
	s.totalBytes += int64(len(frame))
	s.metrics.AudioReceived(len(frame))

	if s.capture != nil {
		if err := s.capture.Write(frame); err != nil && !s.captureFails {
			s.captureFails = true
			s.logger.Warn("Audio capture write failed", zap.Error(err))
		}
	}

	t := s.currentTranscriber()
	if t != nil && !t.SendAudio(frame) {
		s.warnNotReady()
	}

	if s.chunks%s.cfg.AckEvery == 0 {
		s.send(&protocol.AudioChunkReceived{
			ChunkNumber:         s.chunks,
			TotalBytes:          s.totalBytes,
			TranscriptionActive: t != nil && t.IsReady(),
		})
	}
}

// handleControl applies one text frame and reports whether to stop reading
func (s *Session) handleControl(text string) bool {
	switch c := protocol.ParseControl(text).(type) {
	case protocol.SetSessionID:
		s.rebind(c.SessionID)
	case protocol.ToggleWebSearch:
		s.mu.Lock()
		s.webSearch = c.Enabled
		s.mu.Unlock()
		s.logger.Info("Web search toggled", zap.Bool("enabled", c.Enabled))
	case protocol.StartStreaming:
		s.send(protocol.StartStreamingResponse())
	case protocol.StopStreaming:
		s.send(protocol.StopStreamingResponse())
		return true
	case protocol.Ignored:
		s.logger.Debug("Ignoring text frame", zap.String("frame", c.Raw))
	}
	return false
}

func (s *Session) rebind(sessionID string) {
	s.mu.Lock()
	old := s.sessionID
	s.sessionID = sessionID
	s.mu.Unlock()

	if old == sessionID {
		return
	}
	s.logger.Info("Session id updated", zap.String("from", old), zap.String("to", sessionID))

	// a new id is a new conversation; its first utterance is never a duplicate
	s.filter.Reset()

	if s.capture != nil {
		if err := s.capture.Rotate(sessionID, s.now()); err != nil {
			s.logger.Warn("Failed to reopen audio capture", zap.Error(err))
			s.capture = nil
			return
		}
		s.logger.Info("Audio capture rotated", zap.String("path", s.capture.Path()))
	}
}

func (s *Session) openCapture() {
	if s.cfg.CaptureDir == "" {
		return
	}
	c, err := OpenCapture(s.cfg.CaptureDir, s.SessionID(), s.now())
	if err != nil {
		s.logger.Warn("Audio capture disabled", zap.Error(err))
		return
	}
	s.capture = c
	s.logger.Info("Recording client audio", zap.String("path", c.Path()))
}

func (s *Session) captureName() string {
	if s.capture == nil {
		return ""
	}
	return s.capture.Name()
}

// runTranscription keeps a transcriber running, restarting it with
// exponential backoff after failures
func (s *Session) runTranscription(ctx context.Context) {
	restarts := 0
	for {
		t := s.transcribers()
		s.setTranscriber(t)

		if err := t.Start(ctx); err != nil {
			s.logger.Warn("Transcription session failed to start", zap.Error(err))
		}
		began := s.pump(ctx, t)
		_ = t.Stop()
		s.setTranscriber(nil)

		if ctx.Err() != nil {
			return
		}
		if began {
			restarts = 0
		}
		if restarts >= s.cfg.MaxRestarts {
			s.logger.Error("Transcription unavailable, giving up", zap.Int("restarts", restarts))
			s.signalReady()
			s.send(&protocol.TranscriptionError{
				Message: constants.FallbackSTT,
				Status:  "unavailable",
			})
			return
		}
		restarts++

		backoff := s.backoff(restarts)
		s.logger.Info("Restarting transcription session",
			zap.Int("attempt", restarts),
			zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// transcriberBackoff is 1s, 2s, 4s... capped
func transcriberBackoff(attempt int) time.Duration {
	max := time.Duration(constants.MaxTranscriberBackoffSeconds) * time.Second
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 8 {
		return max
	}
	d := time.Second << (attempt - 1)
	if d > max {
		return max
	}
	return d
}

// pump relays transcriber events until the channel closes. It reports
// whether the provider ever confirmed the session.
func (s *Session) pump(ctx context.Context, t Transcriber) bool {
	began := false
	for ev := range t.Events() {
		switch e := ev.(type) {
		case stt.BeginEvent:
			began = true
			s.signalReady()
			s.send(&protocol.TranscriptionSessionStarted{
				Message:   "Real-time transcription started",
				SessionID: e.ID,
			})
		case stt.TurnEvent:
			s.handleTurn(ctx, e.Transcript)
		case stt.TerminatedEvent:
			s.send(&protocol.TranscriptionSessionTerminated{
				Message:       "Transcription session ended",
				AudioDuration: e.AudioDurationSeconds,
			})
		case stt.ErrorEvent:
			s.metrics.TranscriberFailed()
			s.signalReady()
			if ctx.Err() != nil {
				continue
			}
			s.logger.Warn("Transcription error", zap.Error(e.Err))
			s.send(&protocol.TranscriptionError{
				Message: e.Err.Error(),
				Status:  "error",
			})
		}
	}
	return began
}

func (s *Session) handleTurn(ctx context.Context, tr stt.Transcript) {
	final := tr.Kind == stt.KindFinal || tr.EndOfTurn
	s.metrics.TranscriptReceived(final)

	s.send(&protocol.Transcript{
		Final:           final,
		Text:            tr.Text,
		Confidence:      tr.Confidence,
		IsFinal:         final,
		EndOfTurn:       tr.EndOfTurn,
		TurnOrder:       tr.TurnOrder,
		TurnIsFormatted: tr.TurnIsFormatted,
	})
	if !final {
		return
	}

	s.send(&protocol.TurnEnd{
		Message:         "Turn completed",
		FinalTranscript: tr.Text,
		Confidence:      tr.Confidence,
		TurnOrder:       tr.TurnOrder,
		TurnIsFormatted: tr.TurnIsFormatted,
	})

	sessionID := s.SessionID()
	s.considerTrigger(ctx, sessionID, tr.Text)

	_ = s.events.PublishTranscript(ctx, events.TranscriptEvent{
		SessionID:  sessionID,
		UserID:     s.cfg.UserID,
		Text:       tr.Text,
		Confidence: tr.Confidence,
		TurnOrder:  tr.TurnOrder,
		Formatted:  tr.TurnIsFormatted,
		Timestamp:  s.now().UTC(),
	})
}

// considerTrigger applies the debounce filter and hands qualifying
// utterances to the orchestrator
func (s *Session) considerTrigger(ctx context.Context, sessionID, text string) {
	if s.orchestrator == nil || !s.orchestrator.Available() {
		s.logger.Debug("No responder configured, transcript not answered")
		s.metrics.UtteranceSuppressed("unavailable")
		return
	}

	decision := s.filter.Evaluate(text, s.now())
	if decision != Trigger {
		s.logger.Debug("Utterance suppressed",
			zap.String("reason", decision.String()),
			zap.String("text", text))
		s.metrics.UtteranceSuppressed(decision.String())
		return
	}

	s.orchestrator.Trigger(ctx, CycleRequest{
		SessionID: sessionID,
		UserID:    s.cfg.UserID,
		Text:      text,
		WebSearch: s.WebSearchEnabled(),
		Language:  s.cfg.Language,
		Persona:   s.cfg.Persona,
	}, s.conn)
}

func (s *Session) warnNotReady() {
	now := s.now()
	if now.Sub(s.lastWarnAt) < notReadyWarnEvery {
		return
	}
	s.lastWarnAt = now
	s.logger.Warn("Transcriber not ready, dropping audio", zap.Int("chunk_number", s.chunks))
}

func (s *Session) setTranscriber(t Transcriber) {
	s.mu.Lock()
	s.transcriber = t
	s.mu.Unlock()
}

func (s *Session) currentTranscriber() Transcriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriber
}

func (s *Session) transcriptionReady() bool {
	t := s.currentTranscriber()
	return t != nil && t.IsReady()
}

func (s *Session) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

func (s *Session) send(msg protocol.Message) {
	if err := s.conn.Send(msg); err != nil && !errors.Is(err, hub.ErrClosed) {
		s.logger.Debug("Failed to send message", zap.String("type", string(msg.Type())), zap.Error(err))
	}
}
