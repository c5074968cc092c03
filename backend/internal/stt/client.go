// Package stt streams PCM audio to AssemblyAI's realtime transcription API
// and turns its JSON messages into typed events.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/constants"
	apperrors "voice-assistant/backend/pkg/errors"
)

const (
	writeTimeout = 5 * time.Second
	eventBuffer  = 64
)

// Config holds the streaming session parameters
type Config struct {
	URL                     string
	APIKey                  string
	SampleRate              int
	Encoding                string
	FormatTurns             bool
	EndOfTurnConfidence     float64
	MinSilenceWhenConfident int // milliseconds
	QueueSize               int // audio frames buffered before SendAudio reports false
}

// DefaultConfig returns the parameters used for 16 kHz mono client audio
func DefaultConfig() Config {
	return Config{
		URL:                     "wss://streaming.assemblyai.com/v3/ws",
		SampleRate:              constants.InputSampleRate,
		Encoding:                constants.InputEncoding,
		FormatTurns:             true,
		EndOfTurnConfidence:     0.5,
		MinSilenceWhenConfident: 1200,
		QueueSize:               256,
	}
}

// Endpoint builds the session URL with all query parameters
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("encoding", c.Encoding)
	q.Set("format_turns", strconv.FormatBool(c.FormatTurns))
	q.Set("end_of_turn_confidence_threshold", strconv.FormatFloat(c.EndOfTurnConfidence, 'f', -1, 64))
	q.Set("min_end_of_turn_silence_when_confident", strconv.Itoa(c.MinSilenceWhenConfident))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// providerMessage is the union of every message AssemblyAI sends
type providerMessage struct {
	Type                 string   `json:"type"`
	ID                   string   `json:"id"`
	ExpiresAt            int64    `json:"expires_at"`
	Transcript           string   `json:"transcript"`
	EndOfTurn            bool     `json:"end_of_turn"`
	EndOfTurnConfidence  *float64 `json:"end_of_turn_confidence"`
	TurnOrder            *int     `json:"turn_order"`
	TurnIsFormatted      bool     `json:"turn_is_formatted"`
	AudioDurationSeconds float64  `json:"audio_duration_seconds"`
	Error                string   `json:"error"`
}

// Client is one transcription session. It is single use: once stopped or
// failed, callers create a new Client to retry.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   bool
	stopped bool
	started bool

	writeMu  sync.Mutex
	audio    chan []byte
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// NewClient creates a transcription client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.DefaultDialer,
		audio:  make(chan []byte, cfg.QueueSize),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
}

// Events returns the session's event channel. It is closed once the session
// has ended for any reason.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Start opens the provider session. On failure an ErrorEvent is emitted, the
// event channel is closed and the client stays inactive.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("transcription session already used")
	}
	c.started = true
	c.mu.Unlock()

	fail := func(reason string, err error) error {
		typed := apperrors.NewTranscriptionUnavailable(reason, err)
		c.emit(ErrorEvent{Err: typed})
		c.markStopped()
		close(c.events)
		return typed
	}

	if c.cfg.APIKey == "" {
		return fail("missing api key", nil)
	}

	endpoint, err := c.cfg.Endpoint()
	if err != nil {
		return fail("bad endpoint", err)
	}

	header := http.Header{}
	header.Set("Authorization", c.cfg.APIKey)

	c.logger.Info("Connecting to transcription service",
		zap.Int("sample_rate", c.cfg.SampleRate),
		zap.Float64("end_of_turn_confidence", c.cfg.EndOfTurnConfidence))

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return fail("dial failed", apperrors.ClassifyProviderError("assemblyai", status, err))
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.writeLoop(conn)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Stop()
		case <-c.done:
		}
	}()

	return nil
}

// SendAudio queues one PCM frame. It never blocks and reports false when the
// session is not ready or the queue is full.
func (c *Client) SendAudio(frame []byte) bool {
	c.mu.Lock()
	ready := c.ready && !c.stopped
	c.mu.Unlock()
	if !ready {
		return false
	}

	select {
	case c.audio <- frame:
		return true
	default:
		return false
	}
}

// IsReady reports whether the provider confirmed the session and the
// connection is still held
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && !c.stopped && c.conn != nil
}

// Stop terminates the session. Safe to call more than once; the client is
// always inactive afterwards.
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		c.markStopped()

		if conn == nil {
			return
		}

		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if werr := conn.WriteJSON(map[string]string{"type": "Terminate"}); werr != nil {
			c.logger.Debug("Failed to send terminate message", zap.Error(werr))
		}
		c.writeMu.Unlock()

		if cerr := conn.Close(); cerr != nil {
			err = fmt.Errorf("close transcription connection: %w", cerr)
		}
		c.logger.Info("Transcription session stopped")
	})
	return err
}

func (c *Client) markStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	if !c.stopped {
		c.stopped = true
		close(c.done)
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// emit delivers an event unless the session has already been torn down
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// readLoop is the only goroutine that sends on or closes the event channel
// once the connection is up.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isStopped() {
				return
			}
			c.logger.Error("Transcription read error", zap.Error(err))
			c.emit(ErrorEvent{Err: apperrors.NewTranscriptionUnavailable("connection lost", err)})
			c.markStopped()
			_ = conn.Close()
			return
		}

		var msg providerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Ignoring malformed transcription message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "Begin":
			c.mu.Lock()
			c.ready = !c.stopped
			c.mu.Unlock()
			c.logger.Info("Transcription session started", zap.String("provider_session_id", msg.ID))
			c.emit(BeginEvent{ID: msg.ID, ExpiresAt: time.Unix(msg.ExpiresAt, 0)})

		case "Turn":
			kind := KindPartial
			if msg.EndOfTurn {
				kind = KindFinal
			}
			c.emit(TurnEvent{Transcript: Transcript{
				Kind:            kind,
				Text:            msg.Transcript,
				Confidence:      msg.EndOfTurnConfidence,
				EndOfTurn:       msg.EndOfTurn,
				TurnOrder:       msg.TurnOrder,
				TurnIsFormatted: msg.TurnIsFormatted,
			}})

		case "Termination":
			c.emit(TerminatedEvent{AudioDurationSeconds: msg.AudioDurationSeconds})
			c.markStopped()
			_ = conn.Close()
			return

		default:
			if msg.Error != "" {
				c.emit(ErrorEvent{Err: apperrors.NewTranscriptionUnavailable(msg.Error, nil)})
				c.markStopped()
				_ = conn.Close()
				return
			}
			c.logger.Debug("Unhandled transcription message", zap.String("type", msg.Type))
		}
	}
}

func (c *Client) writeLoop(conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.audio:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.BinaryMessage, frame)
			c.writeMu.Unlock()
			if err != nil {
				if c.isStopped() {
					return
				}
				// Closing the connection makes the read loop report the failure
				c.logger.Error("Failed to forward audio", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}
