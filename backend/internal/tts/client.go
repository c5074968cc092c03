// Package tts streams text to Murf's WebSocket synthesis API and relays the
// base64 audio it returns.
package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/constants"
	apperrors "voice-assistant/backend/pkg/errors"
)

const (
	clearAckTimeout  = 3 * time.Second
	configAckTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

var (
	errReadTimeout  = errors.New("timed out waiting for synthesis message")
	errNotConnected = errors.New("synthesis connection is not open")
)

// Config holds connection and voice settings
type Config struct {
	URL         string
	APIKey      string
	VoiceID     string
	Style       string
	Rate        int
	Pitch       int
	Variation   int
	ContextID   string
	SampleRate  int
	ReadTimeout time.Duration
	Incremental bool // send fragments as they arrive instead of one block
}

// DefaultConfig returns the settings used by the voice pipeline
func DefaultConfig() Config {
	return Config{
		URL:         "wss://api.murf.ai/v1/speech/stream-input",
		VoiceID:     "en-US-amara",
		Style:       "Conversational",
		Variation:   1,
		ContextID:   "voice_agent_context_static",
		SampleRate:  constants.OutputSampleRate,
		ReadTimeout: 30 * time.Second,
	}
}

const maxContextIDLength = 64

// ForSession returns a copy of c whose ContextID is scoped to sessionID, so
// concurrent sessions never clear or end each other's synthesis context.
// Characters outside [A-Za-z0-9_-] are replaced and the id is truncated.
func (c Config) ForSession(sessionID string) Config {
	if sessionID == "" {
		return c
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, sessionID)

	id := safe
	if c.ContextID != "" {
		id = c.ContextID + "_" + safe
	}
	if len(id) > maxContextIDLength {
		id = id[:maxContextIDLength]
	}
	c.ContextID = id
	return c
}

// Endpoint builds the connection URL
func (c Config) Endpoint() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("api-key", c.APIKey)
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("channel_type", "MONO")
	q.Set("format", "WAV")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Chunk is one audio frame in arrival order. Size is the base64 length and
// TotalSize the running sum over the stream.
type Chunk struct {
	AudioBase64 string
	ContextID   string
	Number      int
	Size        int
	TotalSize   int
	IsFinal     bool
}

// Handler receives stream progress. Calls happen on the goroutine running
// Stream, in order.
type Handler interface {
	// OnTextSent fires once, when text first reaches the provider
	OnTextSent(chars int)
	OnAudio(chunk Chunk)
	// OnStatus receives every non-audio message
	OnStatus(status map[string]any)
}

type voiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

type outbound struct {
	ContextID   string       `json:"context_id"`
	Text        *string      `json:"text,omitempty"`
	End         bool         `json:"end,omitempty"`
	Clear       bool         `json:"clear,omitempty"`
	VoiceConfig *voiceConfig `json:"voice_config,omitempty"`
}

type readResult struct {
	data []byte
	err  error
}

// Client is one synthesis connection. Connect, Stream and Disconnect are
// called once per generation cycle.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	// readGate serialises every receive on the connection. pending holds a
	// read that outlived its caller's timeout; the next caller picks it up.
	readGate sync.Mutex
	pending  chan readResult
}

// NewClient creates a synthesis client
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.DefaultDialer,
	}
}

// Connected reports whether the connection is open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the provider, clears any context left from a previous cycle
// and sends the voice configuration.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		c.logger.Debug("Already connected to synthesis service")
		return nil
	}
	if c.cfg.APIKey == "" {
		return apperrors.NewSynthesisUnavailable(apperrors.StageConnect, errors.New("missing api key"))
	}

	endpoint, err := c.cfg.Endpoint()
	if err != nil {
		return apperrors.NewSynthesisUnavailable(apperrors.StageConnect, err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return apperrors.NewSynthesisUnavailable(apperrors.StageConnect,
			apperrors.ClassifyProviderError("murf", status, err))
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = nil
	c.mu.Unlock()
	c.logger.Info("Connected to synthesis service", zap.String("voice_id", c.cfg.VoiceID))

	c.clearContext(ctx)

	if err := c.sendVoiceConfig(ctx); err != nil {
		_ = c.Disconnect()
		return apperrors.NewSynthesisUnavailable(apperrors.StageConnect, err)
	}
	return nil
}

// clearContext is best effort; failures are logged only
func (c *Client) clearContext(ctx context.Context) {
	if err := c.write(outbound{ContextID: c.cfg.ContextID, Clear: true}); err != nil {
		c.logger.Warn("Failed to clear synthesis context", zap.Error(err))
		return
	}

	data, err := c.nextMessage(ctx, clearAckTimeout)
	switch {
	case errors.Is(err, errReadTimeout):
		c.logger.Warn("Timeout waiting for context clear acknowledgment")
	case err != nil:
		c.logger.Warn("Failed to read context clear acknowledgment", zap.Error(err))
	default:
		c.logger.Debug("Context clear response", zap.ByteString("response", data))
	}
}

func (c *Client) sendVoiceConfig(ctx context.Context) error {
	msg := outbound{
		ContextID: c.cfg.ContextID,
		VoiceConfig: &voiceConfig{
			VoiceID:   c.cfg.VoiceID,
			Style:     c.cfg.Style,
			Rate:      c.cfg.Rate,
			Pitch:     c.cfg.Pitch,
			Variation: c.cfg.Variation,
		},
	}
	if err := c.write(msg); err != nil {
		return fmt.Errorf("send voice config: %w", err)
	}

	data, err := c.nextMessage(ctx, configAckTimeout)
	switch {
	case errors.Is(err, errReadTimeout):
		c.logger.Warn("Timeout waiting for voice config acknowledgment")
		return nil
	case err != nil:
		return fmt.Errorf("read voice config acknowledgment: %w", err)
	}
	c.logger.Debug("Voice config response", zap.ByteString("response", data))
	return nil
}

// Stream sends the text produced on fragments and relays audio to h until the
// final chunk arrives. A read timeout or a closed connection ends the stream
// without an error; callers detect the missing final chunk through h.
func (c *Client) Stream(ctx context.Context, fragments <-chan string, h Handler) error {
	if !c.Connected() {
		return apperrors.NewSynthesisUnavailable(apperrors.StageStream, errNotConnected)
	}

	var sent bool
	var err error
	if c.cfg.Incremental {
		sent, err = c.sendIncremental(ctx, fragments, h)
	} else {
		sent, err = c.sendAccumulated(ctx, fragments, h)
	}
	if err != nil {
		return err
	}
	if !sent {
		return apperrors.NewSynthesisUnavailable(apperrors.StageStream, errors.New("no text to synthesize"))
	}

	return c.listen(ctx, h)
}

func (c *Client) sendAccumulated(ctx context.Context, fragments <-chan string, h Handler) (bool, error) {
	var sb strings.Builder
	count := 0
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case fragment, ok := <-fragments:
			if !ok {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				text := sb.String()
				if text == "" {
					return false, nil
				}
				c.logger.Info("Sending complete text to synthesis",
					zap.Int("fragments", count),
					zap.Int("chars", len(text)))
				if err := c.write(outbound{ContextID: c.cfg.ContextID, Text: &text, End: true}); err != nil {
					return false, apperrors.NewSynthesisUnavailable(apperrors.StageStream, err)
				}
				h.OnTextSent(len(text))
				return true, nil
			}
			if fragment != "" {
				sb.WriteString(fragment)
				count++
			}
		}
	}
}

func (c *Client) sendIncremental(ctx context.Context, fragments <-chan string, h Handler) (bool, error) {
	sent := false
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case fragment, ok := <-fragments:
			if !ok {
				if !sent {
					return false, nil
				}
				empty := ""
				if err := c.write(outbound{ContextID: c.cfg.ContextID, Text: &empty, End: true}); err != nil {
					return sent, apperrors.NewSynthesisUnavailable(apperrors.StageStream, err)
				}
				return true, nil
			}
			if fragment == "" {
				continue
			}
			if err := c.write(outbound{ContextID: c.cfg.ContextID, Text: &fragment}); err != nil {
				return sent, apperrors.NewSynthesisUnavailable(apperrors.StageStream, err)
			}
			if !sent {
				sent = true
				h.OnTextSent(len(fragment))
			}
		}
	}
}

func (c *Client) listen(ctx context.Context, h Handler) error {
	chunkNumber := 0
	totalSize := 0

	for {
		data, err := c.nextMessage(ctx, c.cfg.ReadTimeout)
		switch {
		case errors.Is(err, errReadTimeout):
			c.logger.Warn("Timeout waiting for synthesis response", zap.Int("chunks", chunkNumber))
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			c.logger.Info("Synthesis connection closed", zap.Error(err), zap.Int("chunks", chunkNumber))
			return nil
		}

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("Ignoring malformed synthesis message", zap.Error(err))
			continue
		}

		audio, hasAudio := msg["audio"].(string)
		if !hasAudio {
			h.OnStatus(msg)
			continue
		}

		chunkNumber++
		totalSize += len(audio)
		final, _ := msg["final"].(bool)
		contextID, _ := msg["context_id"].(string)

		h.OnAudio(Chunk{
			AudioBase64: audio,
			ContextID:   contextID,
			Number:      chunkNumber,
			Size:        len(audio),
			TotalSize:   totalSize,
			IsFinal:     final,
		})

		if final {
			c.logger.Info("Received final audio chunk",
				zap.Int("chunks", chunkNumber),
				zap.Int("total_size", totalSize))
			return nil
		}
	}
}

// nextMessage waits up to timeout for the next message. A timeout leaves the
// underlying read in flight so the connection stays usable.
func (c *Client) nextMessage(ctx context.Context, timeout time.Duration) ([]byte, error) {
	c.readGate.Lock()
	defer c.readGate.Unlock()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, errNotConnected
	}
	if c.pending == nil {
		ch := make(chan readResult, 1)
		c.pending = ch
		go func() {
			_, data, err := conn.ReadMessage()
			ch <- readResult{data: data, err: err}
		}()
	}
	pending := c.pending
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-pending:
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		return res.data, res.err
	case <-timer.C:
		return nil, errReadTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(msg outbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(msg)
}

// Disconnect closes the connection. Safe to call more than once.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("close synthesis connection: %w", err)
	}
	c.logger.Info("Disconnected from synthesis service")
	return nil
}
