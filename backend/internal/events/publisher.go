// Package events publishes conversation events to Kafka, or only logs them
// when no brokers are configured.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/metrics"
)

// TranscriptEvent is published for every end-of-turn transcript
type TranscriptEvent struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	Text       string    `json:"text"`
	Confidence *float64  `json:"confidence,omitempty"`
	TurnOrder  *int      `json:"turn_order,omitempty"`
	Formatted  bool      `json:"turn_is_formatted"`
	Timestamp  time.Time `json:"timestamp"`
}

// CycleEvent is published once per response cycle
type CycleEvent struct {
	SessionID      string    `json:"session_id"`
	UserID         string    `json:"user_id,omitempty"`
	Outcome        string    `json:"outcome"`
	UserMessage    string    `json:"user_message"`
	ResponseLength int       `json:"response_length"`
	AudioChunks    int       `json:"audio_chunks"`
	AudioBytes     int       `json:"audio_bytes"`
	DurationMS     int64     `json:"duration_ms"`
	WebSearch      bool      `json:"web_search_enabled"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers         []string
	TranscriptTopic string
	CycleTopic      string
	// QueueSize bounds the events waiting for Kafka; 0 uses the default
	QueueSize int
}

const (
	defaultQueueSize = 256
	deliveryTimeout  = 10 * time.Second
	closeTimeout     = 5 * time.Second
)

// ErrQueueFull is reported when an event is dropped because Kafka is not
// keeping up
var ErrQueueFull = errors.New("event queue full")

// messageWriter is the part of *kafka.Writer the publisher uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type outgoing struct {
	writer messageWriter
	topic  string
	msg    kafka.Message
}

// Publisher writes events to one Kafka topic per event kind. Delivery runs on
// a background goroutine: Publish* only enqueue, so a slow or unreachable
// broker never holds up the voice pipeline.
type Publisher struct {
	transcripts     messageWriter
	cycles          messageWriter
	transcriptTopic string
	cycleTopic      string
	enabled         bool
	metrics         *metrics.Metrics
	logger          *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan outgoing
	done    chan struct{}
	stopCtx context.Context
	stop    context.CancelFunc
}

// New creates a publisher. A nil config or an empty broker list gives a
// log-only publisher.
func New(cfg *Config, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	if cfg == nil || len(cfg.Brokers) == 0 {
		logger.Info("Kafka disabled, using log-only event publishing")
		p := &Publisher{metrics: m, logger: logger}
		if cfg != nil {
			p.transcriptTopic = cfg.TranscriptTopic
			p.cycleTopic = cfg.CycleTopic
		}
		return p
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	logger.Info("Kafka publisher initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("transcript_topic", cfg.TranscriptTopic),
		zap.String("cycle_topic", cfg.CycleTopic))

	return newPublisher(cfg, newWriter(cfg.TranscriptTopic), newWriter(cfg.CycleTopic), m, logger)
}

func newPublisher(cfg *Config, transcripts, cycles messageWriter, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		transcripts:     transcripts,
		cycles:          cycles,
		transcriptTopic: cfg.TranscriptTopic,
		cycleTopic:      cfg.CycleTopic,
		enabled:         true,
		metrics:         m,
		logger:          logger,
		queue:           make(chan outgoing, size),
		done:            make(chan struct{}),
		stopCtx:         ctx,
		stop:            cancel,
	}
	go p.run()
	return p
}

// Enabled reports whether events reach Kafka
func (p *Publisher) Enabled() bool {
	return p != nil && p.enabled
}

// PublishTranscript queues a final transcript keyed by session id
func (p *Publisher) PublishTranscript(ctx context.Context, ev TranscriptEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.transcripts, p.transcriptTopic, "final_transcript", ev.SessionID, ev)
}

// PublishCycle queues the outcome of one response cycle
func (p *Publisher) PublishCycle(ctx context.Context, ev CycleEvent) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, p.cycles, p.cycleTopic, "cycle", ev.SessionID, ev)
}

// publish never blocks on Kafka. ctx only guards the hand-off to the queue.
func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.String("topic", topic), zap.Error(err))
		return err
	}

	p.logger.Debug("Publishing event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", payload))

	if !p.enabled || writer == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	out := outgoing{
		writer: writer,
		topic:  topic,
		msg: kafka.Message{
			Key:   []byte(key),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "eventType", Value: []byte(eventType)},
			},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return io.ErrClosedPipe
	}
	select {
	case p.queue <- out:
		return nil
	default:
		p.metrics.EventPublished(topic, ErrQueueFull)
		p.logger.Warn("Dropping event, Kafka is not keeping up",
			zap.String("topic", topic),
			zap.String("key", key))
		return ErrQueueFull
	}
}

// run delivers queued events until the queue is closed
func (p *Publisher) run() {
	defer close(p.done)
	for out := range p.queue {
		ctx, cancel := context.WithTimeout(p.stopCtx, deliveryTimeout)
		err := out.writer.WriteMessages(ctx, out.msg)
		cancel()

		p.metrics.EventPublished(out.topic, err)
		if err != nil {
			p.logger.Error("Failed to write to Kafka",
				zap.String("topic", out.topic),
				zap.ByteString("key", out.msg.Key),
				zap.Error(err))
		}
	}
}

// Close stops accepting events, gives queued ones a few seconds to reach
// Kafka, then closes both writers
func (p *Publisher) Close() error {
	if p == nil || !p.enabled {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-time.After(closeTimeout):
		p.logger.Warn("Kafka did not drain in time, abandoning queued events",
			zap.Int("queued", len(p.queue)))
		p.stop()
		<-p.done
	}
	p.stop()

	var err error
	for _, w := range []messageWriter{p.transcripts, p.cycles} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			p.logger.Error("Error closing Kafka writer", zap.Error(e))
			err = e
		}
	}
	return err
}
