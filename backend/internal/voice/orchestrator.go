// Package voice runs the real-time voice pipeline: per-connection sessions
// that feed audio to transcription, and the orchestrator that turns a
// finished utterance into streamed text and audio.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/constants"
	"voice-assistant/backend/internal/events"
	"voice-assistant/backend/internal/history"
	"voice-assistant/backend/internal/hub"
	"voice-assistant/backend/internal/metrics"
	"voice-assistant/backend/internal/protocol"
	"voice-assistant/backend/internal/tools"
	"voice-assistant/backend/internal/tts"
	apperrors "voice-assistant/backend/pkg/errors"
)

const fragmentBuffer = 256

// Synthesizer is one streaming TTS connection, used for a single cycle
type Synthesizer interface {
	Connect(ctx context.Context) error
	Stream(ctx context.Context, fragments <-chan string, h tts.Handler) error
	Disconnect() error
}

// SynthesizerFactory returns a fresh synthesizer for each cycle of the given
// session
type SynthesizerFactory func(sessionID string) Synthesizer

// CycleRequest is one qualifying utterance
type CycleRequest struct {
	SessionID string
	UserID    string
	Text      string
	WebSearch bool
	Language  string
	Persona   string
}

// Outcome of a cycle
type Outcome string

const (
	OutcomeComplete  Outcome = metrics.OutcomeComplete
	OutcomeLLMError  Outcome = metrics.OutcomeLLMError
	OutcomeTTSError  Outcome = metrics.OutcomeTTSError
	OutcomeCancelled Outcome = metrics.OutcomeCancelled
)

// CycleResult summarises what a cycle sent to the client
type CycleResult struct {
	Outcome     Outcome
	Response    string
	AudioChunks int
	AudioBytes  int
	Err         error
}

// Dependencies wires the orchestrator. Generator and Synthesizers may be
// nil, in which case no cycle can start.
type Dependencies struct {
	Generator    adapter.Generator
	Synthesizers SynthesizerFactory
	History      history.Store
	Skills       *tools.Registry
	Metrics      *metrics.Metrics
	Events       *events.Publisher
	Logger       *zap.Logger

	// HistoryTurns bounds the turns handed to the generator
	HistoryTurns int
	// AuthenticatedHistoryOnly skips history writes for anonymous sessions
	AuthenticatedHistoryOnly bool
}

// Orchestrator runs generation and synthesis cycles. It is shared by every
// session in the process; the lock registry keeps cycles of one session
// strictly sequential.
type Orchestrator struct {
	generator    adapter.Generator
	synthesizers SynthesizerFactory
	history      history.Store
	skills       *tools.Registry
	locks        *LockRegistry
	metrics      *metrics.Metrics
	events       *events.Publisher
	logger       *zap.Logger

	historyTurns    int
	authHistoryOnly bool

	inflight sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. A nil History gets an in-memory
// store.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore()
	}
	return &Orchestrator{
		generator:       deps.Generator,
		synthesizers:    deps.Synthesizers,
		history:         deps.History,
		skills:          deps.Skills,
		locks:           NewLockRegistry(),
		metrics:         deps.Metrics,
		events:          deps.Events,
		logger:          deps.Logger,
		historyTurns:    deps.HistoryTurns,
		authHistoryOnly: deps.AuthenticatedHistoryOnly,
	}
}

// Available reports whether both generation and synthesis are configured
func (o *Orchestrator) Available() bool {
	return o.generator != nil && o.synthesizers != nil
}

// Locks exposes the session lock registry
func (o *Orchestrator) Locks() *LockRegistry {
	return o.locks
}

// Trigger starts a cycle for req in the background. It returns false, and
// drops the request, when the session already has a cycle running.
func (o *Orchestrator) Trigger(ctx context.Context, req CycleRequest, sender hub.Sender) bool {
	log := o.logger.With(zap.String("session_id", req.SessionID))

	if !o.Available() {
		log.Warn("Dropping utterance, generation or synthesis not configured")
		o.metrics.UtteranceSuppressed("unavailable")
		return false
	}

	release, ok := o.locks.TryAcquire(req.SessionID)
	if !ok {
		log.Info("Dropping utterance, a response is already in progress", zap.String("text", req.Text))
		o.metrics.UtteranceSuppressed("locked")
		return false
	}

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		defer release()
		defer func() {
			if r := recover(); r != nil {
				log.Error("Response cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			}
		}()
		o.runCycle(ctx, req, sender, release)
	}()
	return true
}

// Wait blocks until every cycle started by Trigger has finished
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// RunCycle runs one cycle synchronously. It does not take the session lock;
// Trigger does.
func (o *Orchestrator) RunCycle(ctx context.Context, req CycleRequest, sender hub.Sender) CycleResult {
	return o.runCycle(ctx, req, sender, func() {})
}

// runCycle calls release once the cycle's work is done and before the
// terminal message goes out, so a client reacting to that message can start
// the next cycle straight away.
func (o *Orchestrator) runCycle(ctx context.Context, req CycleRequest, sender hub.Sender, release func()) CycleResult {
	start := time.Now()
	log := o.logger.With(zap.String("session_id", req.SessionID))

	if !o.Available() {
		err := errors.New("generation or synthesis not configured")
		o.send(sender, &protocol.LLMStreamingError{
			Message:   constants.FallbackNotReady,
			Error:     err.Error(),
			ErrorType: "unavailable",
		})
		return CycleResult{Outcome: OutcomeLLMError, Err: err}
	}

	log.Info("Starting response cycle",
		zap.String("text", req.Text),
		zap.Bool("web_search", req.WebSearch))

	turns, err := o.history.GetRecent(ctx, req.SessionID, o.historyTurns)
	if err != nil {
		log.Warn("Failed to load chat history", zap.Error(err))
		turns = nil
	}
	o.appendTurn(ctx, req, history.RoleUser, req.Text)

	o.send(sender, &protocol.LLMStreamingStart{
		Message:          "LLM is generating response...",
		UserMessage:      req.Text,
		WebSearchEnabled: req.WebSearch,
	})

	genReq := adapter.Request{
		UserMessage:  req.Text,
		History:      turns,
		ExtraContext: o.searchContext(ctx, req),
		Language:     req.Language,
		Persona:      req.Persona,
	}

	relay := &cycleRelay{o: o, sender: sender}
	var response strings.Builder

	synth := o.synthesizers(req.SessionID)
	disconnect := sync.OnceFunc(func() {
		if err := synth.Disconnect(); err != nil {
			log.Debug("TTS disconnect failed", zap.Error(err))
		}
	})
	defer disconnect()

	fragments := make(chan string, fragmentBuffer)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stream, err := o.generator.Generate(gctx, genReq)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			fragment, err := stream.Recv()
			if err == io.EOF {
				close(fragments)
				return nil
			}
			if err != nil {
				return err
			}

			response.WriteString(fragment)
			o.metrics.FragmentRelayed()
			o.send(sender, &protocol.LLMStreamingChunk{
				Chunk:             fragment,
				AccumulatedLength: response.Len(),
			})

			select {
			case fragments <- fragment:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		if err := synth.Connect(gctx); err != nil {
			return asSynthesisError(apperrors.StageConnect, err)
		}
		if err := synth.Stream(gctx, fragments, relay); err != nil {
			if gctx.Err() != nil && ctx.Err() == nil {
				// the generator failed first; its error wins
				return gctx.Err()
			}
			return asSynthesisError(apperrors.StageStream, err)
		}
		return nil
	})

	err = g.Wait()
	disconnect()
	if err == nil && !relay.final {
		err = apperrors.NewSynthesisUnavailable(apperrors.StageIncomplete,
			fmt.Errorf("stream ended after %d chunks without a final chunk", relay.chunks))
	}

	result := CycleResult{
		Response:    response.String(),
		AudioChunks: relay.chunks,
		AudioBytes:  relay.totalSize,
		Err:         err,
	}

	var terminal protocol.Message
	switch {
	case err == nil:
		result.Outcome = OutcomeComplete
		o.appendTurn(ctx, req, history.RoleAssistant, result.Response)
		terminal = &protocol.LLMStreamingComplete{
			Message:             "LLM streaming completed",
			CompleteResponse:    result.Response,
			TotalLength:         len(result.Response),
			AudioChunksReceived: relay.chunks,
			TotalAudioSize:      relay.totalSize,
			SessionID:           req.SessionID,
			WebSearchEnabled:    req.WebSearch,
		}
		log.Info("Response cycle complete",
			zap.Int("response_length", len(result.Response)),
			zap.Int("audio_chunks", relay.chunks),
			zap.Int("audio_bytes", relay.totalSize),
			zap.Duration("duration", time.Since(start)))

	case ctx.Err() != nil:
		result.Outcome = OutcomeCancelled
		log.Info("Response cycle cancelled", zap.Error(err))

	case apperrors.IsErrorType(err, apperrors.ErrorTypeSynthesis):
		result.Outcome = OutcomeTTSError
		stage := apperrors.StageStream
		var synthErr *apperrors.ErrSynthesisUnavailable
		if errors.As(err, &synthErr) {
			stage = synthErr.Stage
		}
		terminal = &protocol.TTSStreamingError{
			Message: constants.FallbackTTS,
			Error:   err.Error(),
			Stage:   stage,
		}
		log.Error("Response cycle failed in synthesis", zap.String("stage", stage), zap.Error(err))

	default:
		result.Outcome = OutcomeLLMError
		terminal = &protocol.LLMStreamingError{
			Message:   GenerationFallback(err),
			Error:     err.Error(),
			ErrorType: llmErrorType(err),
		}
		log.Error("Response cycle failed in generation", zap.Error(err))
	}

	elapsed := time.Since(start)
	o.metrics.CycleFinished(string(result.Outcome), elapsed.Seconds())
	o.publishCycle(req, result, elapsed)

	release()
	if terminal != nil {
		o.send(sender, terminal)
	}
	return result
}

func (o *Orchestrator) searchContext(ctx context.Context, req CycleRequest) string {
	if !req.WebSearch {
		return ""
	}
	skill, ok := o.skills.Get(tools.SkillWebSearch)
	if !ok {
		return ""
	}
	text, err := skill.Execute(ctx, req.Text)
	if err != nil {
		o.logger.Warn("Web search failed, answering without it",
			zap.String("session_id", req.SessionID),
			zap.Error(err))
		return ""
	}
	return text
}

func (o *Orchestrator) appendTurn(ctx context.Context, req CycleRequest, role history.Role, content string) {
	if o.authHistoryOnly && req.UserID == "" {
		return
	}
	if err := o.history.Append(ctx, req.SessionID, role, content, req.UserID); err != nil {
		o.logger.Warn("Failed to save chat turn",
			zap.String("session_id", req.SessionID),
			zap.String("role", string(role)),
			zap.Error(err))
	}
}

func (o *Orchestrator) publishCycle(req CycleRequest, result CycleResult, elapsed time.Duration) {
	ev := events.CycleEvent{
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		Outcome:        string(result.Outcome),
		UserMessage:    req.Text,
		ResponseLength: len(result.Response),
		AudioChunks:    result.AudioChunks,
		AudioBytes:     result.AudioBytes,
		DurationMS:     elapsed.Milliseconds(),
		WebSearch:      req.WebSearch,
		Timestamp:      time.Now().UTC(),
	}
	if result.Err != nil {
		ev.Error = result.Err.Error()
	}
	// the request context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.events.PublishCycle(ctx, ev)
}

func (o *Orchestrator) send(sender hub.Sender, msg protocol.Message) {
	if err := sender.Send(msg); err != nil {
		o.logger.Debug("Failed to send message", zap.String("type", string(msg.Type())), zap.Error(err))
	}
}

// cycleRelay forwards TTS progress to the client. Stream calls it from one
// goroutine; its fields are read after the errgroup has finished.
type cycleRelay struct {
	o      *Orchestrator
	sender hub.Sender

	chunks    int
	totalSize int
	final     bool
}

func (r *cycleRelay) OnTextSent(chars int) {
	r.o.send(r.sender, &protocol.TTSStreamingStart{Message: "Starting TTS streaming..."})
}

func (r *cycleRelay) OnAudio(chunk tts.Chunk) {
	if r.final {
		return
	}
	r.chunks++
	r.totalSize = chunk.TotalSize
	r.final = chunk.IsFinal
	r.o.metrics.AudioChunkRelayed(chunk.Size)
	r.o.send(r.sender, &protocol.TTSAudioChunk{
		AudioBase64: chunk.AudioBase64,
		ChunkNumber: r.chunks,
		ChunkSize:   chunk.Size,
		TotalSize:   chunk.TotalSize,
		IsFinal:     chunk.IsFinal,
	})
}

func (r *cycleRelay) OnStatus(status map[string]any) {
	r.o.send(r.sender, &protocol.TTSStatus{Data: status})
}

func asSynthesisError(stage string, err error) error {
	if apperrors.IsErrorType(err, apperrors.ErrorTypeSynthesis) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.NewSynthesisUnavailable(stage, err)
}

// GenerationFallback returns the user-facing message for a generation failure
func GenerationFallback(err error) string {
	if kind, ok := apperrors.ProviderKind(err); ok {
		switch kind {
		case apperrors.ProviderQuota:
			return constants.FallbackQuota
		case apperrors.ProviderAuth:
			return constants.FallbackAuth
		case apperrors.ProviderTimeout:
			return constants.FallbackTimeout
		case apperrors.ProviderNetwork:
			return constants.FallbackGeneral
		}
	}
	return constants.FallbackLLM
}

func llmErrorType(err error) string {
	if errors.Is(err, apperrors.ErrEmptyResponse) {
		return "empty_response"
	}
	if kind, ok := apperrors.ProviderKind(err); ok {
		return "provider_" + string(kind)
	}
	return "generation"
}
