package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/constants"
	"voice-assistant/backend/internal/events"
	"voice-assistant/backend/internal/hub"
	"voice-assistant/backend/internal/metrics"
	"voice-assistant/backend/internal/protocol"
	"voice-assistant/backend/internal/stt"
)

// transcriberQueue hands out prepared transcribers in order and repeats the
// last one's failure once exhausted
type transcriberQueue struct {
	mu      sync.Mutex
	queue   []*fakeTranscriber
	started int
	failErr error
}

func (q *transcriberQueue) next() Transcriber {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started++
	if len(q.queue) == 0 {
		return newFakeTranscriber(q.failErr)
	}
	t := q.queue[0]
	q.queue = q.queue[1:]
	return t
}

func (q *transcriberQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

type sessionRig struct {
	conn    *fakeConn
	session *Session
	metrics *metrics.Metrics
	done    chan struct{}
}

func startSession(t *testing.T, cfg SessionConfig, deps SessionDeps, opts ...func(*Session)) *sessionRig {
	t.Helper()
	if cfg.SessionID == "" {
		cfg.SessionID = "s1"
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	deps.Logger = zap.NewNop()

	rig := &sessionRig{
		conn:    newFakeConn(),
		metrics: deps.Metrics,
		done:    make(chan struct{}),
	}
	rig.session = NewSession(rig.conn, cfg, deps)
	rig.session.backoff = func(int) time.Duration { return time.Millisecond }
	for _, opt := range opts {
		opt(rig.session)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		defer close(rig.done)
		rig.session.Run(ctx)
	}()
	return rig
}

func (r *sessionRig) waitReady(t *testing.T) *protocol.AudioStreamReady {
	t.Helper()
	require.Eventually(t, func() bool {
		return r.conn.count(protocol.TypeAudioStreamReady) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return ofType[*protocol.AudioStreamReady](&r.conn.recorder)[0]
}

func (r *sessionRig) stop(t *testing.T) {
	t.Helper()
	r.conn.text(protocol.CommandStopStreaming)
	r.wait(t)
}

func (r *sessionRig) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func (r *sessionRig) complete(t *testing.T) *protocol.AudioStreamComplete {
	t.Helper()
	msgs := ofType[*protocol.AudioStreamComplete](&r.conn.recorder)
	require.Len(t, msgs, 1)
	return msgs[0]
}

func TestSession_ReadyThenStopStreaming(t *testing.T) {
	tr := newFakeTranscriber(nil)
	rig := startSession(t, SessionConfig{Language: "en", Persona: "pirate"}, SessionDeps{
		Transcribers: func() Transcriber { return tr },
	})

	ready := rig.waitReady(t)
	assert.Equal(t, "s1", ready.SessionID)
	assert.True(t, ready.TranscriptionEnabled)
	assert.True(t, ready.TranscriptionReady)
	assert.Equal(t, "en", ready.Language)
	assert.Equal(t, "pirate", ready.Persona)
	assert.Empty(t, ready.AudioFilename)

	rig.conn.text(protocol.CommandStartStreaming)
	rig.stop(t)

	var lifecycle []protocol.Type
	for _, typ := range rig.conn.types() {
		if typ != protocol.TypeTranscriptionSessionStarted {
			lifecycle = append(lifecycle, typ)
		}
	}
	assert.Equal(t, []protocol.Type{
		protocol.TypeAudioStreamReady,
		protocol.TypeCommandResponse,
		protocol.TypeCommandResponse,
		protocol.TypeAudioStreamComplete,
	}, lifecycle)

	responses := ofType[*protocol.CommandResponse](&rig.conn.recorder)
	assert.Equal(t, protocol.StatusStreamingReady, responses[0].Status)
	assert.Equal(t, protocol.StatusStreamingStopped, responses[1].Status)

	started := ofType[*protocol.TranscriptionSessionStarted](&rig.conn.recorder)
	require.Len(t, started, 1)
	assert.Equal(t, "provider-session", started[0].SessionID)
	assert.False(t, tr.IsReady(), "transcriber stopped at session end")
}

func TestSession_AcknowledgesAndCapturesAudio(t *testing.T) {
	dir := t.TempDir()
	tr := newFakeTranscriber(nil)
	rig := startSession(t, SessionConfig{AckEvery: 2, CaptureDir: dir}, SessionDeps{
		Transcribers: func() Transcriber { return tr },
	})
	ready := rig.waitReady(t)
	require.NotEmpty(t, ready.AudioFilename)

	frame := make([]byte, 320)
	for i := 0; i < 5; i++ {
		rig.conn.audio(frame)
	}
	rig.stop(t)

	acks := ofType[*protocol.AudioChunkReceived](&rig.conn.recorder)
	require.Len(t, acks, 2)
	assert.Equal(t, 2, acks[0].ChunkNumber)
	assert.EqualValues(t, 640, acks[0].TotalBytes)
	assert.True(t, acks[0].TranscriptionActive)
	assert.Equal(t, 4, acks[1].ChunkNumber)
	assert.EqualValues(t, 1280, acks[1].TotalBytes)

	complete := rig.complete(t)
	assert.Equal(t, 5, complete.TotalChunks)
	assert.EqualValues(t, 1600, complete.TotalBytes)
	assert.Equal(t, ready.AudioFilename, complete.AudioFilename)
	assert.Equal(t, 5, tr.frames())

	data, err := os.ReadFile(filepath.Join(dir, ready.AudioFilename))
	require.NoError(t, err)
	require.Len(t, data, wavHeaderSize+1600)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, uint32(1600), binary.LittleEndian.Uint32(data[40:44]))

	assert.Equal(t, 5.0, testutil.ToFloat64(rig.metrics.AudioFrames))
}

func TestSession_WithoutTranscription(t *testing.T) {
	rig := startSession(t, SessionConfig{}, SessionDeps{})
	ready := rig.waitReady(t)
	assert.False(t, ready.TranscriptionEnabled)
	assert.False(t, ready.TranscriptionReady)

	rig.conn.audio([]byte{1, 2, 3, 4})
	rig.stop(t)
	assert.Equal(t, 1, rig.complete(t).TotalChunks)
}

func TestSession_ControlFrames(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rig := startSession(t, SessionConfig{CaptureDir: dir}, SessionDeps{}, func(s *Session) {
		s.now = func() time.Time { return clock }
	})
	ready := rig.waitReady(t)

	rig.conn.text(`{"type":"web_search_toggle","enabled":true}`)
	rig.conn.text(`{"type":"session_id","session_id":"client-42"}`)
	rig.conn.text(`{"type":"something_else"}`)
	rig.conn.text("hello?")
	rig.conn.audio([]byte{0, 0})
	rig.stop(t)

	assert.True(t, rig.session.WebSearchEnabled())
	assert.Equal(t, "client-42", rig.session.SessionID())

	complete := rig.complete(t)
	assert.Equal(t, "client-42", complete.SessionID)
	assert.Equal(t, CaptureFilename("client-42", clock), complete.AudioFilename)
	assert.NotEqual(t, ready.AudioFilename, complete.AudioFilename)

	rotated, err := os.Stat(filepath.Join(dir, complete.AudioFilename))
	require.NoError(t, err)
	assert.EqualValues(t, wavHeaderSize+2, rotated.Size())
	_, err = os.Stat(filepath.Join(dir, ready.AudioFilename))
	assert.NoError(t, err, "first capture is kept")
}

func TestSession_RegistersConnection(t *testing.T) {
	reg := hub.NewRegistry(zap.NewNop())
	rig := startSession(t, SessionConfig{ConnectionID: "conn-1"}, SessionDeps{Registry: reg})
	rig.waitReady(t)
	assert.True(t, reg.IsConnected("conn-1"))

	rig.stop(t)
	assert.False(t, reg.IsConnected("conn-1"))
}

func TestSession_CancelEndsRun(t *testing.T) {
	conn := newFakeConn()
	s := NewSession(conn, SessionConfig{SessionID: "s1"}, SessionDeps{Logger: zap.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return conn.count(protocol.TypeAudioStreamReady) == 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, conn.count(protocol.TypeAudioStreamComplete))
}

func TestSession_DuplicateFinalTranscriptTriggersOnce(t *testing.T) {
	gen := streamOf("Hi!", " How can I help?")
	orch := NewOrchestrator(Dependencies{
		Generator:    gen,
		Synthesizers: func(string) Synthesizer { return &fakeSynth{chunks: finalChunks(4)} },
		Logger:       zap.NewNop(),
	})
	tr := newFakeTranscriber(nil)
	rig := startSession(t, SessionConfig{Cooldown: 2 * time.Second}, SessionDeps{
		Orchestrator: orch,
		Transcribers: func() Transcriber { return tr },
	})
	rig.waitReady(t)

	tr.events <- stt.TurnEvent{Transcript: stt.Transcript{Kind: stt.KindPartial, Text: "Hello"}}
	tr.events <- finalTurn("Hello there")
	tr.events <- finalTurn("Hello there.")

	require.Eventually(t, func() bool {
		return rig.conn.count(protocol.TypeTurnEnd) == 2 &&
			rig.conn.count(protocol.TypeLLMStreamingComplete) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rig.stop(t)
	orch.Wait()

	assert.Len(t, gen.calls(), 1)
	assert.Equal(t, "Hello there", gen.calls()[0].UserMessage)
	assert.Equal(t, 1, rig.conn.count(protocol.TypePartialTranscript))
	assert.Equal(t, 2, rig.conn.count(protocol.TypeFinalTranscript))
	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.Suppressed.WithLabelValues("duplicate")))
}

// stalledBroker accepts Kafka connections and never answers
func stalledBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return ln.Addr().String()
}

func TestSession_StalledEventBrokerDoesNotDelayResponse(t *testing.T) {
	publisher := events.New(&events.Config{
		Brokers:         []string{stalledBroker(t)},
		TranscriptTopic: "voice.transcripts",
		CycleTopic:      "voice.cycles",
	}, nil, zap.NewNop())
	require.True(t, publisher.Enabled())

	orch := NewOrchestrator(Dependencies{
		Generator:    streamOf("Paris."),
		Synthesizers: func(string) Synthesizer { return &fakeSynth{chunks: finalChunks(4)} },
		Events:       publisher,
		Logger:       zap.NewNop(),
	})
	tr := newFakeTranscriber(nil)
	rig := startSession(t, SessionConfig{}, SessionDeps{
		Orchestrator: orch,
		Transcribers: func() Transcriber { return tr },
		Events:       publisher,
	})
	rig.waitReady(t)

	sent := time.Now()
	tr.events <- finalTurn("What is the capital of France?")
	require.Eventually(t, func() bool {
		return rig.conn.count(protocol.TypeLLMStreamingStart) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return rig.conn.count(protocol.TypeLLMStreamingComplete) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(sent), 2*time.Second)

	rig.stop(t)
	orch.Wait()
}

func TestSession_NewSessionIDResetsDuplicateFilter(t *testing.T) {
	gen := streamOf("Hi!")
	orch := NewOrchestrator(Dependencies{
		Generator:    gen,
		Synthesizers: func(string) Synthesizer { return &fakeSynth{chunks: finalChunks(4)} },
		Logger:       zap.NewNop(),
	})
	tr := newFakeTranscriber(nil)
	rig := startSession(t, SessionConfig{Cooldown: time.Minute}, SessionDeps{
		Orchestrator: orch,
		Transcribers: func() Transcriber { return tr },
	})
	rig.waitReady(t)

	tr.events <- finalTurn("Hello there")
	require.Eventually(t, func() bool {
		return rig.conn.count(protocol.TypeLLMStreamingComplete) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rig.conn.text(`{"type":"session_id","session_id":"client-42"}`)
	require.Eventually(t, func() bool { return rig.session.SessionID() == "client-42" },
		2*time.Second, 5*time.Millisecond)

	tr.events <- finalTurn("Hello there")
	require.Eventually(t, func() bool {
		return rig.conn.count(protocol.TypeLLMStreamingComplete) == 2
	}, 2*time.Second, 5*time.Millisecond)

	rig.stop(t)
	orch.Wait()

	calls := gen.calls()
	require.Len(t, calls, 2)
	assert.Zero(t, testutil.ToFloat64(rig.metrics.Suppressed.WithLabelValues("duplicate")))
	assert.Zero(t, testutil.ToFloat64(rig.metrics.Suppressed.WithLabelValues("cooldown")))
}

func TestSession_EmptyFinalTranscriptIsIgnored(t *testing.T) {
	gen := streamOf("unused")
	orch := NewOrchestrator(Dependencies{
		Generator:    gen,
		Synthesizers: func(string) Synthesizer { return &fakeSynth{chunks: finalChunks(4)} },
		Logger:       zap.NewNop(),
	})
	tr := newFakeTranscriber(nil)
	rig := startSession(t, SessionConfig{}, SessionDeps{
		Orchestrator: orch,
		Transcribers: func() Transcriber { return tr },
	})
	rig.waitReady(t)

	tr.events <- finalTurn("  ")
	require.Eventually(t, func() bool { return rig.conn.count(protocol.TypeTurnEnd) == 1 },
		2*time.Second, 5*time.Millisecond)
	rig.stop(t)
	orch.Wait()

	assert.Empty(t, gen.calls())
	assert.Zero(t, rig.conn.count(protocol.TypeLLMStreamingStart))
}

func TestSession_RestartsTranscriberAfterFailure(t *testing.T) {
	healthy := newFakeTranscriber(nil)
	q := &transcriberQueue{queue: []*fakeTranscriber{
		newFakeTranscriber(errors.New("dial failed")),
		healthy,
	}}
	rig := startSession(t, SessionConfig{MaxRestarts: 3}, SessionDeps{Transcribers: q.next})
	rig.waitReady(t)

	require.Eventually(t, func() bool {
		return rig.conn.count(protocol.TypeTranscriptionSessionStarted) == 1
	}, 2*time.Second, 5*time.Millisecond)

	rig.conn.audio([]byte{1, 2})
	rig.stop(t)

	assert.Equal(t, 2, q.count())
	errs := ofType[*protocol.TranscriptionError](&rig.conn.recorder)
	require.Len(t, errs, 1)
	assert.Equal(t, "error", errs[0].Status)
	assert.Equal(t, "dial failed", errs[0].Message)
	assert.Equal(t, 1, healthy.frames())
	assert.Equal(t, 1.0, testutil.ToFloat64(rig.metrics.TranscriberErrors))
}

func TestSession_GivesUpAfterMaxRestarts(t *testing.T) {
	q := &transcriberQueue{failErr: errors.New("provider down")}
	rig := startSession(t, SessionConfig{MaxRestarts: 2}, SessionDeps{Transcribers: q.next})
	ready := rig.waitReady(t)
	assert.False(t, ready.TranscriptionReady)

	require.Eventually(t, func() bool {
		for _, e := range ofType[*protocol.TranscriptionError](&rig.conn.recorder) {
			if e.Status == "unavailable" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	rig.conn.audio([]byte{1, 2})
	rig.stop(t)

	assert.Equal(t, 3, q.count())
	errs := ofType[*protocol.TranscriptionError](&rig.conn.recorder)
	last := errs[len(errs)-1]
	assert.Equal(t, constants.FallbackSTT, last.Message)
	assert.Equal(t, 1, rig.complete(t).TotalChunks)
}

func TestTranscriberBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		4:  5 * time.Second,
		40: 5 * time.Second,
	}
	for attempt, want := range cases {
		assert.Equal(t, want, transcriberBackoff(attempt), "attempt %d", attempt)
	}
}
