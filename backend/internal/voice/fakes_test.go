package voice

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"voice-assistant/backend/internal/adapter"
	"voice-assistant/backend/internal/protocol"
	"voice-assistant/backend/internal/stt"
	"voice-assistant/backend/internal/tts"
)

// recorder collects outbound messages
type recorder struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (r *recorder) Send(msg protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.sent...)
}

func (r *recorder) types() []protocol.Type {
	var out []protocol.Type
	for _, m := range r.messages() {
		out = append(out, m.Type())
	}
	return out
}

func (r *recorder) count(t protocol.Type) int {
	n := 0
	for _, m := range r.messages() {
		if m.Type() == t {
			n++
		}
	}
	return n
}

func ofType[T protocol.Message](r *recorder) []T {
	var out []T
	for _, m := range r.messages() {
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// fake generator

type sliceStream struct {
	fragments []string
	err       error // returned after the fragments instead of io.EOF
	pos       int
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		f := s.fragments[s.pos]
		s.pos++
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceStream) Close() error { return nil }

type fakeGenerator struct {
	mu       sync.Mutex
	requests []adapter.Request
	generate func(ctx context.Context, req adapter.Request) (adapter.FragmentStream, error)
}

func streamOf(fragments ...string) *fakeGenerator {
	return &fakeGenerator{generate: func(context.Context, adapter.Request) (adapter.FragmentStream, error) {
		return &sliceStream{fragments: fragments}, nil
	}}
}

func (f *fakeGenerator) Generate(ctx context.Context, req adapter.Request) (adapter.FragmentStream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.generate(ctx, req)
}

func (f *fakeGenerator) GenerateOnce(ctx context.Context, req adapter.Request) (string, error) {
	stream, err := f.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return adapter.Collect(stream)
}

func (f *fakeGenerator) calls() []adapter.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapter.Request(nil), f.requests...)
}

// fake synthesizer. The default behaviour accumulates every fragment, then
// emits the configured chunks.

type fakeSynth struct {
	connectErr error
	chunks     []tts.Chunk
	streamErr  error
	block      chan struct{} // when set, Stream waits on it before sending

	mu           sync.Mutex
	text         string
	disconnected int
}

func finalChunks(sizes ...int) []tts.Chunk {
	var out []tts.Chunk
	total := 0
	for i, size := range sizes {
		total += size
		out = append(out, tts.Chunk{
			AudioBase64: strings.Repeat("A", size),
			Number:      i + 1,
			Size:        size,
			TotalSize:   total,
			IsFinal:     i == len(sizes)-1,
		})
	}
	return out
}

func (f *fakeSynth) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeSynth) Stream(ctx context.Context, fragments <-chan string, h tts.Handler) error {
	var text string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fragment, ok := <-fragments:
			if ok {
				text += fragment
				continue
			}
			f.mu.Lock()
			f.text = text
			f.mu.Unlock()

			if f.block != nil {
				select {
				case <-f.block:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			h.OnTextSent(len(text))
			h.OnStatus(map[string]any{"status": "synthesizing"})
			for _, c := range f.chunks {
				h.OnAudio(c)
			}
			return f.streamErr
		}
	}
}

func (f *fakeSynth) Disconnect() error {
	f.mu.Lock()
	f.disconnected++
	f.mu.Unlock()
	return nil
}

func (f *fakeSynth) received() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

func (f *fakeSynth) disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnected
}

// fake transcriber

type fakeTranscriber struct {
	startErr error
	events   chan stt.Event

	mu        sync.Mutex
	ready     bool
	audio     [][]byte
	closeOnce sync.Once
}

func newFakeTranscriber(startErr error) *fakeTranscriber {
	return &fakeTranscriber{startErr: startErr, events: make(chan stt.Event, 32)}
}

func (f *fakeTranscriber) Start(ctx context.Context) error {
	if f.startErr != nil {
		f.events <- stt.ErrorEvent{Err: f.startErr}
		f.closeEvents()
		return f.startErr
	}
	f.mu.Lock()
	f.ready = true
	f.mu.Unlock()
	f.events <- stt.BeginEvent{ID: "provider-session"}
	return nil
}

func (f *fakeTranscriber) Events() <-chan stt.Event { return f.events }

func (f *fakeTranscriber) SendAudio(frame []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return false
	}
	f.audio = append(f.audio, frame)
	return true
}

func (f *fakeTranscriber) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTranscriber) Stop() error {
	f.mu.Lock()
	f.ready = false
	f.mu.Unlock()
	f.closeEvents()
	return nil
}

func (f *fakeTranscriber) closeEvents() {
	f.closeOnce.Do(func() { close(f.events) })
}

func (f *fakeTranscriber) frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func finalTurn(text string) stt.TurnEvent {
	return stt.TurnEvent{Transcript: stt.Transcript{Kind: stt.KindFinal, Text: text, EndOfTurn: true}}
}

// fake client socket

type inbound struct {
	typ  int
	data []byte
}

type fakeConn struct {
	recorder
	frames    chan inbound
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan inbound, 64), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		return f.typ, f.data, nil
	case <-c.done:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) text(s string) {
	c.frames <- inbound{typ: websocket.TextMessage, data: []byte(s)}
}

func (c *fakeConn) audio(frame []byte) {
	c.frames <- inbound{typ: websocket.BinaryMessage, data: frame}
}
