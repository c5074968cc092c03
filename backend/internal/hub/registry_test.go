package hub

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voice-assistant/backend/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []protocol.Message
	err  error
}

func (f *fakeSender) Send(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestRegistry_SendAndDisconnect(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	a := &fakeSender{}
	r.Connect("a", a)

	require.NoError(t, r.Send("a", &protocol.TTSStreamingStart{Message: "go"}))
	assert.Len(t, a.sent, 1)
	assert.True(t, r.IsConnected("a"))

	r.Disconnect("a")
	r.Disconnect("a")
	r.Disconnect("never-registered")
	assert.False(t, r.IsConnected("a"))
	assert.ErrorIs(t, r.Send("a", &protocol.TTSStreamingStart{}), ErrNotConnected)
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_BroadcastSkipsFailures(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	ok1, ok2 := &fakeSender{}, &fakeSender{}
	broken := &fakeSender{err: errors.New("gone")}
	r.Connect("1", ok1)
	r.Connect("2", ok2)
	r.Connect("3", broken)

	delivered := r.Broadcast(&protocol.CommandResponse{Message: "maintenance", Status: "notice"})
	assert.Equal(t, 2, delivered)
	assert.Len(t, ok1.sent, 1)
	assert.Len(t, ok2.sent, 1)
}

func TestRegistry_ConcurrentConnectDisconnect(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprint(i)
			r.Connect(id, &fakeSender{})
			_ = r.Send(id, &protocol.TTSStreamingStart{})
			if i%2 == 0 {
				r.Disconnect(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, r.Count())
}

func TestConn_SendWritesEncodedMessage(t *testing.T) {
	received := make(chan string, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws)
		_ = conn.Send(&protocol.LLMStreamingChunk{Chunk: "Paris", AccumulatedLength: 5})
		_ = conn.Close()
		assert.NoError(t, conn.Close())
		assert.ErrorIs(t, conn.SendRaw([]byte("late")), ErrClosed)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	go func() {
		_, data, err := client.ReadMessage()
		if err == nil {
			received <- string(data)
		}
	}()

	select {
	case data := <-received:
		assert.Contains(t, data, `"type":"llm_streaming_chunk"`)
		assert.Contains(t, data, `"chunk":"Paris"`)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}
