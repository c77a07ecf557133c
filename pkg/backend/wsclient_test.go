package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradedash/internal/dashboard/memorystore"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wsServer struct {
	*httptest.Server
	dials atomic.Int32
}

// newWSServer upgrades every request and hands the n-th connection (1-based) to onConn.
func newWSServer(t *testing.T, onConn func(n int32, conn *websocket.Conn)) *wsServer {
	t.Helper()
	s := &wsServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		onConn(n, conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func testWSOptions(url string) WSOptions {
	opts := DefaultWSOptions(url)
	opts.ReconnectDelay = 10 * time.Millisecond
	opts.MaxReconnectAttempts = 3
	opts.PingInterval = 0
	return opts
}

// drain reads until the peer goes away.
func drain(conn *websocket.Conn, out chan<- OutboundMessage) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m OutboundMessage
		if json.Unmarshal(msg, &m) != nil || out == nil {
			continue
		}
		select {
		case out <- m:
		default:
		}
	}
}

// MaxReconnectAttempts counts reconnects, not dials: with a limit of 3 the client dials
// once, reconnects three times and turns terminal when the third reconnect fails, the
// fourth non-clean close overall.
// go test -v --run TestWSClientTerminalAfterMaxAttempts
func TestWSClientTerminalAfterMaxAttempts(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewWSClient(testWSOptions("ws"+strings.TrimPrefix(srv.URL, "http")), zap.NewNop())

	var (
		mu     sync.Mutex
		errs   []error
		states []memorystore.ConnStatus
	)
	client.OnError(func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})
	client.OnStateChange(func(st memorystore.ConnectionState) {
		mu.Lock()
		states = append(states, st.Status)
		mu.Unlock()
	})

	err := client.Connect(context.Background())
	require.Error(t, err)

	require.Eventually(t, func() bool { return client.State().Terminal }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	// initial dial plus MaxReconnectAttempts reconnects, never a fifth
	assert.Equal(t, int32(1+testWSOptions("").MaxReconnectAttempts), dials.Load())
	st := client.State()
	assert.Equal(t, memorystore.StatusDisconnected, st.Status)
	assert.Equal(t, 3, st.Attempts)

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, errs[len(errs)-1], ErrReconnectExhausted)
	assert.Contains(t, states, memorystore.StatusReconnecting)
	assert.Equal(t, memorystore.StatusDisconnected, states[len(states)-1])
}

// go test -v --run TestWSClientCleanCloseNoReconnect
func TestWSClientCleanCloseNoReconnect(t *testing.T) {
	srv := newWSServer(t, func(n int32, conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		drain(conn, nil)
	})

	client := NewWSClient(testWSOptions(srv.wsURL()), zap.NewNop())
	require.NoError(t, client.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return client.State().Status == memorystore.StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), srv.dials.Load())
	assert.False(t, client.State().Terminal)
	client.Disconnect()
}

// go test -v --run TestWSClientReconnectResubscribes
func TestWSClientReconnectResubscribes(t *testing.T) {
	received := make(chan OutboundMessage, 16)
	srv := newWSServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			// read the subscribe frame, then drop without a close frame
			_, msg, err := conn.ReadMessage()
			if err == nil {
				var m OutboundMessage
				_ = json.Unmarshal(msg, &m)
				received <- m
			}
			return
		}
		drain(conn, received)
	})

	client := NewWSClient(testWSOptions(srv.wsURL()), zap.NewNop())
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Subscribe("BTCUSDT"))

	first := <-received
	assert.Equal(t, OutboundMessage{Type: MsgSubscribe, Symbol: "BTCUSDT"}, first)

	select {
	case again := <-received:
		assert.Equal(t, OutboundMessage{Type: MsgSubscribe, Symbol: "BTCUSDT"}, again)
	case <-time.After(2 * time.Second):
		t.Fatal("no resubscribe after reconnect")
	}

	require.Eventually(t, func() bool {
		return client.State().Status == memorystore.StatusConnected
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, client.State().Attempts)
	assert.Equal(t, int32(2), srv.dials.Load())
	assert.Equal(t, []string{"BTCUSDT"}, client.Subscriptions())

	client.Disconnect()
}

// go test -v --run TestWSClientDeliversInOrder
func TestWSClientDeliversInOrder(t *testing.T) {
	srv := newWSServer(t, func(n int32, conn *websocket.Conn) {
		for _, m := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(m))
		}
		drain(conn, nil)
	})

	var (
		mu  sync.Mutex
		got []string
	)
	client := NewWSClient(testWSOptions(srv.wsURL()), zap.NewNop())
	client.SetMessageHandler(func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
	})
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, got)
}

// go test -v --run TestWSClientDisconnectSuppressesReconnect
func TestWSClientDisconnectSuppressesReconnect(t *testing.T) {
	closeCodes := make(chan int, 1)
	srv := newWSServer(t, func(n int32, conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			closeCodes <- ce.Code
		}
	})

	client := NewWSClient(testWSOptions(srv.wsURL()), zap.NewNop())
	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Connect(context.Background())) // no-op while connected

	client.Disconnect()

	select {
	case code := <-closeCodes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server saw no close frame")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), srv.dials.Load())
	assert.Equal(t, memorystore.StatusDisconnected, client.State().Status)
	assert.ErrorIs(t, client.Send(OutboundMessage{Type: MsgPing}), ErrNotConnected)
}

// go test -v --run TestWSClientKeepAlive
func TestWSClientKeepAlive(t *testing.T) {
	received := make(chan OutboundMessage, 16)
	srv := newWSServer(t, func(n int32, conn *websocket.Conn) {
		drain(conn, received)
	})

	opts := testWSOptions(srv.wsURL())
	opts.PingInterval = 10 * time.Millisecond
	client := NewWSClient(opts, zap.NewNop())
	require.NoError(t, client.Connect(context.Background()))
	defer client.Disconnect()

	select {
	case m := <-received:
		assert.Equal(t, MsgPing, m.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

// go test -v --run TestWSClientSendWhenDisconnected
func TestWSClientSendWhenDisconnected(t *testing.T) {
	client := NewWSClient(DefaultWSOptions("ws://127.0.0.1:1/ws"), zap.NewNop())
	assert.ErrorIs(t, client.Send(map[string]string{"type": "ping"}), ErrNotConnected)
	assert.NoError(t, client.Subscribe("ETHUSDT"))
	assert.Equal(t, []string{"ETHUSDT"}, client.Subscriptions())
	assert.NoError(t, client.Unsubscribe("ETHUSDT"))
	assert.Empty(t, client.Subscriptions())
}
