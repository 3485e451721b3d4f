package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	plog "fsmarket.sim/internal/persistence/log"
	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/params"
)

func startServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(h, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, h *Hub, sub SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	before := h.Subscribers()
	require.NoError(t, conn.WriteJSON(sub))
	require.Eventually(t, func() bool { return h.Subscribers() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readTick(t *testing.T, conn *websocket.Conn) TickMsg {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg TickMsg
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBootstrap(t *testing.T) {
	p := params.Defaults()
	h := NewHub("run-x", p)
	h.ObserveTick(engine.TickRecord{Tick: 41})
	srv := startServer(t, h)

	resp, err := http.Get(srv.URL + "/v1/feed/bootstrap")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got BootstrapResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, Version, got.ProtocolVersion)
	require.Equal(t, "run-x", got.RunID)
	require.Equal(t, uint64(41), got.Tick)
	require.Equal(t, p, got.Params)
}

func TestStreamsTicks(t *testing.T) {
	h := NewHub("run", params.Defaults())
	srv := startServer(t, h)
	conn := dial(t, srv, h, SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: Version, Events: true})

	rec := engine.TickRecord{Tick: 7, Digest: "d7", Events: []engine.Event{{Tick: 7, Kind: engine.EventMatch, Order: 3}}}
	h.ObserveTick(rec)

	msg := readTick(t, conn)
	require.Equal(t, "TICK", msg.Type)
	require.Equal(t, uint64(7), msg.Record.Tick)
	require.Equal(t, "d7", msg.Record.Digest)
	require.Len(t, msg.Record.Events, 1)
}

func TestSubscriptionThinsAndStripsEvents(t *testing.T) {
	h := NewHub("run", params.Defaults())
	srv := startServer(t, h)
	conn := dial(t, srv, h, SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: Version, Every: 5})

	for tick := uint64(1); tick <= 10; tick++ {
		h.ObserveTick(engine.TickRecord{Tick: tick, Events: []engine.Event{{Tick: tick, Kind: engine.EventJoin}}})
	}
	first := readTick(t, conn)
	second := readTick(t, conn)
	require.Equal(t, uint64(5), first.Record.Tick)
	require.Equal(t, uint64(10), second.Record.Tick)
	require.Empty(t, first.Record.Events)
}

func TestRejectsBadHandshake(t *testing.T) {
	h := NewHub("run", params.Defaults())
	srv := startServer(t, h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: "0"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	require.Equal(t, 0, h.Subscribers())
}

func TestSendLatestDropsOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	sendLatest(ch, []byte("a"))
	sendLatest(ch, []byte("b"))
	sendLatest(ch, []byte("c"))
	require.Equal(t, "b", string(<-ch))
	require.Equal(t, "c", string(<-ch))
}

func TestPlayRecordedLog(t *testing.T) {
	dir := t.TempDir()
	p := params.Defaults()
	e := engine.New(p, "play")
	tl := plog.NewTickLogger(dir)
	e.SetTickLogger(tl)
	require.NoError(t, e.Run(context.Background(), 25))
	require.NoError(t, tl.Close())

	h := NewHub("play", p)
	n, err := Play(context.Background(), h, dir, 0)
	require.NoError(t, err)
	require.Equal(t, 25, n)
	require.Equal(t, uint64(24), h.Tick())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Play(ctx, h, dir, time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
}
