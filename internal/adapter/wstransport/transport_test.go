package wstransport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type upgrade struct {
	conn   *websocket.Conn
	header http.Header
	query  string
}

// startServer runs a fake RPC server and returns a resolver pointing at it.
func startServer(t *testing.T) (*ipc.Resolver, <-chan upgrade) {
	t.Helper()
	conns := make(chan upgrade, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		conns <- upgrade{conn: ws, header: r.Header.Clone(), query: r.URL.RawQuery}
	}))
	t.Cleanup(srv.Close)

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return ipc.NewResolver(ipc.WithWebSocketBase(host, port), ipc.WithInstanceID(0)), conns
}

type recorder chan domain.TransportEvent

func (r recorder) listen(ev domain.TransportEvent) { r <- ev }

func (r recorder) next(t *testing.T) domain.TransportEvent {
	t.Helper()
	select {
	case ev := <-r:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return domain.TransportEvent{}
	}
}

func connect(t *testing.T) (*Transport, upgrade, recorder) {
	t.Helper()
	resolver, conns := startServer(t)
	tr := New("777", WithResolver(resolver), WithLogger(testLogger()))
	events := make(recorder, 16)

	require.NoError(t, tr.Connect(context.Background(), events.listen))
	assert.Equal(t, domain.TransportOpen, events.next(t).Kind)

	select {
	case up := <-conns:
		t.Cleanup(func() { up.conn.CloseNow() })
		return tr, up, events
	case <-time.After(3 * time.Second):
		t.Fatal("server never saw the upgrade")
		return nil, upgrade{}, nil
	}
}

func TestTransport_ConnectSendsOriginAndQuery(t *testing.T) {
	tr, up, _ := connect(t)
	assert.True(t, tr.Connected())
	assert.Equal(t, DefaultOrigin, up.header.Get("Origin"))
	assert.Equal(t, "v=1&client_id=777&encoding=json", up.query)
	assert.Contains(t, tr.Address(), "client_id=777")
}

func TestTransport_ReceivesMessages(t *testing.T) {
	_, up, events := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, up.conn, map[string]any{
		"cmd": "DISPATCH", "evt": "READY", "nonce": nil,
		"data": map[string]any{"v": 1, "config": map[string]any{"cdn_host": "cdn.discordapp.com"}},
	}))

	ev := events.next(t)
	require.Equal(t, domain.TransportMessage, ev.Kind)
	assert.True(t, ev.Message.IsReady())
}

func TestTransport_MalformedMessageReportsError(t *testing.T) {
	tr, up, events := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, up.conn.Write(ctx, websocket.MessageText, []byte(`{"no":"cmd"}`)))
	ev := events.next(t)
	require.Equal(t, domain.TransportError, ev.Kind)
	assert.ErrorIs(t, ev.Err, domain.ErrProtocol)
	assert.True(t, tr.Connected())
}

func TestTransport_SendWritesEnvelope(t *testing.T) {
	tr, up, _ := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, tr.Send(ctx, domain.OutgoingCommand{Cmd: domain.CmdGetGuilds, Nonce: "n1"}))

	var got map[string]any
	require.NoError(t, wsjson.Read(ctx, up.conn, &got))
	assert.Equal(t, "GET_GUILDS", got["cmd"])
	assert.Equal(t, "n1", got["nonce"])
}

func TestTransport_CleanServerClose(t *testing.T) {
	tr, up, events := connect(t)

	go up.conn.Close(websocket.StatusCode(domain.CloseInvalidClientID), "Invalid Client ID")

	ev := events.next(t)
	require.Equal(t, domain.TransportClose, ev.Kind)
	assert.Contains(t, ev.Reason, "Invalid Client ID")
	assert.Contains(t, ev.Reason, "4000")
	assert.NoError(t, ev.Err)
	assert.False(t, tr.Connected())
}

func TestTransport_UncleanCloseStillEmitsClose(t *testing.T) {
	tr, up, events := connect(t)

	require.NoError(t, up.conn.CloseNow())

	ev := events.next(t)
	require.Equal(t, domain.TransportClose, ev.Kind)
	assert.False(t, tr.Connected())
}

func TestTransport_ClientClose(t *testing.T) {
	tr, up, events := connect(t)

	// The server must read for the close handshake to complete.
	go func() {
		_, _, _ = up.conn.Read(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Close(ctx))

	ev := events.next(t)
	require.Equal(t, domain.TransportClose, ev.Kind)
	assert.Equal(t, closedByClient, ev.Reason)
}

func TestTransport_CloseNeverOpenedIsNoop(t *testing.T) {
	assert.NoError(t, New("1").Close(context.Background()))
}

func TestTransport_NoServerListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	tr := New("1",
		WithResolver(ipc.NewResolver(ipc.WithWebSocketBase("127.0.0.1", port), ipc.WithInstanceID(0))),
		WithDialTimeout(500*time.Millisecond),
	)
	err = tr.Connect(context.Background(), func(domain.TransportEvent) {})
	assert.ErrorIs(t, err, domain.ErrCouldNotConnect)
}

func TestTransport_SendBeforeConnect(t *testing.T) {
	err := New("1").Send(context.Background(), domain.OutgoingCommand{Cmd: domain.CmdGetGuilds})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}
