// Package wstransport implements the loopback WebSocket transport used when
// the local socket is unavailable.
package wstransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
)

// DefaultOrigin is accepted by the desktop client's RPC server.
const DefaultOrigin = "https://streamkit.discord.com"

const (
	defaultDialTimeout = 2 * time.Second
	defaultReadLimit   = 4 << 20
	closedByClient     = "closed by client"
)

// Option configures a Transport.
type Option func(*Transport)

// WithResolver sets the resolver supplying probe URLs.
func WithResolver(r *ipc.Resolver) Option {
	return func(t *Transport) { t.resolver = r }
}

// WithOrigin overrides the Origin header sent on dial.
func WithOrigin(origin string) Option {
	return func(t *Transport) { t.origin = origin }
}

// WithHTTPClient sets the client used for the upgrade request.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithDialTimeout bounds each probe.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

type session struct {
	conn     *websocket.Conn
	address  string
	listener domain.TransportListener
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	closing  atomic.Bool
	ended    atomic.Bool
}

// Transport is the WebSocket domain.Transport.
type Transport struct {
	clientID    string
	resolver    *ipc.Resolver
	origin      string
	httpClient  *http.Client
	logger      *slog.Logger
	dialTimeout time.Duration

	mu   sync.Mutex
	sess *session
}

// New creates a WebSocket transport for the application clientID.
func New(clientID string, opts ...Option) *Transport {
	t := &Transport{
		clientID:    clientID,
		origin:      DefaultOrigin,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.resolver == nil {
		t.resolver = ipc.NewResolver()
	}
	return t
}

// Name implements domain.Transport.
func (t *Transport) Name() string { return "websocket" }

// Address returns the URL of the open connection, or "".
func (t *Transport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return ""
	}
	return t.sess.address
}

// Connected implements domain.Transport.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess != nil && !t.sess.ended.Load()
}

// Connect implements domain.Transport. Ports are probed in order and the
// first successful upgrade wins.
func (t *Transport) Connect(ctx context.Context, listener domain.TransportListener) error {
	if t.Connected() {
		return nil
	}

	var lastErr error
	for _, ep := range t.resolver.WebSocketURLs(t.clientID) {
		dctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
		conn, _, err := websocket.Dial(dctx, ep.Address, &websocket.DialOptions{
			HTTPClient: t.httpClient,
			HTTPHeader: http.Header{"Origin": []string{t.origin}},
		})
		cancel()
		if err != nil {
			lastErr = err
			t.logger.Debug("websocket probe failed", "url", ep.Address, "error", err)
			if ctx.Err() != nil {
				return domain.WrapOp("websocket.Connect", ctx.Err())
			}
			continue
		}

		conn.SetReadLimit(defaultReadLimit)
		readCtx, readCancel := context.WithCancel(context.Background())
		sess := &session{
			conn:     conn,
			address:  ep.Address,
			listener: listener,
			cancel:   readCancel,
			done:     make(chan struct{}),
		}
		t.mu.Lock()
		t.sess = sess
		t.mu.Unlock()

		t.logger.Debug("websocket connected", "url", ep.Address)
		listener(domain.TransportEvent{Kind: domain.TransportOpen})
		go t.readLoop(readCtx, sess)
		return nil
	}

	detail := "no port answered"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return domain.NewDomainError("websocket.Connect", domain.ErrCouldNotConnect, detail)
}

func (t *Transport) readLoop(ctx context.Context, sess *session) {
	defer close(sess.done)
	for {
		typ, data, err := sess.conn.Read(ctx)
		if err != nil {
			t.finish(sess, closeReason(sess, err), closeError(err))
			return
		}
		if typ != websocket.MessageText {
			t.logger.Debug("websocket ignored binary message", "bytes", len(data))
			continue
		}

		msg, err := wire.DecodeCommand(data)
		if err != nil {
			t.logger.Warn("websocket dropped message", "error", err)
			sess.listener(domain.TransportEvent{Kind: domain.TransportError, Err: err})
			continue
		}
		t.logger.Debug("websocket recv", "cmd", string(msg.Cmd), "evt", string(msg.Evt))
		sess.listener(domain.TransportEvent{Kind: domain.TransportMessage, Message: msg})
	}
}

// finish delivers TransportClose exactly once, for clean and unclean
// closures alike.
func (t *Transport) finish(sess *session, reason string, err error) {
	sess.once.Do(func() {
		sess.ended.Store(true)
		sess.cancel()

		t.mu.Lock()
		if t.sess == sess {
			t.sess = nil
		}
		t.mu.Unlock()

		t.logger.Debug("websocket closed", "reason", reason)
		sess.listener(domain.TransportEvent{Kind: domain.TransportClose, Reason: reason, Err: err})
	})
}

func closeReason(sess *session, err error) string {
	if sess.closing.Load() {
		return closedByClient
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Reason != "" {
			return fmt.Sprintf("%s (%d)", ce.Reason, int(ce.Code))
		}
		return fmt.Sprintf("closed with status %d", int(ce.Code))
	}
	return err.Error()
}

func closeError(err error) error {
	if websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}

func (t *Transport) current() (*session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil || t.sess.ended.Load() {
		return nil, domain.ErrNotConnected
	}
	return t.sess, nil
}

// Send implements domain.Transport.
func (t *Transport) Send(ctx context.Context, cmd domain.OutgoingCommand) error {
	sess, err := t.current()
	if err != nil {
		return domain.WrapOp("websocket.Send", err)
	}
	t.logger.Debug("websocket send", "cmd", string(cmd.Cmd), "nonce", cmd.Nonce)
	return domain.WrapOp("websocket.Send", wsjson.Write(ctx, sess.conn, cmd))
}

// Ping implements domain.Transport using a control frame.
func (t *Transport) Ping(ctx context.Context) error {
	sess, err := t.current()
	if err != nil {
		return domain.WrapOp("websocket.Ping", err)
	}
	if err := sess.conn.Ping(ctx); err != nil {
		return domain.WrapOp("websocket.Ping", err)
	}
	sess.listener(domain.TransportEvent{Kind: domain.TransportPing})
	return nil
}

// Close implements domain.Transport.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return nil
	}

	sess.closing.Store(true)
	if err := sess.conn.Close(websocket.StatusNormalClosure, closedByClient); err != nil {
		t.logger.Debug("websocket close handshake failed", "error", err)
	}
	sess.cancel()

	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return domain.WrapOp("websocket.Close", ctx.Err())
	}
}

var _ domain.Transport = (*Transport)(nil)
