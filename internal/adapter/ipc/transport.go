// Package ipc implements the local-socket transport: a Unix domain socket
// or Windows named pipe carrying length-prefixed frames.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
)

const (
	readBufferSize      = 16 * 1024
	defaultDialTimeout  = 2 * time.Second
	defaultWriteTimeout = 5 * time.Second
	closedByClient      = "closed by client"
)

// Dialer opens a byte stream to a local endpoint.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// Option configures a Transport.
type Option func(*Transport)

// WithResolver sets the endpoint resolver.
func WithResolver(r *Resolver) Option {
	return func(t *Transport) { t.resolver = r }
}

// WithDialer replaces the platform dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// WithMaxFrameSize caps inbound payload size.
func WithMaxFrameSize(n uint32) Option {
	return func(t *Transport) { t.maxFrame = n }
}

// WithDialTimeout bounds each candidate dial.
func WithDialTimeout(d time.Duration) Option {
	return func(t *Transport) { t.dialTimeout = d }
}

// WithWriteTimeout bounds writes whose ctx carries no deadline, including
// PONG replies from the read loop.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) { t.writeTimeout = d }
}

// session is the state of one open connection.
type session struct {
	conn     net.Conn
	address  string
	listener domain.TransportListener
	done     chan struct{}
	once     sync.Once
	closing  atomic.Bool
	ended    atomic.Bool
}

// Transport is the local-socket domain.Transport.
type Transport struct {
	clientID     string
	resolver     *Resolver
	dial         Dialer
	logger       *slog.Logger
	maxFrame     uint32
	dialTimeout  time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	sess    *session
	writeMu sync.Mutex
}

// New creates a local-socket transport for the application clientID.
func New(clientID string, opts ...Option) *Transport {
	t := &Transport{
		clientID:     clientID,
		dial:         defaultDial,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.resolver == nil {
		t.resolver = NewResolver()
	}
	return t
}

// Name implements domain.Transport.
func (t *Transport) Name() string { return "ipc" }

// Address returns the endpoint of the open connection, or "".
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

// Connect implements domain.Transport. The first candidate that accepts a
// connection wins.
func (t *Transport) Connect(ctx context.Context, listener domain.TransportListener) error {
	if t.Connected() {
		return nil
	}

	candidates := t.resolver.Candidates()
	if len(candidates) == 0 {
		return domain.NewDomainError("ipc.Connect", domain.ErrCouldNotFindClient, "no socket directory found")
	}

	conn, address, err := t.dialFirst(ctx, candidates)
	if err != nil {
		return err
	}

	sess := &session{
		conn:     conn,
		address:  address,
		listener: listener,
		done:     make(chan struct{}),
	}
	t.mu.Lock()
	t.sess = sess
	t.mu.Unlock()

	t.logger.Debug("ipc connected", "address", address)
	listener(domain.TransportEvent{Kind: domain.TransportOpen})

	handshake, err := wire.EncodeJSONFrame(domain.OpHandshake, domain.Handshake{
		V:        domain.ProtocolVersion,
		ClientID: t.clientID,
	})
	if err == nil {
		err = t.write(ctx, sess, handshake)
	}
	if err != nil {
		sess.ended.Store(true)
		_ = conn.Close()
		t.mu.Lock()
		t.sess = nil
		t.mu.Unlock()
		return domain.NewDomainError("ipc.Connect", domain.ErrCouldNotConnect, "handshake: "+err.Error())
	}

	go t.readLoop(sess)
	return nil
}

func (t *Transport) dialFirst(ctx context.Context, candidates []domain.Endpoint) (net.Conn, string, error) {
	var lastErr error
	for _, c := range candidates {
		dctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
		conn, err := t.dial(dctx, c.Address)
		cancel()
		if err == nil {
			return conn, c.Address, nil
		}
		lastErr = err
		t.logger.Debug("ipc candidate failed", "address", c.Address, "error", err)
		if ctx.Err() != nil {
			return nil, "", domain.WrapOp("ipc.Connect", ctx.Err())
		}
	}
	return nil, "", domain.NewDomainError("ipc.Connect", domain.ErrCouldNotConnect, lastErr.Error())
}

func (t *Transport) readLoop(sess *session) {
	defer close(sess.done)

	dec := wire.NewDecoder(t.maxFrame)
	buf := make([]byte, readBufferSize)
	for {
		n, err := sess.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if stop := t.drain(sess, dec); stop {
				return
			}
		}
		if err != nil {
			t.finish(sess, readErrorReason(sess, err), readError(err))
			return
		}
	}
}

// drain dispatches every complete frame buffered in dec. It reports whether
// the connection has ended.
func (t *Transport) drain(sess *session, dec *wire.Decoder) bool {
	for {
		frame, ok, err := dec.Next()
		if err != nil {
			if errors.Is(err, domain.ErrFrameTooLarge) {
				t.finish(sess, err.Error(), err)
				return true
			}
			t.logger.Warn("ipc dropped frame", "error", err)
			sess.listener(domain.TransportEvent{Kind: domain.TransportError, Err: err})
			continue
		}
		if !ok {
			return false
		}
		if t.handleFrame(sess, frame) {
			return true
		}
	}
}

func (t *Transport) handleFrame(sess *session, frame wire.Frame) bool {
	t.logger.Debug("ipc recv", "op", frame.Op.String(), "bytes", len(frame.Payload))

	switch frame.Op {
	case domain.OpFrame:
		msg, err := wire.DecodeCommand(frame.Payload)
		if err != nil {
			t.logger.Warn("ipc dropped message", "error", err)
			sess.listener(domain.TransportEvent{Kind: domain.TransportError, Err: err})
			return false
		}
		sess.listener(domain.TransportEvent{Kind: domain.TransportMessage, Message: msg})
	case domain.OpClose:
		t.finish(sess, string(frame.Payload), nil)
		return true
	case domain.OpPing:
		if err := t.write(context.Background(), sess, wire.EncodeFrame(domain.OpPong, frame.Payload)); err != nil {
			t.logger.Warn("ipc pong failed", "error", err)
		}
		sess.listener(domain.TransportEvent{Kind: domain.TransportPing, Payload: json.RawMessage(frame.Payload)})
	default:
		// PONG and stray HANDSHAKE frames carry nothing for the client.
	}
	return false
}

// finish tears the session down and delivers TransportClose exactly once.
func (t *Transport) finish(sess *session, reason string, err error) {
	sess.once.Do(func() {
		sess.ended.Store(true)
		_ = sess.conn.Close()

		t.mu.Lock()
		if t.sess == sess {
			t.sess = nil
		}
		t.mu.Unlock()

		t.logger.Debug("ipc closed", "reason", reason)
		sess.listener(domain.TransportEvent{Kind: domain.TransportClose, Reason: reason, Err: err})
	})
}

func readErrorReason(sess *session, err error) string {
	if sess.closing.Load() {
		return closedByClient
	}
	if errors.Is(err, io.EOF) {
		return "connection closed by server"
	}
	return err.Error()
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
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

func (t *Transport) write(ctx context.Context, sess *session, b []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.writeTimeout)
	}
	_ = sess.conn.SetWriteDeadline(deadline)
	defer sess.conn.SetWriteDeadline(time.Time{})
	_, err := sess.conn.Write(b)
	return err
}

// Send implements domain.Transport.
func (t *Transport) Send(ctx context.Context, cmd domain.OutgoingCommand) error {
	sess, err := t.current()
	if err != nil {
		return domain.WrapOp("ipc.Send", err)
	}
	payload, err := wire.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	t.logger.Debug("ipc send", "cmd", string(cmd.Cmd), "nonce", cmd.Nonce)
	return domain.WrapOp("ipc.Send", t.write(ctx, sess, wire.EncodeFrame(domain.OpFrame, payload)))
}

// Ping implements domain.Transport.
func (t *Transport) Ping(ctx context.Context) error {
	sess, err := t.current()
	if err != nil {
		return domain.WrapOp("ipc.Ping", err)
	}
	frame, err := wire.EncodeJSONFrame(domain.OpPing, map[string]string{"nonce": uuid.NewString()})
	if err != nil {
		return err
	}
	return domain.WrapOp("ipc.Ping", t.write(ctx, sess, frame))
}

// Close implements domain.Transport. It sends CLOSE, shuts the socket and
// waits for the read loop to deliver TransportClose.
func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	sess := t.sess
	t.mu.Unlock()
	if sess == nil {
		return nil
	}

	if !sess.ended.Load() {
		sess.closing.Store(true)
		if err := t.write(ctx, sess, wire.EncodeFrame(domain.OpClose, []byte("{}"))); err != nil {
			t.logger.Debug("ipc close frame failed", "error", err)
		}
	}
	_ = sess.conn.Close()

	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return domain.WrapOp("ipc.Close", ctx.Err())
	}
}

var _ domain.Transport = (*Transport)(nil)
