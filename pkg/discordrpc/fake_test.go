package discordrpc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"discord-rpc/internal/domain"
)

// fakeTransport stands in for a Discord client. Hooks run synchronously
// on the calling goroutine; deliveries are serialized like a read loop.
type fakeTransport struct {
	mu         sync.Mutex
	listener   domain.TransportListener
	open       bool
	sent       []domain.OutgoingCommand
	connects   int
	closes     int
	connectErr error

	onConnect func(f *fakeTransport)
	onSend    func(f *fakeTransport, cmd domain.OutgoingCommand)

	deliverMu sync.Mutex
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Connect(_ context.Context, listener domain.TransportListener) error {
	f.mu.Lock()
	f.connects++
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		return err
	}
	f.listener = listener
	f.open = true
	hook := f.onConnect
	f.mu.Unlock()

	f.deliver(domain.TransportEvent{Kind: domain.TransportOpen})
	if hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakeTransport) Send(_ context.Context, cmd domain.OutgoingCommand) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return domain.ErrNotConnected
	}
	f.sent = append(f.sent, cmd)
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook(f, cmd)
	}
	return nil
}

func (f *fakeTransport) Ping(context.Context) error { return nil }

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	f.closes++
	wasOpen := f.open
	f.open = false
	f.mu.Unlock()
	if wasOpen {
		f.deliver(domain.TransportEvent{Kind: domain.TransportClose, Reason: "closed by client"})
	}
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) deliver(ev domain.TransportEvent) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	f.mu.Lock()
	listener := f.listener
	f.mu.Unlock()
	if listener != nil {
		listener(ev)
	}
}

// serverClose simulates the remote end dropping the connection.
func (f *fakeTransport) serverClose(reason string) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	f.deliver(domain.TransportEvent{Kind: domain.TransportClose, Reason: reason})
}

func (f *fakeTransport) message(msg domain.IncomingCommand) {
	f.deliver(domain.TransportEvent{Kind: domain.TransportMessage, Message: msg})
}

func (f *fakeTransport) ready() {
	f.message(domain.IncomingCommand{
		Cmd:  domain.CmdDispatch,
		Evt:  domain.EvtReady,
		Data: json.RawMessage(`{"v":1,"config":{"cdn_host":"cdn.discordapp.com","api_endpoint":"//discord.com/api","environment":"production"},"user":{"id":"42","username":"wumpus"}}`),
	})
}

func (f *fakeTransport) respond(cmd domain.OutgoingCommand, data any) {
	raw, _ := json.Marshal(data)
	f.message(domain.IncomingCommand{Cmd: cmd.Cmd, Nonce: cmd.Nonce, Data: raw})
}

func (f *fakeTransport) fail(cmd domain.OutgoingCommand, code int, message string) {
	raw, _ := json.Marshal(domain.ErrorData{Code: code, Message: message})
	f.message(domain.IncomingCommand{Cmd: cmd.Cmd, Evt: domain.EvtError, Nonce: cmd.Nonce, Data: raw})
}

func (f *fakeTransport) sentCommands() []domain.OutgoingCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OutgoingCommand(nil), f.sent...)
}

func (f *fakeTransport) counts() (connects, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.closes
}

// recorder collects published notifications.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) find(kind domain.EventKind) (domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return domain.Event{}, false
}

type fakeExchanger struct {
	mu        sync.Mutex
	codes     []string
	redirects []string
	refreshes []string
	rpcCalls  int
	resp      domain.TokenResponse
	err       error
}

func (e *fakeExchanger) ExchangeCode(_ context.Context, code, redirectURI string) (domain.TokenResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
	e.redirects = append(e.redirects, redirectURI)
	return e.resp, e.err
}

func (e *fakeExchanger) Refresh(_ context.Context, rt string) (domain.TokenResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshes = append(e.refreshes, rt)
	return e.resp, e.err
}

func (e *fakeExchanger) RPCToken(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rpcCalls++
	return "rpc-token", nil
}

type memStore struct {
	mu    sync.Mutex
	creds map[string]domain.Credential
}

func (s *memStore) Load(_ context.Context, id string) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	return &c, nil
}

func (s *memStore) Save(_ context.Context, id string, c domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		s.creds = map[string]domain.Credential{}
	}
	s.creds[id] = c
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[id]; !ok {
		return domain.ErrCredentialNotFound
	}
	delete(s.creds, id)
	return nil
}

func (s *memStore) Close() error { return nil }

func validTokens() domain.TokenResponse {
	return domain.TokenResponse{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresIn:    604800,
		Scope:        "rpc identify",
	}
}

// newTestClient returns a client over ft with rate limiting disabled and
// a recorder subscribed to every notification.
func newTestClient(t *testing.T, ft *fakeTransport, opts ...Option) (*Client, *recorder) {
	t.Helper()
	base := []Option{
		WithTransport(ft),
		WithRateLimit(0, 0),
		WithConnectTimeout(time.Second),
		WithExchanger(&fakeExchanger{resp: validTokens()}),
	}
	c := New("123456789", append(base, opts...)...)
	rec := &recorder{}
	c.OnAll(rec.handle)
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })
	return c, rec
}

func connected(t *testing.T, opts ...Option) (*Client, *fakeTransport, *recorder) {
	t.Helper()
	ft := &fakeTransport{onConnect: func(f *fakeTransport) { f.ready() }}
	c, rec := newTestClient(t, ft, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c, ft, rec
}

func (f *fakeTransport) setOnSend(fn func(f *fakeTransport, cmd domain.OutgoingCommand)) {
	f.mu.Lock()
	f.onSend = fn
	f.mu.Unlock()
}

// echo answers every command with its own args.
func echo(f *fakeTransport, cmd domain.OutgoingCommand) {
	data := cmd.Args
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	f.message(domain.IncomingCommand{Cmd: cmd.Cmd, Nonce: cmd.Nonce, Data: data})
}
