// Package discordrpc is a client for the local Rich Presence RPC server a
// running Discord desktop client exposes.
//
// Example:
//
//	client := discordrpc.New("123456789012345678")
//	defer client.Destroy(context.Background())
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	_, err := client.SetActivity(ctx, os.Getpid(), discordrpc.Activity{Details: "Editing"})
package discordrpc

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/adapter/oauth"
	"discord-rpc/internal/adapter/wstransport"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/tracer"
	"discord-rpc/internal/usecase/credential"
	"discord-rpc/internal/usecase/eventbus"
	"discord-rpc/internal/usecase/pending"
)

// Defaults applied by New.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRateLimit      = 5
	DefaultRateBurst      = 5
)

// Client owns one transport connection and multiplexes requests over it.
type Client struct {
	clientID string

	transportKind  string
	instanceID     int
	origin         string
	connectTimeout time.Duration
	debug          bool
	logger         *slog.Logger
	limiter        *rate.Limiter

	clientSecret  string
	apiBase       string
	httpClient    *http.Client
	exchanger     domain.TokenExchanger
	store         domain.CredentialStore
	refreshMargin time.Duration
	expiresUnit   time.Duration

	transport domain.Transport
	bus       *eventbus.Bus
	pending   *pending.Tracker
	creds     *credential.Manager
	newNonce  func() string // for testing

	mu          sync.Mutex
	state       domain.ConnState
	attempt     *connectAttempt
	live        *connectAttempt
	user        *discordgo.User
	application *discordgo.Application
	cdnHost     string
	apiEndpoint string
	destroyed   bool
}

// New creates a Client for the application clientID. Nothing is dialed
// until Connect.
func New(clientID string, opts ...Option) *Client {
	c := &Client{
		clientID:       clientID,
		transportKind:  TransportIPC,
		instanceID:     -1,
		connectTimeout: DefaultConnectTimeout,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		limiter:        rate.NewLimiter(DefaultRateLimit, DefaultRateBurst),
		pending:        pending.NewTracker(),
		newNonce:       func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(c)
	}

	c.bus = eventbus.New(c.logger)
	if c.transport == nil {
		c.transport = c.defaultTransport()
	}
	if c.exchanger == nil {
		c.exchanger = oauth.New(oauth.Config{
			ClientID:     clientID,
			ClientSecret: c.clientSecret,
			APIBase:      c.apiBase,
			HTTPClient:   c.httpClient,
			Logger:       c.logger,
		})
	}
	c.creds = credential.NewManager(credential.Config{
		ClientID:       clientID,
		Exchanger:      c.exchanger,
		Store:          c.store,
		Logger:         c.logger,
		RefreshMargin:  c.refreshMargin,
		ExpiresUnit:    c.expiresUnit,
		OnUpdate:       c.credentialUpdated,
		OnRefreshError: c.refreshFailed,
	})
	return c
}

// endpointResolver scans every instance id unless one was pinned.
func (c *Client) endpointResolver() *ipc.Resolver {
	if c.instanceID < 0 {
		return ipc.NewResolver()
	}
	return ipc.NewResolver(ipc.WithInstanceID(c.instanceID))
}

func (c *Client) defaultTransport() domain.Transport {
	resolver := c.endpointResolver()
	if c.transportKind == TransportWebSocket {
		opts := []wstransport.Option{wstransport.WithResolver(resolver), wstransport.WithLogger(c.logger)}
		if c.origin != "" {
			opts = append(opts, wstransport.WithOrigin(c.origin))
		}
		return wstransport.New(c.clientID, opts...)
	}
	return ipc.New(c.clientID, ipc.WithResolver(resolver), ipc.WithLogger(c.logger))
}

// ClientID returns the application id.
func (c *Client) ClientID() string { return c.clientID }

// TransportName names the transport in use.
func (c *Client) TransportName() string { return c.transport.Name() }

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the user from READY, or from AUTHENTICATE once logged in.
func (c *Client) User() *discordgo.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Application returns the application from AUTHENTICATE.
func (c *Client) Application() *discordgo.Application {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.application
}

// CDNHost returns the media host announced in READY as an https URL.
func (c *Client) CDNHost() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdnHost == "" {
		return ""
	}
	return "https://" + c.cdnHost
}

// APIEndpoint returns the API endpoint announced in READY.
func (c *Client) APIEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiEndpoint
}

// Credential returns the active OAuth2 credential.
func (c *Client) Credential() (Credential, bool) {
	return c.creds.Current()
}

// On registers handler for one notification kind and returns its
// unsubscribe func. Handlers run on a goroutine owned by the subscription.
func (c *Client) On(kind EventKind, handler Handler) func() {
	return c.bus.Subscribe(kind, handler)
}

// OnAll registers handler for every notification kind.
func (c *Client) OnAll(handler Handler) func() {
	return c.bus.SubscribeAll(handler)
}

func (c *Client) publish(ctx context.Context, ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	c.bus.Publish(ctx, ev)
}

func (c *Client) publishDebug(ctx context.Context, msg string, data json.RawMessage) {
	if !c.debug {
		return
	}
	c.publish(ctx, domain.Event{Kind: domain.EventDebug, Message: msg, Data: data})
}

// Request sends cmd and waits for the correlated response. It returns the
// response data, or a *RPCError when the server answered with ERROR.
func (c *Client) Request(ctx context.Context, cmd Command, args any, evt EventName) (data json.RawMessage, err error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanRequest, tracer.StringAttr("cmd", string(cmd)))
	defer func() { tracer.End(span, err) }()

	op := "discordrpc.Request"
	if c.State() != domain.StateConnected {
		return nil, domain.NewDomainError(op, domain.ErrNotConnected, string(cmd))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.NewDomainError(op, domain.ErrRateLimit, err.Error())
		}
	}

	raw, err := encodeArgs(args)
	if err != nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}

	nonce := c.newNonce()
	ch, err := c.pending.Register(nonce)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	out := domain.OutgoingCommand{Cmd: cmd, Args: raw, Evt: evt, Nonce: nonce}
	if c.debug {
		if b, err := json.Marshal(out); err == nil {
			c.publishDebug(ctx, "send", b)
		}
	}
	if err := c.transport.Send(ctx, out); err != nil {
		c.pending.Forget(nonce)
		return nil, domain.WrapOp(op, err)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Message.Data, nil
	case <-ctx.Done():
		c.pending.Forget(nonce)
		return nil, domain.WrapOp(op, ctx.Err())
	}
}

func encodeArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// Destroy closes the transport, rejects pending requests, cancels the
// refresh timer and stops notification delivery. It is safe to call more
// than once. Handlers must not call it synchronously.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	a := c.attempt
	c.mu.Unlock()

	if a != nil {
		c.settle(a, domain.WrapOp("discordrpc.Connect", domain.ErrDestroyed))
	}
	c.creds.Stop()

	err := c.transport.Close(ctx)
	c.pending.RejectAll(domain.WrapOp("discordrpc.Request", domain.ErrDestroyed))

	c.mu.Lock()
	if c.state != domain.StateIdle {
		c.state = domain.StateDisconnected
	}
	c.live = nil
	c.mu.Unlock()

	c.bus.Close()
	return domain.WrapOp("discordrpc.Destroy", err)
}
