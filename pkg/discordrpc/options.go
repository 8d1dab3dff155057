package discordrpc

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Transport kinds accepted by WithTransportKind.
const (
	TransportIPC       = "ipc"
	TransportWebSocket = "websocket"
)

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the transport chosen by WithTransportKind.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithTransportKind selects the built-in transport, "ipc" (default) or
// "websocket".
func WithTransportKind(kind string) Option {
	return func(c *Client) { c.transportKind = kind }
}

// WithInstanceID pins the endpoint index (0-9). -1 scans every index.
func WithInstanceID(id int) Option {
	return func(c *Client) { c.instanceID = id }
}

// WithOrigin sets the Origin header of the WebSocket transport.
func WithOrigin(origin string) Option {
	return func(c *Client) { c.origin = origin }
}

// WithConnectTimeout bounds how long Connect waits for READY.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDebug publishes every envelope as an EventDebug notification.
func WithDebug(on bool) Option {
	return func(c *Client) { c.debug = on }
}

// WithRateLimit caps outgoing commands. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientSecret enables the OAuth2 code and refresh grants.
func WithClientSecret(secret string) Option {
	return func(c *Client) { c.clientSecret = secret }
}

// WithAPIBase overrides the Discord API root used for token exchange.
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = base }
}

// WithHTTPClient sets the HTTP client for token exchange.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithExchanger replaces the built-in OAuth2 token exchanger.
func WithExchanger(e TokenExchanger) Option {
	return func(c *Client) { c.exchanger = e }
}

// WithStore persists credentials across runs.
func WithStore(s Store) Option {
	return func(c *Client) { c.store = s }
}

// WithRefreshMargin sets how long before expiry the token is refreshed.
func WithRefreshMargin(d time.Duration) Option {
	return func(c *Client) { c.refreshMargin = d }
}

// WithExpiresUnit sets the unit of the token response expires_in field.
func WithExpiresUnit(unit time.Duration) Option {
	return func(c *Client) { c.expiresUnit = unit }
}
