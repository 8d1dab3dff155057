// Package oauth exchanges authorization codes and refresh tokens at
// Discord's OAuth2 token endpoint.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/oauth2"

	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/middleware"
	"discord-rpc/internal/infra/tracer"
)

// DefaultAPIBase is the Discord REST API root.
const DefaultAPIBase = "https://discord.com/api"

// Defaults applied by New.
const (
	defaultMaxFailures uint32 = 3
	defaultOpenTimeout        = 30 * time.Second
	defaultHTTPTimeout        = 15 * time.Second
	maxResponseBytes          = 1 << 20
	userAgent                 = "discord-rpc/1"
)

// Config configures an Exchanger.
type Config struct {
	ClientID     string
	ClientSecret string
	// APIBase defaults to DefaultAPIBase.
	APIBase    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// MaxFailures consecutive transport or server failures open the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration
}

// Exchanger implements domain.TokenExchanger. Calls go through a circuit
// breaker so a failing token endpoint fails fast.
type Exchanger struct {
	oauth   oauth2.Config
	apiBase string
	secret  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// New creates an Exchanger.
func New(cfg Config) *Exchanger {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: middleware.Chain(http.DefaultTransport,
				middleware.Headers(map[string]string{"User-Agent": userAgent}),
				middleware.RateLimit(middleware.RateLimitConfig{RequestsPerMin: 30, BurstSize: 5}),
			),
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultOpenTimeout
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "oauth:" + cfg.ClientID,
		MaxRequests: 1, // one probe in half-open state
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: countsAsSuccess,
	})

	return &Exchanger{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: base,
		secret:  cfg.ClientSecret,
		client:  client,
		breaker: cb,
		logger:  logger,
	}
}

// countsAsSuccess keeps client errors (bad code, revoked refresh token)
// from tripping the breaker; only transport and 5xx failures count.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode < 500
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code < 500
	}
	return false
}

func execute[T any](e *Exchanger, fn func() (T, error)) (T, error) {
	var zero T
	v, err := e.breaker.Execute(func() (any, error) { return fn() })
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, domain.NewDomainError("oauth", domain.ErrTokenExchange, "token endpoint circuit open: "+err.Error())
		}
		return zero, err
	}
	return v.(T), nil
}

func (e *Exchanger) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.client)
}

// ExchangeCode implements domain.TokenExchanger using the
// authorization_code grant.
func (e *Exchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (resp domain.TokenResponse, err error) {
	if e.secret == "" {
		return domain.TokenResponse{}, domain.WrapOp("oauth.ExchangeCode", domain.ErrMissingClientSecret)
	}
	ctx, span := tracer.StartSpan(ctx, tracer.SpanOAuthExchange, tracer.StringAttr("grant_type", "authorization_code"))
	defer func() { tracer.End(span, err) }()

	cfg := e.oauth
	cfg.RedirectURL = redirectURI
	tok, err := execute(e, func() (*oauth2.Token, error) {
		return cfg.Exchange(e.httpContext(ctx), code)
	})
	if err != nil {
		return domain.TokenResponse{}, wrapRetrieve("oauth.ExchangeCode", err)
	}
	e.logger.Debug("authorization code exchanged", "expires_in", tok.ExpiresIn)
	return toResponse("oauth.ExchangeCode", tok)
}

// Refresh implements domain.TokenExchanger using the refresh_token grant.
func (e *Exchanger) Refresh(ctx context.Context, refreshToken string) (resp domain.TokenResponse, err error) {
	if e.secret == "" {
		return domain.TokenResponse{}, domain.WrapOp("oauth.Refresh", domain.ErrMissingClientSecret)
	}
	ctx, span := tracer.StartSpan(ctx, tracer.SpanOAuthRefresh, tracer.StringAttr("grant_type", "refresh_token"))
	defer func() { tracer.End(span, err) }()

	tok, err := execute(e, func() (*oauth2.Token, error) {
		return e.oauth.TokenSource(e.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return domain.TokenResponse{}, wrapRetrieve("oauth.Refresh", err)
	}
	e.logger.Debug("token refreshed", "expires_in", tok.ExpiresIn)
	return toResponse("oauth.Refresh", tok)
}

// RPCToken implements domain.TokenExchanger. The token is accepted by
// AUTHORIZE in place of an interactive prompt for whitelisted apps.
func (e *Exchanger) RPCToken(ctx context.Context) (token string, err error) {
	if e.secret == "" {
		return "", domain.WrapOp("oauth.RPCToken", domain.ErrMissingClientSecret)
	}
	ctx, span := tracer.StartSpan(ctx, tracer.SpanOAuthRPCToken)
	defer func() { tracer.End(span, err) }()

	return execute(e, func() (string, error) { return e.fetchRPCToken(ctx) })
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, e.body)
}

func (e *Exchanger) fetchRPCToken(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {e.oauth.ClientID},
		"client_secret": {e.secret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/oauth2/token/rpc", strings.NewReader(form.Encode()))
	if err != nil {
		return "", domain.WrapOp("oauth.RPCToken", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return "", domain.NewDomainError("oauth.RPCToken", domain.ErrTokenExchange, err.Error())
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return "", domain.NewDomainError("oauth.RPCToken", domain.ErrTokenExchange, err.Error())
	}
	if res.StatusCode/100 != 2 {
		return "", &domain.DomainError{
			Op:  "oauth.RPCToken",
			Err: fmt.Errorf("%w: %w", domain.ErrTokenExchange, &statusError{code: res.StatusCode, body: strings.TrimSpace(string(body))}),
		}
	}

	var out struct {
		RPCToken string `json:"rpc_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.RPCToken == "" {
		return "", domain.NewDomainError("oauth.RPCToken", domain.ErrMalformedTokenResponse, "missing rpc_token")
	}
	return out.RPCToken, nil
}

// wrapRetrieve maps oauth2 errors onto domain.ErrTokenExchange.
func wrapRetrieve(op string, err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		detail := re.ErrorCode
		if re.ErrorDescription != "" {
			detail += ": " + re.ErrorDescription
		}
		if detail == "" && re.Response != nil {
			detail = re.Response.Status
		}
		return &domain.DomainError{Op: op, Err: fmt.Errorf("%w: %w", domain.ErrTokenExchange, err), Detail: detail}
	}
	// oauth2 rejects a 2xx body without access_token before we see it.
	if strings.Contains(err.Error(), "missing access_token") {
		return domain.NewDomainError(op, domain.ErrMalformedTokenResponse, "missing access_token")
	}
	return domain.NewDomainError(op, domain.ErrTokenExchange, err.Error())
}

// toResponse reads the raw response fields. oauth2 back-fills a missing
// refresh_token from the request, so presence is checked on the raw body.
func toResponse(op string, tok *oauth2.Token) (domain.TokenResponse, error) {
	raw := map[string]any{}
	for _, key := range []string{"access_token", "refresh_token", "token_type", "expires_in", "scope"} {
		if v := tok.Extra(key); v != nil {
			raw[key] = v
		}
	}
	resp := domain.TokenResponse{
		AccessToken:  stringField(raw["access_token"]),
		RefreshToken: stringField(raw["refresh_token"]),
		TokenType:    stringField(raw["token_type"]),
		ExpiresIn:    intField(raw["expires_in"]),
		Scope:        stringField(raw["scope"]),
	}
	if err := resp.Validate(); err != nil {
		return domain.TokenResponse{}, err
	}
	if err := wire.TokenResponseSchema.Validate(raw); err != nil {
		return domain.TokenResponse{}, domain.NewDomainError(op, domain.ErrMalformedTokenResponse, err.Error())
	}
	return resp, nil
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

func intField(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}

var _ domain.TokenExchanger = (*Exchanger)(nil)

// BreakerState reports the token endpoint circuit state.
func (e *Exchanger) BreakerState() string {
	return e.breaker.State().String()
}
