package main

import (
	"context"
	"errors"
	"log/slog"

	"discord-rpc/internal/adapter/oauth"
	"discord-rpc/internal/adapter/tokenstore"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/config"
	"discord-rpc/internal/infra/logger"
	"discord-rpc/internal/infra/tracer"
	"discord-rpc/pkg/discordrpc"
)

// app holds the process-wide resources shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *tokenstore.Store

	closers []func() error
}

func newApp(cfg *config.Config) (*app, error) {
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, closers: []func() error{closeLog}}

	shutdown, err := tracer.Setup(context.Background(), cfg.Tracer, nil)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	if cfg.Store.Enabled {
		store, err := tokenstore.Open(cfg.Store.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Debug("close failed", "error", err)
		}
	}
	a.closers = nil
}

// clientOptions maps the config onto client options for one transport kind.
func (a *app) clientOptions(kind string) []discordrpc.Option {
	c := a.cfg
	opts := []discordrpc.Option{
		discordrpc.WithTransportKind(kind),
		discordrpc.WithInstanceID(c.Client.InstanceID),
		discordrpc.WithConnectTimeout(c.Client.ConnectTimeout),
		discordrpc.WithDebug(c.Client.Debug),
		discordrpc.WithLogger(a.logger),
		discordrpc.WithRateLimit(c.RateLimit.RPS, c.RateLimit.Burst),
		discordrpc.WithRefreshMargin(c.OAuth.RefreshMargin),
		discordrpc.WithExpiresUnit(c.OAuth.ExpiresUnitDuration()),
		discordrpc.WithExchanger(oauth.New(oauth.Config{
			ClientID:     c.Client.ID,
			ClientSecret: c.OAuth.ClientSecret,
			APIBase:      c.OAuth.APIBase,
			Logger:       a.logger,
			MaxFailures:  c.OAuth.Breaker.MaxFailures,
			OpenTimeout:  c.OAuth.Breaker.Timeout,
		})),
	}
	if c.Client.Origin != "" {
		opts = append(opts, discordrpc.WithOrigin(c.Client.Origin))
	}
	if a.store != nil {
		opts = append(opts, discordrpc.WithStore(a.store))
	}
	return opts
}

// transportOrder lists the transports to try for the configured kind.
func transportOrder(kind string) []string {
	switch kind {
	case discordrpc.TransportIPC, discordrpc.TransportWebSocket:
		return []string{kind}
	default:
		return []string{discordrpc.TransportIPC, discordrpc.TransportWebSocket}
	}
}

// Connect returns a connected client. With transport "auto" the local
// socket is tried first and the WebSocket is the fallback when no client
// answers on it.
func (a *app) Connect(ctx context.Context) (*discordrpc.Client, error) {
	var lastErr error
	for _, kind := range transportOrder(a.cfg.Client.Transport) {
		client := discordrpc.New(a.cfg.Client.ID, a.clientOptions(kind)...)
		err := client.Connect(ctx)
		if err == nil {
			return client, nil
		}
		_ = client.Destroy(context.Background())
		lastErr = err
		if !fallbackable(err) {
			break
		}
		a.logger.Debug("transport unavailable", "transport", kind, "error", err)
	}
	return nil, lastErr
}

func fallbackable(err error) bool {
	return errors.Is(err, domain.ErrCouldNotFindClient) || errors.Is(err, domain.ErrCouldNotConnect)
}
