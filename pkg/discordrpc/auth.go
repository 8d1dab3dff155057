package discordrpc

import (
	"context"
	"errors"

	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/tracer"
)

// DefaultPrompt is the AUTHORIZE prompt used when none is given.
const DefaultPrompt = "consent"

// LoginOptions selects how Login obtains an access token. The first
// usable source wins: AccessToken, then RefreshToken or a stored
// credential, then an interactive AUTHORIZE for Scopes.
type LoginOptions struct {
	AccessToken  string
	RefreshToken string
	Scopes       []string
	RedirectURI  string
	// Prompt is "consent" (default) or "none".
	Prompt string
	// UseRPCToken fetches an rpc_token first so AUTHORIZE skips the prompt
	// for whitelisted applications.
	UseRPCToken bool
}

type authorizeArgs struct {
	ClientID    string   `json:"client_id"`
	Scopes      []string `json:"scopes"`
	RPCToken    string   `json:"rpc_token,omitempty"`
	RedirectURI string   `json:"redirect_uri,omitempty"`
	Prompt      string   `json:"prompt"`
}

type authenticateArgs struct {
	AccessToken string `json:"access_token"`
}

// Login connects if needed, then authenticates the connection. With no
// token source and no scopes it only publishes EventReady, since rich
// presence needs no auth.
func (c *Client) Login(ctx context.Context, opts LoginOptions) (err error) {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanLogin, tracer.IntAttr("scopes", len(opts.Scopes)))
	defer func() { tracer.End(span, err) }()

	if err := c.Connect(ctx); err != nil {
		return domain.WrapOp("discordrpc.Login", err)
	}

	if opts.AccessToken != "" {
		return c.authenticate(ctx, opts.AccessToken)
	}

	refreshToken := opts.RefreshToken
	if refreshToken == "" {
		stored, err := c.creds.Restore(ctx)
		switch {
		case err == nil:
			refreshToken = stored.RefreshToken
		case !errors.Is(err, domain.ErrCredentialNotFound):
			c.logger.Warn("stored credential unavailable", "error", err)
		}
	}
	if refreshToken != "" {
		cred, err := c.creds.Refresh(ctx, refreshToken)
		if err == nil {
			return c.authenticate(ctx, cred.AccessToken)
		}
		if opts.RefreshToken != "" {
			return domain.WrapOp("discordrpc.Login", err)
		}
		c.logger.Warn("stored credential refresh failed", "error", err)
	}

	if len(opts.Scopes) > 0 {
		return c.authorize(ctx, opts)
	}

	c.publish(ctx, domain.Event{Kind: domain.EventReady})
	return nil
}

func (c *Client) authorize(ctx context.Context, opts LoginOptions) error {
	args := authorizeArgs{
		ClientID:    c.clientID,
		Scopes:      opts.Scopes,
		RedirectURI: opts.RedirectURI,
		Prompt:      opts.Prompt,
	}
	if args.Prompt == "" {
		args.Prompt = DefaultPrompt
	}
	if opts.UseRPCToken {
		token, err := c.exchanger.RPCToken(ctx)
		if err != nil {
			return domain.WrapOp("discordrpc.Login", err)
		}
		args.RPCToken = token
	}

	data, err := c.Request(ctx, domain.CmdAuthorize, args, "")
	if err != nil {
		return domain.WrapOp("discordrpc.Login", err)
	}
	authz, err := wire.DecodeData[domain.AuthorizeData](wire.AuthorizeSchema, data)
	if err != nil {
		return domain.WrapOp("discordrpc.Login", err)
	}

	cred, err := c.creds.Exchange(ctx, authz.Code, opts.RedirectURI)
	if err != nil {
		return domain.WrapOp("discordrpc.Login", err)
	}
	return c.authenticate(ctx, cred.AccessToken)
}

func (c *Client) authenticate(ctx context.Context, accessToken string) error {
	data, err := c.Request(ctx, domain.CmdAuthenticate, authenticateArgs{AccessToken: accessToken}, "")
	if err != nil {
		return domain.WrapOp("discordrpc.Login", err)
	}
	auth, err := wire.DecodeData[domain.AuthenticateData](wire.AuthenticateSchema, data)
	if err != nil {
		return domain.WrapOp("discordrpc.Login", err)
	}

	c.mu.Lock()
	c.application = auth.Application
	if auth.User != nil {
		c.user = auth.User
	}
	c.mu.Unlock()

	c.logger.Info("authenticated", "scopes", auth.Scopes)
	c.publish(ctx, domain.Event{Kind: domain.EventReady})
	return nil
}

// Logout drops the credential and deletes any stored copy.
func (c *Client) Logout(ctx context.Context) error {
	return domain.WrapOp("discordrpc.Logout", c.creds.Forget(ctx))
}

func (c *Client) credentialUpdated(_ context.Context, cred domain.Credential) {
	c.logger.Debug("credential updated", "expires_at", cred.ExpiresAt, "scopes", cred.Scopes)
}

func (c *Client) refreshFailed(err error) {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return
	}
	c.publish(context.Background(), domain.Event{
		Kind:    domain.EventDebug,
		Message: "token refresh failed: " + err.Error(),
		Err:     err,
	})
}
