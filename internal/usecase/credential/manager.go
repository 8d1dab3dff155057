// Package credential owns the OAuth2 token set and its refresh timer.
//
// expires_in is read in seconds by default, as Discord's token endpoint
// returns it. This differs from the original JavaScript client, which
// treated it as milliseconds; Config.ExpiresUnit restores that reading.
package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"discord-rpc/internal/domain"
)

const (
	// DefaultRefreshMargin is subtracted from the token lifetime when arming
	// the refresh timer.
	DefaultRefreshMargin = 5 * time.Second
	// DefaultExpiresUnit is the unit of expires_in. RFC 6749 uses seconds.
	DefaultExpiresUnit = time.Second

	refreshTimeout = 30 * time.Second
)

// stopper is the part of *time.Timer the manager needs.
type stopper interface {
	Stop() bool
}

// Config configures a Manager. Exchanger is required.
type Config struct {
	ClientID      string
	Exchanger     domain.TokenExchanger
	Store         domain.CredentialStore
	Logger        *slog.Logger
	RefreshMargin time.Duration
	ExpiresUnit   time.Duration

	// OnUpdate runs after every accepted credential, including refreshes.
	OnUpdate func(ctx context.Context, cred domain.Credential)
	// OnRefreshError runs when a timer-driven refresh fails. The timer is
	// not re-armed afterwards.
	OnRefreshError func(err error)
}

// Manager validates token responses, keeps the current credential and
// refreshes it shortly before it expires.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	now       func() time.Time                        // for testing
	afterFunc func(d time.Duration, f func()) stopper // for testing

	mu      sync.Mutex
	cred    *domain.Credential
	timer   stopper
	gen     uint64
	stopped bool
}

// NewManager creates a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.RefreshMargin <= 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.ExpiresUnit <= 0 {
		cfg.ExpiresUnit = DefaultExpiresUnit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Current returns the active credential.
func (m *Manager) Current() (domain.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return domain.Credential{}, false
	}
	return *m.cred, true
}

// Accept validates resp, stores the resulting credential and arms the
// refresh timer. A malformed response changes nothing.
func (m *Manager) Accept(ctx context.Context, resp domain.TokenResponse) (domain.Credential, error) {
	if err := resp.Validate(); err != nil {
		return domain.Credential{}, err
	}

	lifetime := time.Duration(resp.ExpiresIn) * m.cfg.ExpiresUnit
	cred := domain.Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    m.now().Add(lifetime),
		Scopes:       strings.Fields(resp.Scope),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return domain.Credential{}, domain.WrapOp("credential.Accept", domain.ErrDestroyed)
	}
	m.cred = &cred
	m.armLocked(lifetime - m.cfg.RefreshMargin)
	m.mu.Unlock()

	m.persist(ctx, cred)
	if m.cfg.OnUpdate != nil {
		m.cfg.OnUpdate(ctx, cred)
	}
	return cred, nil
}

func (m *Manager) armLocked(delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	if delay < 0 {
		delay = 0
	}
	m.gen++
	gen := m.gen
	m.logger.Debug("refresh scheduled", "in", delay)
	m.timer = m.afterFunc(delay, func() { m.fire(gen) })
}

func (m *Manager) persist(ctx context.Context, cred domain.Credential) {
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.Save(ctx, m.cfg.ClientID, cred); err != nil {
		m.logger.Warn("credential persist failed", "error", err)
	}
}

// fire runs a timer-driven refresh unless the timer was superseded.
func (m *Manager) fire(gen uint64) {
	m.mu.Lock()
	if m.stopped || gen != m.gen || m.cred == nil {
		m.mu.Unlock()
		return
	}
	rt := m.cred.RefreshToken
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := m.Refresh(ctx, rt); err != nil {
		m.logger.Warn("scheduled refresh failed", "error", err)
		if m.cfg.OnRefreshError != nil {
			m.cfg.OnRefreshError(err)
		}
	}
}

// Exchange trades an authorization code for a credential.
func (m *Manager) Exchange(ctx context.Context, code, redirectURI string) (domain.Credential, error) {
	resp, err := m.cfg.Exchanger.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return domain.Credential{}, domain.WrapOp("credential.Exchange", err)
	}
	return m.Accept(ctx, resp)
}

// Refresh runs the refresh_token grant. An empty refreshToken uses the
// current credential's.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	if refreshToken == "" {
		cur, ok := m.Current()
		if !ok || cur.RefreshToken == "" {
			return domain.Credential{}, domain.WrapOp("credential.Refresh", domain.ErrCredentialNotFound)
		}
		refreshToken = cur.RefreshToken
	}

	resp, err := m.cfg.Exchanger.Refresh(ctx, refreshToken)
	if err != nil {
		return domain.Credential{}, domain.WrapOp("credential.Refresh", err)
	}
	return m.Accept(ctx, resp)
}

// Restore loads the persisted credential without arming a timer. It
// returns domain.ErrCredentialNotFound when there is no store or no entry.
func (m *Manager) Restore(ctx context.Context) (domain.Credential, error) {
	if m.cfg.Store == nil {
		return domain.Credential{}, domain.WrapOp("credential.Restore", domain.ErrCredentialNotFound)
	}
	cred, err := m.cfg.Store.Load(ctx, m.cfg.ClientID)
	if err != nil {
		return domain.Credential{}, domain.WrapOp("credential.Restore", err)
	}
	return *cred, nil
}

// Forget drops the credential, cancels the timer and deletes any persisted
// copy.
func (m *Manager) Forget(ctx context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.cancelLocked()
	m.mu.Unlock()

	if m.cfg.Store == nil {
		return nil
	}
	err := m.cfg.Store.Delete(ctx, m.cfg.ClientID)
	if err != nil && !errors.Is(err, domain.ErrCredentialNotFound) {
		return domain.WrapOp("credential.Forget", err)
	}
	return nil
}

func (m *Manager) cancelLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Stop cancels the refresh timer for good. Later Accepts fail with
// domain.ErrDestroyed.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.cancelLocked()
}
