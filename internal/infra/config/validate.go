package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found. A missing client id is not an error here;
// commands that connect check it themselves.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateOAuth(cfg, ve)
	validateRateLimit(cfg, ve)
	validateStore(cfg, ve)
	validatePresence(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validTransports = map[string]bool{"auto": true, "ipc": true, "websocket": true}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client
	if !validTransports[c.Transport] {
		ve.Add("client.transport %q must be one of auto, ipc, websocket", c.Transport)
	}
	if c.InstanceID < -1 || c.InstanceID > 9 {
		ve.Add("client.instance_id must be -1 or 0..9, got %d", c.InstanceID)
	}
	if c.ConnectTimeout <= 0 {
		ve.Add("client.connect_timeout must be > 0")
	}
	if c.ID != "" && strings.Trim(c.ID, "0123456789") != "" {
		ve.Add("client.id %q must be a numeric application id", c.ID)
	}
}

func validateOAuth(cfg *Config, ve *ValidationError) {
	o := cfg.OAuth
	if o.ExpiresUnit != "s" && o.ExpiresUnit != "ms" {
		ve.Add("oauth.expires_unit must be \"s\" or \"ms\", got %q", o.ExpiresUnit)
	}
	if o.RefreshMargin < 0 {
		ve.Add("oauth.refresh_margin must not be negative")
	}
	if u, err := url.Parse(o.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("oauth.api_base %q must be an absolute URL", o.APIBase)
	}
	if o.RedirectURI != "" {
		if _, err := url.Parse(o.RedirectURI); err != nil {
			ve.Add("oauth.redirect_uri: %v", err)
		}
	}
	if strings.HasPrefix(o.ClientSecret, "enc:") {
		ve.Add("oauth.client_secret is encrypted but DISCORDRPC_CONFIG_KEY is not set")
	}
	if o.Prompt != "" && o.Prompt != "consent" && o.Prompt != "none" {
		ve.Add("oauth.prompt must be \"consent\" or \"none\", got %q", o.Prompt)
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	if cfg.RateLimit.RPS < 0 {
		ve.Add("rate_limit.rps must not be negative")
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst <= 0 {
		ve.Add("rate_limit.burst must be > 0 when rps is set")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		ve.Add("store.path must not be empty when the store is enabled")
	}
}

func validatePresence(cfg *Config, ve *ValidationError) {
	if err := cfg.Presence.Activity.Validate(); err != nil {
		ve.Add("presence: %v", err)
	}
}

var validLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not a known level", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format must be text or json, got %q", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}
}
