package main

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/config"
)

func TestFlagValue(t *testing.T) {
	args := []string{"richpresence", "run", "--config", "/tmp/c.yaml", "--client-id=42"}

	if v, ok := flagValue(args, "--config"); !ok || v != "/tmp/c.yaml" {
		t.Errorf("--config = %q, %v", v, ok)
	}
	if v, ok := flagValue(args, "--client-id"); !ok || v != "42" {
		t.Errorf("--client-id = %q, %v", v, ok)
	}
	if _, ok := flagValue(args, "--missing"); ok {
		t.Error("unexpected --missing")
	}
	if _, ok := flagValue([]string{"--config"}, "--config"); ok {
		t.Error("flag without value should not match")
	}
}

func TestHasFlag(t *testing.T) {
	if !hasFlag([]string{"run", "--login"}, "--login") {
		t.Error("expected --login")
	}
	if hasFlag([]string{"run"}, "--login") {
		t.Error("unexpected --login")
	}
}

func TestTransportOrder(t *testing.T) {
	tests := map[string][]string{
		"auto":      {"ipc", "websocket"},
		"":          {"ipc", "websocket"},
		"ipc":       {"ipc"},
		"websocket": {"websocket"},
	}
	for kind, want := range tests {
		if got := transportOrder(kind); !reflect.DeepEqual(got, want) {
			t.Errorf("transportOrder(%q) = %v, want %v", kind, got, want)
		}
	}
}

func TestFallbackable(t *testing.T) {
	if !fallbackable(domain.NewDomainError("ipc.Connect", domain.ErrCouldNotFindClient, "")) {
		t.Error("missing client should fall back")
	}
	if !fallbackable(domain.NewDomainError("ipc.Connect", domain.ErrCouldNotConnect, "refused")) {
		t.Error("refused socket should fall back")
	}
	if fallbackable(&domain.ConnectionEndedError{Reason: "invalid client id"}) {
		t.Error("a rejected handshake should not fall back")
	}
	if fallbackable(errors.New("other")) {
		t.Error("unknown errors should not fall back")
	}
}

func TestPresenceActivityStartNow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := config.PresenceConfig{StartNow: true}
	p.Details = "Coding"

	got := presenceActivity(p, now)
	if !got.StartTimestamp.Equal(now) {
		t.Errorf("start = %v, want %v", got.StartTimestamp, now)
	}
	if got.Details != "Coding" {
		t.Errorf("details = %q", got.Details)
	}

	fixed := time.Unix(1600000000, 0)
	p.StartTimestamp = fixed
	if got := presenceActivity(p, now); !got.StartTimestamp.Equal(fixed) {
		t.Error("explicit start timestamp must win")
	}
}

func TestLoginOptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.OAuth.RedirectURI = "http://localhost/cb"
	cfg.OAuth.UseRPCToken = true

	opts := loginOptions(cfg)
	if !reflect.DeepEqual(opts.Scopes, []string{"rpc", "identify"}) || opts.Prompt != "consent" {
		t.Errorf("unexpected options: %+v", opts)
	}
	if opts.RedirectURI != "http://localhost/cb" || !opts.UseRPCToken {
		t.Errorf("unexpected options: %+v", opts)
	}
}
