package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/adapter/tokenstore"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/config"
)

func TestCheckConfigFile_NotFound(t *testing.T) {
	fn := checkConfigFile("/nonexistent/path/config.yaml", nil)
	result := fn(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion for missing config")
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	fn := checkConfigFile("config.yaml", &config.ValidationError{Errors: []string{"bad transport"}})
	result := fn(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("client:\n  id: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := checkConfigFile(cfgPath, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestCheckClientID(t *testing.T) {
	if r := checkClientID(nil); r.Status != StatusFail {
		t.Errorf("nil config: got %s", r.Status)
	}
	cfg := config.Defaults()
	if r := checkClientID(cfg); r.Status != StatusFail {
		t.Errorf("empty id: got %s", r.Status)
	}
	cfg.Client.ID = "123"
	if r := checkClientID(cfg); r.Status != StatusPass {
		t.Errorf("set id: got %s", r.Status)
	}
}

func TestCheckOAuth(t *testing.T) {
	cfg := config.Defaults()
	if r := checkOAuth(cfg); r.Status != StatusWarn {
		t.Errorf("missing secret should warn, got %s", r.Status)
	}
	cfg.OAuth.ClientSecret = "shh"
	if r := checkOAuth(cfg); r.Status != StatusPass {
		t.Errorf("secret set should pass, got %s", r.Status)
	}
}

func TestCheckEndpoints(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "discord-ipc-0")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	resolver := func(opts ...ipc.ResolverOption) *ipc.Resolver {
		opts = append(opts,
			ipc.WithGOOS("linux"),
			ipc.WithEnv(func(string) string { return dir }),
			ipc.WithDirExists(func(string) bool { return true }),
			ipc.WithRealpath(func(p string) (string, error) { return p, nil }),
		)
		return ipc.NewResolver(opts...)
	}

	result := checkEndpoints(resolver)(config.Defaults())
	if result.Status != StatusPass {
		t.Fatalf("expected PASS, got %s: %s", result.Status, result.Message)
	}

	empty := func(opts ...ipc.ResolverOption) *ipc.Resolver {
		opts = append(opts,
			ipc.WithGOOS("linux"),
			ipc.WithEnv(func(string) string { return t.TempDir() }),
			ipc.WithDirExists(func(string) bool { return true }),
			ipc.WithRealpath(func(p string) (string, error) { return p, nil }),
		)
		return ipc.NewResolver(opts...)
	}
	if r := checkEndpoints(empty)(nil); r.Status != StatusWarn {
		t.Errorf("expected WARN with no sockets, got %s", r.Status)
	}
}

func TestCheckEndpointsDefaultScansEveryInstance(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "discord-ipc-7")
	if err := os.WriteFile(sock, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	resolver := func(opts ...ipc.ResolverOption) *ipc.Resolver {
		opts = append(opts,
			ipc.WithGOOS("linux"),
			ipc.WithEnv(func(string) string { return dir }),
			ipc.WithDirExists(func(string) bool { return true }),
			ipc.WithRealpath(func(p string) (string, error) { return p, nil }),
		)
		return ipc.NewResolver(opts...)
	}

	cfg := config.Defaults()
	if cfg.Client.InstanceID != -1 {
		t.Fatalf("default instance_id = %d", cfg.Client.InstanceID)
	}
	result := checkEndpoints(resolver)(cfg)
	if result.Status != StatusPass || !strings.HasSuffix(result.Message, "discord-ipc-7") {
		t.Fatalf("expected PASS on instance 7, got %s: %s", result.Status, result.Message)
	}

	cfg.Client.InstanceID = 3
	if r := checkEndpoints(resolver)(cfg); r.Status != StatusWarn {
		t.Errorf("pinned instance 3 should not find instance 7, got %s: %s", r.Status, r.Message)
	}
}

func TestCheckTokenStore(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.Path = filepath.Join(t.TempDir(), "credentials.db")

	if r := checkTokenStore(cfg); r.Status != StatusPass {
		t.Fatalf("empty store: got %s: %s", r.Status, r.Message)
	}

	store, err := tokenstore.Open(cfg.Store.Path)
	if err != nil {
		t.Fatal(err)
	}
	err = store.Save(context.Background(), "1", domain.Credential{
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	store.Close()
	if err != nil {
		t.Fatal(err)
	}

	if r := checkTokenStore(cfg); r.Status != StatusWarn {
		t.Errorf("expired credential should warn, got %s: %s", r.Status, r.Message)
	}

	cfg.Store.Enabled = false
	if r := checkTokenStore(cfg); r.Status != StatusPass {
		t.Errorf("disabled store: got %s", r.Status)
	}
}

func TestStatusIcon(t *testing.T) {
	for s, want := range map[CheckStatus]string{StatusPass: "[PASS]", StatusWarn: "[WARN]", StatusFail: "[FAIL]", "x": "[????]"} {
		if got := statusIcon(s); got != want {
			t.Errorf("statusIcon(%q) = %q, want %q", s, got, want)
		}
	}
}
