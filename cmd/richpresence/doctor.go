package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/adapter/tokenstore"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Some checks work without a loaded config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Client id", Fn: checkClientID},
		{Name: "OAuth2", Fn: checkOAuth},
		{Name: "Endpoints", Fn: checkEndpoints(ipc.NewResolver)},
		{Name: "Token store", Fn: checkTokenStore},
	}

	fmt.Println("richpresence doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Fix the reported fields in " + cfgPath,
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using defaults", cfgPath),
				Fix:     "Create " + cfgPath + " or set DISCORDRPC_* variables",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkClientID(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.Client.ID == "" {
		return CheckResult{
			Status:  StatusFail,
			Message: "client.id is not set",
			Fix:     "Set client.id to your application id from the Discord developer portal",
		}
	}
	return CheckResult{Status: StatusPass, Message: "application " + cfg.Client.ID}
}

func checkOAuth(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if cfg.OAuth.ClientSecret == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no client secret, login is unavailable (presence still works)",
			Fix:     "Set oauth.client_secret, ideally encrypted with 'richpresence encrypt'",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("client secret set, scopes %s", strings.Join(cfg.OAuth.Scopes, " ")),
	}
}

// checkEndpoints reports which resolver candidates exist on disk. Named
// pipes cannot be stat'ed and are listed without checking.
func checkEndpoints(newResolver func(...ipc.ResolverOption) *ipc.Resolver) func(*config.Config) CheckResult {
	return func(cfg *config.Config) CheckResult {
		instance := -1
		if cfg != nil {
			instance = cfg.Client.InstanceID
		}
		candidates := newResolver(ipc.WithInstanceID(instance)).Candidates()
		if len(candidates) == 0 {
			return CheckResult{
				Status:  StatusWarn,
				Message: "no socket directory found, only the WebSocket transport can connect",
				Fix:     "Start the Discord desktop client",
			}
		}

		var found []string
		for _, ep := range candidates {
			if ep.Platform == domain.PlatformWindows {
				continue
			}
			if _, err := os.Stat(ep.Address); err == nil {
				found = append(found, ep.Address)
			}
		}
		if len(found) == 0 {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%d candidate(s), none present", len(candidates)),
				Fix:     "Start the Discord desktop client, or check 'richpresence endpoints'",
			}
		}
		return CheckResult{Status: StatusPass, Message: "socket at " + found[0]}
	}
}

func checkTokenStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
	}
	if !cfg.Store.Enabled {
		return CheckResult{Status: StatusPass, Message: "credential store disabled"}
	}

	store, err := tokenstore.Open(cfg.Store.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Store.Path, err),
			Fix:     "Check store.path and its directory permissions",
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("store unreachable: %v", err)}
	}
	entries, err := store.List(ctx)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("list credentials: %v", err)}
	}

	expired := 0
	for _, e := range entries {
		if !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(time.Now()) {
			expired++
		}
	}
	msg := fmt.Sprintf("%d stored credential(s) at %s", len(entries), cfg.Store.Path)
	if expired > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s, %d expired", msg, expired),
			Fix:     "Expired tokens are refreshed on the next 'run --login'",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}
