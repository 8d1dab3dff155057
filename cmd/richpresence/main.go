package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/config"
	"discord-rpc/pkg/discordrpc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "run":
		err = runPresence()
	case "status":
		err = runStatus()
	case "endpoints":
		err = runEndpoints()
	case "logout":
		err = runLogout()
	case "encrypt":
		err = runEncrypt()
	case "doctor":
		err = runDoctor()
	case "version", "--version":
		fmt.Println("richpresence", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'richpresence --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v (%s)\n", os.Args[1], err, domain.ErrorCodeOf(err))
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`richpresence - Discord Rich Presence over the local RPC socket

USAGE:
    richpresence COMMAND [FLAGS]

COMMANDS:
    run         Connect, log in if configured, set the presence and hold it
                until interrupted
    status      Connect and print the READY user and CDN host
    endpoints   List the socket and WebSocket endpoints that would be tried
    logout      Delete the stored OAuth2 credential
    encrypt     Encrypt a secret for the config (reads DISCORDRPC_CONFIG_KEY)
    doctor      Run health checks on config, endpoints and the token store
    version     Print the version

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file (default: $XDG_CONFIG_HOME/discord-rpc/config.yaml)
    --client-id ID     Application id, overrides client.id
    --login            Run the OAuth2 login flow in 'run'

CONFIGURATION:
    Environment: DISCORDRPC_* variables override config

EXAMPLES:
    richpresence run --client-id 123456789012345678
    DISCORDRPC_CONFIG_KEY=pass richpresence encrypt my-client-secret
    richpresence doctor`)
}

// flagValue returns the value of --name or --name=value from args.
func flagValue(args []string, name string) (string, bool) {
	for i, arg := range args {
		if arg == name && i+1 < len(args) {
			return args[i+1], true
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"="), true
		}
	}
	return "", false
}

func hasFlag(args []string, name string) bool {
	for _, arg := range args {
		if arg == name {
			return true
		}
	}
	return false
}

func configPath() string {
	if p, ok := flagValue(os.Args, "--config"); ok {
		return p
	}
	return config.DefaultPath()
}

// loadConfig loads the config and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if id, ok := flagValue(os.Args, "--client-id"); ok {
		cfg.Client.ID = id
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func requireClientID(cfg *config.Config) error {
	if cfg.Client.ID == "" {
		return domain.NewDomainError("richpresence", domain.ErrInvalidInput,
			"client id required: set client.id, DISCORDRPC_CLIENT_ID or --client-id")
	}
	return nil
}

func runPresence() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireClientID(cfg); err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := a.Connect(ctx)
	if err != nil {
		return err
	}
	defer client.Destroy(context.Background())

	client.On(discordrpc.EventDisconnected, func(_ context.Context, ev discordrpc.Event) {
		a.logger.Warn("discord closed the connection", "reason", ev.Message)
		cancel()
	})
	client.On(discordrpc.EventDebug, func(_ context.Context, ev discordrpc.Event) {
		a.logger.Debug("rpc debug", "message", ev.Message)
	})

	if hasFlag(os.Args, "--login") {
		if err := client.Login(ctx, loginOptions(cfg)); err != nil {
			return err
		}
		if u := client.User(); u != nil {
			a.logger.Info("logged in", "user", u.Username)
		}
	}

	activity := presenceActivity(cfg.Presence, time.Now())
	if _, err := client.SetActivity(ctx, os.Getpid(), activity); err != nil {
		return err
	}
	a.logger.Info("presence set", "details", activity.Details, "state", activity.State)

	<-ctx.Done()

	clearCtx, clearCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer clearCancel()
	if client.State() == discordrpc.StateConnected {
		if _, err := client.ClearActivity(clearCtx, os.Getpid()); err != nil {
			a.logger.Warn("clear presence failed", "error", err)
		}
	}
	return nil
}

func loginOptions(cfg *config.Config) discordrpc.LoginOptions {
	return discordrpc.LoginOptions{
		Scopes:      cfg.OAuth.Scopes,
		RedirectURI: cfg.OAuth.RedirectURI,
		Prompt:      cfg.OAuth.Prompt,
		UseRPCToken: cfg.OAuth.UseRPCToken,
	}
}

// presenceActivity returns the configured activity, stamping the start
// time when requested.
func presenceActivity(p config.PresenceConfig, now time.Time) discordrpc.Activity {
	activity := p.Activity
	if p.StartNow && activity.StartTimestamp.IsZero() {
		activity.StartTimestamp = now
	}
	return activity
}

func runStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireClientID(cfg); err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Client.ConnectTimeout+time.Second)
	defer cancel()

	client, err := a.Connect(ctx)
	if err != nil {
		return err
	}
	defer client.Destroy(context.Background())

	fmt.Printf("transport:  %s\n", client.TransportName())
	fmt.Printf("state:      %s\n", client.State())
	if u := client.User(); u != nil {
		fmt.Printf("user:       %s (%s)\n", u.Username, u.ID)
	}
	fmt.Printf("cdn host:   %s\n", client.CDNHost())
	fmt.Printf("api:        %s\n", client.APIEndpoint())
	if cred, ok := client.Credential(); ok {
		fmt.Printf("token:      expires %s\n", cred.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runEndpoints() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	r := ipc.NewResolver(ipc.WithInstanceID(cfg.Client.InstanceID))

	fmt.Printf("prefix: %s\n", r.Prefix())
	for _, ep := range r.Candidates() {
		fmt.Printf("  %-9s %s\n", ep.Platform, ep.Address)
	}
	for _, ep := range r.WebSocketURLs(cfg.Client.ID) {
		fmt.Printf("  %-9s %s\n", ep.Platform, ep.Address)
	}
	return nil
}

func runLogout() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireClientID(cfg); err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return domain.NewDomainError("logout", domain.ErrInvalidInput, "credential store is disabled")
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.store.Delete(context.Background(), cfg.Client.ID)
	if errors.Is(err, domain.ErrCredentialNotFound) {
		fmt.Println("no stored credential")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println("credential deleted")
	return nil
}

func runEncrypt() error {
	if len(os.Args) < 3 {
		return domain.NewDomainError("encrypt", domain.ErrInvalidInput, "usage: richpresence encrypt VALUE")
	}
	key := os.Getenv(config.EnvConfigKey)
	if key == "" {
		return domain.NewDomainError("encrypt", domain.ErrInvalidInput, config.EnvConfigKey+" is not set")
	}
	enc, err := config.EncryptValue(os.Args[2], key)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
