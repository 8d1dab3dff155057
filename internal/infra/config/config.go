package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"

	"discord-rpc/internal/domain"
)

// Environment variables consulted by Load.
const (
	EnvConfigPath = "DISCORDRPC_CONFIG"
	EnvConfigKey  = "DISCORDRPC_CONFIG_KEY"
)

// Config is the top-level configuration of the richpresence CLI.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Store     StoreConfig     `yaml:"store"`
	Presence  PresenceConfig  `yaml:"presence"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// ClientConfig selects the application and how to reach the desktop client.
type ClientConfig struct {
	ID             string        `yaml:"id"`
	Transport      string        `yaml:"transport"`   // "auto", "ipc" or "websocket"
	InstanceID     int           `yaml:"instance_id"` // -1 probes ids 0..9
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Origin         string        `yaml:"origin,omitempty"`
	Debug          bool          `yaml:"debug"`
}

// OAuthConfig holds token endpoint settings. ClientSecret may be "enc:"-prefixed.
type OAuthConfig struct {
	ClientSecret  string        `yaml:"client_secret"`
	RedirectURI   string        `yaml:"redirect_uri"`
	Scopes        []string      `yaml:"scopes"`
	Prompt        string        `yaml:"prompt,omitempty"`
	UseRPCToken   bool          `yaml:"use_rpc_token"`
	APIBase       string        `yaml:"api_base"`
	RefreshMargin time.Duration `yaml:"refresh_margin"`
	ExpiresUnit   string        `yaml:"expires_unit"` // "s" or "ms"
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker settings for the token endpoint.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds outbound commands.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// StoreConfig holds credential store settings.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PresenceConfig is the activity the run command publishes.
type PresenceConfig struct {
	domain.Activity `yaml:",inline"`
	// StartNow stamps StartTimestamp with the time the presence is set.
	StartNow bool `yaml:"start_now"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// ExpiresUnitDuration converts OAuth.ExpiresUnit to a duration.
func (c OAuthConfig) ExpiresUnitDuration() time.Duration {
	if c.ExpiresUnit == "ms" {
		return time.Millisecond
	}
	return time.Second
}

// DefaultDir returns $HOME/.config/discord-rpc, or "." when $HOME is unknown.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "discord-rpc")
}

// DefaultPath returns the config path, honouring DISCORDRPC_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			Transport:      "auto",
			InstanceID:     -1,
			ConnectTimeout: 10 * time.Second,
		},
		OAuth: OAuthConfig{
			Scopes:        []string{"rpc", "identify"},
			Prompt:        "consent",
			APIBase:       "https://discord.com/api",
			RefreshMargin: 5 * time.Second,
			ExpiresUnit:   "s",
			Breaker: BreakerConfig{
				MaxFailures: 3,
				Timeout:     30 * time.Second,
			},
		},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 5},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(DefaultDir(), "credentials.db"),
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{Exporter: "noop"},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "parse: "+err.Error())
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// The main file is applied last so it wins over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "parse: "+err.Error())
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvConfigKey); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps DISCORDRPC_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCORDRPC_CLIENT_ID"); v != "" {
		cfg.Client.ID = v
	}
	if v := os.Getenv("DISCORDRPC_TRANSPORT"); v != "" {
		cfg.Client.Transport = v
	}
	if v := os.Getenv("DISCORDRPC_INSTANCE_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.InstanceID = n
		}
	}
	if v := os.Getenv("DISCORDRPC_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Client.ConnectTimeout = d
		}
	}
	if v := os.Getenv("DISCORDRPC_DEBUG"); v == "true" || v == "1" {
		cfg.Client.Debug = true
	}
	if v := os.Getenv("DISCORDRPC_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("DISCORDRPC_REDIRECT_URI"); v != "" {
		cfg.OAuth.RedirectURI = v
	}
	if v := os.Getenv("DISCORDRPC_SCOPES"); v != "" {
		cfg.OAuth.Scopes = splitAndTrim(v, ",")
	}
	if v := os.Getenv("DISCORDRPC_API_BASE"); v != "" {
		cfg.OAuth.APIBase = v
	}
	if v := os.Getenv("DISCORDRPC_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DISCORDRPC_STORE_ENABLED"); v == "false" {
		cfg.Store.Enabled = false
	}
	if v := os.Getenv("DISCORDRPC_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DISCORDRPC_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("DISCORDRPC_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DISCORDRPC_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets replaces "enc:..." values in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := map[string]*string{
		"oauth.client_secret":      &cfg.OAuth.ClientSecret,
		"presence.join_secret":     &cfg.Presence.JoinSecret,
		"presence.match_secret":    &cfg.Presence.MatchSecret,
		"presence.spectate_secret": &cfg.Presence.SpectateSecret,
	}
	for name, fp := range secrets {
		if !strings.HasPrefix(*fp, "enc:") {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(*fp, "enc:"), passphrase)
		if err != nil {
			return domain.NewDomainError("config.decryptSecrets", err, name)
		}
		*fp = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext), without the "enc:" prefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue reverses EncryptValue. Every failure wraps domain.ErrDecryption.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("%w: invalid encrypted format", domain.ErrDecryption)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode salt: %v", domain.ErrDecryption, err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	// Argon2id, 1 pass, 64 MiB, 4 lanes.
	key := argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return domain.NewDomainError("config.validatePermissions", domain.ErrConfigLoad, err.Error())
	}
	if mode := info.Mode().Perm(); mode&0o022 != 0 {
		return domain.NewDomainError("config.validatePermissions", domain.ErrConfigLoad,
			fmt.Sprintf("%s has insecure permissions %o (want 0600 or 0644)", path, mode))
	}
	return nil
}
