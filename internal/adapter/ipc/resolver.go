package ipc

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"

	"discord-rpc/internal/domain"
)

// Endpoint discovery defaults.
const (
	DefaultInstanceCount = 10
	DefaultWebSocketPort = 6463
	fallbackPrefix       = "/tmp"
)

// prefixEnvVars are consulted in order for the Unix socket directory.
var prefixEnvVars = []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"}

// PathTemplate builds one family of candidate socket paths.
type PathTemplate struct {
	Name     string
	Platform domain.Platform
	// Build returns the socket path for instance id under prefix.
	Build func(prefix string, id int) string
	// SkipExistenceCheck disables the parent directory probe, for addresses
	// that do not live on a filesystem.
	SkipExistenceCheck bool
}

// DefaultPathTemplates lists the locations Discord desktop builds listen on,
// in priority order.
func DefaultPathTemplates() []PathTemplate {
	return []PathTemplate{
		{
			Name:     "windows",
			Platform: domain.PlatformWindows,
			Build: func(_ string, id int) string {
				return fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, id)
			},
			SkipExistenceCheck: true,
		},
		{
			Name:     "unix",
			Platform: domain.PlatformUnix,
			Build: func(prefix string, id int) string {
				return filepath.Join(prefix, fmt.Sprintf("discord-ipc-%d", id))
			},
		},
		{
			Name:     "snap",
			Platform: domain.PlatformUnix,
			Build: func(prefix string, id int) string {
				return filepath.Join(prefix, "snap.discord", fmt.Sprintf("discord-ipc-%d", id))
			},
		},
		{
			Name:     "flatpak",
			Platform: domain.PlatformUnix,
			Build: func(prefix string, id int) string {
				return filepath.Join(prefix, "app", "com.discordapp.Discord", fmt.Sprintf("discord-ipc-%d", id))
			},
		},
	}
}

// Resolver produces the ordered endpoint candidates for this machine.
type Resolver struct {
	goos       string
	getenv     func(string) string
	dirExists  func(string) bool
	realpath   func(string) (string, error)
	templates  []PathTemplate
	instanceID *int
	count      int
	wsHost     string
	wsBasePort int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithInstanceID restricts discovery to a single instance id. A negative id
// keeps the full 0..9 scan.
func WithInstanceID(id int) ResolverOption {
	return func(r *Resolver) {
		if id < 0 {
			r.instanceID = nil
			return
		}
		r.instanceID = &id
	}
}

// WithPathTemplates replaces the default path list.
func WithPathTemplates(templates ...PathTemplate) ResolverOption {
	return func(r *Resolver) { r.templates = templates }
}

// WithGOOS overrides the detected operating system.
func WithGOOS(goos string) ResolverOption {
	return func(r *Resolver) { r.goos = goos }
}

// WithEnv overrides environment lookup.
func WithEnv(getenv func(string) string) ResolverOption {
	return func(r *Resolver) { r.getenv = getenv }
}

// WithDirExists overrides the directory probe.
func WithDirExists(fn func(string) bool) ResolverOption {
	return func(r *Resolver) { r.dirExists = fn }
}

// WithRealpath overrides symlink resolution of the socket prefix.
func WithRealpath(fn func(string) (string, error)) ResolverOption {
	return func(r *Resolver) { r.realpath = fn }
}

// WithWebSocketBase overrides the loopback host and first probed port.
func WithWebSocketBase(host string, port int) ResolverOption {
	return func(r *Resolver) {
		r.wsHost = host
		r.wsBasePort = port
	}
}

// NewResolver creates a Resolver for the running OS.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		goos:       runtime.GOOS,
		getenv:     os.Getenv,
		dirExists:  dirExists,
		realpath:   filepath.EvalSymlinks,
		templates:  DefaultPathTemplates(),
		count:      DefaultInstanceCount,
		wsHost:     "127.0.0.1",
		wsBasePort: DefaultWebSocketPort,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) ids() []int {
	if r.instanceID != nil {
		return []int{*r.instanceID}
	}
	ids := make([]int, r.count)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// Prefix returns the directory Unix sockets are looked up under.
func (r *Resolver) Prefix() string {
	prefix := fallbackPrefix
	for _, key := range prefixEnvVars {
		if v := r.getenv(key); v != "" {
			prefix = v
			break
		}
	}
	if resolved, err := r.realpath(prefix); err == nil && resolved != "" {
		prefix = resolved
	}
	return prefix
}

func (r *Resolver) applies(p domain.Platform) bool {
	switch p {
	case domain.PlatformWindows:
		return r.goos == "windows"
	case domain.PlatformUnix:
		return r.goos != "windows"
	default:
		return true
	}
}

// Candidates lists socket endpoints in priority order, template first and
// instance id second. Templates whose directory is missing are skipped.
func (r *Resolver) Candidates() []domain.Endpoint {
	ids := r.ids()
	var prefix string
	if r.goos != "windows" {
		prefix = r.Prefix()
	}

	var out []domain.Endpoint
	for _, tmpl := range r.templates {
		if !r.applies(tmpl.Platform) {
			continue
		}
		for _, id := range ids {
			path := tmpl.Build(prefix, id)
			if path == "" {
				continue
			}
			if !tmpl.SkipExistenceCheck && !r.dirExists(filepath.Dir(path)) {
				continue
			}
			out = append(out, domain.Endpoint{
				Address:            path,
				Platform:           tmpl.Platform,
				SkipExistenceCheck: tmpl.SkipExistenceCheck,
			})
		}
	}
	return out
}

// WebSocketURLs lists the loopback RPC URLs to probe for clientID.
func (r *Resolver) WebSocketURLs(clientID string) []domain.Endpoint {
	out := make([]domain.Endpoint, 0, r.count)
	for _, id := range r.ids() {
		out = append(out, domain.Endpoint{
			Address: fmt.Sprintf("ws://%s:%d/?v=%d&client_id=%s&encoding=json",
				r.wsHost, r.wsBasePort+id, domain.ProtocolVersion, url.QueryEscape(clientID)),
			Platform:           domain.PlatformLoopback,
			SkipExistenceCheck: true,
		})
	}
	return out
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
