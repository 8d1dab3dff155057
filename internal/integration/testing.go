package integration

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"discord-rpc/internal/adapter/ipc"
	"discord-rpc/internal/adapter/wire"
	"discord-rpc/internal/domain"
)

// Responder builds the reply for one command. A non-nil *domain.ErrorData
// is sent as an ERROR event instead of data.
type Responder func(cmd domain.OutgoingCommand) (any, *domain.ErrorData)

// Server is a stand-in for the Discord desktop client listening on a local
// socket. It answers the handshake with READY and every command with the
// matching Responder, echoing the nonce.
type Server struct {
	t   *testing.T
	Dir string
	ln  net.Listener

	mu         sync.Mutex
	conn       net.Conn
	responders map[domain.Command]Responder
	received   []domain.OutgoingCommand
	handshakes []domain.Handshake
	ready      domain.ReadyData
}

// NewServer listens on <tmp>/discord-ipc-0. Socket paths have a short
// length limit so the directory is created under the system temp root.
func NewServer(t *testing.T) *Server {
	t.Helper()
	SkipIfShort(t)
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets only")
	}

	dir, err := os.MkdirTemp("", "drpc")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	ln, err := net.Listen("unix", filepath.Join(dir, "discord-ipc-0"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		t:          t,
		Dir:        dir,
		ln:         ln,
		responders: make(map[domain.Command]Responder),
		ready: domain.ReadyData{
			V: domain.ProtocolVersion,
			Config: domain.ServerConfig{
				CDNHost:     "cdn.discordapp.com",
				APIEndpoint: "//discord.com/api",
				Environment: "production",
			},
		},
	}
	t.Cleanup(s.Close)
	go s.acceptLoop()
	return s
}

// Resolver points socket discovery at the server directory only.
func (s *Server) Resolver() *ipc.Resolver {
	return ipc.NewResolver(
		ipc.WithGOOS("linux"),
		ipc.WithInstanceID(0),
		ipc.WithEnv(func(key string) string {
			if key == "XDG_RUNTIME_DIR" {
				return s.Dir
			}
			return ""
		}),
	)
}

// Transport returns an IPC transport bound to the server.
func (s *Server) Transport(clientID string) *ipc.Transport {
	return ipc.New(clientID, ipc.WithResolver(s.Resolver()), ipc.WithDialTimeout(time.Second))
}

// Handle installs the responder for cmd.
func (s *Server) Handle(cmd domain.Command, r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[cmd] = r
}

// SetReady replaces the READY payload sent after the handshake.
func (s *Server) SetReady(data domain.ReadyData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = data
}

// Received returns every command read so far.
func (s *Server) Received() []domain.OutgoingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutgoingCommand(nil), s.received...)
}

// Handshakes returns every handshake read so far.
func (s *Server) Handshakes() []domain.Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Handshake(nil), s.handshakes...)
}

// Dispatch pushes an unsolicited event to the connected client.
func (s *Server) Dispatch(evt domain.EventName, data any) {
	s.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		s.t.Fatalf("marshal dispatch: %v", err)
	}
	s.send(domain.IncomingCommand{Cmd: domain.CmdDispatch, Evt: evt, Data: raw})
}

// Hangup drops the current connection without a CLOSE frame, the way the
// desktop client does when it quits.
func (s *Server) Hangup() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close stops listening and drops the current connection.
func (s *Server) Close() {
	s.ln.Close()
	s.Hangup()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	dec := wire.NewDecoder(wire.DefaultMaxFrameSize)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				frame, ok, derr := dec.Next()
				if derr != nil {
					s.t.Errorf("server decode: %v", derr)
					return
				}
				if !ok {
					break
				}
				s.handleFrame(conn, frame)
			}
		}
		if err != nil {
			// EOF or a closed conn once the client or Hangup ends the session.
			return
		}
	}
}

func (s *Server) handleFrame(conn net.Conn, frame wire.Frame) {
	switch frame.Op {
	case domain.OpHandshake:
		var hs domain.Handshake
		if err := json.Unmarshal(frame.Payload, &hs); err != nil {
			s.t.Errorf("server handshake: %v", err)
			return
		}
		s.mu.Lock()
		s.handshakes = append(s.handshakes, hs)
		ready := s.ready
		s.mu.Unlock()

		raw, _ := json.Marshal(ready)
		s.write(conn, domain.IncomingCommand{Cmd: domain.CmdDispatch, Evt: domain.EvtReady, Data: raw})
	case domain.OpFrame:
		var cmd domain.OutgoingCommand
		if err := json.Unmarshal(frame.Payload, &cmd); err != nil {
			s.t.Errorf("server command: %v", err)
			return
		}
		s.mu.Lock()
		s.received = append(s.received, cmd)
		respond := s.responders[cmd.Cmd]
		s.mu.Unlock()

		reply := domain.IncomingCommand{Cmd: cmd.Cmd, Evt: cmd.Evt, Nonce: cmd.Nonce, Args: cmd.Args}
		var data any = map[string]any{}
		if respond != nil {
			var rpcErr *domain.ErrorData
			data, rpcErr = respond(cmd)
			if rpcErr != nil {
				reply.Evt = domain.EvtError
				data = rpcErr
			}
		}
		reply.Data, _ = json.Marshal(data)
		s.write(conn, reply)
	case domain.OpPing:
		if _, err := conn.Write(wire.EncodeFrame(domain.OpPong, frame.Payload)); err != nil {
			s.t.Logf("server pong: %v", err)
		}
	}
}

func (s *Server) send(msg domain.IncomingCommand) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		s.t.Errorf("server: no client connected")
		return
	}
	s.write(conn, msg)
}

func (s *Server) write(conn net.Conn, msg domain.IncomingCommand) {
	b, err := wire.EncodeJSONFrame(domain.OpFrame, msg)
	if err != nil {
		s.t.Errorf("server encode: %v", err)
		return
	}
	if _, err := conn.Write(b); err != nil {
		s.t.Logf("server write: %v", err)
	}
}

// SkipIfShort skips integration tests in short mode
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// Eventually polls cond until it holds or the deadline passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
