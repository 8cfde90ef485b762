// Package control implements sidelb's liveness control plane: a Unix
// domain socket that answers a one-byte query with HEALTHY/UNHEALTHY,
// and the one-shot client used by --health-check-uds to ask it. Grounded
// on main.rs's run_uds_status_server/perform_uds_health_check call sites
// (the bodies were not present in the filtered original_source snapshot,
// so the wire contract is built from spec.md §4.8/§6) and on
// admin/server.go's accept-loop-with-backoff shape for the listener side.
package control

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sidelb/internal/logging"
	"sidelb/internal/registry"
)

// SocketPath is spec.md §6's fixed control socket location.
const SocketPath = "/run/sidelb.sock"

const (
	healthyResponse   = "HEALTHY\n"
	unhealthyResponse = "UNHEALTHY\n"
)

// acceptBackoffLimiter gates retries after a transient Accept error so a
// run of spurious errors can't spin the accept loop. One token per 100ms,
// burst of 1 — deliberately tight, since a healthy listener never needs it.
var acceptBackoffLimiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

// Server answers liveness queries over a Unix domain socket.
type Server struct {
	Registry *registry.Registry
	Path     string

	ln net.Listener
	wg sync.WaitGroup
}

// Listen binds the control socket, unlinking whatever currently occupies
// the path first — a stale socket from a previous run, or a plain regular
// file, per spec.md §4.8/§8's unlink-and-rebind boundary behavior.
func (s *Server) Listen() error {
	if s.Path == "" {
		s.Path = SocketPath
	}
	if _, err := os.Stat(s.Path); err == nil {
		_ = os.Remove(s.Path)
	}
	ln, err := net.Listen("unix", s.Path)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Serve runs the accept loop until Close is called. Call after Listen
// succeeds.
func (s *Server) Serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if !acceptBackoffLimiter.Allow() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				<-ctx.Done()
				cancel()
			}
			logging.Warnf("control: accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// Close stops accepting new connections and waits for in-flight ones to
// finish responding. The socket file is left at the path; the next Listen
// on that path removes it before binding.
func (s *Server) Close() error {
	if ul, ok := s.ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// Rebind closes the current listener and re-binds at path, starting a fresh
// Serve loop. A no-op if path is unchanged. This is how the control socket's
// location hot-reloads when an operational tunables file changes it.
func (s *Server) Rebind(path string) error {
	if path == "" || path == s.Path {
		return nil
	}
	if err := s.Close(); err != nil {
		return err
	}
	s.Path = path
	if err := s.Listen(); err != nil {
		return err
	}
	go s.Serve()
	return nil
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		return
	}

	resp := unhealthyResponse
	if s.Registry.HasHealthyBackend() {
		resp = healthyResponse
	}
	_, _ = conn.Write([]byte(resp))
}
