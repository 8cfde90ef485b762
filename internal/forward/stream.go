// Package forward implements sidelb's per-flow forwarding state machines:
// a stream (TCP) forwarder and a datagram (UDP) forwarder, both built on
// top of a selector.Picker and a registry.Registry. Grounded on
// handlers.rs's handle_tcp/handle_udp for control flow and proxy.go's
// goroutine-per-direction copy pattern for the stream case.
package forward

import (
	"io"
	"net"
	"sync"
	"time"

	"sidelb/internal/logging"
	"sidelb/internal/registry"
	"sidelb/internal/selector"
)

// DialTimeout bounds a stream forwarder's outbound dial — left
// implementation-chosen by spec.md §4.6.
const DialTimeout = 5 * time.Second

// StreamForwarder accepts inbound TCP connections and forwards each to a
// backend chosen by Picker.
type StreamForwarder struct {
	Registry *registry.Registry
	Picker   selector.Picker
}

// Serve accepts connections from ln until it is closed, spawning one
// goroutine per connection. It returns when ln.Accept returns a permanent
// error (typically because ln was closed by the caller during shutdown).
func (f *StreamForwarder) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go f.handle(conn)
	}
}

func (f *StreamForwarder) handle(inbound net.Conn) {
	defer inbound.Close()
	client := inbound.RemoteAddr().String()

	b, err := f.Picker.Next(f.Registry)
	if err != nil {
		logging.Warnf("stream: no backend available for client %s, dropping", client)
		return
	}
	if b.Proto != registry.Stream {
		logging.Warnf("stream: protocol mismatch for client %s: backend %s expects %s", client, b.Addr, b.Proto)
		return
	}

	f.Registry.IncrementConn(b.Addr)
	defer f.Registry.DecrementConn(b.Addr)

	outbound, err := net.DialTimeout("tcp", b.Addr, DialTimeout)
	if err != nil {
		logging.Errorf("stream: dial %s failed for client %s: %v", b.Addr, client, err)
		return
	}
	defer outbound.Close()

	logging.Infof("stream: %s -> %s established", client, b.Addr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		copyHalf(outbound, inbound, client, b.Addr, "client->backend")
	}()
	go func() {
		defer wg.Done()
		copyHalf(inbound, outbound, client, b.Addr, "backend->client")
	}()
	wg.Wait()

	logging.Infof("stream: %s <-> %s closed", client, b.Addr)
}

// copyHalf copies dst<-src until EOF or error, then half-closes dst's write
// side so the peer waiting on the other direction observes EOF too — without
// this, the other copyHalf goroutine would block forever on a connection
// whose writer finished but never signaled it. Logs a CopyFailure on error.
func copyHalf(dst net.Conn, src net.Conn, client, backend, dir string) {
	n, err := io.Copy(dst, src)
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	if err != nil {
		logging.Warnf("stream: %s %s<->%s copy error after %d bytes: %v", dir, client, backend, n, err)
		return
	}
	logging.Infof("stream: %s %s<->%s forwarded %d bytes", dir, client, backend, n)
}
