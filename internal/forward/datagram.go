package forward

import (
	"net"
	"sync/atomic"
	"time"

	"sidelb/internal/logging"
	"sidelb/internal/registry"
	"sidelb/internal/selector"
)

// RecvTimeout is the default bound on the datagram forwarder's wait for a
// backend's response, per spec.md §4.7, used when no tunable override has
// been set via SetRecvTimeout.
const RecvTimeout = 5 * time.Second

const datagramBufSize = 2048

// DatagramForwarder owns one bound UDP socket and forwards each received
// packet to a backend chosen by Picker, in a naive one-request/one-response
// model: it does not flow-track the client, fan out, or preserve order
// across packets. It is single-receiver — the next packet is not read
// until the current one's handling (including the bounded wait for a
// response) completes, per spec.md §4.7's "packet throughput is bounded by
// the cost of one select + two socket operations" note.
type DatagramForwarder struct {
	Registry *registry.Registry
	Picker   selector.Picker

	// recvTimeout overrides RecvTimeout when set via SetRecvTimeout. Stored
	// as nanoseconds so the hot-reload path can update it without taking a
	// lock the per-packet handle path would otherwise have to contend on.
	recvTimeout atomic.Int64
}

// SetRecvTimeout overrides the bound on a backend's response wait — the
// mechanism the datagram_recv_timeout operational tunable hot-reloads
// through.
func (f *DatagramForwarder) SetRecvTimeout(d time.Duration) {
	f.recvTimeout.Store(int64(d))
}

func (f *DatagramForwarder) recvTimeoutOrDefault() time.Duration {
	if d := f.recvTimeout.Load(); d > 0 {
		return time.Duration(d)
	}
	return RecvTimeout
}

// Serve loops receiving packets from conn until it returns a permanent
// error (typically because conn was closed by the caller during shutdown).
func (f *DatagramForwarder) Serve(conn net.PacketConn) error {
	buf := make([]byte, datagramBufSize)
	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		f.handle(conn, src, append([]byte(nil), buf[:n]...))
	}
}

func (f *DatagramForwarder) handle(conn net.PacketConn, src net.Addr, payload []byte) {
	b, err := f.Picker.Next(f.Registry)
	if err != nil {
		logging.Warnf("datagram: no backend available for client %s, dropping packet", src)
		return
	}
	if b.Proto != registry.Datagram {
		logging.Warnf("datagram: protocol mismatch for client %s: backend %s expects %s", src, b.Addr, b.Proto)
		return
	}

	f.Registry.IncrementConn(b.Addr)
	defer f.Registry.DecrementConn(b.Addr)

	outbound, err := net.Dial("udp", b.Addr)
	if err != nil {
		logging.Errorf("datagram: failed to bind outbound socket for client %s: %v", src, err)
		return
	}
	defer outbound.Close()

	if _, err := outbound.Write(payload); err != nil {
		logging.Errorf("datagram: send to backend %s failed for client %s: %v", b.Addr, src, err)
		return
	}

	timeout := f.recvTimeoutOrDefault()
	respBuf := make([]byte, datagramBufSize)
	_ = outbound.SetReadDeadline(time.Now().Add(timeout))
	n, err := outbound.Read(respBuf)
	if err != nil {
		logging.Warnf("datagram: no response from backend %s for client %s within %s: %v", b.Addr, src, timeout, err)
		return
	}

	if _, err := conn.WriteTo(respBuf[:n], src); err != nil {
		logging.Errorf("datagram: failed to forward response to client %s: %v", src, err)
	}
}
