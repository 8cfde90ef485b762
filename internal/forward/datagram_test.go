package forward_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidelb/internal/forward"
	"sidelb/internal/registry"
	"sidelb/internal/selector"
)

func echoPacketConn(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			conn.WriteTo(buf[:n], addr)
		}
	}()
	return conn
}

func TestDatagramForwarder_RoundTripsEcho(t *testing.T) {
	backend := echoPacketConn(t)
	defer backend.Close()

	proto := registry.Datagram
	reg := registry.New()
	reg.AddStatic([]registry.StaticGroup{
		{Label: "g1", Endpoints: []registry.Endpoint{{Addr: backend.LocalAddr().String(), Proto: &proto}}},
	})
	picker, err := selector.New(registry.RoundRobin)
	require.NoError(t, err)

	front, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer front.Close()

	f := &forward.DatagramForwarder{Registry: reg, Picker: picker}
	go f.Serve(front)

	client, err := net.Dial("udp", front.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestDatagramForwarder_SilentBackendTimesOutSilently(t *testing.T) {
	backend, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backend.Close()
	// backend never replies

	proto := registry.Datagram
	reg := registry.New()
	reg.AddStatic([]registry.StaticGroup{
		{Label: "g1", Endpoints: []registry.Endpoint{{Addr: backend.LocalAddr().String(), Proto: &proto}}},
	})
	picker, err := selector.New(registry.RoundRobin)
	require.NoError(t, err)

	front, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer front.Close()

	f := &forward.DatagramForwarder{Registry: reg, Picker: picker}
	go f.Serve(front)

	client, err := net.Dial("udp", front.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 2048)
	_, err = client.Read(buf)
	assert.Error(t, err)
}

func TestDatagramForwarder_SetRecvTimeoutShortensWait(t *testing.T) {
	backend, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backend.Close()
	// backend never replies

	proto := registry.Datagram
	reg := registry.New()
	reg.AddStatic([]registry.StaticGroup{
		{Label: "g1", Endpoints: []registry.Endpoint{{Addr: backend.LocalAddr().String(), Proto: &proto}}},
	})
	picker, err := selector.New(registry.RoundRobin)
	require.NoError(t, err)

	front, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer front.Close()

	f := &forward.DatagramForwarder{Registry: reg, Picker: picker}
	f.SetRecvTimeout(50 * time.Millisecond)
	go f.Serve(front)

	client, err := net.Dial("udp", front.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	start := time.Now()
	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	_, err = client.Read(buf)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), forward.RecvTimeout, "should not have waited the unconfigured default")
}

func TestDatagramForwarder_NoBackendDropsPacket(t *testing.T) {
	reg := registry.New()
	picker, err := selector.New(registry.RoundRobin)
	require.NoError(t, err)

	front, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer front.Close()

	f := &forward.DatagramForwarder{Registry: reg, Picker: picker}
	go f.Serve(front)

	client, err := net.Dial("udp", front.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 2048)
	_, err = client.Read(buf)
	assert.Error(t, err)
}
