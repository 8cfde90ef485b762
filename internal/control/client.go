package control

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"sidelb/internal/lberr"
)

// QueryTimeout bounds the one-shot client's connect, and separately bounds
// its query write and response read together.
const QueryTimeout = 5 * time.Second

// Query dials path, sends a one-byte query, and reports whether the
// server answered HEALTHY. Used by the --health-check-uds CLI path, which
// is meant to be invoked as a container/orchestrator liveness probe rather
// than by the load balancer process itself.
func Query(path string) (bool, error) {
	if path == "" {
		path = SocketPath
	}

	conn, err := net.DialTimeout("unix", path, QueryTimeout)
	if err != nil {
		return false, lberr.New(lberr.ControlBindFailure, "control.Query: dial", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(QueryTimeout))

	if _, err := conn.Write([]byte("Q")); err != nil {
		return false, lberr.New(lberr.SendFailure, "control.Query: write", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		return false, lberr.New(lberr.RecvTimeout, "control.Query: read", err)
	}

	status := strings.TrimSpace(buf.String())
	switch status {
	case "HEALTHY":
		return true, nil
	case "UNHEALTHY":
		return false, nil
	default:
		return false, lberr.New(lberr.BadInput, "control.Query", fmt.Errorf("unrecognized response %q", status))
	}
}
