// Command sidelb is an L4 load balancer: it forwards TCP or UDP traffic to
// one or more backend groups chosen by a pluggable selection policy, with
// active health checking, one dynamically-resolved backend group, and a
// Unix-domain-socket liveness endpoint.
//
// Usage:
//
//	sidelb bind_addr:port [backends=host:port,...] [ring_domain=host:port] [mode=round-robin|least-connections] [proto=tcp|udp]
//	sidelb -h | --help
//	sidelb --health-check-uds
//
// Shutdown is process-level only: SIGINT/SIGTERM stop the health checker,
// the dynamic updater and the control socket, close the listeners, and the
// process exits. In-flight stream/datagram flows are not drained.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"sidelb/internal/config"
	"sidelb/internal/control"
	"sidelb/internal/dynamic"
	"sidelb/internal/forward"
	"sidelb/internal/health"
	"sidelb/internal/lberr"
	"sidelb/internal/logging"
	"sidelb/internal/registry"
	"sidelb/internal/selector"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, err := config.ParseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if args.Help {
		fmt.Print(config.Usage)
		return 0
	}
	if args.HealthCheckUDS {
		return runHealthCheckUDS()
	}

	tunablesPath := defaultTunablesPath
	if p := os.Getenv("SIDELB_TUNABLES_PATH"); p != "" {
		tunablesPath = p
	}
	tunables, tv, err := config.LoadTunables(tunablesPath)
	if err != nil {
		logging.Errorf("startup: %v", err)
		return 1
	}

	reg := registry.New()
	reg.AddStatic(args.StaticGroups)

	picker, err := selector.New(args.Mode)
	if err != nil {
		logging.Errorf("startup: %v", err)
		return 1
	}

	var upd *dynamic.Updater
	if args.RingDomain != "" {
		upd = &dynamic.Updater{
			Registry: reg,
			Label:    args.RingDomain,
			Proto:    args.Proto,
			Interval: tunables.DynamicInterval,
		}
		upd.Start()
		defer upd.Stop()
	}

	mon := health.New(reg, health.Config{
		Interval:     tunables.HealthCheckInterval,
		ProbeTimeout: tunables.HealthProbeTimeout,
	})
	mon.Start()
	defer mon.Stop()

	ctrl := &control.Server{Registry: reg, Path: tunables.ControlSocketPath}
	if err := ctrl.Listen(); err != nil {
		logging.Errorf("control: %v", lberr.New(lberr.ControlBindFailure, "main", err))
	} else {
		go ctrl.Serve()
		defer ctrl.Close()
	}

	closeListener, datagramForwarder, err := startDataPlane(reg, picker, args, tunables)
	if err != nil {
		logging.Errorf("startup: %v", err)
		return 1
	}
	defer closeListener()

	config.WatchTunables(tv, func(t config.Tunables) {
		mon.SetConfig(health.Config{Interval: t.HealthCheckInterval, ProbeTimeout: t.HealthProbeTimeout})
		if upd != nil {
			upd.SetInterval(t.DynamicInterval)
		}
		if datagramForwarder != nil {
			datagramForwarder.SetRecvTimeout(t.DatagramRecvTimeout)
		}
		if err := ctrl.Rebind(t.ControlSocketPath); err != nil {
			logging.Errorf("control: rebind to %q failed: %v", t.ControlSocketPath, err)
		}
	})

	logging.Infof("sidelb: listening on %s (proto=%s mode=%v)", args.BindAddr, args.Proto, args.Mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logging.Infof("sidelb: shutting down")
	return 0
}

const defaultTunablesPath = "/etc/sidelb/tunables.yaml"

// startDataPlane starts the stream or datagram listener named by args.Proto
// and returns its close func. For proto=udp it also returns the forwarder so
// the caller can wire operational-tunable hot-reload of its response-wait
// bound; for proto=tcp the second return value is nil.
func startDataPlane(reg *registry.Registry, picker selector.Picker, args *config.Args, tunables config.Tunables) (func(), *forward.DatagramForwarder, error) {
	switch args.Proto {
	case registry.Datagram:
		conn, err := net.ListenPacket("udp", args.BindAddr)
		if err != nil {
			return nil, nil, err
		}
		f := &forward.DatagramForwarder{Registry: reg, Picker: picker}
		f.SetRecvTimeout(tunables.DatagramRecvTimeout)
		go func() {
			if err := f.Serve(conn); err != nil {
				logging.Warnf("datagram listener stopped: %v", err)
			}
		}()
		return func() { conn.Close() }, f, nil
	default:
		ln, err := net.Listen("tcp", args.BindAddr)
		if err != nil {
			return nil, nil, err
		}
		f := &forward.StreamForwarder{Registry: reg, Picker: picker}
		go func() {
			if err := f.Serve(ln); err != nil {
				logging.Warnf("stream listener stopped: %v", err)
			}
		}()
		return func() { ln.Close() }, nil, nil
	}
}

// runHealthCheckUDS implements --health-check-uds: a one-shot liveness
// probe suitable for use as a container/orchestrator healthcheck command.
func runHealthCheckUDS() int {
	tunablesPath := defaultTunablesPath
	if p := os.Getenv("SIDELB_TUNABLES_PATH"); p != "" {
		tunablesPath = p
	}
	tunables, _, err := config.LoadTunables(tunablesPath)
	if err != nil {
		return 1
	}

	healthy, err := control.Query(tunables.ControlSocketPath)
	if err != nil {
		return 1
	}
	if !healthy {
		return 1
	}
	fmt.Println("Healthy")
	return 0
}
