// Package config turns os.Args into a validated set of startup arguments,
// and optionally loads a small operational-tunables file via Viper. The
// two concerns are split on purpose: CLI args describe the backend set
// (spec.md §6, never hot-reloaded); tunables describe timing knobs
// (interval/timeout values, ambient and hot-reloadable). Grounded on
// config.go's Load/Watch shape for the tunables half; the CLI half is
// hand-rolled since the grammar (one positional, unordered key=value
// tokens, bare switches) doesn't fit pflag/cobra's prefixed-flag model —
// justified in DESIGN.md.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"sidelb/internal/lberr"
	"sidelb/internal/registry"
)

// Args is the parsed, validated command line for spec.md §6.
type Args struct {
	Help           bool
	HealthCheckUDS bool

	BindAddr     string
	StaticGroups []registry.StaticGroup
	RingDomain   string
	Mode         registry.SelectionMode
	Proto        registry.Protocol
}

const Usage = `sidelb bind_addr:port [backends=host:port[,host:port,...]] [ring_domain=host:port] [mode=round-robin|least-connections] [proto=tcp|udp]
       sidelb -h | --help
       sidelb --health-check-uds

Positional:
  bind_addr:port   address the load balancer listens on (required)

Flags:
  backends=...     comma-separated static endpoints
  ring_domain=...  one label re-resolved every 60s
  mode=...         selection policy (default round-robin)
  proto=...        listener protocol (default tcp)
`

// ParseArgs parses argv (excluding the program name).
func ParseArgs(argv []string) (*Args, error) {
	a := &Args{Mode: registry.RoundRobin, Proto: registry.Stream}

	for _, tok := range argv {
		switch tok {
		case "-h", "--help":
			a.Help = true
			return a, nil
		case "--health-check-uds":
			a.HealthCheckUDS = true
			return a, nil
		}
	}

	var backendsRaw string
	positionalSeen := false
	for _, tok := range argv {
		key, val, isKV := strings.Cut(tok, "=")
		if !isKV {
			if positionalSeen {
				return nil, lberr.New(lberr.BadInput, "config.ParseArgs", fmt.Errorf("unexpected extra positional argument %q", tok))
			}
			a.BindAddr = tok
			positionalSeen = true
			continue
		}
		switch key {
		case "backends":
			backendsRaw = val
		case "ring_domain":
			a.RingDomain = val
		case "mode":
			mode, err := registry.ParseSelectionMode(val)
			if err != nil {
				return nil, lberr.New(lberr.BadInput, "config.ParseArgs", err)
			}
			a.Mode = mode
		case "proto":
			proto, err := parseProtocol(val)
			if err != nil {
				return nil, lberr.New(lberr.BadInput, "config.ParseArgs", err)
			}
			a.Proto = proto
		default:
			return nil, lberr.New(lberr.BadInput, "config.ParseArgs", fmt.Errorf("unknown flag %q", key))
		}
	}

	if !positionalSeen {
		return nil, lberr.New(lberr.BadInput, "config.ParseArgs", fmt.Errorf("missing required bind_addr:port"))
	}
	if _, _, err := net.SplitHostPort(a.BindAddr); err != nil {
		return nil, lberr.New(lberr.BadInput, "config.ParseArgs", fmt.Errorf("malformed bind address %q: %w", a.BindAddr, err))
	}

	if backendsRaw != "" {
		groups, err := parseBackends(backendsRaw, a.Proto)
		if err != nil {
			return nil, err
		}
		a.StaticGroups = groups
	}

	if a.RingDomain != "" {
		if _, _, err := net.SplitHostPort(a.RingDomain); err != nil {
			return nil, lberr.New(lberr.BadInput, "config.ParseArgs", fmt.Errorf("malformed ring_domain %q: %w", a.RingDomain, err))
		}
	}

	if len(a.StaticGroups) == 0 && a.RingDomain == "" {
		return nil, lberr.New(lberr.NoBackends, "config.ParseArgs", fmt.Errorf("at least one of backends= or ring_domain= is required"))
	}

	return a, nil
}

func parseProtocol(s string) (registry.Protocol, error) {
	switch s {
	case "", "tcp":
		return registry.Stream, nil
	case "udp":
		return registry.Datagram, nil
	default:
		return 0, fmt.Errorf("unknown protocol %q", s)
	}
}

// parseBackends groups backends=host:port,... entries by the textual form
// of each endpoint's IP, so endpoints sharing an IP aggregate into one
// group label, per spec.md §6. Groups are returned in first-seen order so
// round-robin's visiting order is deterministic.
func parseBackends(raw string, proto registry.Protocol) ([]registry.StaticGroup, error) {
	byLabel := make(map[string]*registry.StaticGroup)
	var order []string

	for _, addr := range strings.Split(raw, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, lberr.New(lberr.BadInput, "config.parseBackends", fmt.Errorf("malformed backend %q: %w", addr, err))
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return nil, lberr.New(lberr.BadInput, "config.parseBackends", fmt.Errorf("malformed backend port %q: %w", addr, err))
		}

		label := host
		g, ok := byLabel[label]
		if !ok {
			g = &registry.StaticGroup{Label: label}
			byLabel[label] = g
			order = append(order, label)
		}
		p := proto
		g.Endpoints = append(g.Endpoints, registry.Endpoint{Addr: addr, Proto: &p})
	}

	groups := make([]registry.StaticGroup, 0, len(order))
	for _, label := range order {
		groups = append(groups, *byLabel[label])
	}
	return groups, nil
}
