// Package resolver turns a "host:port" label into a set of registry
// Endpoints by platform name resolution. Grounded on dns.rs's
// resolve_ring_domain: mandatory port, every A/AAAA answer kept, a
// logging-only reverse lookup, empty-on-failure rather than fatal.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"sidelb/internal/lberr"
	"sidelb/internal/logging"
	"sidelb/internal/registry"
)

// Resolve resolves label ("host:port") to one Endpoint per A/AAAA answer,
// all tagged with defaultProto (the resolver never probes — the hint is
// always the caller-supplied default protocol). A missing or non-numeric
// port is a *lberr.Error of kind BadInput and yields no endpoints. Any other
// resolution failure yields no endpoints and a logged warning — it is never
// fatal.
func Resolve(ctx context.Context, label string, defaultProto registry.Protocol) ([]registry.Endpoint, error) {
	host, portStr, err := net.SplitHostPort(label)
	if err != nil {
		return nil, lberr.New(lberr.BadInput, "resolver.Resolve", fmt.Errorf("missing port in %q", label))
	}
	if _, err := strconv.ParseUint(portStr, 10, 16); err != nil {
		return nil, lberr.New(lberr.BadInput, "resolver.Resolve", fmt.Errorf("non-numeric port in %q", label))
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil || len(ips) == 0 {
		logging.Warnf("resolver: failed to resolve %q: %v", label, err)
		return nil, lberr.New(lberr.ResolveFailure, "resolver.Resolve", err)
	}

	endpoints := make([]registry.Endpoint, 0, len(ips))
	for _, ip := range ips {
		proto := defaultProto
		addr := net.JoinHostPort(ip.String(), portStr)
		endpoints = append(endpoints, registry.Endpoint{Addr: addr, Proto: &proto})

		if names, err := net.DefaultResolver.LookupAddr(ctx, ip.String()); err == nil && len(names) > 0 {
			logging.Infof("resolver: %s resolved to %s (%s)", label, addr, names[0])
		} else {
			logging.Infof("resolver: %s resolved to %s", label, addr)
		}
	}
	return endpoints, nil
}

// ResolveTimeout is the bound applied to a single Resolve call by callers
// that do not already carry a deadline (the dynamic updater, for its
// initial resolution and every later cycle).
const ResolveTimeout = 5 * time.Second
