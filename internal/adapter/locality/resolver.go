package locality

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
)

// Resolver decides whether a host name refers to the machine the runner is
// on by resolving it and comparing against the local interface addresses.
type Resolver struct {
	resolver   *net.Resolver
	hostname   string
	localAddrs func() ([]net.Addr, error)
}

// NewResolver creates a Resolver using the system DNS configuration.
func NewResolver() *Resolver {
	host, _ := os.Hostname()
	return &Resolver{
		resolver:   net.DefaultResolver,
		hostname:   host,
		localAddrs: net.InterfaceAddrs,
	}
}

// IsLocal reports whether host resolves to an address of this machine.
func (r *Resolver) IsLocal(ctx context.Context, host string) (bool, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.EqualFold(host, "localhost") || strings.EqualFold(host, r.hostname) {
		return true, nil
	}

	ips, err := r.resolver.LookupHost(ctx, host)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", host, err)
	}

	addrs, err := r.localAddrs()
	if err != nil {
		return false, fmt.Errorf("list interface addresses: %w", err)
	}
	local := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			local[ipnet.IP.String()] = struct{}{}
		}
	}

	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() {
			return true, nil
		}
		if _, ok := local[ip.String()]; ok {
			return true, nil
		}
	}
	return false, nil
}
