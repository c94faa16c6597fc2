package cache

import (
	"errors"
	"fmt"
	"net"
)

var ErrNoValkeyDiscovery = errors.New("no Valkey discovery configured (VALKEY_NODES or VALKEY_SERVICE)")

// ResolveValkeyAddrs returns the Valkey cluster addresses. Explicit nodes
// take precedence, otherwise the service host name is resolved.
func ResolveValkeyAddrs(nodes []string, service string) ([]string, error) {
	if len(nodes) > 0 {
		return nodes, nil
	}

	if service != "" {
		addrs, err := net.LookupHost(service)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", service, err)
		}
		var out []string
		for _, ip := range addrs {
			out = append(out, net.JoinHostPort(ip, "6379"))
		}
		return out, nil
	}

	return nil, ErrNoValkeyDiscovery
}
