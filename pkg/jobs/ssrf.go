package jobs

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedHostnames is the fixed list of internal service names a webhook or
// fallback target must never resolve to, matched case-insensitively against
// the URL's hostname.
var blockedHostnames = map[string]bool{
	"localhost": true,
	"db":        true,
	"redis":     true,
	"dragonfly": true,
	"nginx":     true,
	"postgres":  true,
}

// resolver performs the DNS lookups for hostname targets.
var resolver = net.DefaultResolver

// ValidateOutboundURL implements the SSRF guard: it rejects loopback/
// private/link-local literals and hostnames, the fixed internal-service
// name list, and any hostname whose DNS resolution lands in a blocked
// range.
func ValidateOutboundURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http/https targets are allowed")
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host")
	}
	if blockedHostnames[strings.ToLower(host)] {
		return fmt.Errorf("target hostname %q is blocked", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("target IP %s is in a blocked range", ip)
		}
		return nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving target host: %w", err)
	}
	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return fmt.Errorf("target host %q resolves to blocked IP %s", host, addr.IP)
		}
	}
	return nil
}

var blockedCIDRs = mustParseCIDRs(
	"10.0.0.0/8",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"::/128",
	"fc00::/7",
	"fe80::/10",
)

func isBlockedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range blockedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("jobs: invalid CIDR literal %q: %v", c, err))
		}
		nets = append(nets, n)
	}
	return nets
}
