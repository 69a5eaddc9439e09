package bridge

import (
	"net"
	"net/netip"
	"strings"

	"github.com/botwire/botwire/internal/logging"
)

// allowlist answers whether a remote IP may use the bridge. An empty
// allowlist admits everyone.
type allowlist struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// newAllowlist parses entries as bare IPs or CIDR prefixes. Malformed
// entries are logged and skipped rather than failing startup.
func newAllowlist(entries []string) *allowlist {
	al := &allowlist{addrs: make(map[netip.Addr]struct{})}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logging.Warn().Str("entry", entry).Msg("ignoring malformed allowlist CIDR")
				continue
			}
			al.prefixes = append(al.prefixes, p)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logging.Warn().Str("entry", entry).Msg("ignoring malformed allowlist IP")
			continue
		}
		al.addrs[normalizeAddr(addr)] = struct{}{}
	}
	return al
}

func (al *allowlist) empty() bool {
	return len(al.addrs) == 0 && len(al.prefixes) == 0
}

// Allowed reports whether remote (an ip or ip:port string) passes the list.
func (al *allowlist) Allowed(remote string) bool {
	if al.empty() {
		return true
	}
	addr, ok := parseRemote(remote)
	if !ok {
		return false
	}
	if _, ok := al.addrs[addr]; ok {
		return true
	}
	for _, p := range al.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parseRemote extracts and normalizes the address from RemoteAddr-style
// strings. Loopback ::1 maps to 127.0.0.1 and IPv4-mapped IPv6 addresses
// unwrap, so IPv4 allowlist entries match either stack.
func parseRemote(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(host))
	if err != nil {
		return netip.Addr{}, false
	}
	return normalizeAddr(addr), true
}

func normalizeAddr(addr netip.Addr) netip.Addr {
	if addr == netip.IPv6Loopback() {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}
