package fetch

import (
	"net/netip"
	"net/url"
	"strings"
)

var reservedV4 = netip.MustParsePrefix("240.0.0.0/4")

// IsSafeURL reports whether a URL may be fetched at all.
//
// Only http and https schemes are accepted, and hosts given as IP literals
// must not fall in loopback, private (RFC1918), link-local (which covers the
// cloud metadata endpoint), multicast, unspecified, or reserved ranges.
// URLs that fail the check never touch the network.
func IsSafeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := u.Hostname()
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return false
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Not an IP literal. Hostnames resolve at dial time.
		return true
	}

	return !isBlockedAddr(addr)
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsMulticast() || addr.IsUnspecified() {
		return true
	}
	if addr.Is4() && reservedV4.Contains(addr) {
		return true
	}

	return !addr.IsGlobalUnicast()
}
