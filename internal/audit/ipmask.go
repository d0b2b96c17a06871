package audit

import (
	"regexp"
	"strings"
)

// MaskedIP replaces any address that is neither IPv4 nor IPv6
const MaskedIP = "masked"

const octet = `(?:25[0-5]|2[0-4]\d|[01]?\d?\d)`

var (
	ipv4Re = regexp.MustCompile(`^(` + octet + `)\.(` + octet + `)\.` + octet + `\.` + octet + `$`)
	ipv6Re = regexp.MustCompile(`^[0-9A-Fa-f:]*:[0-9A-Fa-f:]*(?:\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})?$`)
)

// MaskIP reduces an address to its network prefix: a.b.*.* for IPv4 (octets
// 0-255) and the first two groups for IPv6. Anything else becomes "masked"; nil stays nil.
func MaskIP(ip *string) *string {
	if ip == nil {
		return nil
	}

	var masked string
	switch {
	case ipv4Re.MatchString(*ip):
		m := ipv4Re.FindStringSubmatch(*ip)
		masked = m[1] + "." + m[2] + ".*.*"
	case ipv6Re.MatchString(*ip):
		groups := strings.SplitN(*ip, ":", 3)
		masked = groups[0] + ":" + groups[1] + ":*"
	default:
		masked = MaskedIP
	}
	return &masked
}
