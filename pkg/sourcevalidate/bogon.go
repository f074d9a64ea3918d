// Package sourcevalidate implements source IP validation: bogon filtering,
// BCP38 anti-spoofing sanity checks, per-source rate accounting, DNS
// cookie challenges, and a decaying suspicion score.
package sourcevalidate

import "net"

type ipRange struct {
	start, end net.IP
}

func v4(a, b, c, d byte) net.IP { return net.IPv4(a, b, c, d).To4() }

// bogonRanges mirrors SourceValidator::init_bogon_ranges: RFC 1918 private
// space, loopback, link-local, RFC 5737 documentation space, and the two
// unallocated/reserved blocks at the edges of the IPv4 address space.
var bogonRanges = []ipRange{
	{v4(10, 0, 0, 0), v4(10, 255, 255, 255)},
	{v4(172, 16, 0, 0), v4(172, 31, 255, 255)},
	{v4(192, 168, 0, 0), v4(192, 168, 255, 255)},
	{v4(127, 0, 0, 0), v4(127, 255, 255, 255)},
	{v4(169, 254, 0, 0), v4(169, 254, 255, 255)},
	{v4(192, 0, 2, 0), v4(192, 0, 2, 255)},
	{v4(198, 51, 100, 0), v4(198, 51, 100, 255)},
	{v4(203, 0, 113, 0), v4(203, 0, 113, 255)},
	{v4(0, 0, 0, 0), v4(0, 255, 255, 255)},
	{v4(240, 0, 0, 0), v4(255, 255, 255, 255)},
}

func ipInRange(ip net.IP, r ipRange) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}
	return bytesCompare(ip4, r.start) >= 0 && bytesCompare(ip4, r.end) <= 0
}

func bytesCompare(a, b net.IP) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// isBogon reports whether ip falls in a non-routable or reserved range.
// IPv6 addresses are only checked for unspecified/loopback/link-local, since
// the bogon table above is IPv4-only (matching the original's scope).
func isBogon(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		for _, r := range bogonRanges {
			if ipInRange(ip4, r) {
				return true
			}
		}
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// validateBCP38 rejects obviously spoofed source addresses: broadcast,
// multicast, and unspecified.
func validateBCP38(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		if ip4.Equal(net.IPv4bcast) {
			return false
		}
		return !ip.IsMulticast() && !ip.IsUnspecified()
	}
	return !ip.IsMulticast() && !ip.IsUnspecified()
}
