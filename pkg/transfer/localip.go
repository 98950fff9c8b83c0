/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package transfer

import (
	"net"
	"sort"
	"strings"
)

var lanPrefixes = []string{"192.168.", "10."}

// LocalIPv4Addresses enumerates this host's non-loopback IPv4 addresses,
// grounded on the OS IP-enumeration step of §4.5.6.
func LocalIPv4Addresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		out = append(out, ip4.String())
	}
	return out, nil
}

func isLANLooking(ip string) bool {
	for _, p := range lanPrefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// SortCandidatesByLANAffinity orders remote candidate addresses by the
// longest common prefix they share with any of localIPs, but only
// counting a local IP's prefix when that local IP itself looks
// LAN-local (192.168.0.0/16 or 10.0.0.0/8). Higher-affinity candidates
// sort first; ties preserve input order (stable sort).
func SortCandidatesByLANAffinity(candidates, localIPs []string) []string {
	affinity := make(map[string]int, len(candidates))
	for _, remote := range candidates {
		best := 0
		for _, local := range localIPs {
			if !isLANLooking(local) {
				continue
			}
			if n := commonPrefixLen(remote, local); n > best {
				best = n
			}
		}
		affinity[remote] = best
	}

	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return affinity[sorted[i]] > affinity[sorted[j]]
	})
	return sorted
}
