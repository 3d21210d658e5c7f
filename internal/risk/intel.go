package risk

import (
	"context"
	"net"
	"strings"
	"sync"
)

// StaticIntel is an in-process threat-intelligence list with CIDR support.
// It doubles as the reputation sink the mitigation task feeds: flagged IPs
// from brute-force detection are added at runtime.
type StaticIntel struct {
	mu       sync.RWMutex
	ips      map[string]string // ip -> source label
	networks []*net.IPNet
}

// NewStaticIntel creates an intel list from seed entries. Entries may be
// plain IPs or CIDR ranges.
func NewStaticIntel(seed []string) *StaticIntel {
	si := &StaticIntel{ips: make(map[string]string)}
	for _, entry := range seed {
		si.add(entry, "threat-intel list")
	}
	return si
}

func (si *StaticIntel) add(entry, source string) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return
	}
	if strings.Contains(entry, "/") {
		if _, network, err := net.ParseCIDR(entry); err == nil {
			si.networks = append(si.networks, network)
		}
		return
	}
	si.ips[entry] = source
}

// Flag marks an IP as malicious at runtime, attributed to source.
func (si *StaticIntel) Flag(ip, source string) {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.ips[ip] = source
}

// IsMalicious reports whether ip is on the list, and the attributing source.
func (si *StaticIntel) IsMalicious(ctx context.Context, ip string) (bool, string, error) {
	si.mu.RLock()
	defer si.mu.RUnlock()

	if source, ok := si.ips[ip]; ok {
		return true, source, nil
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, "", nil
	}
	for _, network := range si.networks {
		if network.Contains(parsed) {
			return true, "threat-intel list", nil
		}
	}

	return false, "", nil
}
