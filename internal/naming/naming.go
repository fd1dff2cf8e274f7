package naming

import (
	"net"
	"net/netip"
	"net/url"
	"strings"
)

const (
	SourceManual   = "manual"
	SourceMDNS     = "mdns"
	SourceHostname = "hostname"
)

type Candidate struct {
	Name   string
	Source string
}

type normalizedCandidate struct {
	Source      string
	StoredName  string
	DisplayName string
	Score       int
}

func NormalizeCandidate(source, rawName string) (storedName string, displayName string, score int, ok bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	name := strings.TrimSpace(rawName)
	if name == "" {
		return "", "", 0, false
	}

	// Operators name printers freely ("Voron 2.4"); keep their text as-is.
	if source == SourceManual {
		return name, name, 100, true
	}

	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return "", "", 0, false
	}

	stored := strings.ToLower(name)
	display := stored
	if strings.Contains(display, ".") && !strings.ContainsAny(display, " \t") {
		parts := strings.SplitN(display, ".", 2)
		if len(parts) > 0 && parts[0] != "" {
			display = parts[0]
		}
	}

	s := scoreCandidate(source, stored, display)
	if s < 0 {
		return stored, display, s, false
	}

	return stored, display, s, true
}

func ChooseBestDisplayName(candidates []Candidate) (string, bool) {
	best := normalizedCandidate{Score: -1_000_000}

	for _, c := range candidates {
		stored, display, score, ok := NormalizeCandidate(c.Source, c.Name)
		if !ok {
			continue
		}
		// Require a minimum quality bar before auto-setting a display name.
		if score < 70 {
			continue
		}
		next := normalizedCandidate{
			Source:      c.Source,
			StoredName:  stored,
			DisplayName: display,
			Score:       score,
		}
		if betterCandidate(next, best) {
			best = next
		}
	}

	if best.Score < 70 || strings.TrimSpace(best.DisplayName) == "" {
		return "", false
	}
	return best.DisplayName, true
}

// ForPrinter derives the display name for a printer registration. An
// explicit name wins; otherwise the address host is used, and bare IPs get a
// "printer-" label.
func ForPrinter(name, address string) string {
	host := HostOf(address)

	candidates := []Candidate{{Name: name, Source: SourceManual}}
	if host != "" {
		if _, err := netip.ParseAddr(host); err != nil {
			source := SourceHostname
			if strings.HasSuffix(strings.ToLower(host), ".local") {
				source = SourceMDNS
			}
			candidates = append(candidates, Candidate{Name: host, Source: source})
		}
	}
	if best, ok := ChooseBestDisplayName(candidates); ok {
		return best
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return "printer-" + strings.NewReplacer(".", "-", ":", "-").Replace(addr.Unmap().String())
	}
	if host != "" {
		return host
	}
	return strings.TrimSpace(address)
}

// HostOf extracts the host from a printer address, which may or may not
// carry a scheme and port.
func HostOf(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	u, err := url.Parse(address)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

func betterCandidate(a, b normalizedCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	// Prefer shorter display names after scoring (tends to avoid noisy FQDNs when equal).
	if len(a.DisplayName) != len(b.DisplayName) {
		return len(a.DisplayName) < len(b.DisplayName)
	}
	// Stable tie-breaker.
	if a.DisplayName != b.DisplayName {
		return a.DisplayName < b.DisplayName
	}
	return a.StoredName < b.StoredName
}

func scoreCandidate(source, stored, display string) int {
	normalized := strings.ToLower(stored)
	if looksGarbage(normalized) || looksGarbage(strings.ToLower(display)) {
		return -1
	}

	base := 50
	switch source {
	case SourceHostname:
		base = 85
	case SourceMDNS:
		base = 80
	}

	// Penalize very short labels.
	if len(display) < 2 {
		base -= 50
	}

	if strings.ContainsAny(display, " \t") {
		base -= 25
	}

	if !looksHostnameLabel(display) {
		base -= 20
	}

	if strings.HasSuffix(normalized, ".localdomain") {
		base -= 5
	}

	return base
}

func looksHostnameLabel(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

func looksGarbage(normalized string) bool {
	if normalized == "" {
		return true
	}
	if strings.Contains(normalized, "in-addr.arpa") || strings.Contains(normalized, "ip6.arpa") {
		return true
	}
	switch normalized {
	case "localdomain", "localhost", "mainsailos", "fluiddpi":
		return true
	}
	return false
}
