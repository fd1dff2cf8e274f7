package mdns

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const DefaultGroup = "224.0.0.251:5353"

var ErrNoAnswer = errors.New("mdns: no answer")

// Resolver resolves ".local" printer hostnames with a one-shot multicast DNS
// query. Klipper hosts commonly advertise themselves this way and the system
// resolver in a container usually cannot see them.
type Resolver struct {
	// Group is the destination for queries. Tests point it at a unicast
	// responder.
	Group   string
	Timeout time.Duration
}

// IsLocalName reports whether host is an mDNS name.
func IsLocalName(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
	return strings.HasSuffix(h, ".local") && len(h) > len(".local")
}

// LookupHost returns the IPv4 addresses announced for host.
//
// NOTE: the question carries the QU bit so responders answer with unicast to
// our ephemeral port instead of the multicast group.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]netip.Addr, error) {
	name := dns.Fqdn(strings.ToLower(strings.TrimSpace(host)))

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeA)
	msg.Id = 0
	msg.RecursionDesired = false
	msg.Question[0].Qclass |= 1 << 15

	packed, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	group := r.Group
	if strings.TrimSpace(group) == "" {
		group = DefaultGroup
	}
	dst, err := net.ResolveUDPAddr("udp4", group)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 750 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteTo(packed, dst); err != nil {
		return nil, err
	}

	buf := make([]byte, 9000)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, ErrNoAnswer
			}
			return nil, err
		}

		var resp dns.Msg
		if err := resp.Unpack(buf[:n]); err != nil {
			continue
		}
		if addrs := answersFor(&resp, name); len(addrs) > 0 {
			return addrs, nil
		}
	}
}

func answersFor(resp *dns.Msg, name string) []netip.Addr {
	var out []netip.Addr
	seen := make(map[netip.Addr]struct{})
	records := make([]dns.RR, 0, len(resp.Answer)+len(resp.Extra))
	records = append(records, resp.Answer...)
	records = append(records, resp.Extra...)
	for _, rr := range records {
		a, ok := rr.(*dns.A)
		if !ok || !strings.EqualFold(a.Hdr.Name, name) {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.A.To4())
		if !ok {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
