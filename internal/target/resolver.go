package target

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/huginnscan/huginn/internal/errors"
)

// Resolver resolves hostnames to addresses.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]netip.Addr, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	return f(ctx, host)
}

const defaultDNSTimeout = 5 * time.Second

// DNSResolver resolves hostnames against the nameservers listed in the
// system resolver configuration, querying A and AAAA records.
type DNSResolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration
}

// NewDNSResolver creates a resolver backed by /etc/resolv.conf. When the
// file cannot be read, a localhost nameserver is assumed.
func NewDNSResolver() *DNSResolver {
	r := &DNSResolver{
		client:  &dns.Client{Timeout: defaultDNSTimeout},
		timeout: defaultDNSTimeout,
	}

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		r.servers = []string{"127.0.0.1:53"}
		return r
	}
	for _, server := range conf.Servers {
		r.servers = append(r.servers, net.JoinHostPort(server, conf.Port))
	}
	return r
}

// Resolve queries A then AAAA records for the host, returning every
// address found. A and AAAA results are concatenated, IPv4 first.
func (r *DNSResolver) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	fqdn := dns.Fqdn(host)

	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, fqdn, qtype)
		if err != nil {
			// Partial answers are fine as long as one family resolved.
			if len(addrs) > 0 && qtype == dns.TypeAAAA {
				break
			}
			return nil, err
		}
		addrs = append(addrs, found...)
	}

	if len(addrs) == 0 {
		return nil, errors.NewTargetError(errors.CodeDNSFailure,
			"no A or AAAA records found", host)
	}
	return addrs, nil
}

func (r *DNSResolver) query(ctx context.Context, fqdn string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		reply, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode == dns.RcodeNameError {
			return nil, errors.NewTargetError(errors.CodeDNSFailure,
				"hostname does not exist", fqdn)
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = errors.NewTargetError(errors.CodeDNSFailure,
				"DNS query failed with rcode "+dns.RcodeToString[reply.Rcode], fqdn)
			continue
		}

		var addrs []netip.Addr
		for _, rr := range reply.Answer {
			switch record := rr.(type) {
			case *dns.A:
				if addr, ok := netip.AddrFromSlice(record.A.To4()); ok {
					addrs = append(addrs, addr)
				}
			case *dns.AAAA:
				if addr, ok := netip.AddrFromSlice(record.AAAA); ok {
					addrs = append(addrs, addr)
				}
			}
		}
		return addrs, nil
	}

	if ctx.Err() != nil || isTimeout(lastErr) {
		return nil, errors.WrapTargetError(errors.CodeDNSTimeout,
			"DNS resolution timed out", fqdn, lastErr)
	}
	return nil, errors.WrapTargetError(errors.CodeDNSFailure,
		"DNS resolution failed", fqdn, lastErr)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
