package probe

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const defaultResolveTimeout = 2 * time.Second

// Resolver performs reverse DNS lookups against the system resolver.
type Resolver struct {
	Timeout time.Duration
	Server  string

	client *dns.Client
}

// NewResolver creates a reverse DNS resolver. An empty server selects the
// first nameserver from the system resolver configuration.
func NewResolver(timeout time.Duration, server string) *Resolver {
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	if server == "" {
		server = systemNameserver()
	}
	return &Resolver{
		Timeout: timeout,
		Server:  server,
		client:  &dns.Client{Timeout: timeout},
	}
}

// Reverse resolves an IP address to a hostname via a PTR query. When the
// direct query fails it falls back to the Go resolver. Returns empty string
// when the address has no PTR record.
func (r *Resolver) Reverse(ctx context.Context, ip string) string {
	if r.Server != "" {
		if name := r.reverseQuery(ip); name != "" {
			return name
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

func (r *Resolver) reverseQuery(ip string) string {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	resp, _, err := r.client.Exchange(msg, r.Server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return ""
	}

	for _, answer := range resp.Answer {
		if ptr, ok := answer.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

// systemNameserver returns the first configured nameserver as host:port, or
// empty string when the resolver configuration cannot be read.
func systemNameserver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return ""
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}
