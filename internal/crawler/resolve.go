package crawler

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/miekg/dns"
)

// resolveSeed verifies the target host resolves before the crawl starts.
// It asks the system resolver directly over DNS and falls back to the
// standard library lookup when no resolver is configured (or the query
// infrastructure itself fails). A host that is an IP literal passes as-is.
func resolveSeed(ctx context.Context, host string) error {
	if ip := net.ParseIP(host); ip != nil {
		return nil
	}

	server := systemResolver()
	if server == "" {
		return stdlibResolve(ctx, host)
	}

	client := &dns.Client{Timeout: 5 * time.Second}

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			// Resolver unreachable is an infrastructure problem, not
			// proof the target does not exist.
			return stdlibResolve(ctx, host)
		}
		if resp.Rcode == dns.RcodeSuccess && len(resp.Answer) > 0 {
			return nil
		}
		// CNAME chains answer with no A records on the A query; the
		// AAAA pass or the fallback settles it.
	}

	return stdlibResolve(ctx, host)
}

func stdlibResolve(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("lookup %s: no addresses", host)
	}
	return nil
}

// systemResolver returns the first nameserver from /etc/resolv.conf as
// host:port, or empty when none is usable.
func systemResolver() string {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return ""
	}
	if _, err := os.Stat("/etc/resolv.conf"); err != nil {
		return ""
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}
