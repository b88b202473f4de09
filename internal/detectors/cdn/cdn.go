// Package cdn identifies content delivery networks fronting the target,
// using response headers plus the CNAME chain of the target host.
package cdn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/nexus-scanner/nexus/pkg/types"
)

type signature struct {
	name    string
	cnames  []string
	headers map[string]string
}

var signatures = []signature{
	{name: "Cloudflare", cnames: []string{"cdn.cloudflare.net"}, headers: map[string]string{"Server": "cloudflare", "CF-Cache-Status": ""}},
	{name: "Amazon CloudFront", cnames: []string{"cloudfront.net"}, headers: map[string]string{"Via": "cloudfront", "X-Amz-Cf-Pop": ""}},
	{name: "Akamai", cnames: []string{"akamaiedge.net", "akamaized.net", "edgekey.net"}, headers: map[string]string{"X-Akamai-Transformed": ""}},
	{name: "Fastly", cnames: []string{"fastly.net"}, headers: map[string]string{"X-Served-By": "cache-", "X-Fastly-Request-ID": ""}},
	{name: "Google Cloud CDN", cnames: []string{"googlehosted.com"}, headers: map[string]string{"Via": "google"}},
	{name: "Azure CDN", cnames: []string{"azureedge.net", "azurefd.net"}, headers: map[string]string{"X-Azure-Ref": ""}},
	{name: "BunnyCDN", cnames: []string{"b-cdn.net"}, headers: map[string]string{"Server": "bunnycdn"}},
}

type Detector struct {
	resolver string // host:port of the DNS server, empty for system default
	timeout  time.Duration
}

func New() *Detector {
	return &Detector{timeout: 3 * time.Second}
}

func (d *Detector) Name() string    { return "cdn-detect" }
func (d *Detector) Version() string { return "1.0.0" }

// Applies once per scan, on the seed resource.
func (d *Detector) Applies(resource types.Resource) bool {
	return resource.Depth == 0 && !resource.FetchFailed
}

func (d *Detector) Evaluate(ctx context.Context, target types.Target, resource types.Resource) ([]types.Finding, error) {
	cnames := d.lookupCNAMEs(ctx, target.Host)

	var findings []types.Finding
	for _, sig := range signatures {
		evidence := match(sig, resource, cnames)
		if evidence == "" {
			continue
		}

		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        types.SeverityInfo,
			Title:           fmt.Sprintf("CDN detected: %s", sig.name),
			Description:     fmt.Sprintf("The target is served through %s.", sig.name),
			Evidence:        evidence,
			Metadata:        map[string]interface{}{"cdn": sig.name},
		})
	}

	return findings, nil
}

func match(sig signature, resource types.Resource, cnames []string) string {
	for _, cname := range cnames {
		for _, pattern := range sig.cnames {
			if strings.Contains(strings.ToLower(cname), pattern) {
				return fmt.Sprintf("CNAME %s", cname)
			}
		}
	}
	for header, needle := range sig.headers {
		value := resource.Headers.Get(header)
		if value == "" {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(value), needle) {
			return fmt.Sprintf("%s: %s", header, value)
		}
	}
	return ""
}

// lookupCNAMEs walks the CNAME chain for the host. DNS trouble yields an
// empty chain; header matching still runs.
func (d *Detector) lookupCNAMEs(ctx context.Context, host string) []string {
	server := d.resolver
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			return nil
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	}

	client := &dns.Client{Timeout: d.timeout}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeCNAME)
	msg.RecursionDesired = true

	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil || resp.Rcode != dns.RcodeSuccess {
		return nil
	}

	var cnames []string
	for _, answer := range resp.Answer {
		if cname, ok := answer.(*dns.CNAME); ok {
			cnames = append(cnames, strings.TrimSuffix(cname.Target, "."))
		}
	}
	return cnames
}
