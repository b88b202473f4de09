// Package waf passively fingerprints web application firewalls from
// response headers and cookies. Detection happens on traffic the crawler
// already fetched; no probe payloads are sent.
package waf

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-scanner/nexus/pkg/types"
)

type signature struct {
	name    string
	headers map[string]string // header -> substring, empty means presence
	cookies []string
}

var signatures = []signature{
	{name: "Cloudflare", headers: map[string]string{"Server": "cloudflare", "CF-Ray": ""}, cookies: []string{"__cfduid", "cf_clearance"}},
	{name: "AWS WAF", headers: map[string]string{"X-Amzn-RequestId": "", "X-Amz-Cf-Id": ""}, cookies: []string{"awsalb", "awsalbcors"}},
	{name: "Akamai", headers: map[string]string{"Server": "akamaighost", "X-Akamai-Transformed": ""}, cookies: []string{"ak_bmsc", "bm_sz"}},
	{name: "Imperva Incapsula", headers: map[string]string{"X-Iinfo": "", "X-CDN": "incapsula"}, cookies: []string{"incap_ses", "visid_incap"}},
	{name: "Sucuri", headers: map[string]string{"Server": "sucuri", "X-Sucuri-ID": ""}},
	{name: "F5 BIG-IP", headers: map[string]string{"Server": "big-ip"}, cookies: []string{"bigipserver", "ts0"}},
	{name: "Barracuda", cookies: []string{"barra_counter_session"}},
	{name: "Fastly", headers: map[string]string{"X-Served-By": "cache-", "Fastly-Debug-Digest": ""}},
}

type Detector struct{}

func New() *Detector { return &Detector{} }

func (d *Detector) Name() string    { return "waf-fingerprint" }
func (d *Detector) Version() string { return "1.0.1" }

// Applies once per scan: WAF presence is a property of the edge, not of
// individual pages, so only the seed resource is inspected.
func (d *Detector) Applies(resource types.Resource) bool {
	return resource.Depth == 0 && !resource.FetchFailed && resource.StatusCode > 0
}

func (d *Detector) Evaluate(_ context.Context, _ types.Target, resource types.Resource) ([]types.Finding, error) {
	cookies := strings.ToLower(strings.Join(resource.Headers.Values("Set-Cookie"), "; "))

	var findings []types.Finding
	for _, sig := range signatures {
		evidence := d.match(sig, resource, cookies)
		if evidence == "" {
			continue
		}

		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        types.SeverityInfo,
			Title:           fmt.Sprintf("WAF detected: %s", sig.name),
			Description:     fmt.Sprintf("Response characteristics indicate traffic passes through %s.", sig.name),
			Evidence:        evidence,
			Metadata:        map[string]interface{}{"waf": sig.name},
		})
	}

	return findings, nil
}

func (d *Detector) match(sig signature, resource types.Resource, cookies string) string {
	for header, needle := range sig.headers {
		value := resource.Headers.Get(header)
		if value == "" {
			continue
		}
		if needle == "" || strings.Contains(strings.ToLower(value), needle) {
			return fmt.Sprintf("%s: %s", header, value)
		}
	}
	for _, cookie := range sig.cookies {
		if strings.Contains(cookies, strings.ToLower(cookie)) {
			return fmt.Sprintf("cookie %s present", cookie)
		}
	}
	return ""
}
