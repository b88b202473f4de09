// Package headers flags missing or weak security response headers.
package headers

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-scanner/nexus/pkg/types"
)

type check struct {
	header   string
	severity types.Severity
	title    string
	desc     string
	// httpsOnly restricts a check to TLS resources (HSTS on plain HTTP is
	// meaningless).
	httpsOnly bool
}

var checks = []check{
	{
		header:   "X-Frame-Options",
		severity: types.SeverityHigh,
		title:    "Missing X-Frame-Options header",
		desc:     "Responses without X-Frame-Options (or a frame-ancestors CSP directive) can be framed by other origins, enabling clickjacking.",
	},
	{
		header:   "Content-Security-Policy",
		severity: types.SeverityMedium,
		title:    "Missing Content-Security-Policy header",
		desc:     "Without a CSP the browser has no restriction on script, style and frame sources, widening the impact of any injection flaw.",
	},
	{
		header:    "Strict-Transport-Security",
		severity:  types.SeverityMedium,
		title:     "Missing Strict-Transport-Security header",
		desc:      "Without HSTS a first visit over plain HTTP can be intercepted and kept off TLS.",
		httpsOnly: true,
	},
	{
		header:   "X-Content-Type-Options",
		severity: types.SeverityLow,
		title:    "Missing X-Content-Type-Options header",
		desc:     "Without nosniff some browsers MIME-sniff responses, which can turn uploads into executable content.",
	},
	{
		header:   "Referrer-Policy",
		severity: types.SeverityLow,
		title:    "Missing Referrer-Policy header",
		desc:     "Full referrer URLs leak path and query data to external origins.",
	},
}

type Detector struct{}

func New() *Detector { return &Detector{} }

func (d *Detector) Name() string    { return "security-headers" }
func (d *Detector) Version() string { return "1.1.0" }

// Applies to every resource that produced a response. Fetch failures carry
// no headers to inspect.
func (d *Detector) Applies(resource types.Resource) bool {
	return !resource.FetchFailed && resource.StatusCode > 0
}

func (d *Detector) Evaluate(_ context.Context, _ types.Target, resource types.Resource) ([]types.Finding, error) {
	isTLS := strings.HasPrefix(resource.URL, "https://")

	var findings []types.Finding
	for _, c := range checks {
		if c.httpsOnly && !isTLS {
			continue
		}
		if resource.Headers.Get(c.header) != "" {
			continue
		}
		if c.header == "X-Frame-Options" && hasFrameAncestors(resource.Headers.Get("Content-Security-Policy")) {
			continue
		}

		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        c.severity,
			Title:           c.title,
			Description:     c.desc,
			Evidence:        fmt.Sprintf("%s header not set on %s response (status %d)", c.header, resource.Method, resource.StatusCode),
		})
	}

	if server := resource.Headers.Get("Server"); server != "" && strings.ContainsAny(server, "/0123456789") {
		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        types.SeverityInfo,
			Title:           "Server header discloses software version",
			Description:     "Version strings in the Server header make it trivial to match the deployment against published CVEs.",
			Evidence:        "Server: " + server,
		})
	}

	return findings, nil
}

// hasFrameAncestors reports whether a CSP value carries a frame-ancestors
// directive, which supersedes X-Frame-Options.
func hasFrameAncestors(csp string) bool {
	return strings.Contains(strings.ToLower(csp), "frame-ancestors")
}
