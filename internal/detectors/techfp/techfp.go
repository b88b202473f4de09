// Package techfp fingerprints server software and frameworks from response
// headers, cookies and body markers.
package techfp

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexus-scanner/nexus/pkg/types"
)

type signature struct {
	name     string
	category string
	// any match among the three signal sets counts
	headers map[string]string // header name -> substring, empty means presence
	cookies []string
	body    []string
}

var signatures = []signature{
	{name: "Nginx", category: "server", headers: map[string]string{"Server": "nginx"}},
	{name: "Apache", category: "server", headers: map[string]string{"Server": "apache"}},
	{name: "Microsoft IIS", category: "server", headers: map[string]string{"Server": "iis"}},
	{name: "Express", category: "framework", headers: map[string]string{"X-Powered-By": "express"}},
	{name: "PHP", category: "language", headers: map[string]string{"X-Powered-By": "php"}, cookies: []string{"PHPSESSID"}},
	{name: "ASP.NET", category: "framework", headers: map[string]string{"X-Powered-By": "asp.net", "X-AspNet-Version": ""}, cookies: []string{"ASP.NET_SessionId"}},
	{name: "Django", category: "framework", cookies: []string{"csrftoken", "sessionid"}, body: []string{"csrfmiddlewaretoken"}},
	{name: "Laravel", category: "framework", cookies: []string{"laravel_session", "XSRF-TOKEN"}},
	{name: "Ruby on Rails", category: "framework", cookies: []string{"_rails_session"}, body: []string{"csrf-param"}},
	{name: "WordPress", category: "cms", body: []string{"/wp-content/", "/wp-includes/", "wp-json"}},
	{name: "Drupal", category: "cms", headers: map[string]string{"X-Generator": "drupal"}, body: []string{"drupal-settings-json"}},
	{name: "React", category: "javascript", body: []string{"data-reactroot", "__NEXT_DATA__"}},
	{name: "Vue.js", category: "javascript", body: []string{"data-v-app", "vue.runtime"}},
	{name: "Angular", category: "javascript", body: []string{"ng-version="}},
	{name: "jQuery", category: "javascript", body: []string{"jquery.min.js", "jquery.js"}},
	{name: "Google Analytics", category: "analytics", body: []string{"google-analytics.com/analytics.js", "googletagmanager.com/gtag"}},
}

type Detector struct{}

func New() *Detector { return &Detector{} }

func (d *Detector) Name() string    { return "tech-fingerprint" }
func (d *Detector) Version() string { return "1.0.2" }

func (d *Detector) Applies(resource types.Resource) bool {
	return !resource.FetchFailed && resource.StatusCode > 0
}

func (d *Detector) Evaluate(_ context.Context, _ types.Target, resource types.Resource) ([]types.Finding, error) {
	body := strings.ToLower(string(resource.Body))
	cookies := strings.ToLower(strings.Join(resource.Headers.Values("Set-Cookie"), "; "))

	var findings []types.Finding
	for _, sig := range signatures {
		evidence := match(sig, resource, body, cookies)
		if evidence == "" {
			continue
		}

		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        types.SeverityInfo,
			Title:           fmt.Sprintf("Technology detected: %s", sig.name),
			Description:     fmt.Sprintf("The response indicates %s (%s) is in use.", sig.name, sig.category),
			Evidence:        evidence,
			Metadata: map[string]interface{}{
				"technology": sig.name,
				"category":   sig.category,
			},
		})
	}

	return findings, nil
}

func match(sig signature, resource types.Resource, body, cookies string) string {
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
	for _, marker := range sig.body {
		if strings.Contains(body, strings.ToLower(marker)) {
			return fmt.Sprintf("body contains %q", marker)
		}
	}
	return ""
}
