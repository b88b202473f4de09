package headers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/pkg/types"
)

func resourceWith(url string, headers http.Header) types.Resource {
	return types.Resource{
		URL:        url,
		Method:     http.MethodGet,
		StatusCode: 200,
		Headers:    headers,
	}
}

func titles(findings []types.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Title)
	}
	return out
}

func TestApplies(t *testing.T) {
	d := New()

	assert.True(t, d.Applies(types.Resource{StatusCode: 200}))
	assert.True(t, d.Applies(types.Resource{StatusCode: 404}))
	assert.False(t, d.Applies(types.Resource{FetchFailed: true}))
	assert.False(t, d.Applies(types.Resource{StatusCode: 0}))
}

func TestEvaluateBareResponse(t *testing.T) {
	d := New()
	findings, err := d.Evaluate(context.Background(), types.Target{}, resourceWith("https://example.com/", http.Header{}))
	require.NoError(t, err)

	got := titles(findings)
	assert.Equal(t, []string{
		"Missing X-Frame-Options header",
		"Missing Content-Security-Policy header",
		"Missing Strict-Transport-Security header",
		"Missing X-Content-Type-Options header",
		"Missing Referrer-Policy header",
	}, got)
}

func TestEvaluateFullyHardenedResponse(t *testing.T) {
	d := New()
	h := http.Header{}
	h.Set("X-Frame-Options", "DENY")
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("Strict-Transport-Security", "max-age=63072000")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

	findings, err := d.Evaluate(context.Background(), types.Target{}, resourceWith("https://example.com/", h))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateHSTSSkippedOnPlainHTTP(t *testing.T) {
	d := New()
	findings, err := d.Evaluate(context.Background(), types.Target{}, resourceWith("http://example.com/", http.Header{}))
	require.NoError(t, err)
	assert.NotContains(t, titles(findings), "Missing Strict-Transport-Security header")
}

func TestEvaluateFrameAncestorsSupersedesXFO(t *testing.T) {
	d := New()
	h := http.Header{}
	h.Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'")

	findings, err := d.Evaluate(context.Background(), types.Target{}, resourceWith("https://example.com/", h))
	require.NoError(t, err)
	assert.NotContains(t, titles(findings), "Missing X-Frame-Options header")
}

func TestEvaluateServerVersionDisclosure(t *testing.T) {
	d := New()

	h := http.Header{}
	h.Set("Server", "nginx/1.24.0")
	findings, err := d.Evaluate(context.Background(), types.Target{}, resourceWith("https://example.com/", h))
	require.NoError(t, err)
	require.Contains(t, titles(findings), "Server header discloses software version")
	for _, f := range findings {
		if f.Title == "Server header discloses software version" {
			assert.Equal(t, types.SeverityInfo, f.Severity)
			assert.Contains(t, f.Evidence, "nginx/1.24.0")
		}
	}

	// A bare product token carries no version to disclose.
	h.Set("Server", "nginx")
	findings, err = d.Evaluate(context.Background(), types.Target{}, resourceWith("https://example.com/", h))
	require.NoError(t, err)
	assert.NotContains(t, titles(findings), "Server header discloses software version")
}
