package waf

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/pkg/types"
)

func seedResource(headers http.Header) types.Resource {
	return types.Resource{
		URL:        "https://example.com/",
		Depth:      0,
		StatusCode: 200,
		Headers:    headers,
	}
}

func TestAppliesSeedOnly(t *testing.T) {
	d := New()

	assert.True(t, d.Applies(types.Resource{Depth: 0, StatusCode: 200}))
	assert.False(t, d.Applies(types.Resource{Depth: 1, StatusCode: 200}))
	assert.False(t, d.Applies(types.Resource{Depth: 0, FetchFailed: true}))
	assert.False(t, d.Applies(types.Resource{Depth: 0, StatusCode: 0}))
}

func TestEvaluateHeaderMatch(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	h.Set("CF-Ray", "8a1b2c3d4e5f-FRA")

	findings, err := New().Evaluate(context.Background(), types.Target{}, seedResource(h))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "WAF detected: Cloudflare", findings[0].Title)
	assert.Equal(t, types.SeverityInfo, findings[0].Severity)
	assert.Equal(t, "Cloudflare", findings[0].Metadata["waf"])
}

func TestEvaluateCookieMatch(t *testing.T) {
	h := http.Header{}
	h.Add("Set-Cookie", "incap_ses_123=abc; path=/")

	findings, err := New().Evaluate(context.Background(), types.Target{}, seedResource(h))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "WAF detected: Imperva Incapsula", findings[0].Title)
	assert.Contains(t, findings[0].Evidence, "incap_ses")
}

func TestEvaluatePresenceOnlyHeader(t *testing.T) {
	// X-Akamai-Transformed matches on presence regardless of value.
	h := http.Header{}
	h.Set("X-Akamai-Transformed", "9 - 0 pmb=mRUM,1")

	findings, err := New().Evaluate(context.Background(), types.Target{}, seedResource(h))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "WAF detected: Akamai", findings[0].Title)
}

func TestEvaluateSubstringMustMatch(t *testing.T) {
	// A Server value that is not a known edge product must not match the
	// signatures keyed on Server substrings.
	h := http.Header{}
	h.Set("Server", "nginx/1.24.0")

	findings, err := New().Evaluate(context.Background(), types.Target{}, seedResource(h))
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateMultipleEdges(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "cloudflare")
	h.Set("X-Served-By", "cache-fra19128-FRA")

	findings, err := New().Evaluate(context.Background(), types.Target{}, seedResource(h))
	require.NoError(t, err)
	assert.Len(t, findings, 2)
}
