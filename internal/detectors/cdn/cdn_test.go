package cdn

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-scanner/nexus/pkg/types"
)

// startDNS runs a local resolver that answers every CNAME query with the
// given targets.
func startDNS(t *testing.T, targets ...string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(r)
			for _, target := range targets {
				m.Answer = append(m.Answer, &dns.CNAME{
					Hdr:    dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: 60},
					Target: target,
				})
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestAppliesSeedOnly(t *testing.T) {
	d := New()
	assert.True(t, d.Applies(types.Resource{Depth: 0, StatusCode: 200}))
	assert.False(t, d.Applies(types.Resource{Depth: 1, StatusCode: 200}))
	assert.False(t, d.Applies(types.Resource{Depth: 0, FetchFailed: true}))
}

func TestEvaluateCNAMEMatch(t *testing.T) {
	d := &Detector{
		resolver: startDNS(t, "d1234abcd.cloudfront.net."),
		timeout:  time.Second,
	}

	target := types.Target{Scheme: "https", Host: "www.example.com"}
	resource := types.Resource{URL: "https://www.example.com/", StatusCode: 200, Headers: http.Header{}}

	findings, err := d.Evaluate(context.Background(), target, resource)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "CDN detected: Amazon CloudFront", findings[0].Title)
	assert.Equal(t, "CNAME d1234abcd.cloudfront.net", findings[0].Evidence)
	assert.Equal(t, "Amazon CloudFront", findings[0].Metadata["cdn"])
}

func TestEvaluateHeaderMatch(t *testing.T) {
	// Empty CNAME chain, headers alone identify the edge.
	d := &Detector{resolver: startDNS(t), timeout: time.Second}

	h := http.Header{}
	h.Set("CF-Cache-Status", "HIT")
	resource := types.Resource{URL: "https://example.com/", StatusCode: 200, Headers: h}

	findings, err := d.Evaluate(context.Background(), types.Target{Host: "example.com"}, resource)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "CDN detected: Cloudflare", findings[0].Title)
}

func TestEvaluateNoCDN(t *testing.T) {
	d := &Detector{resolver: startDNS(t), timeout: time.Second}

	resource := types.Resource{URL: "https://example.com/", StatusCode: 200, Headers: http.Header{}}
	findings, err := d.Evaluate(context.Background(), types.Target{Host: "example.com"}, resource)
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestEvaluateDNSFailureFallsBackToHeaders(t *testing.T) {
	// An unreachable resolver yields an empty chain; header matching still
	// runs instead of failing the evaluation.
	d := &Detector{resolver: "127.0.0.1:1", timeout: 200 * time.Millisecond}

	h := http.Header{}
	h.Set("X-Served-By", "cache-ams21021-AMS")
	resource := types.Resource{URL: "https://example.com/", StatusCode: 200, Headers: h}

	findings, err := d.Evaluate(context.Background(), types.Target{Host: "example.com"}, resource)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "CDN detected: Fastly", findings[0].Title)
}
