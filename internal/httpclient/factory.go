// Package httpclient builds the HTTP clients the engine fetches with.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config controls client construction.
type Config struct {
	Timeout         time.Duration
	BlockPrivateIPs bool
	FollowRedirects bool
	MaxRedirects    int
	UserAgent       string
}

// DefaultConfig returns the configuration used by the crawler.
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		BlockPrivateIPs: false,
		FollowRedirects: true,
		MaxRedirects:    5,
		UserAgent:       "Nexus-Scanner/1.0",
	}
}

// New creates an HTTP client with timeout enforcement, context-aware
// dialing, bounded redirects and optional private-IP blocking.
func New(cfg Config) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cfg.BlockPrivateIPs {
				if err := validateAddress(addr); err != nil {
					return nil, fmt.Errorf("blocked address: %w", err)
				}
			}
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if cfg.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	}

	return client
}

// validateAddress rejects private, loopback and link-local destinations.
func validateAddress(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("could not resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%s resolves to restricted address %s", host, ip)
		}
	}

	return nil
}
