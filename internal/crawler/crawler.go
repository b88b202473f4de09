// Package crawler discovers resources reachable from a seed target.
// Traversal is breadth-first by depth tier with parallel fetches inside a
// tier, deduplicated by normalized URL. Each resource is emitted at most
// once, at its minimum discovery depth.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/internal/ratelimit"
	"github.com/nexus-scanner/nexus/pkg/types"
)

// maxBodyBytes caps how much of a response body is retained for detectors.
const maxBodyBytes = 512 * 1024

type Crawler struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	pool      core.Pool
	logger    *logger.Logger
	userAgent string
}

func New(client *http.Client, limiter *ratelimit.Limiter, pool core.Pool, log *logger.Logger, userAgent string) *Crawler {
	if userAgent == "" {
		userAgent = "Nexus-Scanner/1.0"
	}
	return &Crawler{
		client:    client,
		limiter:   limiter,
		pool:      pool,
		logger:    log.WithComponent("crawler"),
		userAgent: userAgent,
	}
}

// Crawl validates the seed and returns a finite, non-restartable stream of
// discovered resources. Seed resolution failure is the only fatal error;
// everything after that degrades per resource. The channel closes when the
// frontier is exhausted, the resource budget is hit, or ctx ends.
func (c *Crawler) Crawl(ctx context.Context, target types.Target, opts types.ScanOptions) (<-chan types.Resource, error) {
	if err := resolveSeed(ctx, target.Host); err != nil {
		return nil, &types.SeedResolutionError{Target: target.String(), Err: err}
	}

	seedURL, err := normalizeURL(target.URL())
	if err != nil {
		return nil, &types.SeedResolutionError{Target: target.String(), Err: err}
	}

	// The seed fetch happens synchronously: an unreachable target at depth 0
	// fails the whole crawl rather than producing an empty result set.
	seed, fetchErr := c.fetch(ctx, seedURL, 0, opts)
	if fetchErr != nil {
		return nil, &types.SeedResolutionError{Target: target.String(), Err: fetchErr}
	}
	if seed.FetchFailed {
		return nil, &types.SeedResolutionError{Target: target.String(), Err: fmt.Errorf("%s", seed.FetchError)}
	}

	var robots robotsRules
	if opts.RespectRobots {
		robots = c.fetchRobots(ctx, seedURL)
	}

	out := make(chan types.Resource)
	go c.run(ctx, target, opts, seed, robots, out)
	return out, nil
}

// run walks the frontier tier by tier. Because a tier is fully fetched
// before the next one starts, the first time a URL is seen is also its
// minimum depth.
func (c *Crawler) run(ctx context.Context, target types.Target, opts types.ScanOptions, seed types.Resource, robots robotsRules, out chan<- types.Resource) {
	defer close(out)

	start := time.Now()
	visited := map[string]bool{seed.URL: true}
	emitted := 0

	links := c.extractLinks(seed, target, robots, visited)
	if !emit(ctx, out, seed) {
		return
	}
	emitted++

	frontier := links
	for depth := 1; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if opts.MaxResources > 0 && emitted >= opts.MaxResources {
			break
		}
		if opts.MaxResources > 0 && len(frontier) > opts.MaxResources-emitted {
			frontier = frontier[:opts.MaxResources-emitted]
		}

		results := make([]types.Resource, len(frontier))
		var wg sync.WaitGroup
		for i, u := range frontier {
			i, u := i, u
			wg.Add(1)
			err := c.pool.Go(ctx, func() {
				defer wg.Done()
				res, err := c.fetch(ctx, u, depth, opts)
				if err != nil {
					// Context ended mid-fetch; leave the slot empty.
					return
				}
				results[i] = res
			})
			if err != nil {
				wg.Done()
			}
		}
		wg.Wait()

		var next []string
		for _, res := range results {
			if res.URL == "" {
				continue
			}
			if !res.FetchFailed && depth < opts.MaxDepth {
				next = append(next, c.extractLinks(res, target, robots, visited)...)
			}
			if !emit(ctx, out, res) {
				return
			}
			emitted++
		}
		frontier = next
	}

	c.logger.Infow("Crawl finished",
		"target", target.String(),
		"resources", emitted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func emit(ctx context.Context, out chan<- types.Resource, res types.Resource) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// fetch retrieves one URL with retry and exponential backoff. After the
// retry budget is spent the resource comes back with a fetch_failed marker
// instead of an error; only context cancellation aborts outright.
func (c *Crawler) fetch(ctx context.Context, rawURL string, depth int, opts types.ScanOptions) (types.Resource, error) {
	attempts := opts.RetryCount + 1
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return types.Resource{}, ctx.Err()
			}
			delay *= 2
		}

		res, err := c.fetchOnce(ctx, rawURL, depth)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return types.Resource{}, ctx.Err()
		}
		lastErr = err
		c.logger.Debugw("Fetch attempt failed",
			"url", rawURL,
			"attempt", attempt+1,
			"error", err,
		)
	}

	ferr := &types.FetchError{URL: rawURL, Attempts: attempts, Err: lastErr}
	return types.Resource{
		URL:         rawURL,
		Method:      http.MethodGet,
		Depth:       depth,
		FetchFailed: true,
		FetchError:  ferr.Error(),
	}, nil
}

func (c *Crawler) fetchOnce(ctx context.Context, rawURL string, depth int) (types.Resource, error) {
	if c.limiter != nil {
		if u, err := url.Parse(rawURL); err == nil {
			if err := c.limiter.WaitForHost(ctx, u.Hostname()); err != nil {
				return types.Resource{}, err
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.Resource{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Resource{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return types.Resource{}, err
	}

	return types.Resource{
		URL:         rawURL,
		Method:      http.MethodGet,
		Depth:       depth,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Headers:     resp.Header.Clone(),
		Body:        body,
	}, nil
}

// extractLinks pulls in-scope anchor targets out of an HTML resource,
// normalizes them and records them in visited so each URL enters the
// frontier once.
func (c *Crawler) extractLinks(res types.Resource, target types.Target, robots robotsRules, visited map[string]bool) []string {
	if len(res.Body) == 0 || !strings.Contains(strings.ToLower(res.ContentType), "html") {
		return nil
	}

	base, err := url.Parse(res.URL)
	if err != nil {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		c.logger.Debugw("Failed to parse HTML", "url", res.URL, "error", err)
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if !crawlableScheme(abs) || !inScope(abs, target.Host) {
			return
		}
		if !robots.allowed(abs) {
			return
		}

		normalized, err := normalizeURL(abs.String())
		if err != nil || visited[normalized] {
			return
		}
		visited[normalized] = true
		links = append(links, normalized)
	})

	return links
}
