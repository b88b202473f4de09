package crawler

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// robotsRules holds the disallow prefixes that apply to this crawler.
type robotsRules struct {
	disallow []string
}

// fetchRobots retrieves and parses /robots.txt for the target. Any failure
// yields empty rules; robots handling is best effort and never blocks a
// crawl.
func (c *Crawler) fetchRobots(ctx context.Context, seedURL string) robotsRules {
	base, err := url.Parse(seedURL)
	if err != nil {
		return robotsRules{}
	}
	robotsURL := base.Scheme + "://" + base.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return robotsRules{}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return robotsRules{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return robotsRules{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return robotsRules{}
	}

	return parseRobots(string(body))
}

// parseRobots extracts Disallow rules for the wildcard agent and for any
// agent matching this scanner.
func parseRobots(content string) robotsRules {
	var rules robotsRules
	applies := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		lower := strings.ToLower(line)

		switch {
		case strings.HasPrefix(lower, "user-agent:"):
			agent := strings.TrimSpace(lower[len("user-agent:"):])
			applies = agent == "*" || strings.Contains(agent, "nexus")
		case strings.HasPrefix(lower, "disallow:") && applies:
			path := strings.TrimSpace(line[len("disallow:"):])
			if path != "" {
				rules.disallow = append(rules.disallow, path)
			}
		}
	}

	return rules
}

// allowed reports whether a path may be crawled under the rules.
func (r robotsRules) allowed(u *url.URL) bool {
	path := u.Path
	if path == "" {
		path = "/"
	}
	for _, rule := range r.disallow {
		if strings.HasPrefix(path, rule) {
			return false
		}
	}
	return true
}
