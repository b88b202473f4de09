package crawler

import (
	"net/url"
	"strings"
)

// normalizeURL canonicalizes a URL so a resource reachable via multiple
// spellings deduplicates to one identity: fragments dropped, scheme and host
// lowercased, default ports stripped, empty path becomes "/".
func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if (u.Scheme == "http" && strings.HasSuffix(u.Host, ":80")) ||
		(u.Scheme == "https" && strings.HasSuffix(u.Host, ":443")) {
		u.Host = u.Host[:strings.LastIndex(u.Host, ":")]
	}

	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// inScope reports whether a URL belongs to the crawl scope. The www variant
// of the target host counts as in scope, matching how sites commonly alias
// the apex.
func inScope(u *url.URL, host string) bool {
	h := strings.ToLower(u.Hostname())
	host = strings.ToLower(host)
	if h == host {
		return true
	}
	return h == "www."+host || "www."+h == host
}

// crawlableScheme filters out mailto:, javascript:, tel: and friends.
func crawlableScheme(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}
