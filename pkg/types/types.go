package types

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Rank returns the sort rank of a severity, critical first. Unknown
// severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

// Target is the host under scan. It is validated when a scan is submitted
// and immutable afterwards.
type Target struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   string `json:"port,omitempty"`
}

// ParseTarget validates a raw target identifier (host, host:port, or full
// URL) and normalizes it. A missing scheme defaults to https.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("target cannot be empty")
	}

	scheme := "https"
	rest := raw
	if i := strings.Index(raw, "://"); i >= 0 {
		scheme = strings.ToLower(raw[:i])
		rest = raw[i+3:]
		if scheme != "http" && scheme != "https" {
			return Target{}, fmt.Errorf("unsupported scheme %q", scheme)
		}
	}

	rest = strings.TrimSuffix(rest, "/")
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}

	host := rest
	port := ""
	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.Contains(rest, "]") {
		host, port = rest[:i], rest[i+1:]
	}
	if host == "" {
		return Target{}, fmt.Errorf("target %q has no host", raw)
	}

	return Target{Scheme: scheme, Host: strings.ToLower(host), Port: port}, nil
}

// URL returns the seed URL for the target.
func (t Target) URL() string {
	if t.Port != "" {
		return fmt.Sprintf("%s://%s:%s/", t.Scheme, t.Host, t.Port)
	}
	return fmt.Sprintf("%s://%s/", t.Scheme, t.Host)
}

func (t Target) String() string {
	if t.Port != "" {
		return t.Host + ":" + t.Port
	}
	return t.Host
}

// Resource is one crawlable unit discovered under a target. Identity is the
// normalized URL; Depth is the shortest discovery distance from the seed.
type Resource struct {
	URL         string      `json:"url"`
	Method      string      `json:"method"`
	Depth       int         `json:"depth"`
	StatusCode  int         `json:"status_code"`
	ContentType string      `json:"content_type,omitempty"`
	Headers     http.Header `json:"headers,omitempty"`
	Body        []byte      `json:"-"`
	FetchFailed bool        `json:"fetch_failed,omitempty"`
	FetchError  string      `json:"fetch_error,omitempty"`
}

// Identity returns the resource identity used for deduplication.
func (r Resource) Identity() string { return r.URL }

type Finding struct {
	ID              string                 `json:"id" db:"id"`
	ScanID          string                 `json:"scan_id" db:"scan_id"`
	Detector        string                 `json:"detector" db:"detector"`
	DetectorVersion string                 `json:"detector_version" db:"detector_version"`
	Resource        string                 `json:"resource" db:"resource"`
	Depth           int                    `json:"depth" db:"depth"`
	Severity        Severity               `json:"severity" db:"severity"`
	Title           string                 `json:"title" db:"title"`
	Description     string                 `json:"description,omitempty" db:"description"`
	Evidence        string                 `json:"evidence,omitempty" db:"evidence"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
}

// ScanState tracks one scan end to end. It is mutated only by the scan's own
// aggregator and orchestrator; everyone else reads snapshots.
type ScanState struct {
	ID         string     `json:"id" db:"id"`
	Target     Target     `json:"target"`
	Status     ScanStatus `json:"status" db:"status"`
	Discovered int        `json:"discovered" db:"discovered"`
	Completed  int        `json:"completed" db:"completed"`
	Findings   []Finding  `json:"findings"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	Error      string     `json:"error,omitempty" db:"error"`
}

// Clone returns a deep copy safe for concurrent readers.
func (s *ScanState) Clone() ScanState {
	out := *s
	out.Findings = make([]Finding, len(s.Findings))
	copy(out.Findings, s.Findings)
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	return out
}

// Summary aggregates finding counts for reporting.
type Summary struct {
	Total      int              `json:"total"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByDetector map[string]int   `json:"by_detector"`
}

// Summarize builds a Summary from a finding set.
func Summarize(findings []Finding) Summary {
	sum := Summary{
		Total:      len(findings),
		BySeverity: make(map[Severity]int),
		ByDetector: make(map[string]int),
	}
	for _, f := range findings {
		sum.BySeverity[f.Severity]++
		sum.ByDetector[f.Detector]++
	}
	return sum
}

// ScanOptions configure one scan. Options are validated before the scan
// enters RUNNING; invalid options fail submission synchronously.
type ScanOptions struct {
	MaxDepth         int           `json:"max_depth"`
	Concurrency      int           `json:"concurrency"`
	Timeout          time.Duration `json:"timeout"`
	TaskTimeout      time.Duration `json:"task_timeout"`
	RetryCount       int           `json:"retry_count"`
	RetryDelay       time.Duration `json:"retry_delay"`
	CacheTTL         time.Duration `json:"cache_ttl"`
	EnabledDetectors []string      `json:"enabled_detectors,omitempty"`
	MaxResources     int           `json:"max_resources"`
	RespectRobots    bool          `json:"respect_robots"`
}

// DefaultScanOptions mirror the defaults the CLI ships with.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		MaxDepth:      2,
		Concurrency:   10,
		Timeout:       10 * time.Minute,
		TaskTimeout:   30 * time.Second,
		RetryCount:    2,
		RetryDelay:    500 * time.Millisecond,
		CacheTTL:      15 * time.Minute,
		MaxResources:  500,
		RespectRobots: true,
	}
}

// CacheEntry is a cached finding snapshot for one fingerprint.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Findings    []Finding `json:"findings"`
	Expiry      time.Time `json:"expiry"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.Expiry.IsZero() && now.After(e.Expiry)
}
