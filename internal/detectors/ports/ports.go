// Package ports runs a TCP connect scan against the common service ports of
// the target host.
package ports

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexus-scanner/nexus/pkg/types"
)

type service struct {
	name     string
	severity types.Severity
	note     string
}

// servicePorts covers the ports worth flagging on a web-facing host. Severity
// reflects how bad internet exposure of the service usually is, not whether
// the service itself is vulnerable.
var servicePorts = map[int]service{
	21:   {"FTP", types.SeverityMedium, "plaintext credentials unless FTPS is enforced"},
	22:   {"SSH", types.SeverityLow, "expected on managed hosts; confirm key-only auth"},
	23:   {"Telnet", types.SeverityHigh, "unencrypted remote shell"},
	25:   {"SMTP", types.SeverityLow, "verify the relay is not open"},
	53:   {"DNS", types.SeverityLow, "confirm recursion is restricted"},
	80:   {"HTTP", types.SeverityInfo, ""},
	110:  {"POP3", types.SeverityMedium, "plaintext mail retrieval"},
	143:  {"IMAP", types.SeverityMedium, "plaintext mail retrieval"},
	443:  {"HTTPS", types.SeverityInfo, ""},
	445:  {"SMB", types.SeverityHigh, "file sharing should never face the internet"},
	993:  {"IMAPS", types.SeverityInfo, ""},
	995:  {"POP3S", types.SeverityInfo, ""},
	3306: {"MySQL", types.SeverityHigh, "database ports should be firewalled"},
	3389: {"RDP", types.SeverityHigh, "frequent brute-force and exploit target"},
	5900: {"VNC", types.SeverityHigh, "often unauthenticated or weakly protected"},
	8080: {"HTTP-Proxy", types.SeverityMedium, "confirm the alternate HTTP service is intentional"},
}

const (
	connectTimeout = 3 * time.Second
	probeWorkers   = 8
)

type Detector struct {
	dial func(ctx context.Context, host string, port int) bool
}

func New() *Detector {
	d := &Detector{}
	d.dial = connect
	return d
}

func (d *Detector) Name() string    { return "port-scan" }
func (d *Detector) Version() string { return "1.0.3" }

// Applies once per scan: open ports are a host property, not a page property.
func (d *Detector) Applies(resource types.Resource) bool {
	return resource.Depth == 0
}

func (d *Detector) Evaluate(ctx context.Context, target types.Target, resource types.Resource) ([]types.Finding, error) {
	ports := make([]int, 0, len(servicePorts))
	for p := range servicePorts {
		ports = append(ports, p)
	}
	sort.Ints(ports)

	open := make([]int, 0, 4)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, probeWorkers)

	for _, port := range ports {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer func() { <-sem }()
			if d.dial(ctx, target.Host, port) {
				mu.Lock()
				open = append(open, port)
				mu.Unlock()
			}
		}(port)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Ints(open)
	findings := make([]types.Finding, 0, len(open))
	for _, port := range open {
		svc := servicePorts[port]
		desc := fmt.Sprintf("TCP port %d (%s) accepts connections.", port, svc.name)
		if svc.note != "" {
			desc += " " + capitalize(svc.note) + "."
		}
		findings = append(findings, types.Finding{
			Detector:        d.Name(),
			DetectorVersion: d.Version(),
			Resource:        resource.URL,
			Severity:        svc.severity,
			Title:           fmt.Sprintf("Open port: %d/%s", port, svc.name),
			Description:     desc,
			Evidence:        fmt.Sprintf("tcp connect to %s:%d succeeded", target.Host, port),
			Metadata: map[string]interface{}{
				"port":    port,
				"service": svc.name,
			},
		})
	}
	return findings, nil
}

func connect(ctx context.Context, host string, port int) bool {
	dialer := &net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
