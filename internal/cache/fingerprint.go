package cache

import (
	"fmt"

	"github.com/twmb/murmur3"

	"github.com/nexus-scanner/nexus/pkg/types"
)

// Fingerprint derives the deterministic cache key for one
// (target, resource, detector, detector version) tuple. Detector identity and
// version are part of the key so a detector upgrade never serves findings
// produced by an older rule.
func Fingerprint(target types.Target, resource string, detector, version string) string {
	h1, h2 := murmur3.StringSum128(target.String() + "|" + resource + "|" + detector + "|" + version)
	return fmt.Sprintf("%016x%016x", h1, h2)
}
