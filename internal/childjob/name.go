package childjob

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// jobNameMaxLength matches Kubernetes' DNS-subdomain name limit
// (https://kubernetes.io/docs/concepts/overview/working-with-objects/names/#names),
// which the Docker backend also respects for container names so job names
// are portable across both platform.Adapter implementations.
const jobNameMaxLength = 63

// GenJobName produces a job name matching the platform's DNS-subdomain
// rules: "<prefix>-<YYYYMMDDhhmmss>-<NNN>", prefix truncated so the total
// length stays within jobNameMaxLength, underscores replaced with hyphens,
// lowercased.
func GenJobName(prefix string) string {
	suffix := fmt.Sprintf("%s-%03d", time.Now().Format("20060102150405"), rand.Intn(1000))

	maxPrefixLen := jobNameMaxLength - 1 - len(suffix)
	if maxPrefixLen < 0 {
		maxPrefixLen = 0
	}
	if len(prefix) > maxPrefixLen {
		prefix = prefix[:maxPrefixLen]
	}

	name := prefix + "-" + suffix
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.ToLower(name)
	if len(name) > jobNameMaxLength {
		name = name[:jobNameMaxLength]
	}
	return name
}
