package task

import (
	"fmt"
	"regexp"
	"strconv"
)

// NextWorkerNumber returns the number of a new worker of domain given the
// hostnames of the live workers: the smallest positive number no live
// w<N>.<domain> worker uses. Hostnames of other domains count as 0.
func NextWorkerNumber(liveNames []string, domain string) int {
	pattern := regexp.MustCompile(`w(\d+)\.` + regexp.QuoteMeta(domain))

	used := make(map[int]bool, len(liveNames))
	for _, name := range liveNames {
		n := 0
		if m := pattern.FindStringSubmatch(name); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				n = v
			}
		}
		used[n] = true
	}

	// len(liveNames)+1 candidates for at most len(liveNames) used numbers
	for n := 1; ; n++ {
		if !used[n] {
			return n
		}
	}
}

// WorkerHostname returns the hostname of worker number n of domain.
func WorkerHostname(n int, domain string) string {
	return fmt.Sprintf("w%d.%s", n, domain)
}

// DirectQueue returns the queue only the worker named hostname consumes.
func DirectQueue(hostname string) string {
	return hostname + ".dq"
}
