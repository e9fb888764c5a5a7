package xcorr

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ConsumerName builds a consumer-group member name that is unique per call:
// prefix, host, pid and a random suffix. Two live waiters must never share a
// name or they would steal each other's deliveries.
func ConsumerName(prefix string) string {
	if prefix == "" {
		prefix = "xcorr"
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	host = strings.ReplaceAll(host, " ", "_")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s-%s-%d-%s", prefix, host, os.Getpid(), suffix)
}
