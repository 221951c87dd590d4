package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// JobSnapshotKey holds the latest observed record for a remote analysis job.
func JobSnapshotKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// WatchKey holds the state of a watch as last written by its poller.
func WatchKey(watchID uuid.UUID) string {
	return fmt.Sprintf("watch:%s", watchID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
