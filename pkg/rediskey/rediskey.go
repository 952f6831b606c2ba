package rediskey

import (
	"fmt"
	"time"
)

// Task keys (global convention across services)
const (
	TaskPrefix = "task"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildPlanTaskKey returns "task:{taskName}:{planID}:{unix}" and identifies one
// run of a plan job for one instant.
func BuildPlanTaskKey(taskName, planID string, instant time.Time) string {
	return NamespaceKey(TaskPrefix, fmt.Sprintf("%s:%s:%d", taskName, planID, instant.UTC().Unix()))
}

// BuildTaskKey returns "task:{taskName}:{unix}".
func BuildTaskKey(taskName string, instant time.Time) string {
	return NamespaceKey(TaskPrefix, fmt.Sprintf("%s:%d", taskName, instant.UTC().Unix()))
}
