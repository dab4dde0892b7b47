package worker

import (
	"fmt"
	"regexp"
	"strings"
)

var workerIDCleaner = regexp.MustCompile(`[^a-z0-9]+`)

// BuildWorkerID derives the identity this process claims jobs under, in the
// form worker-<project>-<instance>-<pid>. The pid keeps concurrent processes
// distinct; the instance index separates supervised replicas whose pids may
// be recycled between restarts.
func BuildWorkerID(projectName string, instanceIndex, pid int) string {
	name := strings.ToLower(projectName)
	name = workerIDCleaner.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("worker-%s-%d-%d", name, instanceIndex, pid)
}
