package util

import "time"

// TimeOperation runs op and reports how long it took.
func TimeOperation(op func()) time.Duration {
	start := time.Now()
	op()
	return time.Since(start)
}
