package router

import "time"

// Clock abstracts monotonic "seconds since epoch" time so the ARP cache TTL
// and retry-worker timing can be driven deterministically in tests.
type Clock interface {
	Now() int64
}

// SystemClock implements Clock using the process wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
