package scheduler

import (
	"time"

	"github.com/relaybus/rtbus/internal/coroutine"
)

// job is the scheduler's private bookkeeping record for one Coroutine:
// which worker it's pinned to, and the timestamps aging/stealing decisions
// need. Coroutine itself stays policy-agnostic.
type job struct {
	co         *coroutine.Coroutine
	worker     int
	readySince time.Time // when it last became READY, for starvation aging
}

func newJob(co *coroutine.Coroutine, worker int) *job {
	return &job{co: co, worker: worker, readySince: time.Now()}
}
