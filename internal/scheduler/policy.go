package scheduler

// Policy pluggably decides worker assignment and local-queue ordering. The
// three concrete policies (classic, choreography, capacity-aware) differ
// only in these decisions; the worker loop and wakeup machinery they share
// lives in worker.go/scheduler.go.
type Policy interface {
	Name() string

	// AssignWorker picks the worker a brand-new job starts on.
	AssignWorker(s *Scheduler, j *job) int

	// Less orders two READY jobs in the same worker's local queue; Less(a,
	// b) == true means a should run before b.
	Less(a, b *job) bool

	// CanSteal reports whether an idle worker may pull work from another
	// worker's local queue.
	CanSteal() bool

	// CanStealFrom reports whether victim currently has stealable work,
	// given the policy's own rules (e.g. choreography requires the victim
	// to have more than one READY job before it will give one up).
	CanStealFrom(victimQueueLen int) bool
}
