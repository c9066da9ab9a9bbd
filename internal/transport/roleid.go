package transport

import "sync/atomic"

var nextRoleID atomic.Uint64

// newRoleID allocates a process-unique endpoint identity for registry
// bookkeeping. Role ids are never reused, so a stale Unregister can't ever
// collide with a later, unrelated endpoint.
func newRoleID() uint64 {
	return nextRoleID.Add(1)
}
