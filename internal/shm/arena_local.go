package shm

import "sync"

// localArena is the backing store for ModeProcessLocal: a byte slice shared
// by every Segment handle that attaches the same key within this process.
// Attach reference counting lives in the shared State header itself (the
// same field a real SysV segment's attachers would share), so localArena
// only needs to track the bytes.
//
// This lets tests open "two attaches" of the same channel (writer + reader)
// the way two separate processes would, including teardown ordering, while
// staying entirely in-process.
type localArena struct {
	mem []byte
}

var (
	localArenasMu sync.Mutex
	localArenas   = map[int64]*localArena{}
)

func localArenaCreate(key int64, size int) (*localArena, error) {
	localArenasMu.Lock()
	defer localArenasMu.Unlock()
	if _, exists := localArenas[key]; exists {
		return nil, ErrSegmentExists
	}
	a := &localArena{mem: make([]byte, size)}
	localArenas[key] = a
	return a, nil
}

func localArenaAttach(key int64) (*localArena, bool) {
	localArenasMu.Lock()
	defer localArenasMu.Unlock()
	a, ok := localArenas[key]
	return a, ok
}

func localArenaRelease(key int64) {
	localArenasMu.Lock()
	defer localArenasMu.Unlock()
	delete(localArenas, key)
}
