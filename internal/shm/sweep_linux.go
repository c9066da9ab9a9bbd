//go:build linux

package shm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// SegmentInfo describes one live SysV shared-memory segment as reported by
// the kernel, independent of whether this process has it attached.
type SegmentInfo struct {
	Key        int64
	ShmID      int
	Size       int64
	NAttach    int
	CreatorPID int32
	LastPID    int32 // pid of the last process to attach or detach
}

// ListSegments enumerates every SysV shared-memory segment visible to this
// host by reading /proc/sysvipc/shm, the same source `ipcs -m` reads.
func ListSegments() ([]SegmentInfo, error) {
	f, err := os.Open("/proc/sysvipc/shm")
	if err != nil {
		return nil, fmt.Errorf("shm: open /proc/sysvipc/shm: %w", err)
	}
	defer f.Close()

	var segments []SegmentInfo
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line: key shmid ... size ...
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 16 {
			continue
		}
		seg, err := parseSysvipcShmLine(fields)
		if err != nil {
			continue
		}
		segments = append(segments, seg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("shm: scan /proc/sysvipc/shm: %w", err)
	}
	return segments, nil
}

// parseSysvipcShmLine decodes one data row of /proc/sysvipc/shm:
// key shmid perms size cpid lpid nattch uid gid cuid cgid atime dtime ctime rss swap
func parseSysvipcShmLine(fields []string) (SegmentInfo, error) {
	if len(fields) < 7 {
		return SegmentInfo{}, fmt.Errorf("shm: short /proc/sysvipc/shm row: %d fields", len(fields))
	}
	key, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return SegmentInfo{}, err
	}
	shmid, err := strconv.Atoi(fields[1])
	if err != nil {
		return SegmentInfo{}, err
	}
	size, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return SegmentInfo{}, err
	}
	cpid, err := strconv.ParseInt(fields[4], 10, 32)
	if err != nil {
		return SegmentInfo{}, err
	}
	lpid, err := strconv.ParseInt(fields[5], 10, 32)
	if err != nil {
		return SegmentInfo{}, err
	}
	nattch, err := strconv.Atoi(fields[6])
	if err != nil {
		return SegmentInfo{}, err
	}
	return SegmentInfo{
		Key:        key,
		ShmID:      shmid,
		Size:       size,
		NAttach:    nattch,
		CreatorPID: int32(cpid),
		LastPID:    int32(lpid),
	}, nil
}

// IsOrphan reports whether seg has no live attachers and neither its
// creator nor last-touching process is still alive — the condition
// cmd/rtbus-sweep treats as safe to unlink.
func IsOrphan(seg SegmentInfo) bool {
	if seg.NAttach > 0 {
		return false
	}
	if seg.CreatorPID != 0 {
		if alive, err := process.PidExists(seg.CreatorPID); err == nil && alive {
			return false
		}
	}
	if seg.LastPID != 0 && seg.LastPID != seg.CreatorPID {
		if alive, err := process.PidExists(seg.LastPID); err == nil && alive {
			return false
		}
	}
	return true
}

// RemoveSegment unlinks a segment by its kernel shmid, the same IPC_RMID
// path Close/destroy use for a segment this process has open.
func RemoveSegment(shmID int) error {
	return sysvUnlink(shmID)
}
