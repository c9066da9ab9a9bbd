//go:build linux

package shm

import (
	"golang.org/x/sys/unix"
)

// sysvCreate allocates a new SysV shared-memory segment of size bytes under
// key, failing if one already exists (IPC_CREAT|IPC_EXCL), and attaches it.
func sysvCreate(key int, size int) (id int, mem []byte, err error) {
	id, err = unix.SysvShmGet(key, size, unix.IPC_CREAT|unix.IPC_EXCL|0o600)
	if err != nil {
		return 0, nil, err
	}
	mem, err = unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return 0, nil, err
	}
	return id, mem, nil
}

// sysvAttach attaches an existing segment identified by key.
func sysvAttach(key int) (id int, mem []byte, err error) {
	id, err = unix.SysvShmGet(key, 0, 0o600)
	if err != nil {
		return 0, nil, err
	}
	mem, err = unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return 0, nil, err
	}
	return id, mem, nil
}

// sysvDetach unmaps mem from this process's address space. The segment
// itself survives until sysvUnlink (or every attacher detaches and the
// kernel garbage-collects an IPC_RMID'd id).
func sysvDetach(mem []byte) error {
	return unix.SysvShmDetach(mem)
}

// sysvUnlink marks the segment for destruction once the last process
// detaches (IPC_RMID). Safe to call while other processes still have it
// attached.
func sysvUnlink(id int) error {
	_, err := unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	return err
}

const sysvSupported = true
