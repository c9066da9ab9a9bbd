// Command rtbus-sweep lists (and, with -remove, unlinks) SysV
// shared-memory segments left behind by processes that exited without a
// clean Close/Shutdown. It is invoked externally — by an operator or a
// periodic job — rather than run continuously.
package main

import (
	"flag"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/relaybus/rtbus/internal/shm"
)

func main() {
	remove := flag.Bool("remove", false, "unlink orphaned segments instead of only listing them")
	all := flag.Bool("all", false, "list every segment, not only orphans")
	flag.Parse()

	segments, err := shm.ListSegments()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtbus-sweep: %v\n", err)
		os.Exit(1)
	}

	var removed, listed int
	for _, seg := range segments {
		orphan := shm.IsOrphan(seg)
		if !orphan && !*all {
			continue
		}
		listed++
		fmt.Printf("key=%d shmid=%d size=%d nattach=%d creator_pid=%d last_pid=%d orphan=%t\n",
			seg.Key, seg.ShmID, seg.Size, seg.NAttach, seg.CreatorPID, seg.LastPID, orphan)

		if orphan && *remove {
			if err := shm.RemoveSegment(seg.ShmID); err != nil {
				fmt.Fprintf(os.Stderr, "rtbus-sweep: remove shmid=%d: %v\n", seg.ShmID, err)
				continue
			}
			removed++
		}
	}

	fmt.Printf("listed=%d removed=%d\n", listed, removed)
}
