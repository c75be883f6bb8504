package supervise

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

func killGroup(pgid int) {
	// ESRCH means the group is already gone.
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

// groupMembers scans /proc for live (non-zombie) processes whose process
// group id matches pgid.
func groupMembers(pgid int) mapset.Set[int] {
	members := mapset.NewSet[int]()

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return members
	}

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		stat, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "stat"))
		if err != nil {
			continue
		}
		// The comm field may contain spaces; fields are stable only
		// after the closing paren.
		i := bytes.LastIndexByte(stat, ')')
		if i < 0 || i+2 >= len(stat) {
			continue
		}
		fields := strings.Fields(string(stat[i+2:]))
		if len(fields) < 3 || fields[0] == "Z" {
			continue
		}
		if g, err := strconv.Atoi(fields[2]); err == nil && g == pgid {
			members.Add(pid)
		}
	}

	return members
}

// sweepGroup re-kills until no member of the group remains, giving up
// after 100 attempts 10ms apart. Descendants that were mid-fork during
// the first kill are caught here.
func sweepGroup(pgid int) {
	for i := 0; i < 100; i++ {
		if groupMembers(pgid).Cardinality() == 0 {
			return
		}
		killGroup(pgid)
		time.Sleep(10 * time.Millisecond)
	}
}
