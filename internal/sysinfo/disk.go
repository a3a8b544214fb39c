package sysinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskSpace mirrors diskspace.h's to_json(space_info): capacity, free, and
// available bytes for the filesystem backing a path, reported for the
// monitor_path configured at startup.
type DiskSpace struct {
	Capacity  uint64 `json:"capacity"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"`
}

// ReadDiskSpace wraps statfs(2) via golang.org/x/sys/unix, the same
// underlying syscall std::filesystem::space() uses in diskspace.cpp.
func ReadDiskSpace(path string) (DiskSpace, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskSpace{}, fmt.Errorf("sysinfo: statfs %q: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return DiskSpace{
		Capacity:  st.Blocks * bsize,
		Free:      st.Bfree * bsize,
		Available: st.Bavail * bsize,
	}, nil
}
