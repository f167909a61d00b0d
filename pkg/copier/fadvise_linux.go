//go:build linux

package copier

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseSequential and adviseDontNeed give the kernel page-cache hints
// used by the fetch core's chunked copy (spec.md §4.2), grounded on
// rclone's backend/local/fadvise_unix.go POSIX_FADV_SEQUENTIAL /
// POSIX_FADV_DONTNEED pairing. Failures are logged nowhere and ignored:
// these are hints, never correctness-affecting.
func adviseSequential(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

func adviseDontNeed(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
