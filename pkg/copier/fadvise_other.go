//go:build !linux

package copier

import "os"

// adviseSequential and adviseDontNeed no-op on platforms without
// posix_fadvise, matching rclone's build-tag split for the same hint.
func adviseSequential(f *os.File) {}

func adviseDontNeed(f *os.File) {}
