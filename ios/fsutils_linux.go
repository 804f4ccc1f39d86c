// Package ios provides local-storage utilities used by the file
// aggregator's pre-flight checks.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package ios

import "golang.org/x/sys/unix"

// GetFSStats returns the total block count, available-to-unprivileged-
// users block count, and block size for the filesystem containing path.
// Used by the file aggregator to enforce spec §4.4's "free space on the
// target volume must exceed expected size + a small slack."
func GetFSStats(path string) (blocks, bavail uint64, bsize int64, err error) {
	var st unix.Statfs_t
	if err = unix.Statfs(path, &st); err != nil {
		return 0, 0, 0, err
	}
	return st.Blocks, st.Bavail, int64(st.Bsize), nil
}

// AvailBytes is the convenience form the file aggregator calls directly:
// bytes available to an unprivileged writer on the filesystem containing
// path.
func AvailBytes(path string) (int64, error) {
	_, bavail, bsize, err := GetFSStats(path)
	if err != nil {
		return 0, err
	}
	return int64(bavail) * bsize, nil
}
