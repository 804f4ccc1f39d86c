// Process-global active-files registry, spec §3/§4.4: the destination
// path of an in-flight file transfer must be unique across the whole
// process, not just within one connection.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import (
	"os"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"

	"github.com/nxconn/nxconn/cmn/nlog"
)

type fileRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

var activeFiles = &fileRegistry{paths: make(map[string]struct{}, 64)}

// reserve claims canonicalPath for an in-flight transfer, returning
// false if another transfer already owns it anywhere in the process
// (spec §4.4, "must not already be the target of another in-flight file
// transfer ... global registry, keyed by canonical path").
func (r *fileRegistry) reserve(canonicalPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.paths[canonicalPath]; ok {
		return false
	}
	r.paths[canonicalPath] = struct{}{}
	return true
}

func (r *fileRegistry) release(canonicalPath string) {
	r.mu.Lock()
	delete(r.paths, canonicalPath)
	r.mu.Unlock()
}

// resetActiveFiles clears the registry; test-only, mirrors spec §9's
// reset() convention.
func resetActiveFiles() {
	activeFiles.mu.Lock()
	activeFiles.paths = make(map[string]struct{}, 64)
	activeFiles.mu.Unlock()
}

// sweepOrphanTemps is a supplement beyond the distilled spec (see
// SPEC_FULL.md §11): §4.4's cleanup-on-abort logic only reaches
// in-process aborts, never a prior crash, so a process that starts up
// pointed at a FileRootDir it previously crashed in can be left holding
// orphaned ".temp" files forever. Run by every Connection bootstrap
// whose Params name a FileRootDir, before its handshake.
func sweepOrphanTemps(root string) {
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !strings.HasSuffix(path, tempSuffix) {
				return nil
			}
			if rmErr := os.Remove(path); rmErr != nil {
				nlog.Warningf("orphan sweep: failed to remove %s: %v", path, rmErr)
			} else {
				nlog.Infof("orphan sweep: removed stale temp file %s", path)
			}
			return nil
		},
		Unsorted:            true,
		AllowNonDirectory:   false,
		FollowSymbolicLinks: false,
	})
	if err != nil {
		nlog.Warningf("orphan sweep of %s failed: %v", root, err)
	}
}
