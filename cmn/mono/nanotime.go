//go:build !mono

// Package mono provides low-level monotonic time
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns monotonically increasing nanoseconds elapsed since
// package init. Portable fallback for builds that don't opt into the
// linkname trick in fast_nanotime.go.
func NanoTime() int64 { return int64(time.Since(start)) }
