// Package cos provides common low-level types and utilities shared across
// this module's packages.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "fmt"

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Plural returns "s" when n != 1, the way the teacher's error-joining
// code (Errs.Error) expects.
func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// DivCeil is integer ceiling division, used by free-space slack math in
// the file aggregator.
func DivCeil(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// ToSizeIEC formats a byte count with a binary (KiB/MiB/GiB) suffix at
// the given decimal precision.
func ToSizeIEC(b int64, digits int) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.*f%ciB", digits, float64(b)/float64(div), "KMGTPE"[exp])
}
