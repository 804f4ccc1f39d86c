// Package cos provides common low-level types and utilities shared across
// this module's packages.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"time"
	"unsafe"
)

const (
	LetterRunes    = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	LenRunes       = len(LetterRunes)
	letterIdxBits  = 6
	letterIdxMask  = 1<<letterIdxBits - 1
	MLCG32         = 2685821657736338717 // xxhash seed, matches aistore's convention
)

// CryptoRandS returns a cryptographically random alphanumeric string of
// length n - used for session/connection identifiers that must not be
// predictable (e.g. by a peer probing for reuse).
func CryptoRandS(n int) string {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(LenRunes)))
		if err != nil {
			// crypto/rand failure is effectively unrecoverable; deterministic
			// fallback keeps callers simple without introducing a new error path.
			b[i] = LetterRunes[i%LenRunes]
			continue
		}
		b[i] = LetterRunes[idx.Int64()]
	}
	return string(b)
}

// NowRand returns a non-cryptographic PRNG seeded off the current time,
// used by tests and by non-adversarial sampling (e.g. jittering retry
// delays), never for protocol-security-relevant randomness.
func NowRand() *mrand.Rand {
	return mrand.New(mrand.NewSource(time.Now().UnixNano()))
}

// UnsafeB/UnsafeS perform zero-copy []byte<->string conversions - a
// long-standing idiom in this corpus for hot-path code (parcel framing,
// hashing) that must avoid per-call allocation. Never use on a []byte
// that may be mutated after the conversion.
func UnsafeB(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func UnsafeS(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}
