// Package cos provides common low-level types and utilities shared across
// this module's packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
	"github.com/nxconn/nxconn/cmn/atomic"
)

const (
	// alphabet for generating IDs, similar to shortid.DEFAULT_ABC
	// NOTE: len(uuidABC) > 0x3f - see GenTie()
	uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"
)

const (
	LenShortID    = 9  // per https://github.com/teris-io/shortid#id-length
	lenSessionID  = 8  // min length, via cryptographic rand
	tooLongID     = 32 // cannot be smaller than any valid max length above
)

const (
	mayOnlyContain = "may only contain letters, numbers, dashes (-), underscores (_)"
	OnlyNice       = "must be at most 32 characters and " + mayOnlyContain
)

var (
	sid  *shortid.Shortid
	rtie atomic.Uint32
)

func InitShortID(seed uint64) {
	sid = shortid.MustNew(4 /*worker*/, uuidABC, seed)
}

//
// connection/session identifiers
//
// These label log lines and metric series (spec §2 "DOMAIN STACK"); they
// are NOT the spec's object-ids, which must stay sequential 64-bit
// counters per connection per direction (spec §3 invariant 2).
//

// GenSessionID produces a short, log-friendly identifier for a Connection,
// used only for observability (not for protocol correctness).
func GenSessionID() (id string) {
	var h, t string
	id = sid.MustGenerate()
	if !isAlpha(id[0]) {
		tie := int(rtie.Add(1))
		h = string(rune('A' + tie%26))
	}
	c := id[len(id)-1]
	if c == '-' || c == '_' {
		tie := int(rtie.Add(1))
		t = string(rune('a' + tie%26))
	}
	return h + id + t
}

// GenBEID deterministically derives a short "best-effort ID" from a
// 64-bit digest - e.g. hashing (remote addr, connect time) to label a
// reconnection attempt the same way across retries, without a central
// coordinator.
func GenBEID(val uint64, l int) string {
	b := make([]byte, l)
	for i := 0; i < l; i++ {
		if idx := int(val & letterIdxMask); idx < LenRunes {
			b[i] = LetterRunes[idx]
		} else {
			b[i] = LetterRunes[idx-LenRunes]
		}
		val >>= letterIdxBits
	}
	return UnsafeS(b)
}

func IsValidUUID(uuid string) bool {
	return len(uuid) >= LenShortID && IsAlphaNice(uuid)
}

// GenLocalID returns a short random identifier for this process's side of
// a connection (used as the "local ID" tag in logs when no remote
// handshake ID has been negotiated yet).
func GenLocalID() string { return CryptoRandS(lenSessionID) }

// HashEndpoint derives a stable tag from a remote "host:port" string, used
// to correlate log lines for the same peer across reconnects.
func HashEndpoint(endpoint string) string {
	digest := xxhash.Checksum64S(UnsafeB(endpoint), MLCG32)
	return fmt.Sprintf("%x", digest)[:8]
}

//
// utility functions
//

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// letters and numbers w/ '-' and '_' permitted with limitations (see OnlyNice const)
func IsAlphaNice(s string) bool {
	l := len(s)
	if l > tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

// 3-letter tie breaker (fast)
func GenTie() string {
	tie := rtie.Add(1)
	b0 := uuidABC[tie&0x3f]
	b1 := uuidABC[-tie&0x3f]
	b2 := uuidABC[(tie>>2)&0x3f]
	return string([]byte{b0, b1, b2})
}
