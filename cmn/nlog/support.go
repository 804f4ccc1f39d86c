// Package nlog - buffered, timestamped, rotating logger used by every
// other package in this module instead of the standard "log" package.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	toStderr     bool
	alsoToStderr bool

	logDir string
	role   string // "client" or "server" - which side of a Connection this process plays
	title  string

	host, _ = os.Hostname()
	pid     = os.Getpid()

	sevText = [3]string{"INFO", "WARNING", "ERROR"}

	// file names containing these are never reported in the header, since
	// they are nlog's own frames, not useful call-site context.
	redactFnames = map[string]struct{}{
		"nlog": {},
	}

	nlogs         [3]*nlog
	onceInitFiles sync.Once

	pool sync.Pool
)

func initFiles() {
	for _, sev := range []severity{sevInfo, sevWarn, sevErr} {
		nlogs[sev] = newNlog(sev)
	}
	if logDir == "" {
		return
	}
	now := time.Now()
	for _, sev := range []severity{sevInfo, sevErr} {
		if err := nlogs[sev].rotate(now); err != nil {
			toStderr = true
		}
	}
}

func sname() string {
	r := role
	if r == "" {
		r = "nxconn"
	}
	return r
}

// fcreate opens a fresh log file under logDir named per the teacher's
// convention (component.host.tag.timestamp.pid) and symlinks a stable
// "component.tag" name to it.
func fcreate(tag string, t time.Time) (f *os.File, name string, err error) {
	var link string
	name, link = logfname(tag, t)
	fpath := filepath.Join(logDir, name)
	f, err = os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", err
	}
	symlink := filepath.Join(logDir, link)
	os.Remove(symlink)
	os.Symlink(name, symlink)
	return f, name, nil
}

func assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprint(append([]any{"nlog: assertion failed: "}, args...)...))
	}
}

// fixed is a fixed-capacity byte buffer reused across log lines to avoid
// per-call allocation on the hot path (every I/O worker logs).
type fixed struct {
	buf  []byte
	woff int
}

func (b *fixed) reset() { b.woff = 0 }

func (b *fixed) size() int  { return len(b.buf) }
func (b *fixed) avail() int { return len(b.buf) - b.woff }
func (b *fixed) length() int {
	if b == nil {
		return 0
	}
	return b.woff
}

func (b *fixed) Write(p []byte) (int, error) {
	n := copy(b.buf[b.woff:], p)
	b.woff += n
	return n, nil
}

func (b *fixed) writeByte(c byte) {
	if b.woff < len(b.buf) {
		b.buf[b.woff] = c
		b.woff++
	}
}

func (b *fixed) writeString(s string) { io.WriteString(b, s) }

func (b *fixed) eol() { b.writeByte('\n') }

func (b *fixed) flush(w io.Writer) (int, error) {
	if b.woff == 0 {
		return 0, nil
	}
	n, err := w.Write(b.buf[:b.woff])
	return n, err
}
