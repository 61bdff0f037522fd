// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLockHeld is returned when another run owns the target directory.
var ErrLockHeld = errors.New("installation already in progress")

// FileLock is an exclusive advisory lock on "<target>.lock".
//
// # Thread Safety
//
// A FileLock is not safe for concurrent use. Each run holds its own.
//
// # Platform Support
//
// flock(2) on unix, LockFileEx on windows.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unacquired lock for target.
func NewFileLock(target string) *FileLock {
	return &FileLock{path: filepath.Clean(target) + ".lock"}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock without blocking. It returns ErrLockHeld when
// another holder exists.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}

	if err := lockFile(file); err != nil {
		file.Close()
		return err
	}

	// Holder info is for humans debugging a stuck install.
	_ = file.Truncate(0)
	_, _ = file.Seek(0, 0)
	_, _ = fmt.Fprintf(file, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))

	l.file = file
	return nil
}

// Release drops the lock. Safe to call more than once.
//
// The lock file stays on disk. Removing it would let a process still holding
// a descriptor to the old inode lock it while a newcomer locks a fresh file.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	_ = unlockFile(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}

// targetGuard is the in-process half of the exclusion: it rejects a second
// run before touching the filesystem.
type targetGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

var activeTargets = &targetGuard{active: make(map[string]struct{})}

func (g *targetGuard) claim(target string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[target]; busy {
		return false
	}
	g.active[target] = struct{}{}
	return true
}

func (g *targetGuard) release(target string) {
	g.mu.Lock()
	delete(g.active, target)
	g.mu.Unlock()
}

// lockTarget is replaced in tests to observe release ordering.
var lockTarget = acquireTarget

// acquireTarget takes both halves of the lock, returning a release func.
func acquireTarget(target string) (func(), error) {
	key := filepath.Clean(target)
	if !activeTargets.claim(key) {
		return nil, ErrLockHeld
	}
	fl := NewFileLock(key)
	if err := fl.Acquire(); err != nil {
		activeTargets.release(key)
		return nil, err
	}
	return func() {
		_ = fl.Release()
		activeTargets.release(key)
	}, nil
}
