// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// spinner animates a single status line while a blocking call runs.
// Off a terminal it prints the message once and stays silent.
type spinner struct {
	w        io.Writer
	message  string
	animate  bool
	interval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func newSpinner(w io.Writer, message string, animate bool) *spinner {
	return &spinner{w: w, message: message, animate: animate, interval: 80 * time.Millisecond}
}

func (s *spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	if !s.animate {
		fmt.Fprintf(s.w, "%s...\n", s.message)
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for frame := 0; ; frame = (frame + 1) % len(spinnerFrames) {
			fmt.Fprintf(s.w, "\r%s %s", styles.Title.Render(spinnerFrames[frame]), s.message)
			select {
			case <-s.stop:
				fmt.Fprint(s.w, "\r\033[K")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop clears the line. Safe to call more than once.
func (s *spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
}

// withSpinner runs fn behind a spinner on stderr unless JSON output was
// requested.
func withSpinner(message string, fn func() error) error {
	if jsonOutput {
		return fn()
	}
	s := newSpinner(os.Stderr, message, isTerminal(os.Stderr))
	s.Start()
	defer s.Stop()
	return fn()
}
