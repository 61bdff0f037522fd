// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"runtime/debug"
)

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	Value any
	Stack string
}

// Error renders the panic as an error message.
func (p PanicInfo) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// SafeGo runs fn in a goroutine and hands any panic to onPanic.
//
// # Description
//
// The installation pipeline runs on its own goroutine and must always emit
// a terminal event. SafeGo turns a panic inside a step into a callback so
// the runner can still close its stream with a failure.
//
// # Example
//
//	util.SafeGo(func() { r.execute(ctx) }, func(p util.PanicInfo) {
//	    r.fail(ctx, p)
//	})
func SafeGo(fn func(), onPanic func(PanicInfo)) {
	go func() {
		defer RecoverPanic(onPanic)()
		fn()
	}()
}

// RecoverPanic returns a deferred function that recovers and reports.
func RecoverPanic(onPanic func(PanicInfo)) func() {
	return func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(PanicInfo{Value: r, Stack: string(debug.Stack())})
			}
		}
	}
}
