// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build darwin

package hardware

import (
	"golang.org/x/sys/unix"
)

func systemMemory() (Memory, error) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return Memory{}, err
	}

	mem := Memory{TotalBytes: total}
	if free, err := unix.SysctlUint32("vm.page_free_count"); err == nil {
		mem.AvailableBytes = uint64(free) * uint64(unix.Getpagesize())
	}
	return mem, nil
}
