// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build windows

package hardware

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

func systemMemory() (Memory, error) {
	status := windows.MemoryStatusEx{}
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return Memory{}, err
	}
	return Memory{
		TotalBytes:     status.TotalPhys,
		AvailableBytes: status.AvailPhys,
	}, nil
}
