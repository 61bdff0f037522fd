// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package hardware

import (
	"bufio"
	"bytes"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

func systemMemory() (Memory, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Memory{}, err
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}

	mem := Memory{
		TotalBytes:     uint64(info.Totalram) * unit,
		AvailableBytes: uint64(info.Freeram) * unit,
	}
	// Freeram excludes reclaimable page cache; MemAvailable is what free(1) shows.
	if avail, ok := memAvailable("/proc/meminfo"); ok {
		mem.AvailableBytes = avail
	}
	return mem, nil
}

// memAvailable reads the MemAvailable line (in kB) from a meminfo file.
func memAvailable(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := bytes.Fields(sc.Bytes())
		if len(fields) < 2 || string(fields[0]) != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseUint(string(fields[1]), 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
