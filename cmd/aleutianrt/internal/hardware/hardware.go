// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package hardware snapshots host memory and CPU and maps total memory onto
the model catalog.

Nothing is cached; every Detect call reads the host again.

# Limitations

  - GPU memory is not considered. The catalog models run on CPU.
  - On platforms without a memory reader, memory is reported as zero and
    the smallest model is recommended.
*/
package hardware

import (
	"runtime"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/catalog"
)

const bytesPerGB = 1024 * 1024 * 1024

// Memory thresholds, in GB of total memory.
const (
	ThresholdLarge = 8.0
	ThresholdMid   = 6.0
)

// Profile is a point-in-time view of the host.
type Profile struct {
	TotalMemoryGB     float64 `json:"total_memory_gb"`
	AvailableMemoryGB float64 `json:"available_memory_gb"`
	CPUCount          int     `json:"cpu_count"`
	OS                string  `json:"os"`
	RecommendedModel  string  `json:"recommended_model"`
	CanRun7B          bool    `json:"can_run_7b"`
	CanRunMini        bool    `json:"can_run_mini"`
}

// Memory is raw memory in bytes.
type Memory struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// Detector reads the host. Fields are swappable for tests.
type Detector struct {
	ReadMemory func() (Memory, error)
	NumCPU     func() int
	GOOS       string
}

// NewDetector returns a Detector wired to the running platform.
func NewDetector() *Detector {
	return &Detector{
		ReadMemory: systemMemory,
		NumCPU:     runtime.NumCPU,
		GOOS:       runtime.GOOS,
	}
}

// Detect is shorthand for NewDetector().Detect().
func Detect() (Profile, error) {
	return NewDetector().Detect()
}

// Detect builds a fresh Profile. On a memory read error the partial
// profile (CPU and OS filled in) is returned alongside the error.
func (d *Detector) Detect() (Profile, error) {
	p := Profile{
		CPUCount: d.NumCPU(),
		OS:       OSName(d.GOOS),
	}

	mem, err := d.ReadMemory()
	if err != nil {
		p.RecommendedModel = Recommend(0)
		return p, err
	}

	p.TotalMemoryGB = float64(mem.TotalBytes) / bytesPerGB
	p.AvailableMemoryGB = float64(mem.AvailableBytes) / bytesPerGB
	p.RecommendedModel = Recommend(p.TotalMemoryGB)
	p.CanRun7B = p.TotalMemoryGB >= ThresholdLarge
	p.CanRunMini = p.TotalMemoryGB >= ThresholdMid
	return p, nil
}

// Recommend picks a catalog model for the given total memory.
// It is monotonic: more memory never yields a smaller model.
func Recommend(totalGB float64) string {
	switch {
	case totalGB >= ThresholdLarge:
		return catalog.BioMistral
	case totalGB >= ThresholdMid:
		return catalog.Phi3Mini
	default:
		return catalog.TinyLlama
	}
}

// OSName maps a GOOS value to its display name.
func OSName(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "macOS"
	case "linux":
		return "Linux"
	default:
		return "Unknown"
	}
}
