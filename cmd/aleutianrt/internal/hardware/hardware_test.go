// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hardware

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/catalog"
)

func fixedDetector(totalGB, availGB float64, err error) *Detector {
	return &Detector{
		ReadMemory: func() (Memory, error) {
			return Memory{
				TotalBytes:     uint64(totalGB * bytesPerGB),
				AvailableBytes: uint64(availGB * bytesPerGB),
			}, err
		},
		NumCPU: func() int { return 8 },
		GOOS:   "linux",
	}
}

func TestDetect_FourGigabytes(t *testing.T) {
	p, err := fixedDetector(4.0, 2.0, nil).Detect()
	require.NoError(t, err)

	assert.Equal(t, catalog.TinyLlama, p.RecommendedModel)
	assert.False(t, p.CanRun7B)
	assert.False(t, p.CanRunMini)
	assert.InDelta(t, 4.0, p.TotalMemoryGB, 0.001)
	assert.InDelta(t, 2.0, p.AvailableMemoryGB, 0.001)
	assert.Equal(t, 8, p.CPUCount)
	assert.Equal(t, "Linux", p.OS)
}

func TestDetect_Thresholds(t *testing.T) {
	tests := []struct {
		totalGB    float64
		model      string
		canRun7B   bool
		canRunMini bool
	}{
		{5.9, catalog.TinyLlama, false, false},
		{6.0, catalog.Phi3Mini, false, true},
		{7.99, catalog.Phi3Mini, false, true},
		{8.0, catalog.BioMistral, true, true},
		{64, catalog.BioMistral, true, true},
	}
	for _, tt := range tests {
		p, err := fixedDetector(tt.totalGB, 1, nil).Detect()
		require.NoError(t, err)
		assert.Equal(t, tt.model, p.RecommendedModel, "total %.2f", tt.totalGB)
		assert.Equal(t, tt.canRun7B, p.CanRun7B, "total %.2f", tt.totalGB)
		assert.Equal(t, tt.canRunMini, p.CanRunMini, "total %.2f", tt.totalGB)
	}
}

func TestDetect_MemoryErrorKeepsPartialProfile(t *testing.T) {
	p, err := fixedDetector(0, 0, errors.New("sysinfo: permission denied")).Detect()

	assert.Error(t, err)
	assert.Equal(t, 8, p.CPUCount)
	assert.Equal(t, catalog.TinyLlama, p.RecommendedModel)
}

func TestRecommend_Monotonic(t *testing.T) {
	rank := map[string]int{}
	for i, e := range catalog.Entries() {
		rank[e.Name] = i
	}

	prev := -1
	for gb := 0.0; gb <= 32; gb += 0.25 {
		r, ok := rank[Recommend(gb)]
		require.True(t, ok, "recommendation must be a catalog entry")
		assert.GreaterOrEqual(t, r, prev, "at %.2f GB", gb)
		prev = r
	}
}

func TestOSName(t *testing.T) {
	assert.Equal(t, "Windows", OSName("windows"))
	assert.Equal(t, "macOS", OSName("darwin"))
	assert.Equal(t, "Linux", OSName("linux"))
	assert.Equal(t, "Unknown", OSName("plan9"))
}

func TestDetect_Live(t *testing.T) {
	p, err := Detect()
	require.NoError(t, err)
	assert.Positive(t, p.CPUCount)
	assert.NotEmpty(t, p.RecommendedModel)
}
