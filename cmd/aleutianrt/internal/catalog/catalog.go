// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the fixed set of models the application offers.
package catalog

import "strings"

// Model names referenced by the hardware recommendation.
const (
	TinyLlama  = "tinyllama"
	Phi3Mini   = "phi3:mini"
	BioMistral = "biomistral:7b"
)

// Entry describes one installable model.
type Entry struct {
	Name             string  `json:"name"`
	SizeGB           float64 `json:"size_gb"`
	Description      string  `json:"description"`
	RecommendedRAMGB float64 `json:"recommended_ram_gb"`
	IsMedical        bool    `json:"is_medical"`
}

// entries is ordered smallest first. Never hand this slice out directly.
var entries = []Entry{
	{
		Name:             TinyLlama,
		SizeGB:           1.1,
		Description:      "TinyLlama 1.1B - Fast and lightweight model for basic analysis",
		RecommendedRAMGB: 4.0,
	},
	{
		Name:             Phi3Mini,
		SizeGB:           2.2,
		Description:      "Phi-3 Mini - Balanced performance for general analysis",
		RecommendedRAMGB: 6.0,
	},
	{
		Name:             BioMistral,
		SizeGB:           4.1,
		Description:      "BioMistral 7B - Specialized medical research model",
		RecommendedRAMGB: 8.0,
		IsMedical:        true,
	},
}

// Entries returns a copy of the catalog in display order.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Lookup finds an entry by name. A missing ":latest" tag is tolerated.
func Lookup(name string) (Entry, bool) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ":latest")
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
