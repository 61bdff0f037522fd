// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateModelName(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		wantErr bool
	}{
		// Valid names
		{"bare", "tinyllama", false},
		{"with tag", "phi3:mini", false},
		{"numeric tag", "biomistral:7b", false},
		{"namespaced", "library/llama3:8b-instruct-q4_0", false},
		{"dotted", "qwen2.5:0.5b", false},

		// Invalid names - argv and path tricks
		{"empty", "", true},
		{"flag", "--insecure", true},
		{"leading dash", "-x", true},
		{"spaces", "tiny llama", true},
		{"newline", "tinyllama\nrm", true},
		{"two tags", "a:b:c", true},
		{"trailing slash", "library/", true},
		{"shell chars", "tinyllama;ls", true},
		{"too long", strings.Repeat("a", 201), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModelName(tt.model)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModelName(%q) error = %v, wantErr %v", tt.model, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeModelName(t *testing.T) {
	got, err := SanitizeModelName("  phi3:mini \n")
	if err != nil || got != "phi3:mini" {
		t.Errorf("SanitizeModelName() = %q, %v", got, err)
	}
	if _, err := SanitizeModelName("   "); err == nil {
		t.Error("SanitizeModelName(blank) should fail")
	}
}

func TestValidateRequirement(t *testing.T) {
	tests := []struct {
		req     string
		wantErr bool
	}{
		{"pandas", false},
		{"pandas>=2.0", false},
		{"numpy==1.26.*", false},
		{"scikit-learn>=1.3,<2", false},
		{"plotly[express] >= 5.0", false},
		{"statsmodels~=0.14", false},

		{"", true},
		{"-r requirements.txt", true},
		{"--index-url=http://evil", true},
		{"pkg @ https://example.com/pkg.whl", true},
		{"pandas; python_version<'3.9'", true},
		{"git+https://github.com/x/y", true},
	}

	for _, tt := range tests {
		err := ValidateRequirement(tt.req)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRequirement(%q) error = %v, wantErr %v", tt.req, err, tt.wantErr)
		}
	}
}

func TestValidateModuleNames(t *testing.T) {
	tests := []struct {
		name    string
		modules []string
		wantErr bool
	}{
		{"all valid", []string{"pandas", "sklearn", "matplotlib.pyplot", "_private"}, false},
		{"empty slice", []string{}, false},
		{"dash", []string{"pandas", "scikit-learn"}, true},
		{"leading digit", []string{"3d"}, true},
		{"code", []string{"os;import sys"}, true},
		{"trailing dot", []string{"numpy."}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModuleNames(tt.modules)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateModuleNames(%v) error = %v, wantErr %v", tt.modules, err, tt.wantErr)
			}
		})
	}
}
