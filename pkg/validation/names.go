// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided names before they reach a
// subprocess argv.
//
// Model names end up in `ollama pull <name>`, requirements in
// `pip install <req>` and module names in the inspection script's argv.
// None of these go through a shell, but a value starting with "-" would be
// read as a flag, and a pip requirement can point at an arbitrary URL.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// modelNamePattern matches "name", "name:tag" and "namespace/name:tag".
// Max length: 200 characters.
var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*(/[A-Za-z0-9][A-Za-z0-9._\-]*)*(:[A-Za-z0-9][A-Za-z0-9._\-]*)?$`)

// requirementPattern matches a PEP 508 name with optional extras and
// version specifiers. URLs, markers and options are rejected.
var requirementPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*(\[[A-Za-z0-9._\-, ]+\])?\s*([<>=!~]=?\s*[A-Za-z0-9.*+!\-]+\s*,?\s*)*$`)

// modulePattern matches a dotted Python import path.
var modulePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

const maxModelName = 200

// ValidateModelName validates an inference-service model reference.
//
// Valid names:
//   - tinyllama
//   - phi3:mini
//   - library/biomistral:7b
//
// Example:
//
//	if err := validation.ValidateModelName(name); err != nil {
//	    return fmt.Errorf("invalid model: %w", err)
//	}
func ValidateModelName(name string) error {
	if name == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if len(name) > maxModelName {
		return fmt.Errorf("model name is %d characters, max %d", len(name), maxModelName)
	}
	if !modelNamePattern.MatchString(name) {
		return fmt.Errorf("invalid model name %q (letters, digits, '.', '_', '-', '/' and one ':tag')", name)
	}
	return nil
}

// SanitizeModelName trims surrounding whitespace and validates the result.
func SanitizeModelName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := ValidateModelName(name); err != nil {
		return "", err
	}
	return name, nil
}

// ValidateRequirement validates a pip requirement such as "pandas>=2.0" or
// "scikit-learn".
func ValidateRequirement(req string) error {
	if strings.TrimSpace(req) == "" {
		return fmt.Errorf("requirement cannot be empty")
	}
	if !requirementPattern.MatchString(req) {
		return fmt.Errorf("invalid requirement %q (name, optional [extras] and version specifiers only)", req)
	}
	return nil
}

// ValidateModuleName validates a Python import path such as "sklearn" or
// "matplotlib.pyplot".
func ValidateModuleName(name string) error {
	if !modulePattern.MatchString(name) {
		return fmt.Errorf("invalid module name %q", name)
	}
	return nil
}

// ValidateModuleNames validates every name and lists all that fail.
func ValidateModuleNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateModuleName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid module names: %v", invalid)
	}
	return nil
}
