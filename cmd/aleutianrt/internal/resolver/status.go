// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"fmt"
	"strings"
)

// =============================================================================
// Kind
// =============================================================================

// Kind identifies one of the two managed dependency classes.
type Kind int

const (
	// InferenceService is the long-running model server process.
	InferenceService Kind = iota

	// RuntimeEnvironment is the Python interpreter with analysis libraries.
	RuntimeEnvironment
)

// Kinds lists every dependency kind in a stable order.
func Kinds() []Kind {
	return []Kind{InferenceService, RuntimeEnvironment}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case InferenceService:
		return "inference_service"
	case RuntimeEnvironment:
		return "runtime_environment"
	default:
		return "unknown"
	}
}

// ParseKind accepts wire names plus the short CLI aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inference_service", "service", "ollama":
		return InferenceService, nil
	case "runtime_environment", "runtime", "python":
		return RuntimeEnvironment, nil
	default:
		return 0, fmt.Errorf("unknown dependency kind %q (want service or runtime)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// =============================================================================
// Origin
// =============================================================================

// Origin says where a dependency was found. Higher values are preferred.
type Origin int

const (
	// OriginNone means nothing was found.
	OriginNone Origin = iota

	// OriginSystem is a copy already installed on the host.
	OriginSystem

	// OriginBundled is the copy shipped with, or installed by, the application.
	OriginBundled
)

// PreferenceOrder lists the origins that discovery walks, best first.
func PreferenceOrder() []Origin {
	return []Origin{OriginBundled, OriginSystem}
}

// String returns the wire name of the origin.
func (o Origin) String() string {
	switch o {
	case OriginBundled:
		return "bundled"
	case OriginSystem:
		return "system"
	default:
		return "none"
	}
}

// Prefers reports whether o ranks above other.
func (o Origin) Prefers(other Origin) bool {
	return o > other
}

// MarshalText implements encoding.TextMarshaler.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Origin) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bundled":
		*o = OriginBundled
	case "system":
		*o = OriginSystem
	case "none", "":
		*o = OriginNone
	default:
		return fmt.Errorf("unknown origin %q", string(b))
	}
	return nil
}

// =============================================================================
// DependencyStatus
// =============================================================================

// Capability flag names shared by both kinds.
const (
	FlagBinaryPresent     = "binary_present"
	FlagServiceResponding = "service_responding"
	FlagCoreLibraries     = "core_libraries"
	FlagVersionSupported  = "version_supported"
)

// DependencyStatus is the unified answer for one dependency kind.
//
// It is recomputed on every query. SetupRequired is true iff Available is
// false, or, for the runtime environment, the foundational libraries are
// not all present.
type DependencyStatus struct {
	Kind            Kind            `json:"kind"`
	Available       bool            `json:"available"`
	ExecutablePath  string          `json:"executable_path,omitempty"`
	Version         string          `json:"version,omitempty"`
	Origin          Origin          `json:"origin"`
	CapabilityFlags map[string]bool `json:"capability_flags"`
	SetupRequired   bool            `json:"setup_required"`

	// Degraded is set when Origin was found but failed its usability rule.
	Degraded bool `json:"degraded"`
}

// Ready is the inverse of SetupRequired, for readability at call sites.
func (s DependencyStatus) Ready() bool {
	return !s.SetupRequired
}
