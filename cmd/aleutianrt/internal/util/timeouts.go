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

import "time"

// Bounds for every suspension point that talks to the inference service or
// runs an external process. Downloads and library installs are not listed:
// they are unbounded and end only through context cancellation.
const (
	// StatusTimeout bounds liveness probes against the inference service.
	StatusTimeout = 5 * time.Second

	// ListTimeout bounds model listing.
	ListTimeout = 10 * time.Second

	// GenerateTimeout bounds a single non-streaming completion.
	GenerateTimeout = 30 * time.Second

	// InspectTimeout bounds the runtime diagnostic script. Importing pandas
	// and scipy on a cold disk can take several seconds.
	InspectTimeout = 30 * time.Second

	// VersionTimeout bounds `<binary> --version` probes.
	VersionTimeout = 5 * time.Second

	// ServiceGracePeriod is the wait between spawning the service and
	// re-checking its health.
	ServiceGracePeriod = 3 * time.Second

	// MinHTTPTimeout prevents a zero timeout from meaning "wait forever".
	MinHTTPTimeout = 1 * time.Second
)

// TimeoutConfig groups the tunable bounds.
//
// Zero fields fall back to the package defaults via Validated.
type TimeoutConfig struct {
	Status      time.Duration `yaml:"status"`
	List        time.Duration `yaml:"list"`
	Generate    time.Duration `yaml:"generate"`
	Inspect     time.Duration `yaml:"inspect"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// NewTimeoutConfig returns the default bounds.
func NewTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Status:      StatusTimeout,
		List:        ListTimeout,
		Generate:    GenerateTimeout,
		Inspect:     InspectTimeout,
		GracePeriod: ServiceGracePeriod,
	}
}

// Validated returns a copy with defaults applied and HTTP minimums enforced.
// A zero GracePeriod means the default, never "no wait".
func (c TimeoutConfig) Validated() TimeoutConfig {
	return TimeoutConfig{
		Status:      EnforceMinTimeout(EnforceDefaultTimeout(c.Status, StatusTimeout), MinHTTPTimeout),
		List:        EnforceMinTimeout(EnforceDefaultTimeout(c.List, ListTimeout), MinHTTPTimeout),
		Generate:    EnforceMinTimeout(EnforceDefaultTimeout(c.Generate, GenerateTimeout), MinHTTPTimeout),
		Inspect:     EnforceDefaultTimeout(c.Inspect, InspectTimeout),
		GracePeriod: EnforceDefaultTimeout(c.GracePeriod, ServiceGracePeriod),
	}
}

// EnforceMinTimeout returns minimum if requested is non-positive or smaller.
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns defaultVal if requested is zero or negative.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
