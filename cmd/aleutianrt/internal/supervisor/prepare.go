// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"fmt"
	"os"
	"runtime"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
)

// PrepareBundled makes the bundled service binary executable.
//
// Installers and archive tools do not always keep the exec bit; without
// it the spawn in EnsureRunning fails with "permission denied".
func PrepareBundled(path, serviceName string) (string, error) {
	const op = "supervisor.PrepareBundled"

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		e := failure.New(failure.KindNotFound, op, fmt.Sprintf(
			"Bundled %s binary not found. Please download and install the complete application package.", serviceName))
		e.Detail = path
		return "", e
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o755); err != nil {
			return "", failure.Wrap(err, failure.KindExternalProcessFailure, op,
				fmt.Sprintf("Failed to set permissions on bundled %s", serviceName))
		}
	}
	return fmt.Sprintf("Bundled %s is ready", serviceName), nil
}
