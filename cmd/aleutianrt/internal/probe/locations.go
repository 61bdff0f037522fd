// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package probe

import (
	"os"
	"path/filepath"
	"runtime"
)

// Candidates lists discovery candidates for one dependency, per origin.
// Each list is ordered; Locate picks the first hit.
type Candidates struct {
	Bundled []string
	System  []string
}

// Layout describes where bundled artifacts live under the resources dir.
//
// The layout is the only on-disk contract of the engine:
//
//	<resources>/ollama/ollama[.exe]
//	<resources>/python/python.exe        (windows)
//	<resources>/python/bin/python3       (everything else)
type Layout struct {
	// ResourcesDir is the application resources directory.
	ResourcesDir string

	// GOOS selects platform names. Empty means runtime.GOOS.
	GOOS string

	// ServiceBinary is the service executable's base name, "ollama" by default.
	ServiceBinary string
}

func (l Layout) goos() string {
	if l.GOOS == "" {
		return runtime.GOOS
	}
	return l.GOOS
}

func (l Layout) serviceName() string {
	if l.ServiceBinary == "" {
		return "ollama"
	}
	return l.ServiceBinary
}

// BundledServicePath returns <resources>/ollama/ollama[.exe].
func (l Layout) BundledServicePath() string {
	name := l.serviceName()
	if l.goos() == "windows" {
		name += ".exe"
	}
	return filepath.Join(l.ResourcesDir, l.serviceName(), name)
}

// RuntimeDir returns the directory the installation pipeline writes into.
func (l Layout) RuntimeDir() string {
	return filepath.Join(l.ResourcesDir, "python")
}

// RuntimeExecutable returns the interpreter path inside a runtime directory.
func (l Layout) RuntimeExecutable(runtimeDir string) string {
	if l.goos() == "windows" {
		return filepath.Join(runtimeDir, "python.exe")
	}
	return filepath.Join(runtimeDir, "bin", "python3")
}

// serviceSearchPaths are common install locations that may not be on PATH,
// e.g. when the CLI is launched from a desktop shortcut.
var serviceSearchPaths = map[string][]string{
	"darwin": {
		"/usr/local/bin/ollama",
		"/opt/homebrew/bin/ollama",
		"/Applications/Ollama.app/Contents/Resources/ollama",
	},
	"linux": {
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/snap/bin/ollama",
	},
	"windows": {
		`C:\Program Files\Ollama\ollama.exe`,
		`$LOCALAPPDATA\Programs\Ollama\ollama.exe`,
	},
}

// ServiceCandidates returns discovery candidates for the inference service.
func (l Layout) ServiceCandidates() Candidates {
	system := []string{l.serviceName()}
	for _, p := range serviceSearchPaths[l.goos()] {
		system = append(system, os.ExpandEnv(p))
	}
	return Candidates{
		Bundled: []string{l.BundledServicePath()},
		System:  system,
	}
}

// RuntimeCandidates returns discovery candidates for the Python runtime.
//
// The bundled list also checks next to the running executable so a
// portable install works without a configured resources directory.
func (l Layout) RuntimeCandidates() Candidates {
	bundled := []string{l.RuntimeExecutable(l.RuntimeDir())}
	if exe, err := os.Executable(); err == nil {
		alongside := l.RuntimeExecutable(filepath.Join(filepath.Dir(exe), "python"))
		if alongside != bundled[0] {
			bundled = append(bundled, alongside)
		}
	}

	system := []string{"python3", "python"}
	if l.goos() == "windows" {
		system = []string{"python", "py", "python3"}
	}
	return Candidates{Bundled: bundled, System: system}
}
