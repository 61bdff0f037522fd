// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	body     string
	mode     int64
	typeflag byte
	link     string
}

func writeTarGz(t *testing.T, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Typeflag: e.typeflag, Linkname: e.link}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractTarGz_StripsRoot(t *testing.T) {
	archive := writeTarGz(t, []tarEntry{
		{name: "python/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "python/bin/python3.11", body: "#!elf", mode: 0o755},
		{name: "python/lib/python3.11/os.py", body: "import sys"},
	})
	dest := t.TempDir()

	require.NoError(t, ExtractTarGz(archive, dest, true))

	got, err := os.ReadFile(filepath.Join(dest, "bin", "python3.11"))
	require.NoError(t, err)
	assert.Equal(t, "#!elf", string(got))
	assert.FileExists(t, filepath.Join(dest, "lib", "python3.11", "os.py"))
	assert.NoDirExists(t, filepath.Join(dest, "python"))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dest, "bin", "python3.11"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}
}

func TestExtractTarGz_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	archive := writeTarGz(t, []tarEntry{
		{name: "python/bin/python3.11", body: "#!elf", mode: 0o755},
		{name: "python/bin/python3", typeflag: tar.TypeSymlink, link: "python3.11"},
	})
	dest := t.TempDir()

	require.NoError(t, ExtractTarGz(archive, dest, true))

	target, err := os.Readlink(filepath.Join(dest, "bin", "python3"))
	require.NoError(t, err)
	assert.Equal(t, "python3.11", target)
}

func TestExtractTarGz_RejectsTraversal(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{"dot-dot path", []tarEntry{{name: "python/../../evil.sh", body: "rm -rf"}}},
		{"escaping symlink", []tarEntry{{name: "python/bin/x", typeflag: tar.TypeSymlink, link: "../../../etc/passwd"}}},
		{"absolute symlink", []tarEntry{{name: "python/bin/x", typeflag: tar.TypeSymlink, link: "/etc/passwd"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			dest := filepath.Join(parent, "out")
			err := ExtractTarGz(writeTarGz(t, tt.entries), dest, true)

			assert.Error(t, err)
			assert.NoFileExists(t, filepath.Join(parent, "evil.sh"))
		})
	}
}

func TestExtractZip(t *testing.T) {
	archive := writeZip(t, map[string]string{
		"python.exe":     "MZ",
		"python311._pth": "python311.zip\n.\n#import site\n",
		"Lib/site.py":    "pass",
	})
	dest := t.TempDir()

	require.NoError(t, ExtractZip(archive, dest))

	assert.FileExists(t, filepath.Join(dest, "python.exe"))
	assert.FileExists(t, filepath.Join(dest, "python311._pth"))
	assert.FileExists(t, filepath.Join(dest, "Lib", "site.py"))
}

func TestExtractZip_RejectsTraversal(t *testing.T) {
	parent := t.TempDir()
	archive := writeZip(t, map[string]string{"../escape.txt": "x"})

	err := ExtractZip(archive, filepath.Join(parent, "out"))

	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(parent, "escape.txt"))
}

func TestStripFirst(t *testing.T) {
	assert.Equal(t, "bin/python3", stripFirst("python/bin/python3"))
	assert.Equal(t, "bin/python3", stripFirst("./python/bin/python3"))
	assert.Equal(t, "", stripFirst("python"))
	assert.Equal(t, "", stripFirst("python/"))
}
