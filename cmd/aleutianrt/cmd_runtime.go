// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/failure"
	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/internal/pipeline"
)

func runRuntimePath(cmd *cobra.Command, _ []string) error {
	path, err := app.service().RuntimePath(cmd.Context())
	if err != nil {
		return err
	}
	out := struct {
		Path string `json:"path"`
	}{path}
	return emit(out, func() string { return path })
}

// runRuntimeSetup runs the installation pipeline in the foreground.
//
// Without --yes it asks for confirmation on a terminal and refuses
// otherwise. Ctrl-C cancels the run through the command context; the
// partially installed runtime is left in place for the next attempt.
func runRuntimeSetup(cmd *cobra.Command, _ []string) error {
	svc := app.service()

	if !assumeYes {
		ok, err := confirmSetup(svc.Layout().RuntimeDir())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, styles.Muted.Render("Setup cancelled."))
			return nil
		}
	}

	reporter := newReporter(os.Stderr)
	run, err := svc.RunInstallationPipeline(cmd.Context(), pipeline.Options{
		OnDownloadProgress: reporter.Bytes,
	})
	if err != nil {
		reporter.Close()
		return err
	}

	for ev := range run.Events() {
		reporter.Event(ev)
	}
	reporter.Close()

	result, err := run.Wait()
	if err != nil {
		return err
	}
	return emit(result, func() string { return renderResult(result) })
}

var errConfirmationRequired = errors.New("confirmation required: rerun with --yes")

// confirmSetup asks before downloading. It never prompts off a terminal.
func confirmSetup(target string) (bool, error) {
	if jsonOutput || !isTerminal(os.Stdin) || !isTerminal(os.Stderr) {
		fe := failure.Wrap(errConfirmationRequired, failure.KindUnknown, "runtime.setup", "Setup needs confirmation")
		fe.Remediation = "Run: aleutianrt runtime setup --yes"
		return false, fe
	}

	ok := true
	err := huh.NewConfirm().
		Title("Install the Python analysis runtime?").
		Description(fmt.Sprintf("Downloads a standalone Python into %s\nand installs pandas, numpy, scipy and the optional libraries.", target)).
		Affirmative("Install").
		Negative("Cancel").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func writeJSONLine(w io.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(append(b, '\n'))
}
