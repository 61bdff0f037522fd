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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianRuntime/cmd/aleutianrt/config"
)

// --- Global flags ---
var (
	configPath string
	jsonOutput bool
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "aleutianrt",
		Short: "Provision and supervise the local inference service and Python runtime",
		Long: `aleutianrt finds, installs and health-checks the two local dependencies
of the Aleutian analysis app: an Ollama inference service and a Python
runtime with the analysis libraries.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: teardown,
	}

	// --- Host ---
	hardwareCmd = &cobra.Command{
		Use:   "hardware",
		Short: "Show memory, CPU count and the recommended model",
		Args:  cobra.NoArgs,
		RunE:  runHardware,
	}
	catalogCmd = &cobra.Command{
		Use:   "catalog",
		Short: "List the installable models",
		Args:  cobra.NoArgs,
		RunE:  runCatalog,
	}
	statusCmd = &cobra.Command{
		Use:       "status [service|runtime]",
		Short:     "Resolve where each dependency comes from and whether it is ready",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"service", "runtime"},
		RunE:      runStatus,
	}

	// --- Inference service ---
	serviceCmd = &cobra.Command{
		Use:   "service",
		Short: "Manage the inference service",
	}
	serviceStartCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the inference service if it is not already responding",
		Args:  cobra.NoArgs,
		RunE:  runServiceStart,
	}
	serviceStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check whether the inference service responds",
		Args:  cobra.NoArgs,
		RunE:  runServiceStatus,
	}
	servicePrepareCmd = &cobra.Command{
		Use:   "prepare",
		Short: "Mark the bundled service binary executable",
		Args:  cobra.NoArgs,
		RunE:  runServicePrepare,
	}

	// --- Models ---
	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "Manage models held by the inference service",
	}
	modelsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List installed models",
		Args:  cobra.NoArgs,
		RunE:  runModelsList,
	}
	modelsPullCmd = &cobra.Command{
		Use:   "pull [name]",
		Short: "Download a model into the inference service",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelsPull,
	}
	queryCmd = &cobra.Command{
		Use:   "query [model] [prompt...]",
		Short: "Send one prompt to a model and print the response",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runQuery,
	}

	// --- Python runtime ---
	runtimeCmd = &cobra.Command{
		Use:   "runtime",
		Short: "Manage the Python analysis runtime",
	}
	runtimePathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the resolved Python executable",
		Args:  cobra.NoArgs,
		RunE:  runRuntimePath,
	}
	runtimeSetupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Download and install the bundled Python runtime and libraries",
		Args:  cobra.NoArgs,
		RunE:  runRuntimeSetup,
	}

	// --- API ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the provisioning API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
)

var (
	watchStatus bool
	assumeYes   bool
	serveAddr   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the runtime configuration file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr as well as the log file")

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "re-resolve whenever the resources directory changes")
	runtimeSetupCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "install without asking for confirmation")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	serviceCmd.AddCommand(serviceStartCmd, serviceStatusCmd, servicePrepareCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsPullCmd)
	runtimeCmd.AddCommand(runtimePathCmd, runtimeSetupCmd)

	rootCmd.AddCommand(
		hardwareCmd,
		catalogCmd,
		statusCmd,
		serviceCmd,
		modelsCmd,
		queryCmd,
		runtimeCmd,
		serveCmd,
	)
}
