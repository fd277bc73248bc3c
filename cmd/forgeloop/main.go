// Package main provides the forgeloop binary entry point.
// Forgeloop is an unattended generate/evaluate/commit loop: it asks a ranked
// set of generation backends for file changes, evaluates the result, and
// commits passes or rolls back failures until a stop condition fires.
package main

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgeloop/forgeloop/config"
	"github.com/forgeloop/forgeloop/llm"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "forgeloop"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   appName,
		Short: "Unattended generate/evaluate/commit loop",
		Long: `Forgeloop turns a short project brief into a working web artifact by
iterating unattended: generate file changes with a ranked set of backends,
evaluate the workspace, commit what passes, roll back what fails.

Backends are tried best-first; rate-limited backends cool down and recover
automatically. Every iteration is snapshotted, logged to eval_log.md, and
committed with an iteration tag.`,
	}

	cmd.AddCommand(runCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "providers",
		Short: "List registered generation providers",
		Run: func(cmd *cobra.Command, _ []string) {
			names := llm.ListProviders()
			sort.Strings(names)
			for _, name := range names {
				cmd.Println(name)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default user config file if it does not exist",
		RunE: func(_ *cobra.Command, _ []string) error {
			return config.NewLoader(nil).EnsureUserConfig()
		},
	})
	return cmd
}

func runCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the iteration loop",
		RunE: func(_ *cobra.Command, _ []string) error {
			if opts.briefPath == "" && opts.projectDir == "" {
				return fmt.Errorf("either --brief or --project is required")
			}
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.briefPath, "brief", "b", "", "Brief file to bootstrap a new project from")
	cmd.Flags().StringVarP(&opts.projectDir, "project", "p", "", "Existing project directory to resume")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 0, "Override max iterations")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "Override wait between iterations")
	cmd.Flags().IntVar(&opts.maxMinutes, "max-minutes", 0, "Override max wall-clock minutes")
	cmd.Flags().StringVar(&opts.remoteURL, "remote", "", "Git remote URL for pushes")

	return cmd
}

type runOptions struct {
	briefPath  string
	projectDir string
	configPath string
	logLevel   string
	iterations int
	interval   time.Duration
	maxMinutes int
	remoteURL  string
}
