// Package cmd implements the shmkv CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leonardcser/shmkv/internal/cache"
	"github.com/leonardcser/shmkv/internal/config"
	"github.com/leonardcser/shmkv/internal/engine"
	"github.com/leonardcser/shmkv/internal/logger"
	"github.com/leonardcser/shmkv/internal/sysutil"
)

// Version is set at build time
var Version = "0.1.0"

// raiseFileLimit is replaced in tests.
var raiseFileLimit = sysutil.RaiseFileLimit

var (
	okFmt   = color.New(color.FgGreen).SprintFunc()
	errFmt  = color.New(color.FgRed, color.Bold).SprintFunc()
	hintFmt = color.New(color.FgYellow).SprintFunc()
)

// app is the state shared by one invocation's commands.
type app struct {
	configPath   string
	socketPath   string
	outputFormat string

	cfg    *config.Config
	store  cache.Store
	engine *engine.Engine // nil when talking to a daemon
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	if path := os.Getenv("SHMKV_LOG"); path != "" {
		if err := logger.Init(path); err == nil {
			defer logger.Close()
		}
	}

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		ce := classify(err)
		fmt.Fprintf(stderr, "%s %s\n", errFmt("Error:"), ce.Message)
		if ce.Hint != "" {
			fmt.Fprintf(stderr, "%s %s\n", hintFmt("Hint:"), ce.Hint)
		}
		return ce.ExitCode
	}
	return ExitSuccess
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "shmkv",
		Short: "Shared-memory key-value store",
		Long: `shmkv reads and writes entries of a persistent key-value store kept in
POSIX shared memory. Each key lives in its own segment under /dev/shm and
survives the process that wrote it until it is removed, expires or the
host reboots.

Use --socket to go through a running shmkv-server daemon instead of
opening the shared-memory directory directly.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip store initialization for completion commands
			if cmd.Name() == "completion" || cmd.Name() == "help" {
				return nil
			}
			return a.open(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("SHMKV_CONFIG"), "Config file (YAML)")
	root.PersistentFlags().StringVar(&a.socketPath, "socket", "", "Use the daemon listening on this socket")
	root.PersistentFlags().StringVarP(&a.outputFormat, "output", "o", "table", "Output format: table, json, yaml")

	root.AddCommand(
		newGetCmd(a),
		newPutCmd(a),
		newRmCmd(a),
		newKeysCmd(a),
		newPurgeCmd(a),
		newStatsCmd(a),
		newSnapshotCmd(a),
		newCompletionCmd(root),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	switch a.outputFormat {
	case "table", "json", "yaml":
	default:
		return &CLIError{
			Code:     cache.CodeBadRequest,
			Message:  fmt.Sprintf("unknown output format %q", a.outputFormat),
			Hint:     "Use one of: table, json, yaml",
			ExitCode: ExitUsage,
		}
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	a.cfg = cfg

	if _, err := raiseFileLimit(cfg.FDLimit); err != nil {
		logger.L().Warnw("raising open file limit", "error", err)
	}

	if a.socketPath != "" {
		client := cache.NewClient(a.socketPath).WithTimeout(time.Duration(cfg.ClientTimeout))
		if err := client.Ping(); err != nil {
			return &CLIError{
				Code:     "CONNECTION_FAILED",
				Message:  fmt.Sprintf("cannot reach daemon at %s: %v", a.socketPath, err),
				Hint:     "Start it with 'shmkv-server'",
				ExitCode: ExitGeneral,
			}
		}
		a.store = client
		return nil
	}

	e, err := cfg.Open(logger.L())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.engine, a.store = e, e
	return nil
}

// render writes data as JSON or YAML, or calls table for the default
// format.
func (a *app) render(w io.Writer, data any, table func() error) error {
	switch a.outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		_, err = w.Write(out)
		return err
	default:
		return table()
	}
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for shmkv.

To load completions:

Bash:
  source <(shmkv completion bash)

Zsh:
  source <(shmkv completion zsh)

Fish:
  shmkv completion fish > ~/.config/fish/completions/shmkv.fish

PowerShell:
  shmkv completion powershell | Out-String | Invoke-Expression`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unknown shell: %s", args[0])
			}
		},
	}
}
