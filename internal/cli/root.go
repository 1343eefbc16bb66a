// Package cli implements the memopipe command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"memopipe/internal/config"
)

// app holds per-invocation state shared by all commands.
type app struct {
	v         *viper.Viper
	workspace string
}

// Run executes the CLI with args (excluding argv[0]) and returns the semantic
// exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return ExitCode(err)
}

// NewRootCommand builds the command tree. Every call gets its own viper
// instance, so commands can be executed repeatedly in one process.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("MEMOPIPE")
	a.v.SetEnvKeyReplacer(config.EnvKeyReplacer)
	for _, key := range config.Keys() {
		_ = a.v.BindEnv(key)
	}

	root := &cobra.Command{
		Use:   "memopipe",
		Short: "Memoized DAG pipeline runner",
		Long: `memopipe runs a pipeline of named tasks in dependency order.

Each task is fingerprinted from its computation identity and its inputs.
A task whose fingerprint matches the stored result is skipped; everything
else is computed and stored. Changing one task re-runs only that task and
the tasks downstream of it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ws, err := resolveWorkspace(a.v.GetString("workspace"))
			if err != nil {
				return err
			}
			a.workspace = ws
			return loadDotEnv(ws)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.StringP("pipeline", "f", "", "pipeline definition (default from memopipe.yml)")
	pf.String("backend", "", "result store backend: file|sqlite|redis|memory")
	pf.String("log-level", "", "log level: trace|debug|info|warn|error")
	pf.String("log-format", "", "log format: console|json")
	_ = a.v.BindPFlag("workspace", pf.Lookup("workspace"))
	_ = a.v.BindPFlag("json", pf.Lookup("json"))
	_ = a.v.BindPFlag("run.pipeline", pf.Lookup("pipeline"))
	_ = a.v.BindPFlag("store.backend", pf.Lookup("backend"))
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))

	root.AddCommand(a.runCmd())
	root.AddCommand(a.statusCmd())
	root.AddCommand(a.graphCmd())
	root.AddCommand(a.manifestCmd())
	root.AddCommand(a.metadataCmd())
	root.AddCommand(a.outputCmd())
	root.AddCommand(a.invalidateCmd())
	root.AddCommand(a.pruneCmd())
	root.AddCommand(a.historyCmd())
	root.AddCommand(a.serveCmd())
	root.AddCommand(a.configCmd())
	return root
}

func (a *app) json() bool { return a.v.GetBool("json") }

// withSession opens the workspace for the duration of fn.
func (a *app) withSession(cmd *cobra.Command, fn func(s *session) error) error {
	s, err := openSession(cmd.Context(), a.workspace, a.v)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// positional wraps a cobra argument validator so violations map to the
// invalid-invocation exit code.
func positional(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return invalidInvocationf("%v", err)
		}
		return nil
	}
}
