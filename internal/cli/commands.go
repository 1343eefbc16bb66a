package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"memopipe/internal/config"
	"memopipe/internal/fsutil"
	"memopipe/internal/pipefile"
	"memopipe/internal/server"
	"memopipe/internal/trace"
)

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline, skipping tasks whose stored result is current",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				var (
					tf   *traceFile
					sink trace.Sink
				)
				if s.cfg.Run.Trace != "" {
					path, err := resolveUnderWorkspace(a.workspace, s.cfg.Run.Trace)
					if err != nil {
						return err
					}
					if tf, err = newTraceFile(path); err != nil {
						return fmt.Errorf("trace: %w", err)
					}
					sink = tf.recorder
				}

				p, err := s.pipeline(sink)
				if err != nil {
					return err
				}
				rep, runErr := p.RunPipeline(cmd.Context())
				if tf != nil {
					if err := tf.Finalize(p.Graph().Hash().String()); err != nil {
						s.logger.Warn().Err(err).Str("path", tf.path).Msg("could not write trace")
					}
				}
				if rep != nil {
					if a.json() {
						if err := printJSON(cmd.OutOrStdout(), toReportJSON(rep)); err != nil {
							return err
						}
					} else {
						renderReport(cmd.OutOrStdout(), rep)
					}
				}
				if runErr != nil {
					return runErr
				}
				if failed := rep.Failed(); len(failed) > 0 {
					return &TasksFailedError{Failed: failed}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntP("concurrency", "j", 0, "worker count; 0 runs serially")
	cmd.Flags().String("trace", "", "write the execution trace to this file")
	_ = a.v.BindPFlag("run.concurrency", cmd.Flags().Lookup("concurrency"))
	_ = a.v.BindPFlag("run.trace", cmd.Flags().Lookup("trace"))
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which tasks the next run would skip, without computing anything",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				plan, err := p.Plan(cmd.Context())
				if err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), plan)
				}
				renderPlan(cmd.OutOrStdout(), plan)
				return nil
			})
		},
	}
}

func (a *app) graphCmd() *cobra.Command {
	var dot bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency edges",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				switch {
				case dot:
					_, err = fmt.Fprint(cmd.OutOrStdout(), p.DOT())
					return err
				case a.json():
					return printJSON(cmd.OutOrStdout(), p.Visualize())
				}
				renderEdges(cmd.OutOrStdout(), p.Visualize())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "render Graphviz DOT")
	return cmd
}

func (a *app) manifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Describe every registered task",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				m := p.Manifest()
				if a.json() {
					return printJSON(cmd.OutOrStdout(), m)
				}
				order := make([]string, 0, len(m))
				for _, n := range p.Graph().Nodes() {
					order = append(order, n.Name)
				}
				renderManifest(cmd.OutOrStdout(), order, m)
				return nil
			})
		},
	}
}

func (a *app) metadataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metadata",
		Short: "Show stored record metadata",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				md, err := p.Metadata(cmd.Context())
				if err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), md)
				}
				renderMetadata(cmd.OutOrStdout(), md)
				return nil
			})
		},
	}
}

func (a *app) outputCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "output TASK",
		Short: "Print the stored output of a task",
		Args:  positional(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				out, current, err := p.Output(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !current {
					s.logger.Warn().Str("task", args[0]).Msg("stored output is stale; run the pipeline to refresh it")
				}
				if text, ok := out.(string); ok && !a.json() {
					_, err = fmt.Fprint(cmd.OutOrStdout(), text)
					if err == nil && !strings.HasSuffix(text, "\n") {
						_, err = fmt.Fprintln(cmd.OutOrStdout())
					}
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
}

func (a *app) invalidateCmd() *cobra.Command {
	var downstream bool
	cmd := &cobra.Command{
		Use:   "invalidate TASK...",
		Short: "Delete stored results so the next run recomputes them",
		Args:  positional(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				names := args
				if downstream {
					names = expandDownstream(args, p.Graph().Downstream)
				}
				if err := p.Invalidate(cmd.Context(), names...); err != nil {
					return err
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string][]string{"invalidated": names})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", strings.Join(names, ", "))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&downstream, "downstream", false, "also invalidate every task downstream")
	return cmd
}

// expandDownstream appends each name's downstream closure, without
// duplicates, keeping first-seen order.
func expandDownstream(names []string, downstream func(string) []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(n string) {
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, n := range names {
		add(n)
		for _, d := range downstream(n) {
			add(d)
		}
	}
	return out
}

func (a *app) pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete stored results of tasks no longer in the pipeline",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				removed, err := p.Prune(cmd.Context())
				if err != nil {
					return err
				}
				if removed == nil {
					removed = []string{}
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), map[string][]string{"removed": removed})
				}
				if len(removed) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", strings.Join(removed, ", "))
				return nil
			})
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs, newest first",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return invalidInvocationf("--limit must be >= 0")
			}
			return a.withSession(cmd, func(s *session) error {
				runs, err := s.history.List()
				if err != nil {
					return err
				}
				if limit > 0 && len(runs) > limit {
					runs = runs[:limit]
				}
				if a.json() {
					return printJSON(cmd.OutOrStdout(), runs)
				}
				renderHistory(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show; 0 shows all")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only inspection API",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(s *session) error {
				p, err := s.pipeline(nil)
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Pipeline: p,
					History:  s.history,
					Auth:     server.AuthConfig{JWTSecret: s.cfg.Server.JWTSecret},
					Logger:   s.logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-cmd.Context().Done()
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(ctx)
				}()
				s.logger.Info().Str("addr", s.cfg.Server.Addr).Bool("auth", s.cfg.Server.JWTSecret != "").Msg("serving memopipe API (OpenAPI at /openapi.json, docs at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from memopipe.yml)")
	_ = a.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Show or create memopipe.yml"}
	cfg.AddCommand(a.configShowCmd())
	cfg.AddCommand(a.configInitCmd())
	return cfg
}

func (a *app) configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(a.workspace, a.v)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret != "" {
				cfg.Server.JWTSecret = "********"
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

func (a *app) configInitCmd() *cobra.Command {
	var force, example bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default memopipe.yml",
		Args:  positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(a.workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return invalidInvocationf("%s already exists (use --force to overwrite)", path)
			}
			if err := fsutil.WriteFileAtomic(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)

			if !example {
				return nil
			}
			cfg, err := config.LoadOptional(a.workspace)
			if err != nil {
				return &ConfigError{Err: err}
			}
			pipePath := cfg.PipelinePath(a.workspace)
			if _, err := os.Stat(pipePath); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "kept existing %s\n", pipePath)
				return nil
			}
			if err := fsutil.WriteFileAtomic(pipePath, []byte(pipefile.Example), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", pipePath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing memopipe.yml")
	cmd.Flags().BoolVar(&example, "example", false, "also write an example pipeline.yml")
	return cmd
}
