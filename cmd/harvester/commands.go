package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-filemeta-harvester/internal/app"
	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/observability"
	"github.com/tbourn/go-filemeta-harvester/internal/oai"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
	"github.com/tbourn/go-filemeta-harvester/internal/services"
)

// withApp sets up tracing, builds the App and closes both after fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) (err error) {
	shutdown, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = errors.Join(err, shutdown(sctx))
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close()) }()

	return fn(ctx, a)
}

type selection struct {
	endpoint string
	all      bool
}

func (s *selection) bind(cmd *cobra.Command, allowAll bool) {
	cmd.Flags().StringVarP(&s.endpoint, "endpoint", "e", "", "endpoint id from the endpoints file")
	if allowAll {
		cmd.Flags().BoolVar(&s.all, "all", false, "every configured endpoint")
		cmd.MarkFlagsMutuallyExclusive("endpoint", "all")
		cmd.MarkFlagsOneRequired("endpoint", "all")
		return
	}
	_ = cmd.MarkFlagRequired("endpoint")
}

// resolve returns the selected endpoints in configuration order.
func (s *selection) resolve(a *app.App) ([]domain.Endpoint, error) {
	if s.all {
		return a.Runner.Endpoints(), nil
	}
	ep, err := a.Runner.Endpoint(strings.TrimSpace(s.endpoint))
	if err != nil {
		return nil, err
	}
	return []domain.Endpoint{ep}, nil
}

func newCheckCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify endpoints answer Identify and advertise their metadata prefix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				eps, err := sel.resolve(a)
				if err != nil {
					return err
				}
				type result struct {
					EndpointID string        `json:"endpoint_id" yaml:"endpoint_id"`
					Identity   *oai.Identity `json:"identity,omitempty" yaml:"identity,omitempty"`
					Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
				}
				var (
					out  []result
					rows [][]string
					errs []error
				)
				for _, ep := range eps {
					id, err := a.Service.CheckEndpoint(ctx, ep)
					r := result{EndpointID: ep.ID, Identity: id}
					row := []string{ep.ID, ep.MetadataPrefix, "-", "-", "ok"}
					if err != nil {
						errs = append(errs, err)
						r.Error = err.Error()
						row[4] = err.Error()
					} else {
						row[2], row[3] = id.RepositoryName, id.Granularity
					}
					out = append(out, r)
					rows = append(rows, row)
				}
				if err := printOutput(cmd.OutOrStdout(), out, []string{"endpoint", "prefix", "repository", "granularity", "status"}, rows); err != nil {
					return err
				}
				return errors.Join(errs...)
			})
		},
	}
	sel.bind(cmd, true)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the tracking, file and raw metadata tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Service.EnsureSchema(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func newFetchCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "List new identifiers since the watermark and record them as pending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				eps, err := sel.resolve(a)
				if err != nil {
					return err
				}
				if err := a.Service.EnsureSchema(ctx); err != nil {
					return err
				}
				rep, err := a.Service.FetchNewIdentifiers(ctx, eps[0])
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), rep,
					[]string{"endpoint", "from", "listed", "unique", "deleted", "inserted"},
					[][]string{{rep.EndpointID, orDash(rep.From), num(rep.Listed), num(rep.Unique), num(rep.Deleted), num(rep.Inserted)}})
			})
		},
	}
	sel.bind(cmd, false)
	return cmd
}

func newProcessCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Resolve and store every pending identifier of an endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				eps, err := sel.resolve(a)
				if err != nil {
					return err
				}
				if err := a.Service.EnsureSchema(ctx); err != nil {
					return err
				}
				rep, err := a.Service.ProcessPending(ctx, eps[0].ID)
				if rep != nil {
					perr := printOutput(cmd.OutOrStdout(), rep,
						[]string{"endpoint", "pending", "done", "failed", "unmarked", "files"},
						[][]string{{rep.EndpointID, num(rep.Pending), num(rep.Done), num(rep.Failed), num(rep.Unmarked), num(rep.Files)}})
					err = errors.Join(err, perr)
				}
				return err
			})
		},
	}
	sel.bind(cmd, false)
	return cmd
}

func newRunCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full harvest: check, process leftovers, fetch, process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var (
					reps []*services.RunReport
					err  error
				)
				if sel.all {
					reps, err = a.Runner.RunAll(ctx)
				} else {
					var rep *services.RunReport
					rep, err = a.Runner.RunSync(ctx, strings.TrimSpace(sel.endpoint))
					reps = []*services.RunReport{rep}
				}
				rows := make([][]string, 0, len(reps))
				printed := make([]*services.RunReport, 0, len(reps))
				for _, r := range reps {
					if r == nil {
						continue
					}
					printed = append(printed, r)
					rows = append(rows, []string{
						r.EndpointID, num(r.Fetched), num(r.Done), num(r.Failed),
						r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
					})
				}
				perr := printOutput(cmd.OutOrStdout(), printed, []string{"endpoint", "fetched", "done", "failed", "duration"}, rows)
				return errors.Join(err, perr)
			})
		},
	}
	sel.bind(cmd, true)
	return cmd
}

func newStatsCmd() *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pending/done/error counts and the watermark per endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				eps, err := sel.resolve(a)
				if err != nil {
					return err
				}
				out := make([]*repo.HarvestStats, 0, len(eps))
				rows := make([][]string, 0, len(eps))
				for _, ep := range eps {
					st, err := a.Service.Stats(ctx, ep.ID)
					if err != nil {
						return fmt.Errorf("stats %s: %w", ep.ID, err)
					}
					wm := "-"
					if st.Watermark != nil {
						wm = st.Watermark.UTC().Format(time.RFC3339)
					}
					out = append(out, st)
					rows = append(rows, []string{ep.ID, num(st.Pending), num(st.Done), num(st.Error), num(st.Total), wm})
				}
				return printOutput(cmd.OutOrStdout(), out, []string{"endpoint", "pending", "done", "error", "total", "watermark"}, rows)
			})
		},
	}
	sel.bind(cmd, true)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
