package cli

import (
	"bytes"
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/hq/internal/builder"
	"github.com/roach88/hq/internal/cache"
	"github.com/roach88/hq/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	TTL          time.Duration
	StaleTTL     time.Duration
	Tags         []string
	Mode         string
	StaleIfError bool
	NoCache      bool
	Stream       bool
	QueryID      string
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Key   string          `json:"key,omitempty"`
	Rows  []transport.Row `json:"rows"`
	Stats *cache.Stats    `json:"stats,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <query.yaml>",
		Short: "Execute a query definition through the cache",
		Long: `Execute a YAML query definition against the configured DuckDB database.

Results are read through the configured cache provider. With the sqlite
provider results persist between runs; tags recorded with --tag can later
be invalidated with "hq cache invalidate --tag".

Example:
  hq run top-events.yaml --ttl 5m --tag events
  hq run top-events.yaml --mode network-first
  hq run big-export.yaml --stream --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "freshness window (default from config)")
	cmd.Flags().DurationVar(&opts.StaleTTL, "stale-ttl", 0, "stale-while-revalidate window (default from config)")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "invalidation tag (repeatable)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "cache mode (cache-first|network-first|no-store)")
	cmd.Flags().BoolVar(&opts.StaleIfError, "stale-if-error", false, "serve a retained result when the database fails")
	cmd.Flags().BoolVar(&opts.NoCache, "no-cache", false, "bypass the cache")
	cmd.Flags().BoolVar(&opts.Stream, "stream", false, "stream rows from the database, bypassing the cache")
	cmd.Flags().StringVar(&opts.QueryID, "query-id", "", "query ID (default a new UUIDv7)")

	return cmd
}

func runQuery(opts *RunOptions, path string, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	mode := cache.Mode(opts.Mode)
	if mode != "" && !mode.Valid() {
		return s.formatter.Fail(ExitCommandError, "invalid --mode",
			fmt.Errorf("%q is not one of %s, %s, %s", opts.Mode, cache.CacheFirst, cache.NetworkFirst, cache.NoStore))
	}

	db, err := s.database()
	if err != nil {
		return s.formatter.FailAs(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	factoryOpts := []builder.Option{builder.WithExecutor(db)}

	var ctrl *cache.Controller
	if !opts.NoCache && !opts.Stream {
		p, err := s.provider()
		if err != nil {
			return s.formatter.FailAs(ExitCommandError, ErrCodeCache, "failed to open cache", err)
		}
		ctrl = s.controller(p)
		factoryOpts = append(factoryOpts, builder.WithCache(ctrl))
	}

	def, b, err := s.buildQuery(path, factoryOpts...)
	if err != nil {
		return err
	}

	execOpts := []builder.ExecOption{builder.WithTags(def.Tags...), builder.WithTags(opts.Tags...)}
	if opts.TTL > 0 {
		execOpts = append(execOpts, builder.WithTTL(opts.TTL))
	}
	if opts.StaleTTL > 0 {
		execOpts = append(execOpts, builder.WithStaleTTL(opts.StaleTTL))
	}
	if mode != "" {
		execOpts = append(execOpts, builder.WithMode(mode))
	}
	if opts.StaleIfError {
		execOpts = append(execOpts, builder.WithStaleIfError())
	}
	if opts.QueryID != "" {
		execOpts = append(execOpts, builder.WithQueryID(opts.QueryID))
	}

	ctx := cmd.Context()
	var rows []transport.Row
	if opts.Stream {
		stream, err := b.Stream(ctx, execOpts...)
		if err != nil {
			return s.formatter.FailAs(ExitFailure, ErrCodeDatabase, "query failed", err)
		}
		rows, err = transport.ReadAll(ctx, stream)
		if err != nil {
			return s.formatter.FailAs(ExitFailure, ErrCodeDatabase, "query failed", err)
		}
	} else {
		rows, err = b.Execute(ctx, execOpts...)
		if err != nil {
			return s.formatter.FailAs(ExitFailure, ErrCodeDatabase, "query failed", err)
		}
	}

	result := RunResult{Rows: rows}
	if ctrl != nil {
		ctrl.Wait()
		stats := ctrl.Stats()
		result.Stats = &stats
		if result.Key, err = b.Key(); err != nil {
			return s.formatter.Fail(ExitFailure, "failed to derive cache key", err)
		}
		s.formatter.VerboseLog("Cache key %s (hits=%d misses=%d)", result.Key, stats.Hits, stats.Misses)
	}
	if result.Rows == nil {
		result.Rows = []transport.Row{}
	}
	return s.formatter.Success(result, formatRows(rows))
}

// formatRows renders rows as an aligned table with columns in name order.
func formatRows(rows []transport.Row) string {
	if len(rows) == 0 {
		return "(0 rows)"
	}
	var cols []string
	seen := map[string]bool{}
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	slices.Sort(cols)

	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, c)
	}
	fmt.Fprintln(tw)
	for _, r := range rows {
		for i, c := range cols {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if v, ok := r[c]; ok && v != nil {
				fmt.Fprint(tw, v)
			} else {
				fmt.Fprint(tw, "NULL")
			}
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
	fmt.Fprintf(&buf, "(%d rows)", len(rows))
	return buf.String()
}
