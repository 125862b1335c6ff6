package cli

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/hq/internal/cache"
)

// CacheOptions holds flags shared by the cache subcommands.
type CacheOptions struct {
	*RootOptions
	Database  string
	Namespace string
	Tags      []string
	Keys      []string
}

// CacheStats is the JSON payload of "cache stats".
type CacheStats struct {
	Namespaces []cache.NamespaceSummary `json:"namespaces"`
	Entries    int                      `json:"entries"`
	Bytes      int64                    `json:"bytes"`
}

// NewCacheCommand creates the cache command and its subcommands. They
// operate on a SQLite cache file.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and invalidate a persistent result cache",
		Long: `Inspect and invalidate the SQLite result cache written by "hq run"
with the sqlite provider. The file defaults to cache.sqlite_path from the
configuration.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite cache (default from config)")
	cmd.PersistentFlags().StringVar(&opts.Namespace, "namespace", "", "cache namespace (default from config)")

	stats := &cobra.Command{
		Use:           "stats",
		Short:         "Show entries and sizes per namespace",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheStats(opts, cmd)
		},
	}

	clearCmd := &cobra.Command{
		Use:           "clear",
		Short:         "Remove every entry of the namespace",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheClear(opts, cmd)
		},
	}

	invalidate := &cobra.Command{
		Use:   "invalidate",
		Short: "Remove entries by tag or key",
		Long: `Remove entries by tag or by key. Keys are printed by "hq key".

Example:
  hq cache invalidate --tag events
  hq cache invalidate --key hq:v1:default:events:3f2a9c0d1e4b5a68`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheInvalidate(opts, cmd)
		},
	}
	invalidate.Flags().StringArrayVar(&opts.Tags, "tag", nil, "tag to invalidate (repeatable)")
	invalidate.Flags().StringArrayVar(&opts.Keys, "key", nil, "key to invalidate (repeatable)")

	sweep := &cobra.Command{
		Use:           "sweep",
		Short:         "Delete entries past their retention time",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCacheSweep(opts, cmd)
		},
	}

	cmd.AddCommand(stats, clearCmd, invalidate, sweep)
	return cmd
}

// openCache opens the SQLite cache named by the flags or the config.
func openCache(opts *CacheOptions, cmd *cobra.Command) (*session, *cache.SQLiteProvider, string, error) {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return nil, nil, "", err
	}
	path := opts.Database
	if path == "" {
		path = s.cfg.Cache.SQLitePath
	}
	ns := opts.Namespace
	if ns == "" {
		ns = s.cfg.Cache.Namespace
	}

	p, err := cache.OpenSQLite(path)
	if err != nil {
		s.Close()
		return nil, nil, "", s.formatter.FailAs(ExitCommandError, ErrCodeCache, "failed to open cache", err)
	}
	s.closers = append(s.closers, p)
	s.formatter.VerboseLog("Opened cache %s (namespace %s)", path, ns)
	return s, p, ns, nil
}

func runCacheStats(opts *CacheOptions, cmd *cobra.Command) error {
	s, p, _, err := openCache(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	summary, err := p.Summary(cmd.Context())
	if err != nil {
		return s.formatter.FailAs(ExitFailure, ErrCodeCache, "failed to read cache", err)
	}
	result := CacheStats{Namespaces: summary}
	if result.Namespaces == nil {
		result.Namespaces = []cache.NamespaceSummary{}
	}
	for _, ns := range summary {
		result.Entries += ns.Entries
		result.Bytes += ns.Bytes
	}

	printer := message.NewPrinter(language.English)
	var sb strings.Builder
	printer.Fprintf(&sb, "%-24s %10s %14s %12s\n", "NAMESPACE", "ENTRIES", "BYTES", "ROWS")
	for _, ns := range summary {
		printer.Fprintf(&sb, "%-24s %10d %14d %12d\n", ns.Namespace, ns.Entries, ns.Bytes, ns.Rows)
	}
	printer.Fprintf(&sb, "%d entries, %d bytes", result.Entries, result.Bytes)
	return s.formatter.Success(result, sb.String())
}

func runCacheClear(opts *CacheOptions, cmd *cobra.Command) error {
	s, p, ns, err := openCache(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := p.ClearNamespace(cmd.Context(), ns); err != nil {
		return s.formatter.FailAs(ExitFailure, ErrCodeCache, "failed to clear cache", err)
	}
	return s.formatter.Success(map[string]string{"cleared": ns}, "cleared namespace "+ns)
}

func runCacheInvalidate(opts *CacheOptions, cmd *cobra.Command) error {
	if len(opts.Tags) == 0 && len(opts.Keys) == 0 {
		return NewExitError(ExitCommandError, "invalidate needs at least one --tag or --key")
	}
	s, p, ns, err := openCache(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	removed := 0
	var errs []error
	for _, tag := range opts.Tags {
		n, err := p.DeleteByTag(ctx, ns, tag)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		removed += n
	}
	for _, key := range opts.Keys {
		if err := p.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return s.formatter.FailAs(ExitFailure, ErrCodeCache, "failed to invalidate", err)
	}

	printer := message.NewPrinter(language.English)
	text := printer.Sprintf("removed %d tagged entries, %d key(s) invalidated", removed, len(opts.Keys))
	return s.formatter.Success(map[string]int{"tagged": removed, "keys": len(opts.Keys)}, text)
}

func runCacheSweep(opts *CacheOptions, cmd *cobra.Command) error {
	s, p, _, err := openCache(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := p.Sweep(cmd.Context(), time.Now())
	if err != nil {
		return s.formatter.FailAs(ExitFailure, ErrCodeCache, "failed to sweep cache", err)
	}
	printer := message.NewPrinter(language.English)
	return s.formatter.Success(map[string]int{"swept": n}, printer.Sprintf("swept %d expired entries", n))
}
